// Copyright 2025 The gp-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/juju/clock/testclock"

	"github.com/gpservices/gp-go/gp"
	"github.com/gpservices/gp-go/internal/testutil"
	"github.com/gpservices/gp-go/log"
)

type execCall struct {
	Verb  string
	Table string
	Args  []any
}

type fakeDB struct {
	mu       sync.Mutex
	calls    []execCall
	execErr  error
	queryErr error
}

func (db *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	fields := strings.Fields(query)
	call := execCall{Verb: fields[0], Args: args}
	switch fields[0] {
	case "INSERT":
		call.Table = fields[2]
	case "UPDATE":
		call.Table = fields[1]
	case "CREATE":
		call.Table = fields[5]
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls = append(db.calls, call)
	return nil, db.execErr
}

func (db *fakeDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, db.queryErr
}

func (db *fakeDB) Calls() []execCall {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]execCall(nil), db.calls...)
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// stripRowIDs checks that inserted row ids are UUIDv7 and removes them.
func stripRowIDs(t *testing.T, calls []execCall) []execCall {
	t.Helper()
	var result []execCall
	for _, c := range calls {
		if c.Verb == "INSERT" {
			id, err := uuid.Parse(c.Args[0].(string))
			if err != nil || id.Version() != 7 {
				t.Errorf("row id %v is not a UUIDv7", c.Args[0])
			}
			c.Args = c.Args[1:]
		}
		result = append(result, c)
	}
	return result
}

func TestLedger_RecordsLifecycle(t *testing.T) {
	db := &fakeDB{}
	ledger := New(db, WithClock(testclock.NewClock(testNow)))
	ctx := t.Context()

	ledger.JobSubmitted(ctx, "AggregatePoints", "j1")
	ledger.JobPolled(ctx, "AggregatePoints", "j1", gp.JobStatusExecuting)
	ledger.JobMessage(ctx, "AggregatePoints", "j1", gp.JobMessage{Type: gp.MessageWarning, Description: "slow"})
	ledger.JobFinished(ctx, "AggregatePoints", "j1", gp.JobStatusFailed, 1500*time.Millisecond, &gp.JobError{JobID: "j1", Status: gp.JobStatusFailed})

	want := []execCall{
		{Verb: "INSERT", Table: "gp_job", Args: []any{"AggregatePoints", "j1", "esriJobSubmitted", testNow, testNow}},
		{Verb: "UPDATE", Table: "gp_job", Args: []any{"esriJobExecuting", testNow, "AggregatePoints", "j1"}},
		{Verb: "INSERT", Table: "gp_job_message", Args: []any{"AggregatePoints", "j1", "esriJobMessageTypeWarning", "slow", testNow}},
		{Verb: "UPDATE", Table: "gp_job", Args: []any{
			"esriJobFailed", "failed", sql.NullString{String: "job j1 finished with esriJobFailed", Valid: true},
			int64(1500), testNow, "AggregatePoints", "j1",
		}},
	}
	if diff := cmp.Diff(want, stripRowIDs(t, db.Calls())); diff != "" {
		t.Errorf("wrong statements (-want +got):\n%s", diff)
	}
}

func TestLedger_SuccessHasNoError(t *testing.T) {
	db := &fakeDB{}
	ledger := New(db, WithClock(testclock.NewClock(testNow)))

	ledger.JobFinished(t.Context(), "Run", "j2", gp.JobStatusSucceeded, time.Second, nil)

	calls := db.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d statements, want 1", len(calls))
	}
	if got := calls[0].Args[1]; got != "succeeded" {
		t.Errorf("outcome = %v, want succeeded", got)
	}
	if got := calls[0].Args[2]; got != (sql.NullString{}) {
		t.Errorf("error = %v, want NULL", got)
	}
}

func TestLedger_WriteFailuresAreLogged(t *testing.T) {
	db := &fakeDB{execErr: errors.New("connection refused")}
	recorder := testutil.NewLogRecorder()
	ctx := log.AttachLogger(t.Context(), slog.New(recorder))
	ledger := New(db)

	ledger.JobSubmitted(ctx, "Run", "j1")
	ledger.JobPolled(ctx, "Run", "j1", gp.JobStatusExecuting)
	ledger.JobMessage(ctx, "Run", "j1", gp.JobMessage{Type: gp.MessageInformative})
	ledger.JobFinished(ctx, "Run", "j1", gp.JobStatusSucceeded, time.Second, nil)

	var got []string
	for _, rec := range recorder.Records() {
		if rec.Level != slog.LevelError {
			t.Errorf("%q logged at %v, want ERROR", rec.Message, rec.Level)
		}
		if rec.Attrs["job_id"] != "j1" {
			t.Errorf("%q has job_id %v, want j1", rec.Message, rec.Attrs["job_id"])
		}
		got = append(got, rec.Message)
	}
	want := []string{
		"failed to record job submission",
		"failed to record job status",
		"failed to record job message",
		"failed to record job outcome",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrong log messages (-want +got):\n%s", diff)
	}
}

func TestLedger_Migrate(t *testing.T) {
	db := &fakeDB{}
	if err := New(db).Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	var tables []string
	for _, c := range db.Calls() {
		tables = append(tables, c.Table)
	}
	if diff := cmp.Diff([]string{"gp_job", "gp_job_message"}, tables); diff != "" {
		t.Errorf("wrong tables (-want +got):\n%s", diff)
	}

	db.execErr = errors.New("denied")
	if err := New(db).Migrate(t.Context()); !errors.Is(err, db.execErr) {
		t.Errorf("Migrate() error = %v, want %v", err, db.execErr)
	}
}

func TestLedger_RecentQueryError(t *testing.T) {
	db := &fakeDB{queryErr: errors.New("denied")}
	if _, err := New(db).Recent(t.Context(), 10); !errors.Is(err, db.queryErr) {
		t.Errorf("Recent() error = %v, want %v", err, db.queryErr)
	}
}

func TestOpen_InvalidDSN(t *testing.T) {
	if _, err := Open(t.Context(), "not a dsn"); err == nil {
		t.Error("Open() succeeded, want an invalid dsn error")
	}
}
