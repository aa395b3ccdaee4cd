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

package gpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/juju/clock/testclock"

	"github.com/gpservices/gp-go/gp"
	"github.com/gpservices/gp-go/internal/testutil"
	"github.com/gpservices/gp-go/log"
)

const (
	testServicePath = "/server/rest/services/Tools/GPServer"
	testTaskPath    = testServicePath + "/Run"
)

func newTestAsyncService(t *testing.T, server *testutil.Server, opts ...AsyncOption) *AsyncService {
	t.Helper()
	svc := NewService(server.URL+testServicePath, NewConnection(server.URL), "tok")
	opts = append([]AsyncOption{WithClock(testclock.NewDilatedWallClock(time.Millisecond))}, opts...)
	return NewAsyncService(svc, opts...)
}

func withLogRecorder(t *testing.T) (context.Context, *testutil.LogRecorder) {
	t.Helper()
	recorder := testutil.NewLogRecorder()
	return log.AttachLogger(t.Context(), slog.New(recorder)), recorder
}

func jobMessage(description string) map[string]any {
	return map[string]any{"type": "esriJobMessageTypeInformative", "description": description}
}

type observedEvent struct {
	Kind   string
	Task   string
	JobID  string
	Status gp.JobStatus
	Detail string
}

type recordingObserver struct {
	mu     sync.Mutex
	events []observedEvent
}

func (o *recordingObserver) record(e observedEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) JobSubmitted(ctx context.Context, task, jobID string) {
	o.record(observedEvent{Kind: "submitted", Task: task, JobID: jobID})
}

func (o *recordingObserver) JobPolled(ctx context.Context, task, jobID string, status gp.JobStatus) {
	o.record(observedEvent{Kind: "polled", Task: task, JobID: jobID, Status: status})
}

func (o *recordingObserver) JobMessage(ctx context.Context, task, jobID string, msg gp.JobMessage) {
	o.record(observedEvent{Kind: "message", Task: task, JobID: jobID, Detail: msg.Description})
}

func (o *recordingObserver) JobFinished(ctx context.Context, task, jobID string, status gp.JobStatus, elapsed time.Duration, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	o.record(observedEvent{Kind: "finished", Task: task, JobID: jobID, Status: status, Detail: detail})
}

func (o *recordingObserver) Events() []observedEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observedEvent(nil), o.events...)
}

func TestAsyncService_Execute(t *testing.T) {
	server := testutil.NewServer(t).
		JSON(testTaskPath+"/submitJob", map[string]any{"jobId": "abc123"}).
		Sequence(testTaskPath+"/jobs/abc123",
			map[string]any{
				"jobStatus": "esriJobRunning",
				"messages":  []any{jobMessage("starting")},
			},
			map[string]any{
				"jobStatus": "esriJobSucceeded",
				"messages":  []any{jobMessage("starting"), jobMessage("done")},
				"results":   map[string]any{"out": map[string]any{"paramUrl": "out"}},
			},
		).
		JSON(testTaskPath+"/jobs/abc123/out", map[string]any{"paramName": "out", "value": map[string]any{"itemId": "item1"}})

	observer := &recordingObserver{}
	ctx, recorder := withLogRecorder(t)
	svc := newTestAsyncService(t, server, WithObservers(observer))

	results, err := svc.Execute(ctx, "Run", gp.TaskParameters{"inputLayer": "roads"})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	var got []string
	for _, rec := range recorder.WithAttr("message_type") {
		got = append(got, rec.Message)
		if rec.Attrs["job_id"] != "abc123" {
			t.Errorf("message %q logged with job_id %v, want abc123", rec.Message, rec.Attrs["job_id"])
		}
	}
	if diff := cmp.Diff([]string{"starting", "done"}, got); diff != "" {
		t.Errorf("logged job messages mismatch (-want +got):\n%s", diff)
	}

	if n := len(server.CallsTo(testTaskPath + "/jobs/abc123/out")); n != 1 {
		t.Errorf("got %d result fetches, want 1", n)
	}
	item, err := results.Item("out")
	if err != nil {
		t.Fatalf("Item() failed: %v", err)
	}
	if item.ItemID != "item1" {
		t.Errorf("got item id %q, want item1", item.ItemID)
	}

	submit := server.CallsTo(testTaskPath + "/submitJob")[0]
	if submit.Form.Get("inputLayer") != "roads" || submit.Form.Get("token") != "tok" || submit.Form.Get("f") != "json" {
		t.Errorf("unexpected submission form %v", submit.Form)
	}

	wantEvents := []observedEvent{
		{Kind: "submitted", Task: "Run", JobID: "abc123"},
		{Kind: "polled", Task: "Run", JobID: "abc123", Status: "esriJobRunning"},
		{Kind: "message", Task: "Run", JobID: "abc123", Detail: "starting"},
		{Kind: "polled", Task: "Run", JobID: "abc123", Status: gp.JobStatusSucceeded},
		{Kind: "message", Task: "Run", JobID: "abc123", Detail: "done"},
		{Kind: "finished", Task: "Run", JobID: "abc123", Status: gp.JobStatusSucceeded},
	}
	if diff := cmp.Diff(wantEvents, observer.Events()); diff != "" {
		t.Errorf("observed events mismatch (-want +got):\n%s", diff)
	}
}

func TestAsyncService_MessageLevels(t *testing.T) {
	server := testutil.NewServer(t).
		JSON(testTaskPath+"/jobs/j1", map[string]any{
			"jobStatus": "esriJobSucceeded",
			"messages": []any{
				map[string]any{"type": "esriJobMessageTypeInformative", "description": "info"},
				map[string]any{"type": "esriJobMessageTypeWarning", "description": "warning"},
				map[string]any{"type": "esriJobMessageTypeError", "description": "error"},
				map[string]any{"type": "esriJobMessageTypeAbort", "description": "unknown"},
			},
			"results": map[string]any{},
		})

	ctx, recorder := withLogRecorder(t)
	svc := newTestAsyncService(t, server)
	if _, err := svc.AwaitCompletion(ctx, server.URL+testTaskPath, &gp.JobInfo{JobID: "j1", JobStatus: gp.JobStatusSubmitted}); err != nil {
		t.Fatalf("AwaitCompletion() failed: %v", err)
	}

	got := map[string]slog.Level{}
	for _, rec := range recorder.WithAttr("message_type") {
		got[rec.Message] = rec.Level
	}
	want := map[string]slog.Level{
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelWarn,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("message levels mismatch (-want +got):\n%s", diff)
	}
}

func TestAsyncService_TerminalStatusStopsPolling(t *testing.T) {
	tests := []struct {
		status  gp.JobStatus
		wantErr error
	}{
		{status: gp.JobStatusFailed, wantErr: gp.ErrJobFailed},
		{status: gp.JobStatusCancelled, wantErr: gp.ErrJobCancelled},
		{status: gp.JobStatusTimedOut, wantErr: gp.ErrJobTimedOut},
	}
	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			server := testutil.NewServer(t).
				JSON(testTaskPath+"/submitJob", map[string]any{"jobId": "j1", "jobStatus": "esriJobSubmitted"}).
				Sequence(testTaskPath+"/jobs/j1",
					map[string]any{"jobStatus": "esriJobExecuting"},
					map[string]any{
						"jobStatus": tc.status,
						"messages":  []any{map[string]any{"type": "esriJobMessageTypeError", "description": "boom"}},
						"results":   map[string]any{"out": map[string]any{"paramUrl": "out"}},
					},
				)

			svc := newTestAsyncService(t, server)
			_, err := svc.Execute(t.Context(), "Run", nil)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Execute() error = %v, want %v", err, tc.wantErr)
			}
			var jobErr *gp.JobError
			if !errors.As(err, &jobErr) {
				t.Fatalf("Execute() error = %T, want *gp.JobError", err)
			}
			if jobErr.JobID != "j1" || len(jobErr.Messages) != 1 {
				t.Errorf("got job error %+v, want job j1 with one message", jobErr)
			}
			if n := len(server.CallsTo(testTaskPath + "/jobs/j1")); n != 2 {
				t.Errorf("got %d polls, want 2", n)
			}
			if n := len(server.CallsTo(testTaskPath + "/jobs/j1/out")); n != 0 {
				t.Errorf("got %d result fetches, want 0", n)
			}
		})
	}
}

func TestAsyncService_FailedSubmissionIsNotPolled(t *testing.T) {
	server := testutil.NewServer(t).
		JSON(testTaskPath+"/submitJob", map[string]any{"jobId": "j1", "jobStatus": "esriJobFailed"})

	svc := newTestAsyncService(t, server)
	if _, err := svc.Execute(t.Context(), "Run", nil); !errors.Is(err, gp.ErrJobFailed) {
		t.Fatalf("Execute() error = %v, want %v", err, gp.ErrJobFailed)
	}
	if n := len(server.CallsTo(testTaskPath + "/jobs/j1")); n != 0 {
		t.Errorf("got %d polls, want 0", n)
	}
}

func TestAsyncService_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name    string
		submit  map[string]any
		poll    map[string]any
		wantErr error
	}{
		{
			name:    "missing job id",
			submit:  map[string]any{"jobStatus": "esriJobSubmitted"},
			wantErr: gp.ErrMissingJobID,
		},
		{
			name:    "missing job status",
			submit:  map[string]any{"jobId": "j1"},
			poll:    map[string]any{"jobId": "j1"},
			wantErr: gp.ErrMissingJobStatus,
		},
		{
			name:    "succeeded without results",
			submit:  map[string]any{"jobId": "j1"},
			poll:    map[string]any{"jobId": "j1", "jobStatus": "esriJobSucceeded"},
			wantErr: gp.ErrNoJobResults,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := testutil.NewServer(t).JSON(testTaskPath+"/submitJob", tc.submit)
			if tc.poll != nil {
				server.JSON(testTaskPath+"/jobs/j1", tc.poll)
			}
			svc := newTestAsyncService(t, server)
			if _, err := svc.Execute(t.Context(), "Run", nil); !errors.Is(err, tc.wantErr) {
				t.Fatalf("Execute() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestAsyncService_CollectResults(t *testing.T) {
	server := testutil.NewServer(t).
		JSON(testTaskPath+"/jobs/j1/results/a", map[string]any{"value": 1}).
		JSON(testTaskPath+"/jobs/j1/results/b", map[string]any{"value": "two"})
	svc := newTestAsyncService(t, server)
	taskURL := server.URL + testTaskPath

	info := &gp.JobInfo{
		JobID:     "j1",
		JobStatus: gp.JobStatusSucceeded,
		Results: map[string]gp.ResultParam{
			"b":      {ParamURL: "results/b"},
			"a":      {ParamURL: "results/a"},
			"inline": {Value: json.RawMessage(`true`)},
		},
	}
	results, err := svc.CollectResults(t.Context(), taskURL, info)
	if err != nil {
		t.Fatalf("CollectResults() failed: %v", err)
	}

	var a int
	var b string
	if err := results.Decode("a", &a); err != nil || a != 1 {
		t.Errorf("Decode(a) = %d, %v, want 1", a, err)
	}
	if err := results.Decode("b", &b); err != nil || b != "two" {
		t.Errorf("Decode(b) = %q, %v, want two", b, err)
	}
	if _, ok := results["inline"]; ok {
		t.Errorf("outputs without paramUrl must be skipped")
	}

	var paths []string
	for _, c := range server.Calls() {
		paths = append(paths, c.Path)
	}
	if diff := cmp.Diff([]string{testTaskPath + "/jobs/j1/results/a", testTaskPath + "/jobs/j1/results/b"}, paths); diff != "" {
		t.Errorf("fetch order mismatch (-want +got):\n%s", diff)
	}

	if _, err := svc.CollectResults(t.Context(), taskURL, &gp.JobInfo{JobID: "j1"}); !errors.Is(err, gp.ErrNoAnalysisResults) {
		t.Errorf("CollectResults() error = %v, want %v", err, gp.ErrNoAnalysisResults)
	}
}

func TestAsyncService_ContextCancelledAbandonsWait(t *testing.T) {
	server := testutil.NewServer(t).JSON(testTaskPath+"/jobs/j1", map[string]any{"jobStatus": "esriJobExecuting"})
	svc := newTestAsyncService(t, server, WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	info, err := svc.AwaitCompletion(ctx, server.URL+testTaskPath, &gp.JobInfo{JobID: "j1", JobStatus: gp.JobStatusSubmitted})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("AwaitCompletion() error = %v, want %v", err, context.Canceled)
	}
	if info.JobStatus != gp.JobStatusSubmitted {
		t.Errorf("got status %s, want last known status %s", info.JobStatus, gp.JobStatusSubmitted)
	}
	if n := len(server.Calls()); n != 0 {
		t.Errorf("got %d requests, want 0", n)
	}
}

func TestAsyncService_Start(t *testing.T) {
	server := testutil.NewServer(t).
		JSON(testTaskPath+"/submitJob", map[string]any{"jobId": "j1", "jobStatus": "esriJobSubmitted"}).
		Sequence(testTaskPath+"/jobs/j1",
			map[string]any{"jobStatus": "esriJobExecuting"},
			map[string]any{"jobStatus": "esriJobSucceeded", "results": map[string]any{"out": map[string]any{"paramUrl": "out"}}},
		).
		JSON(testTaskPath+"/jobs/j1/out", map[string]any{"value": 42})

	svc := newTestAsyncService(t, server)
	job, err := svc.Start(t.Context(), "Run", nil, "RasterAnalysis")
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if job.ID() != "j1" || job.Task() != "Run" || job.Origin() != "RasterAnalysis" {
		t.Errorf("got job %s/%s/%s, want j1/Run/RasterAnalysis", job.ID(), job.Task(), job.Origin())
	}
	if job.LocalID() == "" {
		t.Error("LocalID() is empty")
	}

	results, err := job.Wait(t.Context())
	if err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}
	var out int
	if err := results.Decode("out", &out); err != nil || out != 42 {
		t.Errorf("Decode(out) = %d, %v, want 42", out, err)
	}
	if job.Status() != gp.JobStatusSucceeded {
		t.Errorf("Status() = %s, want %s", job.Status(), gp.JobStatusSucceeded)
	}
	select {
	case <-job.Done():
	default:
		t.Error("Done() not closed after Wait()")
	}
}

func TestJob_Cancel(t *testing.T) {
	var cancelled atomic.Bool
	server := testutil.NewServer(t).
		JSON(testTaskPath+"/submitJob", map[string]any{"jobId": "j1", "jobStatus": "esriJobSubmitted"}).
		Handle(testTaskPath+"/jobs/j1", func(testutil.Call) (int, any) {
			if cancelled.Load() {
				return http.StatusOK, map[string]any{"jobStatus": "esriJobCancelled"}
			}
			return http.StatusOK, map[string]any{"jobStatus": "esriJobExecuting"}
		}).
		Handle(testTaskPath+"/jobs/j1/cancel", func(testutil.Call) (int, any) {
			cancelled.Store(true)
			return http.StatusOK, map[string]any{"jobId": "j1", "jobStatus": "esriJobCancelling"}
		})

	svc := newTestAsyncService(t, server)
	job, err := svc.Start(t.Context(), "Run", nil, "FeatureAnalysis")
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := job.Cancel(t.Context()); err != nil {
		t.Fatalf("Cancel() failed: %v", err)
	}
	if _, err := job.Wait(t.Context()); !errors.Is(err, gp.ErrJobCancelled) {
		t.Fatalf("Wait() error = %v, want %v", err, gp.ErrJobCancelled)
	}
	if job.Status() != gp.JobStatusCancelled {
		t.Errorf("Status() = %s, want %s", job.Status(), gp.JobStatusCancelled)
	}
}

func TestJob_Abandon(t *testing.T) {
	server := testutil.NewServer(t).
		JSON(testTaskPath+"/submitJob", map[string]any{"jobId": "j1", "jobStatus": "esriJobSubmitted"}).
		JSON(testTaskPath+"/jobs/j1", map[string]any{"jobStatus": "esriJobExecuting"})

	svc := newTestAsyncService(t, server, WithPollInterval(time.Hour))
	job, err := svc.Start(t.Context(), "Run", nil, "GeoAnalytics")
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	job.Abandon()
	if _, err := job.Wait(t.Context()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want %v", err, context.Canceled)
	}
}

type finishedCtxObserver struct {
	PassthroughObserver
	onSubmit func()
	finished chan error
}

func (o *finishedCtxObserver) JobSubmitted(ctx context.Context, task, jobID string) {
	if o.onSubmit != nil {
		o.onSubmit()
	}
}

func (o *finishedCtxObserver) JobFinished(ctx context.Context, task, jobID string, status gp.JobStatus, elapsed time.Duration, err error) {
	if !errors.Is(err, context.Canceled) {
		o.finished <- fmt.Errorf("JobFinished error = %v, want %v", err, context.Canceled)
		return
	}
	o.finished <- ctx.Err()
}

func TestJob_AbandonNotifiesObserversWithLiveContext(t *testing.T) {
	server := testutil.NewServer(t).
		JSON(testTaskPath+"/submitJob", map[string]any{"jobId": "j1", "jobStatus": "esriJobSubmitted"}).
		JSON(testTaskPath+"/jobs/j1", map[string]any{"jobStatus": "esriJobExecuting"})

	observer := &finishedCtxObserver{finished: make(chan error, 1)}
	svc := newTestAsyncService(t, server, WithPollInterval(time.Hour), WithObservers(observer))
	job, err := svc.Start(t.Context(), "Run", nil, "")
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	job.Abandon()
	if _, err := job.Wait(t.Context()); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want %v", err, context.Canceled)
	}
	if err := <-observer.finished; err != nil {
		t.Errorf("JobFinished context: %v", err)
	}
}

func TestAsyncService_ExecuteCancelledNotifiesObserversWithLiveContext(t *testing.T) {
	server := testutil.NewServer(t).
		JSON(testTaskPath+"/submitJob", map[string]any{"jobId": "j1"}).
		JSON(testTaskPath+"/jobs/j1", map[string]any{"jobStatus": "esriJobExecuting"})

	ctx, cancel := context.WithCancel(t.Context())
	observer := &finishedCtxObserver{onSubmit: cancel, finished: make(chan error, 1)}
	svc := newTestAsyncService(t, server, WithPollInterval(time.Hour), WithObservers(observer))
	if _, err := svc.Execute(ctx, "Run", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want %v", err, context.Canceled)
	}
	if err := <-observer.finished; err != nil {
		t.Errorf("JobFinished context: %v", err)
	}
}

func TestAsyncService_EstimateCredits(t *testing.T) {
	server := testutil.NewServer(t).JSON(testTaskPath+"/estimate", map[string]any{"cost": 2.5})
	svc := newTestAsyncService(t, server)

	estimate, err := svc.EstimateCredits(t.Context(), "Run", gp.TaskParameters{"inputLayer": "roads"})
	if err != nil {
		t.Fatalf("EstimateCredits() failed: %v", err)
	}
	if estimate.Cost != 2.5 {
		t.Errorf("got cost %v, want 2.5", estimate.Cost)
	}
	if n := len(server.CallsTo(testTaskPath + "/submitJob")); n != 0 {
		t.Errorf("got %d submissions, want 0", n)
	}
}
