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

// Package ledger records geoprocessing jobs in a MySQL database.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/gpservices/gp-go/gp"
	"github.com/gpservices/gp-go/gpclient"
	"github.com/gpservices/gp-go/log"
)

// Schema creates the ledger tables.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS gp_job (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		task VARCHAR(255) NOT NULL,
		job_id VARCHAR(255) NOT NULL,
		status VARCHAR(64) NOT NULL,
		outcome VARCHAR(32) NULL,
		error TEXT NULL,
		elapsed_ms BIGINT NULL,
		submitted_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		UNIQUE KEY gp_job_task_job (task, job_id)
	)`,
	`CREATE TABLE IF NOT EXISTS gp_job_message (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		task VARCHAR(255) NOT NULL,
		job_id VARCHAR(255) NOT NULL,
		type VARCHAR(64) NOT NULL,
		description TEXT NOT NULL,
		created_at DATETIME(3) NOT NULL,
		KEY gp_job_message_job (task, job_id)
	)`,
}

// DB is the subset of [*sql.DB] used by the ledger.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Open connects to the MySQL database described by dsn.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger dsn: %w", err)
	}
	cfg.ParseTime = true
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Option configures a [Ledger].
type Option interface {
	apply(*Ledger)
}

type optionFn func(*Ledger)

func (f optionFn) apply(l *Ledger) {
	f(l)
}

// WithClock sets the clock used to timestamp rows.
func WithClock(c clock.Clock) Option {
	return optionFn(func(l *Ledger) {
		l.clock = c
	})
}

// Ledger is a [gpclient.JobObserver] writing job lifecycle events to the database.
// Write failures are logged and never interrupt the observed job.
type Ledger struct {
	db    DB
	clock clock.Clock
}

var _ gpclient.JobObserver = (*Ledger)(nil)

// New creates a Ledger over db.
func New(db DB, opts ...Option) *Ledger {
	l := &Ledger{db: db, clock: clock.WallClock}
	for _, o := range opts {
		o.apply(l)
	}
	return l
}

// Migrate creates the ledger tables when they don't exist.
func (l *Ledger) Migrate(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate ledger: %w", err)
		}
	}
	return nil
}

// JobSubmitted implements [gpclient.JobObserver].
func (l *Ledger) JobSubmitted(ctx context.Context, task, jobID string) {
	now := l.clock.Now().UTC()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO gp_job (id, task, job_id, status, submitted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, newRowID(), task, jobID, string(gp.JobStatusSubmitted), now, now)
	if err != nil {
		log.Error(ctx, "failed to record job submission", err, "task", task, "job_id", jobID)
	}
}

// JobPolled implements [gpclient.JobObserver].
func (l *Ledger) JobPolled(ctx context.Context, task, jobID string, status gp.JobStatus) {
	_, err := l.db.ExecContext(ctx, `
		UPDATE gp_job SET status = ?, updated_at = ?
		WHERE task = ? AND job_id = ?
	`, string(status), l.clock.Now().UTC(), task, jobID)
	if err != nil {
		log.Error(ctx, "failed to record job status", err, "task", task, "job_id", jobID)
	}
}

// JobMessage implements [gpclient.JobObserver].
func (l *Ledger) JobMessage(ctx context.Context, task, jobID string, msg gp.JobMessage) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO gp_job_message (id, task, job_id, type, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, newRowID(), task, jobID, string(msg.Type), msg.Description, l.clock.Now().UTC())
	if err != nil {
		log.Error(ctx, "failed to record job message", err, "task", task, "job_id", jobID)
	}
}

// JobFinished implements [gpclient.JobObserver].
func (l *Ledger) JobFinished(ctx context.Context, task, jobID string, status gp.JobStatus, elapsed time.Duration, err error) {
	var errText sql.NullString
	if err != nil {
		errText = sql.NullString{String: err.Error(), Valid: true}
	}
	_, dbErr := l.db.ExecContext(ctx, `
		UPDATE gp_job SET status = ?, outcome = ?, error = ?, elapsed_ms = ?, updated_at = ?
		WHERE task = ? AND job_id = ?
	`, string(status), gp.Outcome(err), errText, elapsed.Milliseconds(), l.clock.Now().UTC(), task, jobID)
	if dbErr != nil {
		log.Error(ctx, "failed to record job outcome", dbErr, "task", task, "job_id", jobID)
	}
}

// Record is a job row of the ledger.
type Record struct {
	Task        string
	JobID       string
	Status      gp.JobStatus
	Outcome     string
	Error       string
	Elapsed     time.Duration
	SubmittedAt time.Time
}

// Recent returns the latest limit jobs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT task, job_id, status, outcome, error, elapsed_ms, submitted_at
		FROM gp_job ORDER BY submitted_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error(ctx, "failed to close rows", err)
		}
	}()

	var records []Record
	for rows.Next() {
		var rec Record
		var status string
		var outcome, errText sql.NullString
		var elapsed sql.NullInt64
		if err := rows.Scan(&rec.Task, &rec.JobID, &status, &outcome, &errText, &elapsed, &rec.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		rec.Status = gp.JobStatus(status)
		rec.Outcome = outcome.String
		rec.Error = errText.String
		rec.Elapsed = time.Duration(elapsed.Int64) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}
	return records, nil
}

func newRowID() string {
	return uuid.Must(uuid.NewV7()).String()
}
