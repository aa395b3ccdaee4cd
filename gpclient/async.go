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
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"path"
	"slices"
	"time"

	"github.com/juju/clock"

	"github.com/gpservices/gp-go/gp"
	"github.com/gpservices/gp-go/internal/rest"
	"github.com/gpservices/gp-go/log"
)

// DefaultPollInterval is the wait between two job status requests.
const DefaultPollInterval = 5 * time.Second

// AsyncService submits jobs to the tasks of a geoprocessing service and waits for them.
type AsyncService struct {
	*Service

	clock     clock.Clock
	interval  time.Duration
	observers []JobObserver
}

// AsyncOption represents a configuration for creating an [AsyncService].
type AsyncOption interface {
	apply(a *AsyncService)
}

type asyncOptionFn func(a *AsyncService)

func (f asyncOptionFn) apply(a *AsyncService) {
	f(a)
}

// WithClock makes the service wait on the provided clock.
func WithClock(c clock.Clock) AsyncOption {
	return asyncOptionFn(func(a *AsyncService) {
		a.clock = c
	})
}

// WithPollInterval overrides [DefaultPollInterval].
func WithPollInterval(d time.Duration) AsyncOption {
	return asyncOptionFn(func(a *AsyncService) {
		a.interval = d
	})
}

// WithObservers attaches job observers.
func WithObservers(observers ...JobObserver) AsyncOption {
	return asyncOptionFn(func(a *AsyncService) {
		a.observers = append(a.observers, observers...)
	})
}

// NewAsyncService wraps a service handle with the asynchronous job protocol.
func NewAsyncService(svc *Service, opts ...AsyncOption) *AsyncService {
	a := &AsyncService{
		Service:  svc,
		clock:    clock.WallClock,
		interval: DefaultPollInterval,
	}
	for _, o := range opts {
		o.apply(a)
	}
	return a
}

// Submission is the outcome of a successful job submission.
type Submission struct {
	// Task is the name of the task the job was submitted to.
	Task string
	// TaskURL is the URL of the task resource.
	TaskURL string
	// JobID is the server assigned job id.
	JobID string
	// Info is the submitJob response.
	Info *gp.JobInfo
	// SubmittedAt is the clock time of the submission.
	SubmittedAt time.Time
}

// Submit submits a job for task with the provided parameters.
func (a *AsyncService) Submit(ctx context.Context, task string, params gp.TaskParameters) (*Submission, error) {
	if params == nil {
		params = gp.TaskParameters{}
	}
	form, err := params.Values()
	if err != nil {
		return nil, err
	}
	body, err := a.conn.Post(ctx, rest.MakeSubmitJobPath(a.url, task), form, a.token)
	if err != nil {
		return nil, fmt.Errorf("failed to submit %s job: %w", task, err)
	}

	var info gp.JobInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to decode %s submission: %w", task, err)
	}
	if info.JobID == "" {
		return nil, fmt.Errorf("failed to submit %s job: %w", task, gp.ErrMissingJobID)
	}

	log.Info(ctx, "job submitted", "task", task, "job_id", info.JobID)
	for _, o := range a.observers {
		o.JobSubmitted(ctx, task, info.JobID)
	}
	return &Submission{
		Task:        task,
		TaskURL:     rest.MakeTaskURL(a.url, task),
		JobID:       info.JobID,
		Info:        &info,
		SubmittedAt: a.clock.Now(),
	}, nil
}

// AwaitCompletion polls the job described by info until it succeeds.
// Every job message is logged exactly once, in order. A job finishing with
// failed, cancelled or timed out status returns a [gp.JobError]. Cancelling ctx
// abandons the local wait, the remote job keeps running.
func (a *AsyncService) AwaitCompletion(ctx context.Context, taskURL string, info *gp.JobInfo) (*gp.JobInfo, error) {
	return a.await(ctx, taskURL, info, nil)
}

func (a *AsyncService) await(ctx context.Context, taskURL string, info *gp.JobInfo, onPoll func(*gp.JobInfo)) (*gp.JobInfo, error) {
	task, jobID := path.Base(taskURL), info.JobID
	ctx = log.With(ctx, "task", task, "job_id", jobID)

	current := info
	seen := 0
	for current.JobStatus != gp.JobStatusSucceeded {
		if current.JobStatus.Terminal() {
			return current, &gp.JobError{JobID: jobID, Status: current.JobStatus, Messages: current.Messages}
		}

		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-a.clock.After(a.interval):
		}

		body, err := a.conn.Post(ctx, rest.MakeJobPath(taskURL, jobID), url.Values{"f": []string{"json"}}, a.token)
		if err != nil {
			return current, fmt.Errorf("failed to poll job %s: %w", jobID, err)
		}
		var next gp.JobInfo
		if err := json.Unmarshal(body, &next); err != nil {
			return current, fmt.Errorf("failed to decode status of job %s: %w", jobID, err)
		}
		if next.JobStatus == gp.JobStatusUnspecified {
			return current, fmt.Errorf("failed to poll job %s: %w", jobID, gp.ErrMissingJobStatus)
		}
		if next.JobID == "" {
			next.JobID = jobID
		}

		for _, o := range a.observers {
			o.JobPolled(ctx, task, jobID, next.JobStatus)
		}
		seen = a.emitMessages(ctx, task, jobID, next.Messages, seen)
		current = &next
		if onPoll != nil {
			onPoll(current)
		}
	}

	if current.Results == nil {
		return current, fmt.Errorf("job %s: %w", jobID, gp.ErrNoJobResults)
	}
	return current, nil
}

// emitMessages logs messages[seen:] and returns the new number of seen messages.
func (a *AsyncService) emitMessages(ctx context.Context, task, jobID string, messages []gp.JobMessage, seen int) int {
	for i := seen; i < len(messages); i++ {
		msg := messages[i]
		level := slog.LevelWarn
		switch msg.Type {
		case gp.MessageInformative:
			level = slog.LevelInfo
		case gp.MessageWarning:
			level = slog.LevelWarn
		case gp.MessageError:
			level = slog.LevelError
		}
		log.Log(ctx, level, msg.Description, "message_type", string(msg.Type))
		for _, o := range a.observers {
			o.JobMessage(ctx, task, jobID, msg)
		}
	}
	return max(seen, len(messages))
}

// CollectResults fetches the value of every job output published under a paramUrl.
// Outputs are fetched one at a time in name order.
func (a *AsyncService) CollectResults(ctx context.Context, taskURL string, info *gp.JobInfo) (gp.Results, error) {
	if info == nil || info.Results == nil {
		return nil, gp.ErrNoAnalysisResults
	}

	results := gp.Results{}
	for _, name := range slices.Sorted(maps.Keys(info.Results)) {
		param := info.Results[name]
		if param.ParamURL == "" {
			continue
		}
		body, err := a.conn.Post(ctx, rest.MakeJobResultPath(taskURL, info.JobID, param.ParamURL), url.Values{"f": []string{"json"}}, a.token)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch output %q of job %s: %w", name, info.JobID, err)
		}
		var out struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("failed to decode output %q of job %s: %w", name, info.JobID, err)
		}
		if out.Value == nil {
			return nil, fmt.Errorf("output %q of job %s has no value", name, info.JobID)
		}
		results[name] = out.Value
	}
	return results, nil
}

// Execute submits a job, waits for it and collects its results.
func (a *AsyncService) Execute(ctx context.Context, task string, params gp.TaskParameters) (gp.Results, error) {
	sub, err := a.Submit(ctx, task, params)
	if err != nil {
		return nil, err
	}
	results, _, err := a.complete(ctx, sub, nil)
	return results, err
}

// complete waits for a submitted job and collects its results, notifying observers once done.
func (a *AsyncService) complete(ctx context.Context, sub *Submission, onPoll func(*gp.JobInfo)) (gp.Results, *gp.JobInfo, error) {
	info, err := a.await(ctx, sub.TaskURL, sub.Info, onPoll)
	var results gp.Results
	if err == nil {
		results, err = a.CollectResults(ctx, sub.TaskURL, info)
	}

	// Observers outlive an abandoned wait so its outcome is still recorded.
	ctx = context.WithoutCancel(ctx)
	elapsed := a.clock.Now().Sub(sub.SubmittedAt)
	for _, o := range a.observers {
		o.JobFinished(ctx, sub.Task, sub.JobID, info.JobStatus, elapsed, err)
	}
	if err != nil {
		log.Warn(ctx, "job did not complete", "task", sub.Task, "job_id", sub.JobID, "error", err)
	} else {
		log.Info(ctx, "job completed", "task", sub.Task, "job_id", sub.JobID, "elapsed", elapsed)
	}
	return results, info, err
}

// Start submits a job and returns immediately. The job is awaited on a separate goroutine.
// The wait outlives ctx; use [Job.Abandon] to stop it.
func (a *AsyncService) Start(ctx context.Context, task string, params gp.TaskParameters, origin string) (*Job, error) {
	sub, err := a.Submit(ctx, task, params)
	if err != nil {
		return nil, err
	}
	job := newJob(a, sub, origin)

	waitCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job.cancel = cancel
	go func() {
		defer cancel()
		results, info, err := a.complete(waitCtx, sub, job.update)
		job.finish(info, results, err)
	}()
	return job, nil
}

// EstimateCredits asks the service for the credit cost of running task with params.
func (a *AsyncService) EstimateCredits(ctx context.Context, task string, params gp.TaskParameters) (*gp.CreditEstimate, error) {
	if params == nil {
		params = gp.TaskParameters{}
	}
	form, err := params.Values()
	if err != nil {
		return nil, err
	}
	body, err := a.conn.Post(ctx, rest.MakeEstimatePath(a.url, task), form, a.token)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate %s: %w", task, err)
	}
	var estimate gp.CreditEstimate
	if err := json.Unmarshal(body, &estimate); err != nil {
		return nil, fmt.Errorf("failed to decode %s estimate: %w", task, err)
	}
	return &estimate, nil
}

// CancelJob requests the cancellation of a remote job. Cancellation is cooperative,
// the job status eventually becomes esriJobCancelled.
func (a *AsyncService) CancelJob(ctx context.Context, taskURL, jobID string) (*gp.JobInfo, error) {
	body, err := a.conn.Post(ctx, rest.MakeCancelJobPath(taskURL, jobID), url.Values{"f": []string{"json"}}, a.token)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	var info gp.JobInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to decode cancellation of job %s: %w", jobID, err)
	}
	return &info, nil
}
