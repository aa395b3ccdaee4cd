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
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/gpservices/gp-go/gp"
)

// Job is a handle to a remote job started in asynchronous mode.
// It is created once with the subsystem and task it belongs to.
type Job struct {
	localID string
	jobID   string
	task    string
	taskURL string
	origin  string
	svc     *AsyncService
	done    chan struct{}
	cancel  context.CancelFunc

	mu      sync.Mutex
	info    *gp.JobInfo
	results gp.Results
	err     error
}

func newJob(svc *AsyncService, sub *Submission, origin string) *Job {
	return &Job{
		localID: uuid.NewString(),
		jobID:   sub.JobID,
		task:    sub.Task,
		taskURL: sub.TaskURL,
		origin:  origin,
		svc:     svc,
		done:    make(chan struct{}),
		info:    sub.Info,
	}
}

// LocalID returns a client generated id, unique across servers.
func (j *Job) LocalID() string { return j.localID }

// ID returns the server assigned job id.
func (j *Job) ID() string { return j.jobID }

// Task returns the name of the task the job runs.
func (j *Job) Task() string { return j.task }

// TaskURL returns the URL of the task resource.
func (j *Job) TaskURL() string { return j.taskURL }

// Origin returns the subsystem that started the job, for example "RasterAnalysis".
func (j *Job) Origin() string { return j.origin }

// Done returns a channel closed once the job reached a terminal state or the wait was abandoned.
func (j *Job) Done() <-chan struct{} { return j.done }

// Status returns the last known job status.
func (j *Job) Status() gp.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.info.JobStatus
}

// Messages returns the last known job messages.
func (j *Job) Messages() []gp.JobMessage {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.info.Messages)
}

// Wait blocks until the job is done or ctx is cancelled. Cancelling ctx doesn't stop the job.
func (j *Job) Wait(ctx context.Context) (gp.Results, error) {
	select {
	case <-j.done:
		return j.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result blocks until the job is done and returns its outputs.
func (j *Job) Result() (gp.Results, error) {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.results, j.err
}

// Cancel requests the cancellation of the remote job. The handle keeps polling
// until the server reports a terminal status.
func (j *Job) Cancel(ctx context.Context) error {
	info, err := j.svc.CancelJob(ctx, j.taskURL, j.jobID)
	if err != nil {
		return err
	}
	if info.JobStatus != gp.JobStatusUnspecified {
		j.mu.Lock()
		if !j.info.JobStatus.Terminal() {
			next := *j.info
			next.JobStatus = info.JobStatus
			j.info = &next
		}
		j.mu.Unlock()
	}
	return nil
}

// Abandon stops waiting for the job locally. The remote job is not affected.
func (j *Job) Abandon() {
	j.cancel()
}

func (j *Job) update(info *gp.JobInfo) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.info = info
}

func (j *Job) finish(info *gp.JobInfo, results gp.Results, err error) {
	j.mu.Lock()
	if info != nil {
		j.info = info
	}
	j.results = results
	j.err = err
	j.mu.Unlock()
	close(j.done)
}
