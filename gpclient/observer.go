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
	"time"

	"github.com/gpservices/gp-go/gp"
)

// JobObserver receives job lifecycle notifications from an [AsyncService].
// Implementations must be safe for concurrent use.
type JobObserver interface {
	// JobSubmitted is called after the server assigned an id to a job.
	JobSubmitted(ctx context.Context, task, jobID string)

	// JobPolled is called for every status response received while waiting.
	JobPolled(ctx context.Context, task, jobID string, status gp.JobStatus)

	// JobMessage is called once for every job message, in order.
	JobMessage(ctx context.Context, task, jobID string, msg gp.JobMessage)

	// JobFinished is called when waiting for a job ended, successfully or not.
	JobFinished(ctx context.Context, task, jobID string, status gp.JobStatus, elapsed time.Duration, err error)
}

// PassthroughObserver can be embedded by [JobObserver] implementers who don't need all methods.
type PassthroughObserver struct{}

var _ JobObserver = (*PassthroughObserver)(nil)

// JobSubmitted implements [JobObserver].
func (PassthroughObserver) JobSubmitted(ctx context.Context, task, jobID string) {}

// JobPolled implements [JobObserver].
func (PassthroughObserver) JobPolled(ctx context.Context, task, jobID string, status gp.JobStatus) {}

// JobMessage implements [JobObserver].
func (PassthroughObserver) JobMessage(ctx context.Context, task, jobID string, msg gp.JobMessage) {}

// JobFinished implements [JobObserver].
func (PassthroughObserver) JobFinished(ctx context.Context, task, jobID string, status gp.JobStatus, elapsed time.Duration, err error) {
}
