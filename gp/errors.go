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

package gp

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedInput indicates that a caller-supplied input matched none of the
	// accepted input shapes.
	ErrUnsupportedInput = errors.New("unsupported input")

	// ErrUnsupportedItemType indicates that a portal item of an unsupported type was
	// used as a task input.
	ErrUnsupportedItemType = errors.New("unsupported item type")

	// ErrMissingJobID indicates that a submitJob response carried no jobId.
	ErrMissingJobID = errors.New("job submission response has no jobId")

	// ErrMissingJobStatus indicates that a job status response carried no jobStatus.
	ErrMissingJobStatus = errors.New("job status response has no jobStatus")

	// ErrNoJobResults indicates that a succeeded job reported no results.
	ErrNoJobResults = errors.New("No job results")

	// ErrNoAnalysisResults indicates that result collection was attempted on a job
	// response without results.
	ErrNoAnalysisResults = errors.New("Unable to get analysis job results")

	// ErrJobFailed indicates that the remote job finished with esriJobFailed.
	ErrJobFailed = errors.New("job failed")

	// ErrJobCancelled indicates that the remote job finished with esriJobCancelled.
	ErrJobCancelled = errors.New("job cancelled")

	// ErrJobTimedOut indicates that the remote job finished with esriJobTimedOut.
	ErrJobTimedOut = errors.New("job timed out")

	// ErrTokenGeneration indicates that the portal refused to generate a token for
	// a federated server. It is not recoverable by falling back to anonymous access.
	ErrTokenGeneration = errors.New("unable to generate token for this server")

	// ErrTokenRequired indicates that the server requires a token for the request.
	ErrTokenRequired = errors.New("token required")

	// ErrInvalidToken indicates that the token attached to the request was rejected.
	ErrInvalidToken = errors.New("invalid token")

	// ErrServiceHTTP indicates that a service URL could not be reached even as a public
	// call because of an HTTP level failure.
	ErrServiceHTTP = errors.New("this service url encountered an HTTP Error")

	// ErrServiceExists indicates that an output service name is already taken.
	ErrServiceExists = errors.New("already exists")

	// ErrUnsupportedVersion indicates that the server is older than a tool requires.
	ErrUnsupportedVersion = errors.New("unsupported server version")

	// ErrServerError is used for service errors without a more specific mapping.
	ErrServerError = errors.New("server error")
)

var codeToError = map[int]error{
	498: ErrInvalidToken,
	499: ErrTokenRequired,
}

// ServiceError is the error reported by a service inside a JSON error envelope:
//
//	{"error": {"code": 499, "message": "Token Required", "details": []}}
type ServiceError struct {
	// Err is the sentinel the code maps to, ErrServerError when no mapping exists.
	Err error
	// Code is the numeric code reported by the service.
	Code int
	// Message is the human readable description reported by the service.
	Message string
	// Details are additional messages reported by the service.
	Details []string
}

// NewServiceError creates a ServiceError, mapping well known codes and messages to sentinels.
func NewServiceError(code int, message string, details []string) *ServiceError {
	err, ok := codeToError[code]
	if !ok {
		err = ErrServerError
	}
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "unable to generate token for this server"):
		err = ErrTokenGeneration
	case strings.Contains(lower, "token required"):
		err = ErrTokenRequired
	}
	return &ServiceError{Err: err, Code: code, Message: message, Details: details}
}

// Error returns the error message.
func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if len(e.Details) > 0 {
		return fmt.Sprintf("service error %d: %s (%s)", e.Code, msg, strings.Join(e.Details, "; "))
	}
	return fmt.Sprintf("service error %d: %s", e.Code, msg)
}

// Unwrap provides access to the mapped sentinel.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// HTTPError is returned when a service responds with a non-200 HTTP status.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

// Error returns the error message.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %s from %s", e.Status, e.URL)
}

// JobError reports a job which reached a terminal failure status.
type JobError struct {
	JobID    string
	Status   JobStatus
	Messages []JobMessage
}

// Error returns the error message.
func (e *JobError) Error() string {
	return fmt.Sprintf("job %s finished with %s", e.JobID, e.Status)
}

// Unwrap maps the terminal status to ErrJobFailed, ErrJobCancelled or ErrJobTimedOut.
func (e *JobError) Unwrap() error {
	switch e.Status {
	case JobStatusCancelled:
		return ErrJobCancelled
	case JobStatusTimedOut:
		return ErrJobTimedOut
	default:
		return ErrJobFailed
	}
}

// Outcome classifies how waiting for a job ended: succeeded, failed, cancelled,
// timed_out, abandoned when the wait was cancelled locally, or error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "succeeded"
	case errors.Is(err, ErrJobFailed):
		return "failed"
	case errors.Is(err, ErrJobCancelled):
		return "cancelled"
	case errors.Is(err, ErrJobTimedOut):
		return "timed_out"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "abandoned"
	default:
		return "error"
	}
}
