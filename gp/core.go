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

// Package gp defines the wire types of ArcGIS geoprocessing services: job status
// and messages, task parameters, input and output descriptors and the errors
// shared by the client packages.
package gp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// JobStatus is the jobStatus value reported by a GP job resource.
type JobStatus string

const (
	// JobStatusUnspecified represents a missing jobStatus value.
	JobStatusUnspecified JobStatus = ""
	// JobStatusNew means the job record was created but not yet submitted.
	JobStatusNew JobStatus = "esriJobNew"
	// JobStatusSubmitted means the job was accepted by the server.
	JobStatusSubmitted JobStatus = "esriJobSubmitted"
	// JobStatusWaiting means the job is queued.
	JobStatusWaiting JobStatus = "esriJobWaiting"
	// JobStatusExecuting means the job is running.
	JobStatusExecuting JobStatus = "esriJobExecuting"
	// JobStatusSucceeded means the job finished and its results are available.
	JobStatusSucceeded JobStatus = "esriJobSucceeded"
	// JobStatusFailed means the job finished with an error.
	JobStatusFailed JobStatus = "esriJobFailed"
	// JobStatusCancelling means a cancellation was requested and is in progress.
	JobStatusCancelling JobStatus = "esriJobCancelling"
	// JobStatusCancelled means the job was cancelled.
	JobStatusCancelled JobStatus = "esriJobCancelled"
	// JobStatusTimedOut means the job exceeded the server side time limit.
	JobStatusTimedOut JobStatus = "esriJobTimedOut"
)

// Terminal returns true for statuses after which the job never changes.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded ||
		s == JobStatusFailed ||
		s == JobStatusCancelled ||
		s == JobStatusTimedOut
}

// MessageType is the severity of a job message.
type MessageType string

const (
	MessageInformative MessageType = "esriJobMessageTypeInformative"
	MessageWarning     MessageType = "esriJobMessageTypeWarning"
	MessageError       MessageType = "esriJobMessageTypeError"
)

// JobMessage is a single entry of the job message log.
type JobMessage struct {
	Type        MessageType `json:"type"`
	Description string      `json:"description"`
}

// ResultParam references a job output. Either ParamURL or Value is set.
type ResultParam struct {
	ParamURL string          `json:"paramUrl,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// JobInfo is the job resource returned by submitJob and by the job status endpoint.
// Results is nil when the response has no results key.
type JobInfo struct {
	JobID     string                 `json:"jobId,omitempty"`
	JobStatus JobStatus              `json:"jobStatus,omitempty"`
	Messages  []JobMessage           `json:"messages,omitempty"`
	Results   map[string]ResultParam `json:"results,omitempty"`
	Inputs    map[string]ResultParam `json:"inputs,omitempty"`
}

// Results maps output parameter names to their fetched values.
type Results map[string]json.RawMessage

// Decode unmarshals the named output into v.
func (r Results) Decode(name string, v any) error {
	raw, ok := r[name]
	if !ok {
		return fmt.Errorf("no output named %q", name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode output %q: %w", name, err)
	}
	return nil
}

// Item returns the named output as an OutputItem.
func (r Results) Item(name string) (*OutputItem, error) {
	var item OutputItem
	if err := r.Decode(name, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// OutputItem is the value of an output which was written into a portal item,
// typically a hosted feature layer or image service.
type OutputItem struct {
	ItemID string `json:"itemId,omitempty"`
	URL    string `json:"url,omitempty"`
}

// CreditEstimate is the dry-run cost of a task.
type CreditEstimate struct {
	Cost float64 `json:"cost"`
}

// Properties is the metadata returned by a service for an f=json request.
type Properties map[string]any

// CurrentVersion returns the currentVersion property as a string, or "" when absent.
func (p Properties) CurrentVersion() string {
	switch v := p["currentVersion"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// VersionAtLeast reports whether currentVersion is greater than or equal to min.
// Versions such as "10.91" or "11.1" are compared component-wise. An absent or
// unparsable version never satisfies the check.
func (p Properties) VersionAtLeast(min string) bool {
	cur := canonicalVersion(p.CurrentVersion())
	want := canonicalVersion(min)
	if !semver.IsValid(cur) || !semver.IsValid(want) {
		return false
	}
	return semver.Compare(cur, want) >= 0
}

func canonicalVersion(v string) string {
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
