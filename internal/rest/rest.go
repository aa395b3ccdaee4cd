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

// Package rest provides REST path builders and error envelope handling for ArcGIS
// geoprocessing services.
package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gpservices/gp-go/gp"
)

// MakeTaskURL returns the URL of a task published by a GP service.
func MakeTaskURL(serviceURL, task string) string {
	return strings.TrimSuffix(serviceURL, "/") + "/" + task
}

// MakeSubmitJobPath returns the URL used for submitting an asynchronous job.
func MakeSubmitJobPath(serviceURL, task string) string {
	return MakeTaskURL(serviceURL, task) + "/submitJob"
}

// MakeEstimatePath returns the URL used for estimating the credit cost of a task.
func MakeEstimatePath(serviceURL, task string) string {
	return MakeTaskURL(serviceURL, task) + "/estimate"
}

// MakeJobPath returns the URL of a job resource.
func MakeJobPath(taskURL, jobID string) string {
	return taskURL + "/jobs/" + jobID
}

// MakeJobResultPath returns the URL of a single job output.
func MakeJobResultPath(taskURL, jobID, paramURL string) string {
	return MakeJobPath(taskURL, jobID) + "/" + strings.TrimPrefix(paramURL, "/")
}

// MakeCancelJobPath returns the URL used for cancelling a job.
func MakeCancelJobPath(taskURL, jobID string) string {
	return MakeJobPath(taskURL, jobID) + "/cancel"
}

// SharingURL returns the sharing REST root of a portal.
func SharingURL(portalURL string) string {
	return strings.TrimSuffix(strings.TrimSuffix(portalURL, "/"), "/sharing/rest") + "/sharing/rest"
}

// MakeGenerateTokenPath returns the portal token endpoint.
func MakeGenerateTokenPath(portalURL string) string {
	return SharingURL(portalURL) + "/generateToken"
}

// MakePortalSelfPath returns the URL describing the portal and the signed-in user.
func MakePortalSelfPath(portalURL string) string {
	return SharingURL(portalURL) + "/portals/self"
}

// MakeServiceNameAvailablePath returns the URL used for checking service name collisions.
func MakeServiceNameAvailablePath(portalURL string) string {
	return MakePortalSelfPath(portalURL) + "/isServiceNameAvailable"
}

// MakeUserContentPath returns the content root of a user, optionally inside a folder.
func MakeUserContentPath(portalURL, user, folderID string) string {
	p := SharingURL(portalURL) + "/content/users/" + url.PathEscape(user)
	if folderID != "" {
		p += "/" + url.PathEscape(folderID)
	}
	return p
}

// MakeCreateServicePath returns the URL used for creating a hosted service.
func MakeCreateServicePath(portalURL, user, folderID string) string {
	return MakeUserContentPath(portalURL, user, folderID) + "/createService"
}

// MakeCreateFolderPath returns the URL used for creating a user folder.
func MakeCreateFolderPath(portalURL, user string) string {
	return MakeUserContentPath(portalURL, user, "") + "/createFolder"
}

// MakeUpdateItemPath returns the URL used for updating item metadata.
func MakeUpdateItemPath(portalURL, user, itemID string) string {
	return MakeUserContentPath(portalURL, user, "") + "/items/" + url.PathEscape(itemID) + "/update"
}

// MakeItemPath returns the URL of an item description.
func MakeItemPath(portalURL, itemID string) string {
	return SharingURL(portalURL) + "/content/items/" + url.PathEscape(itemID)
}

// MakeItemDataPath returns the URL of an item's data.
func MakeItemDataPath(portalURL, itemID string) string {
	return MakeItemPath(portalURL, itemID) + "/data"
}

// Error is the body of an Esri error envelope.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details []any  `json:"details,omitempty"`
}

type envelope struct {
	Error *Error `json:"error"`
}

// ToGPError converts the envelope body into a [gp.ServiceError].
func (e *Error) ToGPError() *gp.ServiceError {
	details := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		if s := fmt.Sprint(d); s != "" {
			details = append(details, s)
		}
	}
	return gp.NewServiceError(e.Code, e.Message, details)
}

// CheckEnvelope returns a [gp.ServiceError] if body is an Esri error envelope and nil
// otherwise. Services report errors with HTTP 200, so every JSON body is checked.
func CheckEnvelope(body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Non-object bodies are never error envelopes.
		return nil
	}
	if env.Error == nil {
		return nil
	}
	return env.Error.ToGPError()
}

// ToHTTPError converts a non-OK response into a [gp.HTTPError].
func ToHTTPError(resp *http.Response) error {
	u := ""
	if resp.Request != nil && resp.Request.URL != nil {
		u = RedactURL(resp.Request.URL)
	}
	return &gp.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: u}
}

// credentialParams are query parameters which never appear in error text.
var credentialParams = []string{"token", "password"}

// RedactURL returns u with the userinfo password and credential query parameters removed.
func RedactURL(u *url.URL) string {
	redacted := *u
	if redacted.RawQuery != "" {
		query := redacted.Query()
		for _, p := range credentialParams {
			query.Del(p)
		}
		redacted.RawQuery = query.Encode()
	}
	return redacted.Redacted()
}
