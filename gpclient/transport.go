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
	"net/url"
)

// Connection is an authenticated HTTP session against a portal and its federated servers.
// Tokens are attached per request: an empty token sends the request anonymously.
type Connection interface {
	// Get sends a GET request with params in the query string.
	Get(ctx context.Context, endpoint string, params url.Values, token string) (json.RawMessage, error)

	// Post sends a form-encoded POST request.
	Post(ctx context.Context, endpoint string, form url.Values, token string) (json.RawMessage, error)

	// Token returns the session token or "" for anonymous sessions.
	Token(ctx context.Context) (string, error)

	// Anonymous reports whether the session carries no credentials.
	Anonymous() bool

	// GenerateServerToken exchanges the session token for a token scoped to the
	// federated server hosting serverURL.
	GenerateServerToken(ctx context.Context, serverURL string) (string, error)
}
