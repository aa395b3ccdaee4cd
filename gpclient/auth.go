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
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/juju/clock"

	"github.com/gpservices/gp-go/gp"
	"github.com/gpservices/gp-go/internal/rest"
)

// TokenSource provides the session token attached to portal requests.
type TokenSource interface {
	// Token returns a valid token or an error if one can't be obtained.
	Token(ctx context.Context) (string, error)
}

// StaticToken is a [TokenSource] returning a fixed, externally obtained token.
type StaticToken string

// Token implements [TokenSource].
func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("empty static token: %w", gp.ErrTokenRequired)
	}
	return string(t), nil
}

// tokenRefreshMargin is how long before expiry a cached token is considered stale.
const tokenRefreshMargin = time.Minute

type generateTokenRequest struct {
	Username   string `url:"username"`
	Password   string `url:"password"`
	Client     string `url:"client"`
	Referer    string `url:"referer,omitempty"`
	Expiration int    `url:"expiration,omitempty"`
	F          string `url:"f"`
}

type generateTokenResponse struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
}

// PasswordTokenSource generates portal tokens from built-in account credentials and
// caches them until shortly before they expire.
type PasswordTokenSource struct {
	portalURL  string
	username   string
	password   string
	referer    string
	httpClient *http.Client
	clock      clock.Clock
	expiration int

	mu      sync.Mutex
	token   string
	expires time.Time
}

var _ TokenSource = (*PasswordTokenSource)(nil)

// PasswordTokenOption configures a [PasswordTokenSource].
type PasswordTokenOption interface {
	apply(*PasswordTokenSource)
}

type passwordTokenOptionFn func(*PasswordTokenSource)

func (f passwordTokenOptionFn) apply(s *PasswordTokenSource) {
	f(s)
}

// WithTokenClock sets the clock used to decide when a cached token expires.
func WithTokenClock(c clock.Clock) PasswordTokenOption {
	return passwordTokenOptionFn(func(s *PasswordTokenSource) {
		s.clock = c
	})
}

// WithTokenExpiration requests tokens valid for d, rounded down to whole minutes.
// The portal default applies when it is not set.
func WithTokenExpiration(d time.Duration) PasswordTokenOption {
	return passwordTokenOptionFn(func(s *PasswordTokenSource) {
		s.expiration = int(d / time.Minute)
	})
}

// NewPasswordTokenSource creates a [TokenSource] for a portal built-in account.
// A nil client falls back to [http.DefaultClient].
func NewPasswordTokenSource(portalURL, username, password, referer string, client *http.Client, opts ...PasswordTokenOption) *PasswordTokenSource {
	if client == nil {
		client = http.DefaultClient
	}
	s := &PasswordTokenSource{
		portalURL:  strings.TrimSuffix(portalURL, "/"),
		username:   username,
		password:   password,
		referer:    referer,
		httpClient: client,
		clock:      clock.WallClock,
	}
	for _, o := range opts {
		o.apply(s)
	}
	return s
}

// Token implements [TokenSource].
func (s *PasswordTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.clock.Now().Add(tokenRefreshMargin).Before(s.expires) {
		return s.token, nil
	}

	client := "requestip"
	if s.referer != "" {
		client = "referer"
	}
	form, err := query.Values(generateTokenRequest{
		Username:   s.username,
		Password:   s.password,
		Client:     client,
		Referer:    s.referer,
		Expiration: s.expiration,
		F:          "json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rest.MakeGenerateTokenPath(s.portalURL), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if s.referer != "" {
		req.Header.Set("Referer", s.referer)
	}

	body, err := doHTTP(ctx, s.httpClient, req)
	if err != nil {
		return "", err
	}

	var resp generateTokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("token response has no token: %w", gp.ErrTokenRequired)
	}

	s.token = resp.Token
	if resp.Expires > 0 {
		s.expires = time.UnixMilli(resp.Expires)
	} else {
		s.expires = s.clock.Now().Add(time.Hour)
	}
	return s.token, nil
}
