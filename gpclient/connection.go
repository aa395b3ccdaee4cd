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
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"

	"github.com/gpservices/gp-go/gp"
	"github.com/gpservices/gp-go/internal/rest"
	"github.com/gpservices/gp-go/log"
)

// HTTPConnection implements [Connection] over form-encoded HTTP requests.
type HTTPConnection struct {
	portalURL    string
	httpClient   *http.Client
	tokens       TokenSource
	referer      string
	interceptors []CallInterceptor
}

var _ Connection = (*HTTPConnection)(nil)

// ConnectionOption represents a configuration for creating a [HTTPConnection].
type ConnectionOption interface {
	apply(c *HTTPConnection)
}

type connectionOptionFn func(c *HTTPConnection)

func (f connectionOptionFn) apply(c *HTTPConnection) {
	f(c)
}

// WithHTTPClient makes the connection use the provided client.
func WithHTTPClient(client *http.Client) ConnectionOption {
	return connectionOptionFn(func(c *HTTPConnection) {
		c.httpClient = client
	})
}

// WithTokenSource authenticates the connection. Connections without a token source are anonymous.
func WithTokenSource(ts TokenSource) ConnectionOption {
	return connectionOptionFn(func(c *HTTPConnection) {
		c.tokens = ts
	})
}

// WithReferer sets the Referer header sent with every request and used for token exchange.
func WithReferer(referer string) ConnectionOption {
	return connectionOptionFn(func(c *HTTPConnection) {
		c.referer = referer
	})
}

// WithCallInterceptors attaches call interceptors to the connection.
func WithCallInterceptors(interceptors ...CallInterceptor) ConnectionOption {
	return connectionOptionFn(func(c *HTTPConnection) {
		c.interceptors = append(c.interceptors, interceptors...)
	})
}

// NewConnection creates a connection to the portal at portalURL.
// By default, an HTTP client with 3-minute timeout is used.
// Long running analysis requests are polled, so individual calls stay short.
func NewConnection(portalURL string, opts ...ConnectionOption) *HTTPConnection {
	c := &HTTPConnection{portalURL: strings.TrimSuffix(portalURL, "/")}
	for _, o := range opts {
		o.apply(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 3 * time.Minute}
	}
	return c
}

// PortalURL returns the portal the connection was created for.
func (c *HTTPConnection) PortalURL() string {
	return c.portalURL
}

// Anonymous implements [Connection].
func (c *HTTPConnection) Anonymous() bool {
	return c.tokens == nil
}

// Token implements [Connection].
func (c *HTTPConnection) Token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	return c.tokens.Token(ctx)
}

// Get implements [Connection].
func (c *HTTPConnection) Get(ctx context.Context, endpoint string, params url.Values, token string) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, endpoint, params, token)
}

// Post implements [Connection].
func (c *HTTPConnection) Post(ctx context.Context, endpoint string, form url.Values, token string) (json.RawMessage, error) {
	return c.call(ctx, http.MethodPost, endpoint, form, token)
}

type serverTokenRequest struct {
	Request   string `url:"request"`
	ServerURL string `url:"serverUrl"`
	Referer   string `url:"referer,omitempty"`
	F         string `url:"f"`
}

// GenerateServerToken implements [Connection].
func (c *HTTPConnection) GenerateServerToken(ctx context.Context, serverURL string) (string, error) {
	session, err := c.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get session token: %w", err)
	}
	if session == "" {
		return "", fmt.Errorf("anonymous connection cannot exchange tokens: %w", gp.ErrTokenRequired)
	}

	if i := strings.Index(serverURL, "/rest/services"); i >= 0 {
		serverURL = serverURL[:i]
	}
	form, err := query.Values(serverTokenRequest{
		Request:   "getToken",
		ServerURL: serverURL,
		Referer:   c.referer,
		F:         "json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode token request: %w", err)
	}

	body, err := c.Post(ctx, rest.MakeGenerateTokenPath(c.portalURL), form, session)
	if err != nil {
		return "", err
	}
	var resp generateTokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("token response for %s has no token: %w", serverURL, gp.ErrTokenGeneration)
	}
	return resp.Token, nil
}

func (c *HTTPConnection) call(ctx context.Context, method, endpoint string, params url.Values, token string) (json.RawMessage, error) {
	req := &Request{
		Method: method,
		URL:    endpoint,
		Params: url.Values{},
		Header: http.Header{},
	}
	maps.Copy(req.Params, params)
	if req.Params.Get("f") == "" {
		req.Params.Set("f", "json")
	}
	if token != "" {
		req.Params.Set("token", token)
	}
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}

	for i, interceptor := range c.interceptors {
		localCtx, err := interceptor.Before(ctx, req)
		if err != nil {
			return c.interceptAfter(ctx, c.interceptors[:i], &Response{Request: req, Err: err})
		}
		ctx = localCtx
	}

	resp := &Response{Request: req}
	resp.StatusCode, resp.Body, resp.Err = c.send(ctx, req)
	return c.interceptAfter(ctx, c.interceptors, resp)
}

func (c *HTTPConnection) interceptAfter(ctx context.Context, interceptors []CallInterceptor, resp *Response) (json.RawMessage, error) {
	for i := len(interceptors) - 1; i >= 0; i-- {
		if err := interceptors[i].After(ctx, resp); err != nil {
			return nil, err
		}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Body, nil
}

func (c *HTTPConnection) send(ctx context.Context, req *Request) (int, json.RawMessage, error) {
	var (
		httpReq *http.Request
		err     error
	)
	switch req.Method {
	case http.MethodGet:
		target := req.URL
		if encoded := req.Params.Encode(); encoded != "" {
			target += "?" + encoded
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	case http.MethodPost:
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, req.URL, strings.NewReader(req.Params.Encode()))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		return 0, nil, fmt.Errorf("unsupported HTTP method %q", req.Method)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	body, err := doHTTP(ctx, c.httpClient, httpReq)
	if err != nil {
		var httpErr *gp.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr.StatusCode, nil, err
		}
		var svcErr *gp.ServiceError
		if errors.As(err, &svcErr) {
			return http.StatusOK, nil, err
		}
		return 0, nil, err
	}
	return http.StatusOK, body, nil
}

// doHTTP sends the request and returns the body of a successful response.
// Non-OK statuses map to [gp.HTTPError] and error envelopes to [gp.ServiceError].
func doHTTP(ctx context.Context, client *http.Client, req *http.Request) (json.RawMessage, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Error(ctx, "failed to close http response body", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, rest.ToHTTPError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if err := rest.CheckEnvelope(body); err != nil {
		return nil, err
	}
	return body, nil
}
