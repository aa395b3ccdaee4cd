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
	"net/http"
	"net/url"
	"time"

	"github.com/gpservices/gp-go/log"
)

// Request represents an HTTP call about to be made by a [Connection].
type Request struct {
	// Method is the HTTP method, GET or POST.
	Method string
	// URL is the endpoint URL without the query string.
	URL string
	// Params holds the form or query parameters, including f and token.
	Params url.Values
	// Header holds additional HTTP headers.
	Header http.Header
}

// Response represents the outcome of an HTTP call made by a [Connection].
type Response struct {
	// Request is the request which produced the response.
	Request *Request
	// StatusCode is the HTTP status code. It is 0 when the request was not sent.
	StatusCode int
	// Body is the decoded JSON body. It is nil if Err is set.
	Body json.RawMessage
	// Err is the error response. It is nil for successful calls.
	Err error
}

// CallInterceptor can be attached to a [HTTPConnection].
// If multiple interceptors are added:
//   - Before will be executed in the order of attachment sequentially.
//   - After will be executed in the reverse order sequentially.
type CallInterceptor interface {
	// Before allows to observe, modify or reject a Request.
	// A new context.Context can be returned to pass information to After.
	// A non-nil error prevents the request from being sent.
	Before(ctx context.Context, req *Request) (context.Context, error)

	// After allows to observe a Response or replace its error.
	After(ctx context.Context, resp *Response) error
}

// PassthroughInterceptor can be used by [CallInterceptor] implementers who don't need all methods.
// The struct can be embedded for providing a no-op implementation.
type PassthroughInterceptor struct{}

var _ CallInterceptor = (*PassthroughInterceptor)(nil)

// Before implements the [CallInterceptor].
func (PassthroughInterceptor) Before(ctx context.Context, req *Request) (context.Context, error) {
	return ctx, nil
}

// After implements the [CallInterceptor].
func (PassthroughInterceptor) After(ctx context.Context, resp *Response) error {
	return nil
}

// LoggingInterceptor writes a debug record for every call. Tokens are never logged.
type LoggingInterceptor struct{}

var _ CallInterceptor = (*LoggingInterceptor)(nil)

type callStartKey struct{}

// Before implements the [CallInterceptor].
func (LoggingInterceptor) Before(ctx context.Context, req *Request) (context.Context, error) {
	return context.WithValue(ctx, callStartKey{}, time.Now()), nil
}

// After implements the [CallInterceptor].
func (LoggingInterceptor) After(ctx context.Context, resp *Response) error {
	var elapsed time.Duration
	if start, ok := ctx.Value(callStartKey{}).(time.Time); ok {
		elapsed = time.Since(start)
	}
	if resp.Err != nil {
		log.Debug(ctx, "request failed", "method", resp.Request.Method, "url", resp.Request.URL, "elapsed", elapsed, "error", resp.Err)
		return nil
	}
	log.Debug(ctx, "request completed", "method", resp.Request.Method, "url", resp.Request.URL, "status", resp.StatusCode, "elapsed", elapsed)
	return nil
}

// HeaderInterceptor adds fixed HTTP headers to every request.
type HeaderInterceptor struct {
	PassthroughInterceptor
	Header http.Header
}

// Before implements the [CallInterceptor].
func (hi *HeaderInterceptor) Before(ctx context.Context, req *Request) (context.Context, error) {
	for k, vals := range hi.Header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	return ctx, nil
}
