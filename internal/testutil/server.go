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

// Package testutil provides fakes shared by package tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// Call records one request received by a [Server].
type Call struct {
	Method string
	Path   string
	Form   url.Values
}

// ResponderFunc produces the status code and JSON body of a response.
type ResponderFunc func(call Call) (int, any)

// Server is a fake ArcGIS portal and geoprocessing server. Requests to paths
// without a registered responder fail with 404.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	calls  []Call
	routes map[string]ResponderFunc
}

// NewServer starts a fake server which is closed when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{routes: make(map[string]ResponderFunc)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	call := Call{Method: r.Method, Path: r.URL.Path, Form: r.Form}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	responder, ok := s.routes[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	status, body := responder(call)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// Handle registers a responder for path.
func (s *Server) Handle(path string, fn ResponderFunc) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[path] = fn
	return s
}

// JSON makes path respond with body.
func (s *Server) JSON(path string, body any) *Server {
	return s.Handle(path, func(Call) (int, any) { return http.StatusOK, body })
}

// Status makes path respond with an empty body and the provided status code.
func (s *Server) Status(path string, status int) *Server {
	return s.Handle(path, func(Call) (int, any) { return status, nil })
}

// Sequence makes path respond with bodies in order. The last body is repeated.
func (s *Server) Sequence(path string, bodies ...any) *Server {
	var (
		mu   sync.Mutex
		next int
	)
	return s.Handle(path, func(Call) (int, any) {
		mu.Lock()
		defer mu.Unlock()
		body := bodies[min(next, len(bodies)-1)]
		next++
		return http.StatusOK, body
	})
}

// Calls returns all requests received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns the requests received for path.
func (s *Server) CallsTo(path string) []Call {
	var result []Call
	for _, c := range s.Calls() {
		if c.Path == path {
			result = append(result, c)
		}
	}
	return result
}

// ErrorBody returns an Esri error envelope.
func ErrorBody(code int, message string, details ...string) map[string]any {
	if details == nil {
		details = []string{}
	}
	return map[string]any{"error": map[string]any{
		"code":    code,
		"message": message,
		"details": details,
	}}
}
