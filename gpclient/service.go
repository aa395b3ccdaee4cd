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
	"maps"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/gpservices/gp-go/gp"
	"github.com/gpservices/gp-go/internal/rest"
	"github.com/gpservices/gp-go/log"
)

// Service is a handle to a geoprocessing service endpoint.
// It is safe for concurrent use. The service metadata is fetched at most once
// until [Service.Invalidate] is called.
type Service struct {
	url  string
	conn Connection

	// token and anonymous are assigned during Connect and never change afterwards.
	token     string
	anonymous bool

	mu    sync.Mutex
	props gp.Properties
	group singleflight.Group
}

// NewService creates a handle without contacting the server. Metadata is fetched
// lazily on the first [Service.Properties] call. An empty token makes the handle anonymous.
func NewService(serviceURL string, conn Connection, token string) *Service {
	return &Service{
		url:       strings.TrimSuffix(serviceURL, "/"),
		conn:      conn,
		token:     token,
		anonymous: token == "",
	}
}

// Connect creates a handle for the service at serviceURL and fetches its metadata.
//
// Authenticated connections first exchange the session token for a server token.
// A portal refusing to generate a token for the server is fatal, while any other
// service error downgrades the handle to anonymous access. A token-bearing request
// rejected by the service is retried once as a public call. A public call failing with
// "Token Required" is retried once more with the session token of the connection.
func Connect(ctx context.Context, serviceURL string, conn Connection) (*Service, error) {
	s := &Service{
		url:       strings.TrimSuffix(serviceURL, "/"),
		conn:      conn,
		anonymous: conn.Anonymous(),
	}
	ctx = log.With(ctx, "service", s.url)

	if !s.anonymous {
		token, err := conn.GenerateServerToken(ctx, s.url)
		var svcErr *gp.ServiceError
		switch {
		case err == nil:
			s.token = token
		case errors.Is(err, gp.ErrTokenGeneration):
			return nil, fmt.Errorf("failed to connect to %s: %w", s.url, err)
		case errors.As(err, &svcErr):
			log.Warn(ctx, "server token rejected, continuing anonymously", "error", err)
			s.anonymous = true
		default:
			return nil, fmt.Errorf("failed to connect to %s: %w", s.url, err)
		}
	}

	props, err := s.loadProperties(ctx)
	if err != nil {
		return nil, err
	}
	s.props = props
	return s, nil
}

func (s *Service) loadProperties(ctx context.Context) (gp.Properties, error) {
	props, err := s.fetchProperties(ctx, s.token)
	if err == nil {
		return props, nil
	}
	var svcErr *gp.ServiceError
	if !errors.As(err, &svcErr) {
		return nil, err
	}

	// An anonymous request already was the public call.
	if s.token != "" {
		log.Info(ctx, "service metadata rejected, retrying as public call", "error", err)
		props, err = s.fetchProperties(ctx, "")
		if err == nil {
			s.token = ""
			s.anonymous = true
			return props, nil
		}
	}

	var httpErr *gp.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return nil, fmt.Errorf("%w: %s: %w", gp.ErrServiceHTTP, s.url, err)
	case errors.Is(err, gp.ErrTokenRequired):
		session, tokenErr := s.conn.Token(ctx)
		if tokenErr != nil {
			return nil, fmt.Errorf("failed to get session token: %w", tokenErr)
		}
		if session == "" {
			return nil, err
		}
		props, err = s.fetchProperties(ctx, session)
		if err != nil {
			return nil, err
		}
		s.token = session
		s.anonymous = false
		return props, nil
	default:
		return nil, err
	}
}

func (s *Service) fetchProperties(ctx context.Context, token string) (gp.Properties, error) {
	body, err := s.conn.Post(ctx, s.url, url.Values{"f": []string{"json"}}, token)
	if err != nil {
		return nil, err
	}
	var props gp.Properties
	if err := json.Unmarshal(body, &props); err != nil {
		return nil, fmt.Errorf("failed to decode service properties: %w", err)
	}
	if props == nil {
		props = gp.Properties{}
	}
	return props, nil
}

// URL returns the service URL.
func (s *Service) URL() string {
	return s.url
}

// Token returns the token attached to service requests, "" for anonymous handles.
func (s *Service) Token() string {
	return s.token
}

// Anonymous reports whether requests are sent without a token.
func (s *Service) Anonymous() bool {
	return s.anonymous
}

// Connection returns the connection the handle was created with.
func (s *Service) Connection() Connection {
	return s.conn
}

// Properties returns a copy of the service metadata, fetching it on first use.
// Concurrent callers share a single network call.
func (s *Service) Properties(ctx context.Context) (gp.Properties, error) {
	if props, ok := s.cachedProperties(); ok {
		return props, nil
	}
	v, err, _ := s.group.Do("properties", func() (any, error) {
		if props, ok := s.cachedProperties(); ok {
			return props, nil
		}
		props, err := s.fetchProperties(ctx, s.token)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.props = props
		s.mu.Unlock()
		return props, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get service properties: %w", err)
	}
	return maps.Clone(v.(gp.Properties)), nil
}

func (s *Service) cachedProperties() (gp.Properties, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.props == nil {
		return nil, false
	}
	return maps.Clone(s.props), true
}

// Invalidate drops the cached metadata. The next [Service.Properties] call refetches it.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props = nil
}

// Invoke calls a service method by name with the provided parameters.
func (s *Service) Invoke(ctx context.Context, method string, params gp.TaskParameters) (json.RawMessage, error) {
	if params == nil {
		params = gp.TaskParameters{}
	}
	form, err := params.Values()
	if err != nil {
		return nil, err
	}
	return s.conn.Post(ctx, rest.MakeTaskURL(s.url, method), form, s.token)
}
