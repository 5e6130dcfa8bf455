// Copyright The PagePool Authors. All Rights Reserved.
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

package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	logger "github.com/containers/pagepool/pkg/log"
)

const (
	shutdownTimeout = 3 * time.Second
)

var (
	log = logger.Get("http")
)

// ServeMux is a http.ServeMux which also allows handler removal and
// replacement. We use a single mux shared by all our HTTP services
// (metrics exporting, health checking, state dumps).
type ServeMux struct {
	sync.RWMutex
	handlers map[string]http.Handler
}

// NewServeMux creates a new multiplexer.
func NewServeMux() *ServeMux {
	return &ServeMux{
		handlers: make(map[string]http.Handler),
	}
}

// Handle registers a handler for the given pattern, replacing any
// existing one.
func (m *ServeMux) Handle(pattern string, handler http.Handler) {
	m.Lock()
	defer m.Unlock()
	m.handlers[pattern] = handler
}

// HandleFunc registers a handler function for the given pattern.
func (m *ServeMux) HandleFunc(pattern string, fn func(http.ResponseWriter, *http.Request)) {
	m.Handle(pattern, http.HandlerFunc(fn))
}

// Unregister removes the handler registered for the given pattern.
func (m *ServeMux) Unregister(pattern string) {
	m.Lock()
	defer m.Unlock()
	delete(m.handlers, pattern)
}

// ServeHTTP implements the http.Handler interface.
func (m *ServeMux) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	m.RLock()
	handler, ok := m.handlers[req.URL.Path]
	m.RUnlock()

	if !ok {
		http.NotFound(w, req)
		return
	}

	handler.ServeHTTP(w, req)
}

// Server is our shared HTTP server. It can be started without an
// endpoint, in which case it stays dormant until reconfigured with
// one.
type Server struct {
	sync.Mutex
	mux      *ServeMux
	endpoint string
	ln       net.Listener
	srv      *http.Server
}

// NewServer creates a new HTTP server instance.
func NewServer() *Server {
	return &Server{
		mux: NewServeMux(),
	}
}

// GetMux returns the multiplexer of the server.
func (s *Server) GetMux() *ServeMux {
	return s.mux
}

// GetAddress returns the address the server is listening on.
func (s *Server) GetAddress() string {
	s.Lock()
	defer s.Unlock()

	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start starts the server, listening on the given endpoint. An empty
// endpoint leaves the server dormant.
func (s *Server) Start(endpoint string) error {
	s.Lock()
	defer s.Unlock()

	return s.start(endpoint)
}

func (s *Server) start(endpoint string) error {
	if endpoint == "" {
		log.Info("no endpoint set, HTTP server not started")
		return nil
	}

	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		return httpError("failed to listen on %q: %v", endpoint, err)
	}

	s.endpoint = endpoint
	s.ln = ln
	s.srv = &http.Server{Handler: s.mux}

	log.Info("HTTP server listening on %q", endpoint)

	go func(srv *http.Server, ln net.Listener) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server exited: %v", err)
		}
	}(s.srv, s.ln)

	return nil
}

// Stop stops the server, keeping registered handlers.
func (s *Server) Stop() {
	s.Lock()
	defer s.Unlock()

	s.stop()
}

func (s *Server) stop() {
	if s.srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown failed: %v", err)
		s.srv.Close()
	}

	s.srv = nil
	s.ln = nil
	s.endpoint = ""
}

// Reconfigure restarts the server on a new endpoint if it differs
// from the current one.
func (s *Server) Reconfigure(endpoint string) error {
	s.Lock()
	defer s.Unlock()

	if s.endpoint == endpoint {
		return nil
	}

	s.stop()
	return s.start(endpoint)
}

// httpError returns a package-specific formatted error.
func httpError(format string, args ...interface{}) error {
	return fmt.Errorf("http: "+format, args...)
}
