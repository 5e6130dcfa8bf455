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

// Package healthz implements a simple pluggable health-check endpoint.
package healthz

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	xhttp "github.com/containers/pagepool/pkg/http"
	logger "github.com/containers/pagepool/pkg/log"
)

var (
	lock     sync.Mutex
	checkers = map[string]CheckFn{}
	sorted   []string
	// our logger instance
	log = logger.Get("health-check")
)

// CheckFn reports the health of a single component.
type CheckFn func() (status Status, details error)

// Status describes the health of a component or the whole.
type Status int

const (
	// Healthy marks a fully functional component.
	Healthy Status = iota
	// Degraded marks a component with reduced functionality.
	Degraded
	// NonFunctional marks a broken component.
	NonFunctional
)

// Setup prepares the given HTTP request multiplexer for serving healthz.
func Setup(mux *xhttp.ServeMux) {
	mux.HandleFunc("/healthz", serve)
}

// serve serves a single HTTP request.
func serve(w http.ResponseWriter, req *http.Request) {
	status, details := check()
	if status == Healthy {
		w.WriteHeader(200)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Error("failed to write response: %v", err)
		}
		return
	}

	errors := ""
	for _, err := range details {
		errors += fmt.Sprintf("%v\n", err)
	}
	w.WriteHeader(500)
	if _, err := w.Write([]byte(errors)); err != nil {
		log.Error("failed to write response: %v", err)
	}
}

// RegisterHealthChecker registers the given health checker function.
func RegisterHealthChecker(name string, fn CheckFn) {
	lock.Lock()
	defer lock.Unlock()

	if _, conflict := checkers[name]; conflict {
		panic(fmt.Sprintf("health checker %q already registered", name))
	}

	checkers[name] = fn
	sorted = append(sorted, name)
	sort.Strings(sorted)
}

// UnregisterHealthChecker removes the named health checker.
func UnregisterHealthChecker(name string) {
	lock.Lock()
	defer lock.Unlock()

	delete(checkers, name)
	sorted = sorted[:0]
	for n := range checkers {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
}

// check runs all registered checkers, reporting the worst status seen.
func check() (Status, []error) {
	lock.Lock()
	defer lock.Unlock()

	var (
		status  = Healthy
		details []error
	)

	for _, name := range sorted {
		s, err := checkers[name]()
		if s > status {
			status = s
		}
		if err != nil {
			details = append(details, fmt.Errorf("%s: %w", name, err))
		}
	}

	return status, details
}
