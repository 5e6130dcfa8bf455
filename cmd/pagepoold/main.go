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

// pagepoold hosts the process-global page pools: it initializes the
// subsystem, exposes metrics, health checking and state dumps over
// HTTP, and converts cgroup memory-pressure notifications into
// reclaim.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	cfgapi "github.com/containers/pagepool/pkg/apis/config/v1alpha1"
	"github.com/containers/pagepool/pkg/healthz"
	"github.com/containers/pagepool/pkg/instrumentation"
	logger "github.com/containers/pagepool/pkg/log"
	_ "github.com/containers/pagepool/pkg/metrics/collectors"
	"github.com/containers/pagepool/pkg/pagepool"
	"github.com/containers/pagepool/pkg/shrink"
)

const (
	// pressureBatch is the number of base pages reclaimed per
	// memory-pressure notification.
	pressureBatch = 1 << 16
)

var (
	log = logger.Get("pagepoold")
)

func main() {
	var (
		configFile    string
		httpEndpoint  string
		pressureLevel string
	)

	flag.StringVar(&configFile, "config", "", "configuration file name")
	flag.StringVar(&httpEndpoint, "http-endpoint", ":8891", "HTTP endpoint for metrics and healthz")
	flag.StringVar(&pressureLevel, "pressure-level", shrink.PressureMedium,
		"cgroup memory pressure level triggering reclaim, empty to disable")
	flag.Parse()

	cfg := &cfgapi.Config{}
	if configFile != "" {
		var err error
		if cfg, err = cfgapi.ReadConfigFile(configFile); err != nil {
			log.Fatal("failed to read configuration: %v", err)
		}
	}
	if cfg.Instrumentation.HTTPEndpoint == "" {
		cfg.Instrumentation.HTTPEndpoint = httpEndpoint
	}
	if cfg.Instrumentation.MetricsExporter == "" && !cfg.Instrumentation.PrometheusExport {
		cfg.Instrumentation.PrometheusExport = true
	}

	if err := logger.Configure(&cfg.Log); err != nil {
		log.Error("failed to configure logging: %v", err)
	}

	// The pool collector is registered by Init; do this before the
	// metrics gatherer is built so the collector gets exported.
	if err := pagepool.Init(); err != nil {
		log.Fatal("failed to initialize page pool: %v", err)
	}
	defer pagepool.Fini()

	if err := pagepool.Configure(&cfg.Pool); err != nil {
		log.Fatal("invalid pool configuration: %v", err)
	}

	if err := instrumentation.Reconfigure(&cfg.Instrumentation); err != nil {
		log.Fatal("failed to start instrumentation: %v", err)
	}
	defer instrumentation.Stop()

	mux := instrumentation.HTTPServer().GetMux()
	healthz.Setup(mux)
	mux.HandleFunc("/pools", func(w http.ResponseWriter, _ *http.Request) {
		pagepool.DumpGlobals()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("dumped to log\n"))
	})

	if pressureLevel != "" {
		stop, err := shrink.NotifyMemoryPressure(pressureLevel, func() {
			freed := shrink.Pressure(pressureBatch, true)
			log.Info("memory pressure: freed %d pages", freed)
		})
		if err != nil {
			log.Warn("memory pressure notifications unavailable: %v", err)
		} else {
			defer stop()
		}
	}

	log.Info("up and running, pool cap %d pages", pagepool.MaxPoolPages())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	pagepool.DumpGlobals()
	log.Info("received %v, shutting down...", sig)
}
