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

package metrics

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	config "github.com/containers/pagepool/pkg/apis/config/v1alpha1/metrics"
	xhttp "github.com/containers/pagepool/pkg/http"
	logger "github.com/containers/pagepool/pkg/log"
	"github.com/containers/pagepool/pkg/metrics"
)

// Option is an option for metrics exporting.
type Option func() error

const (
	promExporter = "prometheus"
	httpExporter = "otlp-http"
	grpcExporter = "otlp-grpc"
)

var (
	namespace    = "pagepool"
	exporter     string
	provider     *metric.MeterProvider
	gatherer     *metrics.Gatherer
	enabled      []string
	polled       []string
	reportPeriod time.Duration
	mux          *xhttp.ServeMux
	log          = logger.Get("metrics")
)

// WithExporter sets the type of metrics exporter to use.
func WithExporter(v string) Option {
	return func() error {
		if v != "" && exporter != "" && v != exporter {
			return fmt.Errorf("conflicting metrics exporter: %q and %q requested",
				exporter, v)
		}

		if v != "" {
			exporter = v
		}
		return nil
	}
}

// WithNamespace sets a common namespace (prefix) for all metrics.
func WithNamespace(v string) Option {
	return func() error {
		namespace = v
		return nil
	}
}

// WithReportPeriod sets the reporting period for periodic metric
// exporters (otlp-http and otlp-grpc).
func WithReportPeriod(v time.Duration) Option {
	return func() error {
		reportPeriod = v
		return nil
	}
}

// WithMetrics sets the enabled and polled metrics.
func WithMetrics(cfg *config.Config) Option {
	return func() error {
		if cfg != nil {
			enabled = slices.Clone(cfg.Enabled)
			polled = slices.Clone(cfg.Polled)
		} else {
			enabled = []string{"*"}
			polled = nil
		}
		return nil
	}
}

// Start metrics collection and exporting.
func Start(m *xhttp.ServeMux, res *resource.Resource, opts ...Option) error {
	Stop()

	for _, opt := range opts {
		if err := opt(); err != nil {
			return err
		}
	}

	if exporter == "" {
		log.Info("no metrics exporter configured, metrics collection disabled")
		return nil
	}

	if m == nil {
		log.Info("no mux provided, metrics collection disabled")
		return nil
	}

	var (
		ctx     = context.Background()
		options = []metric.Option{metric.WithResource(res)}
	)

	switch exporter {
	case promExporter:
		log.Info("using Prometheus metrics exporter")

		g, err := metrics.Default().NewGatherer(
			metrics.WithNamespace(namespace),
			metrics.WithMetrics(enabled, polled),
		)
		if err != nil {
			return fmt.Errorf("failed to create metrics gatherer: %w", err)
		}
		gatherer = g

		exp, err := otelprom.New(
			otelprom.WithNamespace(namespace),
			otelprom.WithRegisterer(g.Registry),
			otelprom.WithoutScopeInfo(),
			otelprom.WithoutTargetInfo(),
		)
		if err != nil {
			return fmt.Errorf("failed to create OpenTelemetry Prometheus exporter: %w", err)
		}

		options = append(options, metric.WithReader(exp))

		handlerOpts := promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		}
		m.Handle("/metrics", promhttp.HandlerFor(g, handlerOpts))

	case httpExporter:
		log.Info("using OpenTelemetry HTTP metrics exporter")

		exp, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return fmt.Errorf("failed to create OpenTelemetry HTTP exporter: %w", err)
		}

		options = append(options,
			metric.WithReader(
				metric.NewPeriodicReader(exp, metric.WithInterval(reportPeriod)),
			),
		)

	case grpcExporter:
		log.Info("using OpenTelemetry gRPC metrics exporter")

		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return fmt.Errorf("failed to create OpenTelemetry gRPC exporter: %w", err)
		}

		options = append(options,
			metric.WithReader(
				metric.NewPeriodicReader(exp, metric.WithInterval(reportPeriod)),
			),
		)

	default:
		return fmt.Errorf("unsupported metrics exporter %q", exporter)
	}

	log.Info("starting metrics exporter...")

	provider = metric.NewMeterProvider(options...)

	mux = m

	return nil
}

// Stop metrics collection and exporting.
func Stop() {
	if mux != nil {
		mux.Unregister("/metrics")
		mux = nil
	}

	if gatherer != nil {
		gatherer.Stop()
		gatherer = nil
	}

	if provider != nil {
		err := provider.Shutdown(context.Background())
		if err != nil {
			log.Error("failed to shut down metrics provider: %v", err)
		}
		provider = nil
	}

	exporter = ""
	namespace = "pagepool"
	enabled = nil
	polled = nil
	reportPeriod = 0
}
