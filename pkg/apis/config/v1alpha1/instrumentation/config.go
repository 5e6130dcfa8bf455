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

package instrumentation

import (
	"time"

	"github.com/containers/pagepool/pkg/apis/config/v1alpha1/metrics"
)

// Config provides runtime configuration for instrumentation.
type Config struct {
	// SamplingRatePerMillion is the number of samples to collect per million spans.
	// +optional
	SamplingRatePerMillion int `json:"samplingRatePerMillion,omitempty"`
	// TracingCollector defines the external endpoint for tracing data collection.
	// Endpoints are specified as full URLs, or as plain URL schemes which then
	// imply scheme-specific defaults. The supported schemes and their default
	// URLs are:
	//   - otlp-http, http: localhost:4318
	//   - otlp-grpc, grpc: localhost:4317
	// +optional
	TracingCollector string `json:"tracingCollector,omitempty"`
	// MetricsExporter defines which exporter is used to export metrics.
	// The supported exporters are prometheus, otlp-http and otlp-grpc.
	// +optional
	MetricsExporter string `json:"metricsExporter,omitempty"`
	// ReportPeriodSeconds is the interval between exporting periodic metrics.
	// +optional
	ReportPeriodSeconds int `json:"reportPeriodSeconds,omitempty"`
	// HTTPEndpoint is the address our HTTP server listens on. This endpoint
	// is used to expose Prometheus metrics among other things.
	// +optional
	HTTPEndpoint string `json:"httpEndpoint,omitempty"`
	// PrometheusExport enables exporting /metrics for Prometheus. This is
	// equivalent to setting MetricsExporter to "prometheus".
	// +optional
	PrometheusExport bool `json:"prometheusExport,omitempty"`
	// Metrics defines which metrics to collect.
	// +optional
	Metrics *metrics.Config `json:"metrics,omitempty"`
}

// ReportPeriod returns the configured metrics reporting period.
func (c *Config) ReportPeriod() time.Duration {
	if c == nil || c.ReportPeriodSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ReportPeriodSeconds) * time.Second
}
