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
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	cfgapi "github.com/containers/pagepool/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/containers/pagepool/pkg/metrics"
)

func TestPrometheusConfiguration(t *testing.T) {
	require.NoError(t, metrics.Register("gauge",
		prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "test_gauge",
			Help: "A test gauge.",
		}),
		metrics.WithGroup("test"),
	), "test collector registration")

	cfg = &cfgapi.Config{HTTPEndpoint: ":0"}
	require.NoError(t, Start(), "instrumentation start")
	defer Stop()

	checkPrometheus(t, srv.GetAddress(), true)

	cfg.PrometheusExport = true
	require.NoError(t, Restart(), "restart with Prometheus export")
	checkPrometheus(t, srv.GetAddress(), false)

	cfg.PrometheusExport = false
	cfg.MetricsExporter = ""
	require.NoError(t, Restart(), "restart without Prometheus export")
	checkPrometheus(t, srv.GetAddress(), true)
}

func checkPrometheus(t *testing.T, server string, shouldFail bool) {
	rpl, err := http.Get("http://" + server + "/metrics")

	if shouldFail {
		if err == nil && rpl.StatusCode == 200 {
			t.Errorf("Prometheus HTTP GET should have failed, but it didn't.")
		}
		return
	}

	require.NoError(t, err, "Prometheus HTTP GET")
	require.Equal(t, 200, rpl.StatusCode, "Prometheus HTTP status")

	_, err = io.ReadAll(rpl.Body)
	rpl.Body.Close()
	require.NoError(t, err, "Prometheus response read")
}
