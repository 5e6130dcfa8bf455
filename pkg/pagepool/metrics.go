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

package pagepool

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/containers/pagepool/pkg/metrics"
)

// collector exposes the pool state the way the in-kernel original
// exposes it through debugfs: per-class bucket sizes plus the global
// totals, with populate and reclaim activity counters on top.
type collector struct {
	bucketPages *prometheus.Desc
	totalPages  *prometheus.Desc
	maxPages    *prometheus.Desc
	hits        *prometheus.Desc
	misses      *prometheus.Desc
	fallbacks   *prometheus.Desc
	reclaimed   *prometheus.Desc
}

func registerCollector() {
	c := &collector{
		bucketPages: prometheus.NewDesc(
			"bucket_pages",
			"Base pages pooled per caching class, order and zone.",
			[]string{"caching", "order", "zone"}, nil,
		),
		totalPages: prometheus.NewDesc(
			"total_pages",
			"Base pages pooled across all buckets.",
			nil, nil,
		),
		maxPages: prometheus.NewDesc(
			"max_pages",
			"Configured pooled page cap, 0 if uncapped.",
			nil, nil,
		),
		hits: prometheus.NewDesc(
			"populate_hits",
			"Runs populate took from a bucket.",
			nil, nil,
		),
		misses: prometheus.NewDesc(
			"populate_misses",
			"Run allocations populate attempted after a bucket miss.",
			nil, nil,
		),
		fallbacks: prometheus.NewDesc(
			"populate_order_fallbacks",
			"Failed allocations retried at a lower order.",
			nil, nil,
		),
		reclaimed: prometheus.NewDesc(
			"reclaimed_runs",
			"Runs freed by the reclaim participant.",
			nil, nil,
		),
	}

	err := metrics.Register("pool", c,
		metrics.WithGroup("pagepool"),
		metrics.WithCollectorOptions(metrics.WithoutNamespace()),
	)
	if err != nil {
		log.Error("failed to register pool collector: %v", err)
	}
}

// Describe implements the prometheus.Collector interface.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bucketPages
	ch <- c.totalPages
	ch <- c.maxPages
	ch <- c.hits
	ch <- c.misses
	ch <- c.fallbacks
	ch <- c.reclaimed
}

// Collect implements the prometheus.Collector interface.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	m := currentManager()
	if m == nil {
		return
	}

	type class struct {
		caching Caching
		order   int
		zone    Zone
	}

	pages := map[class]int64{}
	m.registry.forEach(func(b *Bucket) {
		k := class{caching: b.caching, order: b.order, zone: b.zone}
		pages[k] += int64(b.Size()) << b.order
	})

	for k, n := range pages {
		ch <- prometheus.MustNewConstMetric(c.bucketPages, prometheus.GaugeValue,
			float64(n), k.caching.String(), strconv.Itoa(k.order), k.zone.String())
	}

	ch <- prometheus.MustNewConstMetric(c.totalPages, prometheus.GaugeValue,
		float64(m.registry.TotalPages()))
	ch <- prometheus.MustNewConstMetric(c.maxPages, prometheus.GaugeValue,
		float64(m.registry.MaxPages()))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue,
		float64(m.stats.hits.Load()))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue,
		float64(m.stats.misses.Load()))
	ch <- prometheus.MustNewConstMetric(c.fallbacks, prometheus.CounterValue,
		float64(m.stats.fallbacks.Load()))
	ch <- prometheus.MustNewConstMetric(c.reclaimed, prometheus.CounterValue,
		float64(m.stats.reclaimed.Load()))
}
