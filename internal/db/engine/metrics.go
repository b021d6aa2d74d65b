// Copyright 2025 Litebeam Authors
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

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Parts of Prometheus metric names.
const (
	namespace = "litebeam"
	subsystem = "engine"
)

// Describe implements prometheus.Collector.
func (w *worker) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(w, ch)
}

// Collect implements prometheus.Collector.
func (w *worker) Collect(ch chan<- prometheus.Metric) {
	w.pendingMu.Lock()
	pending := len(w.pending)
	w.pendingMu.Unlock()

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "requests_total"),
			"The total number of submitted requests.",
			nil, nil,
		),
		prometheus.CounterValue,
		float64(w.nextID.Load()),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "requests_pending"),
			"The current number of outstanding request correlations.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(pending),
	)
}

// check interfaces
var (
	_ prometheus.Collector = (*worker)(nil)
)
