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

package stream

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Parts of Prometheus metric names.
const (
	namespace = "litebeam"
	subsystem = "stream"
)

// Describe implements prometheus.Collector.
func (m *Manager) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(m, ch)
}

// Collect implements prometheus.Collector.
func (m *Manager) Collect(ch chan<- prometheus.Metric) {
	m.rw.Lock()
	subs := len(m.subs)
	tables := len(m.byTable)
	reruns := m.rerunsTotal
	m.rw.Unlock()

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "subscriptions"),
			"The current number of active subscriptions.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(subs),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "tracked_tables"),
			"The current number of tables with at least one subscriber.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(tables),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "reruns_total"),
			"The total number of executed debounced reruns.",
			nil, nil,
		),
		prometheus.CounterValue,
		float64(reruns),
	)
}

// check interfaces
var (
	_ prometheus.Collector = (*Manager)(nil)
)
