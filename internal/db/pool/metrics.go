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

package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Parts of Prometheus metric names.
const (
	namespace = "litebeam"
	subsystem = "pool"
)

// Describe implements prometheus.Collector.
func (p *Pool) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(p, ch)
}

// Collect implements prometheus.Collector.
func (p *Pool) Collect(ch chan<- prometheus.Metric) {
	p.rw.Lock()

	var readsInUse int

	for _, c := range p.reads {
		if c.inUse {
			readsInUse++
		}
	}

	reads := len(p.reads)
	waiters := len(p.waiters)
	writeInUse := p.write != nil && p.write.inUse

	p.rw.Unlock()

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "read_connections"),
			"The number of read connections.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(reads),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "read_connections_in_use"),
			"The number of read connections currently checked out.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(readsInUse),
	)

	var w float64
	if writeInUse {
		w = 1
	}

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "write_connection_in_use"),
			"Whether the write connection is currently held.",
			nil, nil,
		),
		prometheus.GaugeValue,
		w,
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "write_waiters"),
			"The current number of writers suspended on the FIFO queue.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(waiters),
	)
}

// check interfaces
var (
	_ prometheus.Collector = (*Pool)(nil)
)
