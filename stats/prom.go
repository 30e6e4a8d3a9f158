/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package stats

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "servod_"

// collector exposes counters as prometheus gauges at scrape time
type collector struct {
	stats *Stats
}

func newCollector(s *Stats) *collector {
	return &collector{stats: s}
}

// Describe is empty, which makes this an unchecked collector as the set of counters is dynamic
func (c *collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for key, val := range c.stats.GetCounters() {
		desc := prometheus.NewDesc(metricPrefix+flattenKey(key), key, nil, nil)
		m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, float64(val))
		if err != nil {
			continue
		}
		ch <- m
	}
}

func flattenKey(key string) string {
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, ".", "_")
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, "=", "_")
	key = strings.ReplaceAll(key, "/", "_")
	return key
}
