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
	"math"

	"github.com/eclesh/welford"
)

// DefaultHistorySize is how many samples we keep between aggregations
const DefaultHistorySize = 1024

// History keeps the latest measurements of the servo loop, oldest first
type History struct {
	size   int
	offset []float64
	delay  []float64
	freq   []float64
}

// NewHistory returns History holding up to size samples
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{size: size}
}

func push(s []float64, v float64, size int) []float64 {
	if len(s) == size {
		copy(s, s[1:])
		s[len(s)-1] = v
		return s
	}
	return append(s, v)
}

// Add records one sample, dropping the oldest when full
func (h *History) Add(offset, delay, freq float64) {
	h.offset = push(h.offset, offset, h.size)
	h.delay = push(h.delay, delay, h.size)
	h.freq = push(h.freq, freq, h.size)
}

// Len returns number of samples held
func (h *History) Len() int {
	return len(h.offset)
}

// Reset drops all samples
func (h *History) Reset() {
	h.offset = h.offset[:0]
	h.delay = h.delay[:0]
	h.freq = h.freq[:0]
}

func (h *History) vars() map[string]interface{} {
	return map[string]interface{}{
		"offset": h.offset,
		"delay":  h.delay,
		"freq":   h.freq,
	}
}

func summarize(prefix string, input []float64, res Counters) {
	s := welford.New()
	maxAbs := 0.0
	for _, v := range input {
		s.Add(v)
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	res[prefix+".mean"] = int64(s.Mean())
	res[prefix+".stddev"] = int64(s.Stddev())
	res[prefix+".max_abs"] = int64(maxAbs)
}

// Aggregate returns mean, standard deviation and max absolute value of every measurement
func (h *History) Aggregate() Counters {
	res := Counters{}
	if h.Len() == 0 {
		return res
	}
	summarize("window.offset_ns", h.offset, res)
	summarize("window.path_delay_ns", h.delay, res)
	summarize("window.freq_ppb", h.freq, res)
	res["window.samples"] = int64(h.Len())
	return res
}
