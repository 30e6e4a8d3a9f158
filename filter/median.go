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

package filter

import "time"

// median is a moving median over the last len(samples) values.
// order keeps indexes into samples sorted by value, so
// both insertion and eviction are linear in window length.
type median struct {
	samples []time.Duration
	order   []int
	idx     int
	count   int
}

func newMedian(length int) *median {
	return &median{
		samples: make([]time.Duration, length),
		order:   make([]int, length),
	}
}

// Sample replaces the oldest value and returns the median of the window.
// For even number of values the mean of the two middle ones is returned.
func (m *median) Sample(v time.Duration) time.Duration {
	length := len(m.samples)
	if m.count == length {
		// window is full, evict the slot we are about to overwrite
		i := 0
		for m.order[i] != m.idx {
			i++
		}
		copy(m.order[i:m.count-1], m.order[i+1:m.count])
		m.count--
	}

	// insertion sort from the end, ties keep the newest value on top
	i := m.count
	for ; i > 0; i-- {
		if m.samples[m.order[i-1]] <= v {
			break
		}
		m.order[i] = m.order[i-1]
	}
	m.order[i] = m.idx
	m.samples[m.idx] = v
	m.count++
	m.idx = (m.idx + 1) % length

	if m.count%2 == 1 {
		return m.samples[m.order[m.count/2]]
	}
	a := m.samples[m.order[m.count/2-1]]
	b := m.samples[m.order[m.count/2]]
	return (a + b) / 2
}

// Reset forgets all samples
func (m *median) Reset() {
	m.idx = 0
	m.count = 0
}
