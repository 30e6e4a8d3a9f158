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

// average is a moving average over the last len(samples) values
type average struct {
	samples []time.Duration
	idx     int
	count   int
	sum     time.Duration
}

func newAverage(length int) *average {
	return &average{samples: make([]time.Duration, length)}
}

// Sample replaces the oldest value and returns the mean of the window
func (a *average) Sample(v time.Duration) time.Duration {
	a.sum -= a.samples[a.idx]
	a.samples[a.idx] = v
	a.sum += v
	a.idx = (a.idx + 1) % len(a.samples)
	if a.count < len(a.samples) {
		a.count++
	}
	return a.sum / time.Duration(a.count)
}

// Reset forgets all samples
func (a *average) Reset() {
	for i := range a.samples {
		a.samples[i] = 0
	}
	a.idx = 0
	a.count = 0
	a.sum = 0
}
