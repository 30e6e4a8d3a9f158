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

package daemon

import (
	"math"
	"time"

	"github.com/clocksync/servod/config"
)

// backoff tracks how long to wait before the next attempt to open a clock device
type backoff struct {
	cfg     config.BackoffConfig
	counter int
	value   int
}

func newBackoff(cfg config.BackoffConfig) *backoff {
	return &backoff{cfg: cfg}
}

func (b *backoff) active() bool {
	return b.value != 0
}

func (b *backoff) reset() {
	b.value = 0
	b.counter = 0
}

// bump registers one more failed attempt and returns the wait in seconds
func (b *backoff) bump() int {
	b.counter++
	switch b.cfg.Mode {
	case config.BackoffFixed:
		b.value = b.cfg.Step
	case config.BackoffLinear:
		b.value = b.cfg.Step * b.counter
	case config.BackoffExponential:
		b.value = int(math.Pow(float64(b.cfg.Step), float64(b.counter)))
	default:
		b.counter = 0
		b.value = 0
	}
	if b.cfg.MaxValue > 0 && b.value > b.cfg.MaxValue {
		b.value = b.cfg.MaxValue
	}
	return b.value
}

func (b *backoff) wait() time.Duration {
	return time.Duration(b.value) * time.Second
}
