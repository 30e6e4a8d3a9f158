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

package servo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

const linregBaseTs = uint64(1674148530000000000)

func newTestLinRegServo(cfg *Config) *LinRegServo {
	s := newServo(cfg, 0)
	l := NewLinRegServo(s, 0)
	l.SyncInterval(1)
	return l
}

// simulate clock running off by driftPPB, applying every adjustment for one second
func TestLinRegServoConverges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FirstStepThreshold = 0
	l := newTestLinRegServo(cfg)

	const driftPPB = 1000.0
	const initialOffset = 500.0
	applied := 0.0
	freq := 0.0
	var state State
	var observed int64
	for k := 0; k < 20; k++ {
		observed = int64(math.Round(initialOffset + driftPPB*float64(k) - applied))
		freq, state = l.Sample(observed, linregBaseTs+uint64(k)*1000000000, 1.0)
		switch {
		case k < linregMinPoints-1:
			require.Equal(t, StateUnlocked, state, "sample %d", k)
			require.Equal(t, 0.0, freq)
		default:
			require.Equal(t, StateLocked, state, "sample %d", k)
		}
		applied += freq
	}
	require.InDelta(t, driftPPB, freq, 5)
	require.InDelta(t, 0, observed, 2)
	require.InDelta(t, 1.0, l.RateRatio(), 1e-8)
}

func TestLinRegServoFirstStep(t *testing.T) {
	cfg := DefaultConfig()
	s := newServo(cfg, 0)
	l := NewLinRegServo(s, -200)
	l.SyncInterval(1)

	freq, state := l.Sample(30000, linregBaseTs, 1.0)
	require.Equal(t, StateJump, state)
	require.Equal(t, -200.0, freq)
	require.Equal(t, 0, l.count)

	// servo framework clears first update after the jump
	s.FirstUpdate = false
	_, state = l.Sample(30000, linregBaseTs+1000000000, 1.0)
	require.Equal(t, StateUnlocked, state)
	require.Equal(t, 1, l.count)
}

func TestLinRegServoStepThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FirstStepThreshold = 0
	cfg.StepThreshold = 0.001
	l := newTestLinRegServo(cfg)
	for k := 0; k < 4; k++ {
		l.Sample(10, linregBaseTs+uint64(k)*1000000000, 1.0)
	}
	_, state := l.Sample(-2000000, linregBaseTs+5000000000, 1.0)
	require.Equal(t, StateJump, state)
	require.Equal(t, 0, l.count)
}

func TestLinRegServoMaxFreq(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FirstStepThreshold = 0
	cfg.MaxFrequency = 100
	l := newTestLinRegServo(cfg)
	var freq float64
	for k := 0; k < 5; k++ {
		freq, _ = l.Sample(int64(k)*10000, linregBaseTs+uint64(k)*1000000000, 1.0)
	}
	require.Equal(t, 100.0, freq)
}

func TestLinRegServoTimeGoesBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FirstStepThreshold = 0
	l := newTestLinRegServo(cfg)
	l.Sample(10, linregBaseTs+2000000000, 1.0)
	l.Sample(10, linregBaseTs+3000000000, 1.0)
	_, state := l.Sample(10, linregBaseTs, 1.0)
	require.Equal(t, StateUnlocked, state)
	require.Equal(t, 1, l.count)
	require.Equal(t, linregBaseTs, l.refTs)
}

func TestLinRegServoWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FirstStepThreshold = 0
	l := newTestLinRegServo(cfg)
	for k := 0; k < linregWindow+10; k++ {
		l.Sample(0, linregBaseTs+uint64(k)*1000000000, 1.0)
	}
	require.Equal(t, linregWindow, l.count)
	require.Equal(t, 10, l.idx)
}

func TestLinRegServoRegress(t *testing.T) {
	l := newTestLinRegServo(DefaultConfig())
	// y = 3x + 7
	l.add(linregPoint{x: 0, y: 7, w: 1})
	l.add(linregPoint{x: 1, y: 10, w: 1})
	l.add(linregPoint{x: 2, y: 13, w: 1})
	slope, intercept, ok := l.regress()
	require.True(t, ok)
	require.InDelta(t, 3.0, slope, 1e-9)
	require.InDelta(t, 7.0, intercept, 1e-9)

	l.Reset()
	l.add(linregPoint{x: 1, y: 7, w: 1})
	l.add(linregPoint{x: 1, y: 9, w: 1})
	_, _, ok = l.regress()
	require.False(t, ok, "all points at the same time")
	require.NoError(t, l.Close())
}
