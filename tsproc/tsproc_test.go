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

package tsproc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clocksync/servod/filter"
)

func newProcessor(t *testing.T, mode Mode) *Processor {
	p, err := New(mode, filter.MovingAverage, 4)
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	_, err := New(Mode(17), filter.MovingMedian, 10)
	require.Error(t, err)
	_, err = New(ModeFilter, filter.MovingMedian, 0)
	require.Error(t, err)
	_, err = New(ModeFilter, filter.Type(99), 10)
	require.Error(t, err)

	p, err := New(ModeRawWeight, filter.MovingMedian, 10)
	require.NoError(t, err)
	require.Equal(t, ModeRawWeight, p.Mode())
	_, valid := p.FilteredDelay()
	require.False(t, valid)
}

func TestParseMode(t *testing.T) {
	for name, want := range map[string]Mode{
		"filter":        ModeFilter,
		"raw":           ModeRaw,
		"filter_weight": ModeFilterWeight,
		"raw_weight":    ModeRawWeight,
	} {
		got, err := ParseMode(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Equal(t, name, got.String())
	}
	_, err := ParseMode("weight")
	require.Error(t, err)
}

func TestUpdateDelay(t *testing.T) {
	p := newProcessor(t, ModeFilter)
	_, err := p.UpdateDelay()
	require.ErrorIs(t, err, ErrMissingMeasurement)

	p.DownTS(1000, 1100)
	p.UpTS(1200, 1300)
	d, err := p.UpdateDelay()
	require.NoError(t, err)
	// ((1100-1200) + (1300-1000)) / 2
	require.Equal(t, 100*time.Nanosecond, d)
	fd, valid := p.FilteredDelay()
	require.True(t, valid)
	require.Equal(t, 100*time.Nanosecond, fd)
}

func TestUpdateDelayRateRatio(t *testing.T) {
	p := newProcessor(t, ModeRaw)
	p.DownTS(1000, 1100)
	p.UpTS(1200, 1300)
	p.SetClockRateRatio(1.5)
	d, err := p.UpdateDelay()
	require.NoError(t, err)
	// ((-100 * 1.5) + 300) / 2
	require.Equal(t, 75*time.Nanosecond, d)
}

func TestUpdateDelayRawVsFiltered(t *testing.T) {
	p := newProcessor(t, ModeRaw)
	p.DownTS(1000, 1100)
	p.UpTS(1200, 1300)
	_, err := p.UpdateDelay()
	require.NoError(t, err)
	p.UpTS(1200, 1500)
	d, err := p.UpdateDelay()
	require.NoError(t, err)
	require.Equal(t, 200*time.Nanosecond, d)
	fd, _ := p.FilteredDelay()
	require.Equal(t, 150*time.Nanosecond, fd)
}

func TestNegativeDelayPassesThrough(t *testing.T) {
	p := newProcessor(t, ModeRaw)
	p.DownTS(1000, 1100)
	p.UpTS(1500, 1001)
	d, err := p.UpdateDelay()
	require.NoError(t, err)
	// ((1100-1500) + (1001-1000)) / 2 = -399/2
	require.Equal(t, time.Duration(-199), d)
	require.Equal(t, int64(1), p.NegativeDelays())
}

func TestUpdateOffsetFilter(t *testing.T) {
	p := newProcessor(t, ModeFilter)
	_, _, err := p.UpdateOffset()
	require.ErrorIs(t, err, ErrMissingMeasurement)

	p.DownTS(1000, 1100)
	// no delay measured yet
	_, _, err = p.UpdateOffset()
	require.ErrorIs(t, err, ErrMissingMeasurement)

	p.UpTS(1200, 1300)
	_, err = p.UpdateDelay()
	require.NoError(t, err)
	offset, weight, err := p.UpdateOffset()
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), offset)
	require.Equal(t, 1.0, weight)

	p.DownTS(2000, 2150)
	offset, weight, err = p.UpdateOffset()
	require.NoError(t, err)
	require.Equal(t, 50*time.Nanosecond, offset)
	require.Equal(t, 1.0, weight)
}

func TestUpdateOffsetRaw(t *testing.T) {
	p := newProcessor(t, ModeRaw)
	p.DownTS(1000, 1100)
	_, _, err := p.UpdateOffset()
	require.ErrorIs(t, err, ErrMissingMeasurement)

	// raw mode does not need UpdateDelay to be called
	p.UpTS(1200, 1300)
	offset, weight, err := p.UpdateOffset()
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), offset)
	require.Equal(t, 1.0, weight)
}

func TestUpdateOffsetFilterWeight(t *testing.T) {
	p := newProcessor(t, ModeFilterWeight)
	p.DownTS(1000, 1100)
	p.UpTS(1200, 1300)
	// t3 is there, but no filtered delay yet
	_, _, err := p.UpdateOffset()
	require.ErrorIs(t, err, ErrMissingMeasurement)

	_, err = p.UpdateDelay()
	require.NoError(t, err)
	p.UpTS(1200, 1500)
	_, err = p.UpdateDelay()
	require.NoError(t, err)
	// filtered 150, raw 200
	offset, weight, err := p.UpdateOffset()
	require.NoError(t, err)
	require.Equal(t, -50*time.Nanosecond, offset)
	require.InDelta(t, 0.75, weight, 1e-9)
}

func TestUpdateOffsetRawWeight(t *testing.T) {
	p := newProcessor(t, ModeRawWeight)
	p.DownTS(1000, 1100)
	p.UpTS(1200, 1500)
	_, err := p.UpdateDelay()
	require.NoError(t, err)
	p.UpTS(1200, 1300)
	_, err = p.UpdateDelay()
	require.NoError(t, err)
	// filtered 150, raw 100, weight is capped
	offset, weight, err := p.UpdateOffset()
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), offset)
	require.Equal(t, 1.0, weight)
}

func TestUpdateOffsetWeightNonPositive(t *testing.T) {
	p := newProcessor(t, ModeRawWeight)
	p.DownTS(1000, 1100)
	p.UpTS(1500, 1001)
	offset, weight, err := p.UpdateOffset()
	require.NoError(t, err)
	require.Equal(t, 1.0, weight)
	require.Equal(t, 100*time.Nanosecond+199, offset)
}

func TestSetDelay(t *testing.T) {
	p := newProcessor(t, ModeFilter)
	p.SetDelay(40)
	p.DownTS(1000, 1100)
	offset, _, err := p.UpdateOffset()
	require.NoError(t, err)
	require.Equal(t, 60*time.Nanosecond, offset)
}

func TestReset(t *testing.T) {
	p := newProcessor(t, ModeFilter)
	p.DownTS(1000, 1100)
	p.UpTS(1200, 1300)
	p.SetClockRateRatio(1.1)
	_, err := p.UpdateDelay()
	require.NoError(t, err)

	p.Reset(false)
	_, _, err = p.UpdateOffset()
	require.ErrorIs(t, err, ErrMissingMeasurement)
	_, valid := p.FilteredDelay()
	require.True(t, valid, "partial reset keeps filtered delay")
	require.Equal(t, 1.1, p.clockRateRatio)

	// filtered delay survives, so one sync is enough
	p.DownTS(2000, 2100)
	_, _, err = p.UpdateOffset()
	require.NoError(t, err)

	p.Reset(true)
	_, valid = p.FilteredDelay()
	require.False(t, valid)
	require.Equal(t, 1.0, p.clockRateRatio)
	p.DownTS(2000, 2100)
	_, _, err = p.UpdateOffset()
	require.ErrorIs(t, err, ErrMissingMeasurement)

	// filter history is gone too
	p.UpTS(2200, 2500)
	d, err := p.UpdateDelay()
	require.NoError(t, err)
	require.Equal(t, 200*time.Nanosecond, d)
}
