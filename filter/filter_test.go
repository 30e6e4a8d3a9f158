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

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New(MovingAverage, 0)
	require.Error(t, err)
	_, err = New(MovingMedian, -1)
	require.Error(t, err)
	_, err = New(Type(42), 10)
	require.Error(t, err)

	f, err := New(MovingAverage, 1)
	require.NoError(t, err)
	require.IsType(t, &average{}, f)
	f, err = New(MovingMedian, 1)
	require.NoError(t, err)
	require.IsType(t, &median{}, f)
}

func TestParseType(t *testing.T) {
	ft, err := ParseType("moving_average")
	require.NoError(t, err)
	require.Equal(t, MovingAverage, ft)
	ft, err = ParseType("moving_median")
	require.NoError(t, err)
	require.Equal(t, MovingMedian, ft)
	_, err = ParseType("kalman")
	require.Error(t, err)

	var parsed Type
	require.NoError(t, parsed.UnmarshalText([]byte("moving_median")))
	require.Equal(t, MovingMedian, parsed)
	require.Equal(t, "moving_median", parsed.String())
	require.Equal(t, "UNSUPPORTED(9)", Type(9).String())
}

func TestMovingAverage(t *testing.T) {
	f, err := New(MovingAverage, 3)
	require.NoError(t, err)
	require.Equal(t, 10*time.Nanosecond, f.Sample(10))
	require.Equal(t, 15*time.Nanosecond, f.Sample(20))
	require.Equal(t, 20*time.Nanosecond, f.Sample(30))
	// 10 is evicted
	require.Equal(t, 30*time.Nanosecond, f.Sample(40))
}

func TestMovingAverageTruncates(t *testing.T) {
	f, err := New(MovingAverage, 2)
	require.NoError(t, err)
	require.Equal(t, time.Duration(-3), f.Sample(-3))
	// -7/2 truncates toward zero
	require.Equal(t, time.Duration(-3), f.Sample(-4))
	require.Equal(t, time.Duration(1), f.Sample(7))
}

func TestMovingAverageReset(t *testing.T) {
	f, err := New(MovingAverage, 4)
	require.NoError(t, err)
	for _, v := range []time.Duration{100, 200, 300, 400, 500} {
		f.Sample(v)
	}
	f.Reset()
	require.Equal(t, time.Duration(7), f.Sample(7))
	require.Equal(t, time.Duration(8), f.Sample(9))
}

func TestMovingMedian(t *testing.T) {
	f, err := New(MovingMedian, 3)
	require.NoError(t, err)
	require.Equal(t, time.Duration(5), f.Sample(5))
	require.Equal(t, time.Duration(3), f.Sample(1))
	require.Equal(t, time.Duration(5), f.Sample(9))
	// window is 1, 9, 2
	require.Equal(t, time.Duration(2), f.Sample(2))
	// window is 9, 2, 2
	require.Equal(t, time.Duration(2), f.Sample(2))
}

func TestMovingMedianLengthOne(t *testing.T) {
	f, err := New(MovingMedian, 1)
	require.NoError(t, err)
	for _, v := range []time.Duration{5, -1, 100, 3} {
		require.Equal(t, v, f.Sample(v))
	}
}

func TestMovingMedianReset(t *testing.T) {
	f, err := New(MovingMedian, 5)
	require.NoError(t, err)
	for _, v := range []time.Duration{10, 20, 30, 40} {
		f.Sample(v)
	}
	f.Reset()
	require.Equal(t, time.Duration(1), f.Sample(1))
	require.Equal(t, time.Duration(2), f.Sample(3))
}

func sortedMedian(window []time.Duration) time.Duration {
	c := make([]time.Duration, len(window))
	copy(c, window)
	sort.Slice(c, func(i, j int) bool { return c[i] < c[j] })
	l := len(c)
	if l%2 == 1 {
		return c[l/2]
	}
	return (c[l/2-1] + c[l/2]) / 2
}

func TestMovingMedianMatchesSort(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for length := 1; length <= 50; length++ {
		f, err := New(MovingMedian, length)
		require.NoError(t, err)
		window := []time.Duration{}
		for i := 0; i < 4*length+7; i++ {
			// narrow range to get plenty of duplicates
			v := time.Duration(rng.Int63n(200) - 100)
			window = append(window, v)
			if len(window) > length {
				window = window[1:]
			}
			require.Equal(t, sortedMedian(window), f.Sample(v), "length %d step %d", length, i)
		}
	}
}

func BenchmarkMovingMedian(b *testing.B) {
	f, _ := New(MovingMedian, 64)
	for i := 0; i < b.N; i++ {
		f.Sample(time.Duration(i % 1000))
	}
}
