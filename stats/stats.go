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

// Package stats collects servod counters and serves them over http
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// counter keys reported by the daemon
const (
	PacketsRX           = "packets.rx"
	PacketsIgnored      = "packets.ignored"
	PacketsDecodeErrors = "packets.decode_errors"
	SyncRecords         = "records.sync"
	DelayRecords        = "records.delay"
	MissingMeasurement  = "tsproc.missing_measurement"
	NegativeDelay       = "tsproc.negative_delay"
	ServoJumps          = "servo.jumps"
	ServoState          = "servo.state"
	ServoOffsetNS       = "servo.offset_ns"
	ServoFreqPPB        = "servo.freq_ppb"
	ServoPathDelayNS    = "servo.path_delay_ns"
	ServoRateRatioPPB   = "servo.rate_ratio_ppb"
	ClockErrors         = "clock.errors"
	LeapPending         = "leap.pending"
	TAIOffset           = "leap.tai_offset"
)

// Counters is a map of counter name to value
type Counters map[string]int64

// Summary is the latest state of the servo loop
type Summary struct {
	ClockName string  `json:"clock"`
	Servo     string  `json:"servo"`
	State     string  `json:"state"`
	OffsetNS  int64   `json:"offset_ns"`
	FreqPPB   float64 `json:"freq_ppb"`
	DelayNS   int64   `json:"path_delay_ns"`
	RateRatio float64 `json:"rate_ratio"`
	Leap      int     `json:"leap"`
	UpdatedAt int64   `json:"updated_at_ns"`
}

// Server is what the servo loop reports to
type Server interface {
	// Reset atomically sets all the counters to 0
	Reset()
	SetCounter(key string, val int64)
	UpdateCounterBy(key string, count int64)
	SetSummary(s *Summary)
	AddSample(offset, delay, freq float64)
}

// Stats is an implementation of Server
type Stats struct {
	mux      sync.Mutex
	counters Counters
	summary  Summary
	history  *History
}

// NewStats created new instance of Stats
func NewStats() *Stats {
	return &Stats{
		counters: Counters{},
		history:  NewHistory(DefaultHistorySize),
	}
}

// UpdateCounterBy will increment counter
func (s *Stats) UpdateCounterBy(key string, count int64) {
	s.mux.Lock()
	s.counters[key] += count
	s.mux.Unlock()
}

// SetCounter will set a counter to the provided value.
func (s *Stats) SetCounter(key string, val int64) {
	s.mux.Lock()
	s.counters[key] = val
	s.mux.Unlock()
}

// GetCounters returns an map of counters
func (s *Stats) GetCounters() Counters {
	ret := make(Counters)
	s.mux.Lock()
	for key, val := range s.counters {
		ret[key] = val
	}
	s.mux.Unlock()
	return ret
}

// Reset all the values of counters
func (s *Stats) Reset() {
	s.mux.Lock()
	for k := range s.counters {
		s.counters[k] = 0
	}
	s.mux.Unlock()
}

// SetSummary replaces the servo summary
func (s *Stats) SetSummary(summary *Summary) {
	s.mux.Lock()
	s.summary = *summary
	s.mux.Unlock()
}

// GetSummary returns the servo summary
func (s *Stats) GetSummary() Summary {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.summary
}

// AddSample records measurements for windowed aggregation
func (s *Stats) AddSample(offset, delay, freq float64) {
	s.mux.Lock()
	s.history.Add(offset, delay, freq)
	s.mux.Unlock()
}

// Aggregate turns samples collected since the last call into counters and starts a new window
func (s *Stats) Aggregate(acc *Accuracy) {
	s.mux.Lock()
	agg := s.history.Aggregate()
	if acc != nil && s.history.Len() > 0 {
		if v, err := acc.Evaluate(s.history); err == nil {
			agg["servo.accuracy_ns"] = int64(v)
		}
	}
	s.history.Reset()
	for k, v := range agg {
		s.counters[k] = v
	}
	s.mux.Unlock()
}

func fetch(url string, v any) error {
	c := http.Client{
		Timeout: time.Second * 2,
	}
	resp, err := c.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", url, resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// FetchCounters returns counters from a running servod
func FetchCounters(url string) (Counters, error) {
	counters := make(Counters)
	err := fetch(fmt.Sprintf("%s/counters", url), &counters)
	return counters, err
}

// FetchSummary returns servo summary from a running servod
func FetchSummary(url string) (*Summary, error) {
	s := &Summary{}
	if err := fetch(url, s); err != nil {
		return nil, err
	}
	return s, nil
}
