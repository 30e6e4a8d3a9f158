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

// Package tsproc reconciles sync (t1, t2) and delay (t3, t4) timestamps
// into path delay and clock offset
package tsproc

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clocksync/servod/filter"
)

// ErrMissingMeasurement is returned when timestamps needed for the calculation are not there yet
var ErrMissingMeasurement = errors.New("missing measurement")

// Mode tells how path delay is used when offset is calculated
type Mode uint8

// Supported modes
const (
	// ModeFilter uses filtered delay
	ModeFilter Mode = iota
	// ModeRaw uses delay of the latest exchange
	ModeRaw
	// ModeFilterWeight uses filtered delay and weights the sample
	ModeFilterWeight
	// ModeRawWeight uses delay of the latest exchange and weights the sample
	ModeRawWeight
)

var modeToString = map[Mode]string{
	ModeFilter:       "filter",
	ModeRaw:          "raw",
	ModeFilterWeight: "filter_weight",
	ModeRawWeight:    "raw_weight",
}

func (m Mode) String() string {
	if s, ok := modeToString[m]; ok {
		return s
	}
	return fmt.Sprintf("UNSUPPORTED(%d)", uint8(m))
}

// ParseMode converts mode name as found in config into Mode
func ParseMode(name string) (Mode, error) {
	for m, s := range modeToString {
		if s == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown tsproc mode %q", name)
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m Mode) weighting() bool {
	return m == ModeFilterWeight || m == ModeRawWeight
}

func (m Mode) filtered() bool {
	return m == ModeFilter || m == ModeFilterWeight
}

// Processor holds the latest timestamps of both directions.
// t1 is master sync origin, t2 is local sync ingress,
// t3 is local delay request origin, t4 is master delay request ingress.
// All timestamps are nanoseconds, 0 means not measured.
type Processor struct {
	mode Mode

	t1 int64
	t2 int64
	t3 int64
	t4 int64

	clockRateRatio float64

	delayFilter        filter.Filter
	filteredDelay      time.Duration
	filteredDelayValid bool
	rawDelay           time.Duration

	negativeDelays int64
}

// New creates Processor using mode and a delay filter of given type and length
func New(mode Mode, filterType filter.Type, filterLength int) (*Processor, error) {
	if _, ok := modeToString[mode]; !ok {
		return nil, fmt.Errorf("unsupported tsproc mode %s", mode)
	}
	f, err := filter.New(filterType, filterLength)
	if err != nil {
		return nil, fmt.Errorf("creating delay filter: %w", err)
	}
	return &Processor{
		mode:           mode,
		delayFilter:    f,
		clockRateRatio: 1.0,
	}, nil
}

// Mode returns processing mode
func (p *Processor) Mode() Mode {
	return p.mode
}

// DownTS stores timestamps of the master to slave direction
func (p *Processor) DownTS(remote, local int64) {
	p.t1 = remote
	p.t2 = local
}

// UpTS stores timestamps of the slave to master direction
func (p *Processor) UpTS(local, remote int64) {
	p.t3 = local
	p.t4 = remote
}

// SetClockRateRatio sets the ratio of master frequency to local frequency
func (p *Processor) SetClockRateRatio(ratio float64) {
	p.clockRateRatio = ratio
}

// SetDelay overrides filtered delay
func (p *Processor) SetDelay(delay time.Duration) {
	p.filteredDelay = delay
	p.filteredDelayValid = true
}

// FilteredDelay returns the filtered delay and whether it was ever calculated
func (p *Processor) FilteredDelay() (time.Duration, bool) {
	return p.filteredDelay, p.filteredDelayValid
}

// RawDelay returns delay calculated from the latest set of timestamps
func (p *Processor) RawDelay() time.Duration {
	return p.rawDelay
}

// NegativeDelays returns how many times calculated delay was negative
func (p *Processor) NegativeDelays() int64 {
	return p.negativeDelays
}

// delay = ((t2 - t3) * rr + (t4 - t1)) / 2
func (p *Processor) calcRawDelay() time.Duration {
	t23 := time.Duration(p.t2 - p.t3)
	if p.clockRateRatio != 1.0 {
		t23 = time.Duration(float64(t23) * p.clockRateRatio)
	}
	t41 := time.Duration(p.t4 - p.t1)
	delay := (t23 + t41) / 2
	if delay < 0 {
		p.negativeDelays++
		log.Debugf("negative delay %10d", delay.Nanoseconds())
		log.Debugf("delay = (t2 - t3) * rr + (t4 - t1)")
		log.Debugf("t2 - t3 = %+10d", t23.Nanoseconds())
		log.Debugf("t4 - t1 = %+10d", t41.Nanoseconds())
		log.Debugf("rr = %.9f", p.clockRateRatio)
	}
	p.rawDelay = delay
	return delay
}

// UpdateDelay feeds new raw delay into the filter and returns the delay selected by mode
func (p *Processor) UpdateDelay() (time.Duration, error) {
	if p.t2 == 0 || p.t3 == 0 {
		return 0, ErrMissingMeasurement
	}
	raw := p.calcRawDelay()
	p.filteredDelay = p.delayFilter.Sample(raw)
	p.filteredDelayValid = true
	log.Debugf("delay   filtered %10d   raw %10d", p.filteredDelay.Nanoseconds(), raw.Nanoseconds())

	if p.mode.filtered() {
		return p.filteredDelay, nil
	}
	return raw, nil
}

// UpdateOffset calculates offset of the local clock from the master
// along with the weight of this measurement in the range (0, 1]
func (p *Processor) UpdateOffset() (time.Duration, float64, error) {
	var delay, raw time.Duration
	if p.t1 == 0 || p.t2 == 0 {
		return 0, 0, ErrMissingMeasurement
	}

	switch p.mode {
	case ModeFilter:
		if !p.filteredDelayValid {
			return 0, 0, ErrMissingMeasurement
		}
		delay = p.filteredDelay
	case ModeRaw, ModeRawWeight:
		if p.t3 == 0 {
			return 0, 0, ErrMissingMeasurement
		}
		raw = p.calcRawDelay()
		delay = raw
	case ModeFilterWeight:
		if p.t3 == 0 || !p.filteredDelayValid {
			return 0, 0, ErrMissingMeasurement
		}
		raw = p.calcRawDelay()
		delay = p.filteredDelay
	}

	// offset = t2 - t1 - delay
	offset := time.Duration(p.t2-p.t1) - delay

	weight := 1.0
	if p.mode.weighting() && p.filteredDelay > 0 && raw > 0 {
		weight = float64(p.filteredDelay) / float64(raw)
		if weight > 1.0 {
			weight = 1.0
		}
	}
	log.Debugf("t1 = %+10d", p.t1)
	log.Debugf("t2 = %+10d", p.t2)
	log.Debugf("offset: t2 - t1 - delay = %+10d", offset.Nanoseconds())
	return offset, weight, nil
}

// Reset drops all timestamps. Full reset also drops filter history and rate ratio
func (p *Processor) Reset(full bool) {
	p.t1 = 0
	p.t2 = 0
	p.t3 = 0
	p.t4 = 0
	if full {
		p.clockRateRatio = 1.0
		p.delayFilter.Reset()
		p.filteredDelayValid = false
	}
}
