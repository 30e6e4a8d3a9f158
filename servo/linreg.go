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

	log "github.com/sirupsen/logrus"
)

const (
	// number of the latest samples the regression is calculated over
	linregWindow = 64
	// samples required before the servo locks
	linregMinPoints = 3
)

type linregPoint struct {
	x float64 // seconds since reference
	y float64 // free running offset, ns
	w float64
}

// LinRegServo estimates frequency error of the local clock with a weighted
// linear regression of offsets over time. Offsets are corrected for the
// frequency adjustments already made, so the regression sees the free running clock.
type LinRegServo struct {
	*Servo
	points    [linregWindow]linregPoint
	idx       int
	count     int
	refTs     uint64
	lastTs    uint64
	phaseCorr float64 // ns removed by our adjustments since refTs
	freq      float64 // adjustment currently applied, ppb
	slope     float64 // free running drift, ppb
	interval  float64
}

// NewLinRegServo creates linear regression servo, freq is the adjustment currently applied to the clock
func NewLinRegServo(s *Servo, freq float64) *LinRegServo {
	return &LinRegServo{
		Servo:    s,
		freq:     freq,
		slope:    freq,
		interval: 1.0,
	}
}

func (s *LinRegServo) clearWindow() {
	s.idx = 0
	s.count = 0
	s.phaseCorr = 0
}

func (s *LinRegServo) add(p linregPoint) {
	s.points[s.idx] = p
	s.idx = (s.idx + 1) % linregWindow
	if s.count < linregWindow {
		s.count++
	}
}

// regress returns slope (ppb) and intercept (ns) of weighted least squares fit
func (s *LinRegServo) regress() (float64, float64, bool) {
	var sw, sx, sy, sxx, sxy float64
	for i := 0; i < s.count; i++ {
		p := s.points[i]
		sw += p.w
		sx += p.w * p.x
		sy += p.w * p.y
		sxx += p.w * p.x * p.x
		sxy += p.w * p.x * p.y
	}
	denom := sw*sxx - sx*sx
	if sw <= 0 || denom <= 0 {
		return 0, 0, false
	}
	slope := (sw*sxy - sx*sy) / denom
	intercept := (sy - slope*sx) / sw
	return slope, intercept, true
}

func (s *LinRegServo) clampFreq(freq float64) float64 {
	if s.maxFreq == 0 {
		return freq
	}
	return math.Max(-s.maxFreq, math.Min(s.maxFreq, freq))
}

// Sample function to calculate frequency based on the offset
func (s *LinRegServo) Sample(offset int64, localTs uint64, weight float64) (float64, State) {
	sOffset := offset
	if sOffset < 0 {
		sOffset = -sOffset
	}
	if (s.FirstUpdate && s.FirstStepThreshold > 0 && s.FirstStepThreshold < sOffset) ||
		(s.StepThreshold > 0 && s.StepThreshold < sOffset) {
		// the clock is going to be stepped, collected points describe the old phase
		s.clearWindow()
		return s.freq, StateJump
	}

	if s.count > 0 && localTs <= s.lastTs {
		log.Warningf("linreg servo: local timestamp went backwards, restarting regression")
		s.clearWindow()
	}
	if s.count == 0 {
		s.refTs = localTs
	} else {
		s.phaseCorr += s.freq * float64(localTs-s.lastTs) / 1e9
	}
	s.lastTs = localTs

	if weight <= 0 {
		weight = 1.0
	}
	x := float64(localTs-s.refTs) / 1e9
	s.add(linregPoint{x: x, y: float64(offset) + s.phaseCorr, w: weight})
	if s.count < linregMinPoints {
		return s.freq, StateUnlocked
	}

	slope, intercept, ok := s.regress()
	if !ok {
		return s.freq, StateUnlocked
	}
	s.slope = slope
	// offset we expect right now given adjustments made so far
	predicted := intercept + slope*x - s.phaseCorr
	s.freq = s.clampFreq(slope + predicted/s.interval)
	log.Debugf("linreg servo: slope %.3f predicted offset %.1f freq %.3f", slope, predicted, s.freq)
	return s.freq, StateLocked
}

// SyncInterval sets the time the offset correction is spread over
func (s *LinRegServo) SyncInterval(interval float64) {
	if interval > 0 {
		s.interval = interval
	}
}

// RateRatio returns ratio of master frequency to local frequency after adjustment
func (s *LinRegServo) RateRatio() float64 {
	if s.count < linregMinPoints {
		return 1.0
	}
	return 1.0 - (s.slope-s.freq)/1e9
}

// Reset drops collected samples
func (s *LinRegServo) Reset() {
	s.clearWindow()
}

// Close does nothing, linreg servo holds no resources
func (s *LinRegServo) Close() error {
	return nil
}
