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
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	hwtsKpScale = 0.7
	hwtsKiScale = 0.3
	swtsKpScale = 0.1
	swtsKiScale = 0.001

	maxKpNormMax = 1.0
	maxKiNormMax = 2.0

	freqEstMargin = 0.001
)

// PiServoCfg is an integral servo config
type PiServoCfg struct {
	PiKp         float64 `yaml:"pi_proportional_const"`
	PiKi         float64 `yaml:"pi_integral_const"`
	PiKpScale    float64 `yaml:"pi_proportional_scale"`
	PiKpExponent float64 `yaml:"pi_proportional_exponent"`
	PiKpNormMax  float64 `yaml:"pi_proportional_norm_max"`
	PiKiScale    float64 `yaml:"pi_integral_scale"`
	PiKiExponent float64 `yaml:"pi_integral_exponent"`
	PiKiNormMax  float64 `yaml:"pi_integral_norm_max"`
}

// PiServo is an integral servo
type PiServo struct {
	*Servo
	offset             [2]int64
	local              [2]uint64
	drift              float64
	kp                 float64
	ki                 float64
	lastFreq           float64
	count              int
	lastCorrectionTime time.Time
	/* configuration: */
	cfg *PiServoCfg
}

// SetMaxFreq is to adjust frequency range supported by PHC
func (s *PiServo) SetMaxFreq(freq float64) {
	s.maxFreq = freq
}

// LastFreq returns the latest calculated frequency
func (s *PiServo) LastFreq() float64 {
	return s.lastFreq
}

// LastCorrection returns when the servo was last locked
func (s *PiServo) LastCorrection() time.Time {
	return s.lastCorrectionTime
}

func (s *PiServo) clampFreq(freq float64) float64 {
	if freq < -s.maxFreq {
		return -s.maxFreq
	}
	if freq > s.maxFreq {
		return s.maxFreq
	}
	return freq
}

// Sample function to calculate frequency based on the offset
func (s *PiServo) Sample(offset int64, localTs uint64, weight float64) (float64, State) {
	var kiTerm, freqEstInterval, localDiff float64
	state := StateUnlocked
	ppb := s.lastFreq
	sOffset := offset
	if sOffset < 0 {
		sOffset = -sOffset
	}

	switch s.count {
	case 0:
		if s.FirstUpdate && s.FirstStepThreshold > 0 && s.FirstStepThreshold < sOffset {
			state = StateJump
			break
		}
		s.offset[0] = offset
		s.local[0] = localTs
		s.count = 1
	case 1:
		s.offset[1] = offset
		s.local[1] = localTs

		if s.local[0] >= s.local[1] {
			s.count = 0
			break
		}

		localDiff = (float64)(s.local[1]-s.local[0]) / math.Pow10(9)
		localDiff += localDiff * freqEstMargin
		freqEstInterval = 0.016 / s.ki
		if freqEstInterval > 1000.0 {
			freqEstInterval = 1000.0
		}
		if localDiff < freqEstInterval {
			log.Warningf("servo Sample is called too often, not enough time passed since first sample")
			break
		}

		/* Adjust drift by the measured frequency offset. */
		s.drift += (math.Pow10(9) - s.drift) * float64(s.offset[1]-s.offset[0]) /
			float64(s.local[1]-s.local[0])
		s.drift = s.clampFreq(s.drift)

		if (s.FirstUpdate && s.FirstStepThreshold > 0 &&
			s.FirstStepThreshold < sOffset) ||
			(s.StepThreshold > 0 && s.StepThreshold < sOffset) {
			state = StateJump
		} else {
			state = StateLocked
		}
		ppb = s.drift
		s.count = 2
	case 2:
		// step right away and re-estimate drift after the step
		if s.StepThreshold != 0 &&
			s.StepThreshold < sOffset {
			s.count = 0
			state = StateJump
			break
		}
		state = StateLocked
		kiTerm = s.ki * float64(offset) * weight
		ppb = s.kp*weight*float64(offset) + s.drift + kiTerm
		if ppb < -s.maxFreq {
			ppb = -s.maxFreq
		} else if ppb > s.maxFreq {
			ppb = s.maxFreq
		} else {
			s.drift += kiTerm
		}
		s.lastCorrectionTime = time.Now()
	}
	s.lastFreq = ppb
	return ppb, state
}

// gain returns scale*interval^exponent capped by normMax/interval
func gain(scale, exponent, normMax, interval float64) float64 {
	g := scale * math.Pow(interval, exponent)
	if g > normMax/interval {
		g = normMax / interval
	}
	if g < 0 {
		g = 0
	}
	return g
}

// SyncInterval inform a clock servo about the master's sync interval in seconds
func (s *PiServo) SyncInterval(interval float64) {
	s.kp = gain(s.cfg.PiKpScale, s.cfg.PiKpExponent, s.cfg.PiKpNormMax, interval)
	s.ki = gain(s.cfg.PiKiScale, s.cfg.PiKiExponent, s.cfg.PiKiNormMax, interval)
	log.Debugf("PI servo: sync interval %.3f kp %.3f ki %.6f", interval, s.kp, s.ki)
}

// Reset restarts frequency estimation
func (s *PiServo) Reset() {
	s.count = 0
}

// Close does nothing, PI servo holds no resources
func (s *PiServo) Close() error {
	return nil
}

// NewPiServo to create servo structure
func NewPiServo(s *Servo, cfg *PiServoCfg, freq float64) *PiServo {
	var pi PiServo

	pi.Servo = s
	pi.cfg = cfg
	pi.lastFreq = freq
	pi.drift = freq

	return &pi
}

// DefaultPiServoCfg to create default pi servo config
func DefaultPiServoCfg() *PiServoCfg {
	return &PiServoCfg{
		PiKp:         0.0,
		PiKi:         0.0,
		PiKpScale:    0.0,
		PiKpExponent: -0.3,
		PiKpNormMax:  0.7,
		PiKiScale:    0.0,
		PiKiExponent: 0.4,
		PiKiNormMax:  0.3,
	}
}

// PiCfgFor resolves gain schedule from the servo config.
// Constant gains take priority and are only capped by the stability limits,
// otherwise missing scales default according to timestamping type.
func PiCfgFor(cfg *Config) *PiServoCfg {
	c := cfg.PI
	if c.PiKp > 0 && c.PiKi > 0 {
		c.PiKpScale = c.PiKp
		c.PiKiScale = c.PiKi
		c.PiKpExponent = 0.0
		c.PiKiExponent = 0.0
		c.PiKpNormMax = maxKpNormMax
		c.PiKiNormMax = maxKiNormMax
		return &c
	}
	if c.PiKpScale == 0 || c.PiKiScale == 0 {
		if cfg.SWTimestamping {
			c.PiKpScale = swtsKpScale
			c.PiKiScale = swtsKiScale
		} else {
			c.PiKpScale = hwtsKpScale
			c.PiKiScale = hwtsKiScale
		}
	}
	return &c
}
