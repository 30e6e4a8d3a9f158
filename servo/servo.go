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
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
)

// Servo structure has values common for any type of servo
type Servo struct {
	maxFreq            float64
	StepThreshold      int64
	FirstStepThreshold int64
	FirstUpdate        bool
	OffsetThreshold    int64
	numOffsetValues    int
	currOffsetValues   int
}

// State provides the result of servo calculation
type State uint8

// All the states of servo
const (
	// StateUnlocked means the servo is not yet ready to track the master
	StateUnlocked State = iota
	// StateJump means the clock has to be stepped by the offset
	StateJump
	// StateLocked means the servo is tracking the master, frequency has to be adjusted
	StateLocked
	// StateLockedStable means offsets stayed below the threshold long enough to do phase adjustments
	StateLockedStable
)

func (s State) String() string {
	switch s {
	case StateUnlocked:
		return "UNLOCKED"
	case StateJump:
		return "JUMP"
	case StateLocked:
		return "LOCKED"
	case StateLockedStable:
		return "LOCKED_STABLE"
	}
	return "UNSUPPORTED"
}

// Type is the servo algorithm
type Type string

// Supported servo types
const (
	TypePI     Type = "pi"
	TypeLinReg Type = "linreg"
	TypeNTPSHM Type = "ntpshm"
)

// Config is a configuration of the servo and any of its algorithms
type Config struct {
	Type               Type       `yaml:"type"`
	SWTimestamping     bool       `yaml:"software_timestamp"`
	MaxFrequency       float64    `yaml:"max_frequency"`        // ppb
	StepThreshold      float64    `yaml:"step_threshold"`       // seconds
	FirstStepThreshold float64    `yaml:"first_step_threshold"` // seconds
	OffsetThreshold    int64      `yaml:"servo_offset_threshold"`
	NumOffsetValues    int        `yaml:"servo_num_offset_values"`
	PI                 PiServoCfg `yaml:",inline"`
	NTPSHMSegment      int        `yaml:"ntp_shm_segment"`
}

// DefaultConfig returns servo config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		Type:               TypePI,
		SWTimestamping:     true,
		MaxFrequency:       900000000,
		StepThreshold:      0.0,
		FirstStepThreshold: 0.00002,
		PI:                 *DefaultPiServoCfg(),
	}
}

// Validate config is sane
func (c *Config) Validate() error {
	switch c.Type {
	case TypePI, TypeLinReg, TypeNTPSHM:
	default:
		return fmt.Errorf("servo type must be either %q, %q or %q", TypePI, TypeLinReg, TypeNTPSHM)
	}
	if c.MaxFrequency < 0 {
		return fmt.Errorf("max_frequency must be 0 or positive")
	}
	if c.StepThreshold < 0 || c.FirstStepThreshold < 0 {
		return fmt.Errorf("step thresholds must be 0 or positive")
	}
	if c.OffsetThreshold < 0 {
		return fmt.Errorf("servo_offset_threshold must be 0 or positive")
	}
	if c.NumOffsetValues < 0 {
		return fmt.Errorf("servo_num_offset_values must be 0 or positive")
	}
	if c.PI.PiKiNormMax > maxKiNormMax {
		return fmt.Errorf("pi_integral_norm_max must not exceed %v", maxKiNormMax)
	}
	return nil
}

// secondsToNS converts threshold in seconds to nanoseconds, disabling non-positive thresholds
func secondsToNS(s float64) int64 {
	if s > 0.0 {
		return int64(s * 1e9)
	}
	return 0
}

func newServo(cfg *Config, hwMaxFreq float64) *Servo {
	maxFreq := cfg.MaxFrequency
	if hwMaxFreq > 0 && (maxFreq == 0 || hwMaxFreq < maxFreq) {
		maxFreq = hwMaxFreq
	}
	return &Servo{
		maxFreq:            maxFreq,
		StepThreshold:      secondsToNS(cfg.StepThreshold),
		FirstStepThreshold: secondsToNS(cfg.FirstStepThreshold),
		FirstUpdate:        true,
		OffsetThreshold:    cfg.OffsetThreshold,
		numOffsetValues:    cfg.NumOffsetValues,
		currOffsetValues:   cfg.NumOffsetValues,
	}
}

// MaxFreq returns maximum frequency adjustment the servo will ever return
func (s *Servo) MaxFreq() float64 {
	return s.maxFreq
}

// checkOffsetThreshold counts down offsets below the threshold.
// Returns true once enough of them were seen.
func (s *Servo) checkOffsetThreshold(offset int64) bool {
	if s.OffsetThreshold == 0 {
		return false
	}
	if math.Abs(float64(offset)) < float64(s.OffsetThreshold) && s.currOffsetValues > 0 {
		s.currOffsetValues--
	}
	return s.currOffsetValues == 0
}

// Algorithm is what every servo implementation provides
type Algorithm interface {
	// Sample returns frequency adjustment in ppb and new state based on offset in ns
	// of the local clock measured at localTs
	Sample(offset int64, localTs uint64, weight float64) (float64, State)
	// SyncInterval informs about the master's sync interval in seconds
	SyncInterval(interval float64)
	// Reset drops accumulated state
	Reset()
	// Close releases resources
	Close() error
}

// RateRatioer is implemented by algorithms that estimate master to local frequency ratio
type RateRatioer interface {
	RateRatio() float64
}

// Leaper is implemented by algorithms that care about leap seconds
type Leaper interface {
	Leap(leap int)
}

// Controller runs an Algorithm and applies the locking rules common to all of them
type Controller struct {
	*Servo
	algo Algorithm
	typ  Type
}

// New creates a Controller for the algorithm set in config.
// freq is the current frequency of the clock in ppb, hwMaxFreq is maximum
// adjustment supported by the clock, 0 means unknown.
func New(cfg *Config, freq float64, hwMaxFreq float64) (*Controller, error) {
	s := newServo(cfg, hwMaxFreq)
	c := &Controller{Servo: s, typ: cfg.Type}
	switch cfg.Type {
	case TypePI:
		c.algo = NewPiServo(s, PiCfgFor(cfg), freq)
	case TypeLinReg:
		c.algo = NewLinRegServo(s, freq)
	case TypeNTPSHM:
		n, err := NewNTPSHMServo(cfg.NTPSHMSegment)
		if err != nil {
			return nil, fmt.Errorf("creating ntpshm servo: %w", err)
		}
		c.algo = n
	default:
		return nil, fmt.Errorf("unsupported servo type %q", cfg.Type)
	}
	log.Debugf("step_threshold: %d", s.StepThreshold)
	log.Debugf("first_step_threshold: %d", s.FirstStepThreshold)
	log.Debugf("offset_threshold: %d", s.OffsetThreshold)
	log.Debugf("num_offset_values: %d", s.numOffsetValues)
	log.Debugf("max_frequency: %f", s.maxFreq)
	return c, nil
}

// NewController wraps already created algorithm
func NewController(s *Servo, algo Algorithm) *Controller {
	return &Controller{Servo: s, algo: algo}
}

// Type returns servo algorithm type
func (c *Controller) Type() Type {
	return c.typ
}

// Sample feeds offset into the algorithm and returns frequency adjustment and state
func (c *Controller) Sample(offset int64, localTs uint64, weight float64) (float64, State) {
	log.Debugf("offset: %d local_ts: %d, weight: %f", offset, localTs, weight)
	freq, state := c.algo.Sample(offset, localTs, weight)
	switch state {
	case StateUnlocked:
		c.currOffsetValues = c.numOffsetValues
	case StateJump:
		c.currOffsetValues = c.numOffsetValues
		c.FirstUpdate = false
	case StateLocked:
		if c.checkOffsetThreshold(offset) {
			state = StateLockedStable
		}
		c.FirstUpdate = false
	}
	return freq, state
}

// SyncInterval informs the algorithm about the master's sync interval in seconds
func (c *Controller) SyncInterval(interval float64) {
	c.algo.SyncInterval(interval)
}

// Reset drops algorithm state
func (c *Controller) Reset() {
	c.algo.Reset()
}

// RateRatio returns estimated ratio of master frequency to local frequency
func (c *Controller) RateRatio() float64 {
	if r, ok := c.algo.(RateRatioer); ok {
		return r.RateRatio()
	}
	return 1.0
}

// Leap informs the algorithm about upcoming leap second, +1, -1 or 0
func (c *Controller) Leap(leap int) {
	if l, ok := c.algo.(Leaper); ok {
		l.Leap(leap)
	}
}

// Close releases resources held by the algorithm
func (c *Controller) Close() error {
	return c.algo.Close()
}
