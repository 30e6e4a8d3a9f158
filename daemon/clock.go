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
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/clocksync/servod/clock"
	"github.com/clocksync/servod/config"
	"github.com/clocksync/servod/phc"
)

//go:generate mockgen -source=clock.go -destination=mock_clock.go -package=daemon

// Clock is the iface for controls of the clock being disciplined
type Clock interface {
	AdjFreqPPB(freqPPB float64) error
	AdjPhase(offset time.Duration) error
	Step(step time.Duration) error
	FrequencyPPB() (float64, error)
	MaxFreqPPB() (float64, error)
	SetSync() error
	SetLeap(leap int) error
	SetTAIOffset(offset int) error
	Realtime() bool
	Name() string
	Close() error
}

// overridden in tests
var (
	openDevice = phc.Open
	sleep      = time.Sleep
)

// NewClock picks the clock backend for the device config
func NewClock(cfg *config.DeviceConfig) (Clock, error) {
	if cfg.FreeRunning {
		log.Warning("free running mode, clock will not be adjusted")
		return &FreeRunningClock{}, nil
	}
	if cfg.Realtime() {
		return &SysClock{}, nil
	}
	return OpenDeviceClock(cfg)
}

// DeviceClock steps one PHC device and adjusts frequency and phase of another,
// both can be the same device
type DeviceClock struct {
	tod  *phc.Device
	freq *phc.Device
}

// openWithBackoff tries to open the device, waiting between attempts as the backoff config says
func openWithBackoff(path string, cfg *config.DeviceConfig) (*phc.Device, error) {
	b := newBackoff(cfg.OpenBackoff)
	var err error
	for attempt := 1; attempt <= cfg.OpenAttempts; attempt++ {
		var dev *phc.Device
		dev, err = openDevice(path)
		if err == nil {
			return dev, nil
		}
		if attempt == cfg.OpenAttempts {
			break
		}
		b.bump()
		log.Warningf("failed to open %s (attempt %d/%d): %v, retrying in %v", path, attempt, cfg.OpenAttempts, err, b.wait())
		sleep(b.wait())
	}
	return nil, fmt.Errorf("opening %s: %w", path, err)
}

// OpenDeviceClock opens the configured PHC devices, resolving the network interface if one is set
func OpenDeviceClock(cfg *config.DeviceConfig) (*DeviceClock, error) {
	todPath := cfg.TODDevice
	freqPath := cfg.FreqDevice
	if cfg.Interface != "" {
		device, err := phc.IfaceToPHCDevice(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("failed to map iface to device: %w", err)
		}
		todPath = device
		freqPath = device
	}
	tod, err := openWithBackoff(todPath, cfg)
	if err != nil {
		return nil, err
	}
	c := &DeviceClock{tod: tod, freq: tod}
	if freqPath != todPath {
		c.freq, err = openWithBackoff(freqPath, cfg)
		if err != nil {
			tod.Close()
			return nil, err
		}
	}
	if _, err := c.MaxFreqPPB(); err != nil {
		c.Close()
		return nil, fmt.Errorf("querying capabilities of %s: %w", c.freq.Name(), err)
	}
	log.Infof("using %s for time of day and %s for frequency", c.tod.Name(), c.freq.Name())
	return c, nil
}

// AdjFreqPPB adjusts frequency of the frequency device
func (c *DeviceClock) AdjFreqPPB(freqPPB float64) error {
	return c.freq.AdjFreqPPB(freqPPB)
}

// AdjPhase hands the offset to the frequency device driver
func (c *DeviceClock) AdjPhase(offset time.Duration) error {
	return c.freq.AdjPhase(offset)
}

// Step jumps time on the time of day device
func (c *DeviceClock) Step(step time.Duration) error {
	return c.tod.Step(step)
}

// FrequencyPPB returns current frequency of the frequency device
func (c *DeviceClock) FrequencyPPB() (float64, error) {
	return c.freq.FrequencyPPB()
}

// MaxFreqPPB returns maximum frequency adjustment supported by the frequency device
func (c *DeviceClock) MaxFreqPPB() (float64, error) {
	return c.freq.MaxFreqPPB()
}

// SetSync is a no-op, PHC devices have no sync status
func (c *DeviceClock) SetSync() error { return nil }

// SetLeap is a no-op, leap seconds are applied to CLOCK_REALTIME only
func (c *DeviceClock) SetLeap(int) error { return nil }

// SetTAIOffset is a no-op for PHC devices
func (c *DeviceClock) SetTAIOffset(int) error { return nil }

// Realtime is false for PHC devices
func (c *DeviceClock) Realtime() bool { return false }

// Name returns the frequency device path
func (c *DeviceClock) Name() string {
	return c.freq.Name()
}

// Close closes the devices
func (c *DeviceClock) Close() error {
	err := c.tod.Close()
	if c.freq != c.tod {
		if ferr := c.freq.Close(); err == nil {
			err = ferr
		}
	}
	return err
}

// SysClock groups methods for interacting with system clock
type SysClock struct{}

func logState(state int, what string) {
	if state != unix.TIME_OK {
		log.Debugf("clock state %d is not TIME_OK after %s", state, what)
	}
}

// AdjFreqPPB adjusts system clock frequency
func (c *SysClock) AdjFreqPPB(freqPPB float64) error {
	state, err := clock.AdjFreqPPB(unix.CLOCK_REALTIME, freqPPB)
	if err == nil {
		logState(state, "adjusting frequency")
	}
	return err
}

// AdjPhase lets the kernel PLL slew the offset out
func (c *SysClock) AdjPhase(offset time.Duration) error {
	state, err := clock.AdjPhase(unix.CLOCK_REALTIME, offset)
	if err == nil {
		logState(state, "adjusting phase")
	}
	return err
}

// Step jumps system time
func (c *SysClock) Step(step time.Duration) error {
	state, err := clock.Step(unix.CLOCK_REALTIME, step)
	if err == nil {
		logState(state, "stepping")
	}
	return err
}

// FrequencyPPB returns current system clock frequency
func (c *SysClock) FrequencyPPB() (float64, error) {
	freqPPB, state, err := clock.FrequencyPPB(unix.CLOCK_REALTIME)
	if err == nil {
		logState(state, "getting current frequency")
	}
	return freqPPB, err
}

// MaxFreqPPB returns maximum frequency adjustment supported by system clock
func (c *SysClock) MaxFreqPPB() (float64, error) {
	freqPPB, state, err := clock.MaxFreqPPB(unix.CLOCK_REALTIME)
	if err == nil {
		logState(state, "getting max frequency adjustment")
	}
	return freqPPB, err
}

// SetSync marks system clock as synchronized
func (c *SysClock) SetSync() error {
	return clock.SetSync(unix.CLOCK_REALTIME)
}

// SetLeap arms the kernel to insert (1) or delete (-1) a second at midnight, 0 disarms
func (c *SysClock) SetLeap(leap int) error {
	return clock.SetLeap(unix.CLOCK_REALTIME, leap)
}

// SetTAIOffset sets kernel TAI-UTC offset
func (c *SysClock) SetTAIOffset(offset int) error {
	return clock.SetTAIOffset(unix.CLOCK_REALTIME, offset)
}

// Realtime is true for system clock
func (c *SysClock) Realtime() bool { return true }

// Name returns the clock name
func (c *SysClock) Name() string { return "CLOCK_REALTIME" }

// Close does nothing
func (c *SysClock) Close() error { return nil }

// FreeRunningClock is a dummy clock that does nothing
type FreeRunningClock struct{}

// AdjFreqPPB does nothing
func (c *FreeRunningClock) AdjFreqPPB(float64) error { return nil }

// AdjPhase does nothing
func (c *FreeRunningClock) AdjPhase(time.Duration) error { return nil }

// Step does nothing
func (c *FreeRunningClock) Step(time.Duration) error { return nil }

// FrequencyPPB is always 0
func (c *FreeRunningClock) FrequencyPPB() (float64, error) { return 0.0, nil }

// MaxFreqPPB is always 0, meaning unknown
func (c *FreeRunningClock) MaxFreqPPB() (float64, error) { return 0.0, nil }

// SetSync does nothing
func (c *FreeRunningClock) SetSync() error { return nil }

// SetLeap does nothing
func (c *FreeRunningClock) SetLeap(int) error { return nil }

// SetTAIOffset does nothing
func (c *FreeRunningClock) SetTAIOffset(int) error { return nil }

// Realtime is false, nothing is ever touched
func (c *FreeRunningClock) Realtime() bool { return false }

// Name returns the clock name
func (c *FreeRunningClock) Name() string { return "free-running" }

// Close does nothing
func (c *FreeRunningClock) Close() error { return nil }
