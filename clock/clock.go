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

package clock

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// PPBToTimexPPM is what we use to conver PPB to PPM.
// man clock_adjtime(2):
// In struct timex, freq, ppsfreq, and stabil are ppm (parts per million) with a 16-bit fractional part.
// To covert value where 2^16=65536 is 1 ppm to ppb or back, we need this multiplier
const PPBToTimexPPM = 65.536

// DefaultMaxFreqPPB is reported when the kernel gives us no tolerance for the clock
const DefaultMaxFreqPPB = 500000

// clock_adjtime modes from usr/include/linux/timex.h
const (
	// time offset
	AdjOffset uint32 = 0x0001
	// frequency offset
	AdjFrequency uint32 = 0x0002
	// maximum time error
	AdjMaxError uint32 = 0x0004
	// clock status
	AdjStatus uint32 = 0x0010
	// set TAI offset
	AdjTAI uint32 = 0x0080
	// add 'time' to current time
	AdjSetOffset uint32 = 0x0100
	// select nanosecond resolution
	AdjNano uint32 = 0x2000
)

// status bits from usr/include/linux/timex.h
const (
	// insert leap second at the end of the day
	StaIns int32 = 0x0010
	// delete leap second at the end of the day
	StaDel int32 = 0x0020
)

// TimeError is the clock_adjtime state of a clock that is not synchronized
const TimeError = 5

// Adjtime issues CLOCK_ADJTIME on the given clock
func Adjtime(clockid int32, tx *unix.Timex) (state int, err error) {
	return unix.ClockAdjtime(clockid, tx)
}

// FrequencyPPB reads device frequency in PPB
func FrequencyPPB(clockid int32) (freqPPB float64, state int, err error) {
	tx := &unix.Timex{}
	state, err = unix.ClockAdjtime(clockid, tx)
	// man(2) clock_adjtime
	freqPPB = float64(tx.Freq) / PPBToTimexPPM
	return freqPPB, state, err
}

// AdjFreqPPB adjusts clock frequency in PPB
func AdjFreqPPB(clockid int32, freqPPB float64) (state int, err error) {
	tx := &unix.Timex{}
	// this way we can have platform-dependent code isolated
	setFreq(tx, freqPPB)
	tx.Modes = AdjFrequency
	return unix.ClockAdjtime(clockid, tx)
}

// AdjPhase hands the offset to the kernel (or the PHC driver) to be slewed out
func AdjPhase(clockid int32, offset time.Duration) (state int, err error) {
	tx := &unix.Timex{}
	tx.Modes = AdjOffset | AdjNano
	setOffset(tx, offset)
	return unix.ClockAdjtime(clockid, tx)
}

// Step steps clock by given step
func Step(clockid int32, step time.Duration) (state int, err error) {
	tx := &unix.Timex{}
	tx.Modes = AdjSetOffset | AdjNano
	sec, nsec := splitStep(step)
	// this way we can have platform-dependent code isolated
	setTime(tx, sec, nsec)
	return unix.ClockAdjtime(clockid, tx)
}

// splitStep turns step into seconds and nanoseconds, where
// nanoseconds must always be non-negative, as the kernel expects in struct timeval.
func splitStep(step time.Duration) (sec, nsec int64) {
	sec = int64(step / time.Second)
	nsec = int64(step % time.Second)
	if nsec < 0 {
		sec--
		nsec += int64(time.Second)
	}
	return sec, nsec
}

// MaxFreqPPB returns maximum frequency adjustment supported by the clock
func MaxFreqPPB(clockid int32) (freqPPB float64, state int, err error) {
	tx := &unix.Timex{}
	state, err = unix.ClockAdjtime(clockid, tx)
	if err != nil {
		return 0.0, state, err
	}
	// man(2) clock_adjtime
	freqPPB = float64(tx.Tolerance) / PPBToTimexPPM
	if freqPPB == 0 {
		freqPPB = DefaultMaxFreqPPB
	}
	return freqPPB, state, nil
}

// SetSync marks the clock synchronized, keeping an armed leap second in place
func SetSync(clockid int32) error {
	tx := &unix.Timex{}
	if _, err := unix.ClockAdjtime(clockid, tx); err != nil {
		return fmt.Errorf("reading clock status: %w", err)
	}
	tx.Status &= StaIns | StaDel
	tx.Maxerror = 0
	tx.Modes = AdjStatus | AdjMaxError
	state, err := unix.ClockAdjtime(clockid, tx)

	if err == nil && state == TimeError {
		return fmt.Errorf("clock state is TIME_ERROR after setting sync state")
	}
	return err
}

// leapStatus returns status with leap bits set for leap: 1 inserts a second, -1 deletes one, 0 clears both
func leapStatus(status int32, leap int) int32 {
	status &^= StaIns | StaDel
	switch {
	case leap > 0:
		status |= StaIns
	case leap < 0:
		status |= StaDel
	}
	return status
}

// SetLeap arms or clears the kernel leap second for the end of the current UTC day
func SetLeap(clockid int32, leap int) error {
	tx := &unix.Timex{}
	if _, err := unix.ClockAdjtime(clockid, tx); err != nil {
		return fmt.Errorf("reading clock status: %w", err)
	}
	tx.Status = leapStatus(tx.Status, leap)
	tx.Modes = AdjStatus
	if _, err := unix.ClockAdjtime(clockid, tx); err != nil {
		return fmt.Errorf("setting leap status %d: %w", leap, err)
	}
	return nil
}

// SetTAIOffset sets the kernel TAI-UTC offset in seconds
func SetTAIOffset(clockid int32, offset int) error {
	tx := &unix.Timex{}
	tx.Modes = AdjTAI
	setConstant(tx, offset)
	_, err := unix.ClockAdjtime(clockid, tx)
	return err
}
