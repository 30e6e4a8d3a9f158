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

package phc

import (
	"fmt"
	"time"

	"github.com/clocksync/servod/clock"
	"golang.org/x/sys/unix"
)

func (d *Device) checkState(state int, err error) error {
	if err == nil && state != unix.TIME_OK {
		return fmt.Errorf("clock %q state %d is not TIME_OK", d.Name(), state)
	}
	return err
}

// FrequencyPPB reads PHC device frequency in PPB
func (d *Device) FrequencyPPB() (float64, error) {
	freqPPB, state, err := clock.FrequencyPPB(d.ClockID())
	return freqPPB, d.checkState(state, err)
}

// AdjFreqPPB adjusts PHC clock frequency in PPB
func (d *Device) AdjFreqPPB(freqPPB float64) error {
	return d.checkState(clock.AdjFreqPPB(d.ClockID(), freqPPB))
}

// AdjPhase passes the offset to the PHC driver to be corrected in hardware
func (d *Device) AdjPhase(offset time.Duration) error {
	return d.checkState(clock.AdjPhase(d.ClockID(), offset))
}

// Step steps PHC clock by given step
func (d *Device) Step(step time.Duration) error {
	return d.checkState(clock.Step(d.ClockID(), step))
}
