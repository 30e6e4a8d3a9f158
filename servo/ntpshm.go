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
	"github.com/clocksync/servod/ntp/shm"
)

// publisher is where NTPSHMServo writes samples to
type publisher interface {
	Publish(clockTS, receiveTS uint64, leap shm.Leap)
	Detach() error
}

// NTPSHMServo does not control the clock, it hands samples over
// to ntpd or chronyd via the NTP shared memory segment
type NTPSHMServo struct {
	seg  publisher
	leap int
}

// NewNTPSHMServo attaches to NTP SHM segment of given unit, creating it if needed
func NewNTPSHMServo(segment int) (*NTPSHMServo, error) {
	seg, err := shm.Create(segment)
	if err != nil {
		return nil, err
	}
	return &NTPSHMServo{seg: seg}, nil
}

// Sample publishes the master time at the moment local clock read localTs.
// Always returns UNLOCKED with no adjustment.
func (s *NTPSHMServo) Sample(offset int64, localTs uint64, _ float64) (float64, State) {
	clockTS := localTs - uint64(offset)
	s.seg.Publish(clockTS, localTs, shm.LeapFromOffset(s.leap))
	return 0.0, StateUnlocked
}

// SyncInterval is a no-op
func (s *NTPSHMServo) SyncInterval(float64) {}

// Reset is a no-op
func (s *NTPSHMServo) Reset() {}

// Leap remembers upcoming leap second to announce with next samples
func (s *NTPSHMServo) Leap(leap int) {
	s.leap = leap
}

// Close detaches from the segment
func (s *NTPSHMServo) Close() error {
	return s.seg.Detach()
}
