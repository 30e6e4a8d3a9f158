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

package shm

import (
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestNTPSHMLayout(t *testing.T) {
	require.Equal(t, uintptr(NTPSHMSize), unsafe.Sizeof(NTPSHM{}))
	require.Equal(t, uintptr(8), unsafe.Offsetof(NTPSHM{}.ClockTimeStampSec))
	require.Equal(t, uintptr(24), unsafe.Offsetof(NTPSHM{}.ReceiveTimeStampSec))
	require.Equal(t, uintptr(48), unsafe.Offsetof(NTPSHM{}.Valid))
	require.Equal(t, uintptr(60), unsafe.Offsetof(NTPSHM{}.Dummy))
}

func TestLeapFromOffset(t *testing.T) {
	require.Equal(t, LeapInsert, LeapFromOffset(1))
	require.Equal(t, LeapDelete, LeapFromOffset(-1))
	require.Equal(t, LeapNormal, LeapFromOffset(0))
	require.Equal(t, LeapNormal, LeapFromOffset(5))
}

func TestPublish(t *testing.T) {
	mem := &NTPSHM{Count: 10}
	s := newSegment(mem)
	s.Publish(1623873213307321000, 1623873213064546742, LeapInsert)

	v, err := s.Snapshot()
	require.NoError(t, err)
	want := NTPSHM{
		Mode:                 1,
		Count:                12,
		ClockTimeStampSec:    1623873213,
		ClockTimeStampUSec:   307321,
		ReceiveTimeStampSec:  1623873213,
		ReceiveTimeStampUSec: 64546,
		Leap:                 1,
		Precision:            -30,
		Valid:                1,
		ClockTimeStampNSec:   307321000,
		ReceiveTimeStampNSec: 64546742,
	}
	require.Equal(t, want, v)
	require.True(t, time.Unix(1623873213, 307321000).Equal(v.ClockTimeStamp()))
	require.True(t, time.Unix(1623873213, 64546742).Equal(v.ReceiveTimeStamp()))

	// detaching memory we don't own is a no-op
	require.NoError(t, s.Detach())
}

func TestCreateAndRead(t *testing.T) {
	s, err := Create(7)
	// Happens when we have no permissions or SysV IPC is not available
	if err != nil {
		t.Skipf("no shm: %v", err)
	}
	s.Publish(2000000001, 1000000002, LeapNormal)
	got, err := Read(7)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.ClockTimeStampSec)
	require.Equal(t, int32(1), got.ClockTimeStampNSec)
	require.Equal(t, int32(1), got.Valid)
	require.NoError(t, s.Detach())
}
