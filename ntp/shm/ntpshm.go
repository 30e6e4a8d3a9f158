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

// Package shm implements the NTP shared memory reference clock segment
// (ntpd/refclock_shm.c) used to feed time to ntpd or chronyd
package shm

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SHMKEY is a key of the first NTPD SHM segment
// http://doc.ntp.org/current-stable/drivers/driver28.html
const SHMKEY = 0x4e545030

// IPCCREAT create if key is nonexistent
// https://man7.org/linux/man-pages/man0/sys_ipc.h.0p.html
const IPCCREAT = 00001000

// NTPSHMSize is a size of NTPSHM struct
const NTPSHMSize = 96

// precision we advertise, 2^-30 s is about 1ns
const precisionNS = -30

// Leap is a leap indicator as understood by the SHM consumers
type Leap int32

// Leap indicator values
const (
	LeapNormal Leap = 0
	LeapInsert Leap = 1
	LeapDelete Leap = 2
)

// LeapFromOffset converts upcoming leap second (+1, -1 or 0) into Leap
func LeapFromOffset(leap int) Leap {
	switch leap {
	case 1:
		return LeapInsert
	case -1:
		return LeapDelete
	}
	return LeapNormal
}

// NTPSHM Declaration of the SHM segment from ntp (ntpd/refclock_shm.c).
// Field alignment matches the C struct on 64 bit platforms.
type NTPSHM struct {
	Mode                 int32
	Count                int32
	ClockTimeStampSec    int64
	ClockTimeStampUSec   int32
	ReceiveTimeStampSec  int64
	ReceiveTimeStampUSec int32
	Leap                 int32
	Precision            int32
	Nsamples             int32
	Valid                int32
	ClockTimeStampNSec   int32
	ReceiveTimeStampNSec int32
	Dummy                [8]int32
}

// ClockTimeStamp returns the clock time
func (n *NTPSHM) ClockTimeStamp() time.Time {
	return time.Unix(n.ClockTimeStampSec, int64(n.ClockTimeStampNSec))
}

// ReceiveTimeStamp returns the receive time
func (n *NTPSHM) ReceiveTimeStamp() time.Time {
	return time.Unix(n.ReceiveTimeStampSec, int64(n.ReceiveTimeStampNSec))
}

// Segment is an NTP SHM segment attached to our address space
type Segment struct {
	id   uintptr
	addr uintptr
	shm  *NTPSHM
}

func shmget(unit int, flags int) (uintptr, error) {
	id, _, errno := unix.Syscall(unix.SYS_SHMGET, uintptr(SHMKEY+unit), NTPSHMSize, uintptr(flags))
	if errno != 0 {
		return 0, fmt.Errorf("failed get shm for unit %d: %s", unit, unix.ErrnoName(errno))
	}
	return id, nil
}

func shmat(id uintptr) (uintptr, error) {
	addr, _, errno := unix.Syscall(unix.SYS_SHMAT, id, 0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("failed to attach to shm: %s", unix.ErrnoName(errno))
	}
	return addr, nil
}

// addr comes from shmat and is outside the Go heap, so the GC never moves it
func ptrToNTPSHM(addr uintptr) *NTPSHM {
	return (*NTPSHM)(unsafe.Pointer(addr))
}

// Create attaches to the segment of given unit, creating it if needed
func Create(unit int) (*Segment, error) {
	id, err := shmget(unit, IPCCREAT|0600)
	if err != nil {
		return nil, err
	}
	addr, err := shmat(id)
	if err != nil {
		return nil, err
	}
	return &Segment{id: id, addr: addr, shm: ptrToNTPSHM(addr)}, nil
}

// newSegment wraps memory not backed by SysV shm
func newSegment(shm *NTPSHM) *Segment {
	return &Segment{shm: shm}
}

// Publish writes new sample following the mode 1 protocol: readers retry
// if count changed while they were reading or valid is not set
func (s *Segment) Publish(clockTS, receiveTS uint64, leap Leap) {
	atomic.StoreInt32(&s.shm.Mode, 1)
	atomic.AddInt32(&s.shm.Count, 1)
	atomic.StoreInt32(&s.shm.Valid, 0)

	s.shm.ClockTimeStampSec = int64(clockTS / uint64(time.Second))
	s.shm.ClockTimeStampNSec = int32(clockTS % uint64(time.Second))
	s.shm.ClockTimeStampUSec = s.shm.ClockTimeStampNSec / 1000
	s.shm.ReceiveTimeStampSec = int64(receiveTS / uint64(time.Second))
	s.shm.ReceiveTimeStampNSec = int32(receiveTS % uint64(time.Second))
	s.shm.ReceiveTimeStampUSec = s.shm.ReceiveTimeStampNSec / 1000
	s.shm.Precision = precisionNS
	s.shm.Leap = int32(leap)

	atomic.AddInt32(&s.shm.Count, 1)
	atomic.StoreInt32(&s.shm.Valid, 1)
}

// Snapshot returns consistent copy of the segment
func (s *Segment) Snapshot() (NTPSHM, error) {
	for i := 0; i < 3; i++ {
		before := atomic.LoadInt32(&s.shm.Count)
		v := *s.shm
		if atomic.LoadInt32(&s.shm.Count) == before {
			return v, nil
		}
	}
	return NTPSHM{}, fmt.Errorf("segment is being constantly updated")
}

// Detach detaches the segment from our address space
func (s *Segment) Detach() error {
	if s.addr == 0 {
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_SHMDT, s.addr, 0, 0)
	if errno != 0 {
		return fmt.Errorf("failed to detach shm: %s", unix.ErrnoName(errno))
	}
	s.addr = 0
	s.shm = nil
	return nil
}

// Read returns a copy of the segment of given unit without creating it
func Read(unit int) (*NTPSHM, error) {
	id, err := shmget(unit, 0400)
	if err != nil {
		return nil, err
	}
	addr, err := shmat(id)
	if err != nil {
		return nil, err
	}
	s := &Segment{id: id, addr: addr, shm: ptrToNTPSHM(addr)}
	defer s.Detach()
	v, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return &v, nil
}
