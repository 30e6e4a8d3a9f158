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
	"os"

	"golang.org/x/sys/unix"
)

// DefaultMaxClockFreqPPB value came from linuxptp project (clockadj.c)
const DefaultMaxClockFreqPPB = 500000.0

// clockFD is CLOCKFD from linux posix-timers.h
const clockFD = 3

// FDToClockID derives the dynamic POSIX clock id of an open PHC device
func FDToClockID(fd uintptr) int32 {
	return int32((int(^fd) << 3) | clockFD)
}

// IfaceToPHCDevice returns path to PHC device associated with given network card iface
func IfaceToPHCDevice(iface string) (string, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return "", fmt.Errorf("failed to create socket for ioctl: %w", err)
	}
	defer unix.Close(fd)
	info, err := unix.IoctlGetEthtoolTsInfo(fd, iface)
	if err != nil {
		return "", fmt.Errorf("getting interface %s info: %w", iface, err)
	}
	if info.Phc_index < 0 {
		return "", fmt.Errorf("%s: no PHC support", iface)
	}
	return fmt.Sprintf("/dev/ptp%d", info.Phc_index), nil
}

// Device is an open PHC character device
type Device struct {
	file *os.File
}

// Open opens the PHC device at path for reading and adjusting
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening PHC device %q: %w", path, err)
	}
	return FromFile(f), nil
}

// FromFile wraps an already open PHC device
func FromFile(f *os.File) *Device {
	return &Device{file: f}
}

// Name returns the device path
func (d *Device) Name() string {
	return d.file.Name()
}

// Fd returns the file descriptor of the device
func (d *Device) Fd() uintptr {
	return d.file.Fd()
}

// ClockID returns the dynamic clock id to use with clock_* syscalls
func (d *Device) ClockID() int32 {
	return FDToClockID(d.file.Fd())
}

// Close closes the device
func (d *Device) Close() error {
	return d.file.Close()
}

func maxAdj(caps *unix.PtpClockCaps) float64 {
	if caps == nil || caps.Max_adj == 0 {
		return DefaultMaxClockFreqPPB
	}
	return float64(caps.Max_adj)
}

// MaxFreqPPB queries PTP_CLOCK_GETCAPS for the maximum frequency adjustment of the device
func (d *Device) MaxFreqPPB() (float64, error) {
	caps, err := unix.IoctlPtpClockGetcaps(int(d.file.Fd()))
	if err != nil {
		return 0, fmt.Errorf("%s: PTP_CLOCK_GETCAPS: %w", d.Name(), err)
	}
	return maxAdj(caps), nil
}
