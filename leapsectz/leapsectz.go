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

// Package leapsectz is a utility package for obtaining leap second
// information from the system timezone database
package leapsectz

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// leapFile is a file containing leap second information
var leapFile = "/usr/share/zoneinfo/right/UTC"

var errBadData = errors.New("malformed time zone information")
var errUnsupportedVersion = errors.New("unsupported version")
var errNoLeapSeconds = errors.New("no leap seconds information found")

const magic = "TZif"

// taiUTCAtEpoch is TAI-UTC before the first leap second was inserted in 1972
const taiUTCAtEpoch = 10

// LeapSecond represents a leap second
type LeapSecond struct {
	// time of the leap second, counting all leap seconds before it
	Tleap uint64
	// total number of leap seconds after this one
	Nleap int32
}

// Time returns when the leap second event occurs
func (l LeapSecond) Time() time.Time {
	return time.Unix(int64(l.Tleap-uint64(l.Nleap)+1), 0)
}

// Header represents file header structure. Fields names are copied from tzfile(5)
type Header struct {
	IsUtcCnt uint32
	IsStdCnt uint32
	LeapCnt  uint32
	TimeCnt  uint32
	TypeCnt  uint32 // must not be zero
	CharCnt  uint32
}

// dataSize is the size of the data block following the header, not counting leap records
func (h *Header) dataSize(timeSize int) int64 {
	return int64(h.TimeCnt)*int64(timeSize+1) + int64(h.TypeCnt)*6 + int64(h.CharCnt)
}

func (h *Header) trailerSize() int64 {
	return int64(h.IsUtcCnt) + int64(h.IsStdCnt)
}

func readHeader(r io.Reader) (byte, *Header, error) {
	// 4-byte magic, 1-byte version, then 15 bytes of padding
	var pre [20]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return 0, nil, errBadData
	}
	if string(pre[:4]) != magic {
		return 0, nil, errBadData
	}
	version := pre[4]
	if version != 0 && version != '2' && version != '3' {
		return 0, nil, errUnsupportedVersion
	}
	hdr := &Header{}
	if err := binary.Read(r, binary.BigEndian, hdr); err != nil {
		return 0, nil, errBadData
	}
	return version, hdr, nil
}

func skip(r io.Reader, n int64) error {
	if c, _ := io.CopyN(io.Discard, r, n); c != n {
		return errBadData
	}
	return nil
}

func parse(r io.Reader) ([]LeapSecond, error) {
	version, hdr, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	timeSize := 4
	if version != 0 {
		// version 2+ repeats everything with 64-bit times after the legacy block, we only want the latter
		legacy := hdr.dataSize(4) + int64(hdr.LeapCnt)*8 + hdr.trailerSize()
		if err := skip(r, legacy); err != nil {
			return nil, err
		}
		if _, hdr, err = readHeader(r); err != nil {
			return nil, err
		}
		timeSize = 8
	}
	if err := skip(r, hdr.dataSize(timeSize)); err != nil {
		return nil, err
	}

	ret := make([]LeapSecond, 0, hdr.LeapCnt)
	for i := 0; i < int(hdr.LeapCnt); i++ {
		var l LeapSecond
		if timeSize == 4 {
			var v0 [2]uint32
			if err := binary.Read(r, binary.BigEndian, &v0); err != nil {
				return nil, fmt.Errorf("reading leap record %d: %w", i, err)
			}
			l.Tleap = uint64(v0[0])
			l.Nleap = int32(v0[1])
		} else if err := binary.Read(r, binary.BigEndian, &l); err != nil {
			return nil, fmt.Errorf("reading leap record %d: %w", i, err)
		}
		ret = append(ret, l)
	}
	if len(ret) == 0 {
		return nil, errNoLeapSeconds
	}
	return ret, nil
}

// Parse returns the list of leap seconds from srcfile. Pass "" to use default file
func Parse(srcfile string) ([]LeapSecond, error) {
	if srcfile == "" {
		srcfile = leapFile
	}
	f, err := os.Open(srcfile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parse(bufio.NewReader(f))
}

// Table is a list of leap seconds ordered by time
type Table []LeapSecond

// Load parses leap seconds from srcfile. Pass "" to use default file
func Load(srcfile string) (Table, error) {
	ls, err := Parse(srcfile)
	if err != nil {
		return nil, err
	}
	return Table(ls), nil
}

// Latest returns the latest leap second which already happened at now
func (t Table) Latest(now time.Time) *LeapSecond {
	var res *LeapSecond
	for i := range t {
		if t[i].Time().After(now) {
			break
		}
		res = &t[i]
	}
	return res
}

// TAIOffset returns TAI-UTC in seconds at now
func (t Table) TAIOffset(now time.Time) int {
	l := t.Latest(now)
	if l == nil {
		return taiUTCAtEpoch
	}
	return taiUTCAtEpoch + int(l.Nleap)
}

// Pending returns the leap second scheduled for the end of the UTC day containing now:
// 1 if a second is inserted, -1 if one is deleted, 0 if there is none.
func (t Table) Pending(now time.Time) int {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	var prev int32
	for _, l := range t {
		if l.Time().Equal(midnight) {
			if l.Nleap > prev {
				return 1
			}
			return -1
		}
		prev = l.Nleap
	}
	return 0
}

// Write dumps leap seconds as a minimal tzfile of version 0 or '2'
func Write(w io.Writer, ver byte, ls []LeapSecond, name string) error {
	if ver != 0 && ver != '2' {
		return errUnsupportedVersion
	}
	if name == "" {
		name = "UTC"
	}
	if err := writeBlock(w, ver, ls, name, 4); err != nil {
		return err
	}
	if ver == 0 {
		return nil
	}
	if err := writeBlock(w, ver, ls, name, 8); err != nil {
		return err
	}
	// POSIX TZ string footer
	_, err := io.WriteString(w, "\n"+name+"\n")
	return err
}

func writeBlock(w io.Writer, ver byte, ls []LeapSecond, name string, timeSize int) error {
	zname := name + "\x00"
	hdr := Header{
		IsUtcCnt: 1,
		IsStdCnt: 1,
		LeapCnt:  uint32(len(ls)),
		TypeCnt:  1,
		CharCnt:  uint32(len(zname)),
	}
	var pre [20]byte
	copy(pre[:], magic)
	pre[4] = ver
	if _, err := w.Write(pre[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, hdr); err != nil {
		return err
	}
	// single local time type record and its designation
	if _, err := w.Write(make([]byte, 6)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, zname); err != nil {
		return err
	}
	for _, l := range ls {
		var err error
		if timeSize == 4 {
			err = binary.Write(w, binary.BigEndian, [2]uint32{uint32(l.Tleap), uint32(l.Nleap)})
		} else {
			err = binary.Write(w, binary.BigEndian, l)
		}
		if err != nil {
			return err
		}
	}
	// isutc and isstd indicators
	_, err := w.Write([]byte{0, 0})
	return err
}
