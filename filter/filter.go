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

// Package filter implements sliding window filters used to smooth path delay measurements
package filter

import (
	"fmt"
	"time"
)

// Type is a type of the filter
type Type uint8

// Supported filter types
const (
	MovingAverage Type = iota
	MovingMedian
)

var typeToString = map[Type]string{
	MovingAverage: "moving_average",
	MovingMedian:  "moving_median",
}

func (t Type) String() string {
	if s, ok := typeToString[t]; ok {
		return s
	}
	return fmt.Sprintf("UNSUPPORTED(%d)", uint8(t))
}

// ParseType converts filter name as found in config into Type
func ParseType(name string) (Type, error) {
	for t, s := range typeToString {
		if s == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown filter %q, must be either %q or %q", name, MovingAverage, MovingMedian)
}

// MarshalText implements encoding.TextMarshaler
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Type) UnmarshalText(text []byte) error {
	v, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Filter consumes samples one by one and returns the filtered value after each of them
type Filter interface {
	// Sample adds v to the window and returns the filtered value
	Sample(v time.Duration) time.Duration
	// Reset discards the history
	Reset()
}

// New creates a filter of given type holding up to length samples
func New(t Type, length int) (Filter, error) {
	if length < 1 {
		return nil, fmt.Errorf("filter length must be positive, got %d", length)
	}
	switch t {
	case MovingAverage:
		return newAverage(length), nil
	case MovingMedian:
		return newMedian(length), nil
	}
	return nil, fmt.Errorf("unsupported filter type %s", t)
}
