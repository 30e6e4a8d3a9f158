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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKernelRelease(t *testing.T) {
	cases := []struct {
		release string
		want    string
		adj     bool
	}{
		{"6.8.0-45-generic", "6.8.0", true},
		{"5.14.0-427.el9.x86_64", "5.14.0", true},
		{"5.8.0", "5.8.0", true},
		{"5.4.0-150-generic", "5.4.0", false},
		{"4.18.0_custom", "4.18.0", false},
		{"6.1.0+", "6.1.0", true},
	}
	for _, c := range cases {
		t.Run(c.release, func(t *testing.T) {
			v, err := ParseKernelRelease(c.release)
			require.NoError(t, err)
			require.Equal(t, c.want, v.String())
			require.Equal(t, c.adj, SupportsPHCAdjPhase(v))
		})
	}
	_, err := ParseKernelRelease("linux")
	require.Error(t, err)
}

func TestKernelVersion(t *testing.T) {
	v, err := KernelVersion()
	require.NoError(t, err)
	require.Greater(t, v.Segments()[0], 1)
}
