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
	"strings"

	"github.com/hashicorp/go-version"
	"golang.org/x/sys/unix"
)

// PHC drivers accept ADJ_OFFSET since Linux 5.8
var minAdjPhaseKernel = version.Must(version.NewVersion("5.8"))

// ParseKernelRelease parses uname release like 6.8.0-45-generic, dropping distro suffixes
func ParseKernelRelease(release string) (*version.Version, error) {
	if i := strings.IndexAny(release, "-+_~"); i > 0 {
		release = release[:i]
	}
	return version.NewVersion(release)
}

// KernelVersion returns version of the running kernel
func KernelVersion() (*version.Version, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return nil, err
	}
	return ParseKernelRelease(unix.ByteSliceToString(uts.Release[:]))
}

// SupportsPHCAdjPhase reports whether PHC drivers on this kernel version can be asked to correct phase
func SupportsPHCAdjPhase(v *version.Version) bool {
	return v.GreaterThanOrEqual(minAdjPhaseKernel)
}
