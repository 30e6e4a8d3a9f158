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

package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clocksync/servod/daemon"
)

// Version is set at build time with -ldflags "-X github.com/clocksync/servod/cmd/servod/cmd.Version=..."
var Version = "devel"

func init() {
	RootCmd.AddCommand(versionCmd)
}

func versionRun() {
	fmt.Printf("servod %s (%s)\n", Version, runtime.Version())
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				fmt.Printf("revision: %s\n", s.Value)
			}
		}
	}
	v, err := daemon.KernelVersion()
	if err != nil {
		log.Warningf("failed to get kernel version: %v", err)
		return
	}
	fmt.Printf("kernel: %s, PHC phase adjustment supported: %v\n", v, daemon.SupportsPHCAdjPhase(v))
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		versionRun()
	},
}
