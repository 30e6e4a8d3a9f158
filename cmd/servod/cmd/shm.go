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
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clocksync/servod/ntp/shm"
)

var shmUnitFlag int

func init() {
	RootCmd.AddCommand(shmCmd)
	shmCmd.Flags().IntVarP(&shmUnitFlag, "unit", "u", 0, "NTP SHM unit (segment) to read")
}

func printSHM(w io.Writer, unit int, s *shm.NTPSHM) error {
	table := tablewriter.NewWriter(w)
	table.Header("field", "value")
	rows := [][]string{
		{"unit", fmt.Sprintf("%d", unit)},
		{"mode", fmt.Sprintf("%d", s.Mode)},
		{"count", fmt.Sprintf("%d", s.Count)},
		{"valid", fmt.Sprintf("%d", s.Valid)},
		{"leap", fmt.Sprintf("%d", s.Leap)},
		{"precision", fmt.Sprintf("%d", s.Precision)},
		{"clock time", s.ClockTimeStamp().UTC().String()},
		{"receive time", s.ReceiveTimeStamp().UTC().String()},
		{"offset", s.ReceiveTimeStamp().Sub(s.ClockTimeStamp()).String()},
	}
	for _, r := range rows {
		if err := table.Append(r); err != nil {
			return err
		}
	}
	return table.Render()
}

func shmRun(unit int) error {
	s, err := shm.Read(unit)
	if err != nil {
		return fmt.Errorf("reading NTP SHM unit %d: %w", unit, err)
	}
	return printSHM(os.Stdout, unit, s)
}

var shmCmd = &cobra.Command{
	Use:   "shm",
	Short: "Print NTP SHM segment published by the ntpshm servo",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := shmRun(shmUnitFlag); err != nil {
			log.Fatal(err)
		}
	},
}
