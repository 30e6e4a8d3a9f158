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
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/clocksync/servod/stats"
)

var (
	statsAddressFlag  string
	statsCountersFlag bool
	statsWatchFlag    time.Duration
)

func init() {
	RootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVarP(&statsAddressFlag, "address", "a", "http://localhost:4270", "address of servod monitoring endpoint")
	statsCmd.Flags().BoolVarP(&statsCountersFlag, "counters", "c", false, "print all counters")
	statsCmd.Flags().DurationVarP(&statsWatchFlag, "watch", "w", 0, "refresh every interval, 0 prints once")
}

func colorState(state string) string {
	switch state {
	case "LOCKED", "LOCKED_STABLE":
		return color.GreenString(state)
	case "JUMP":
		return color.YellowString(state)
	}
	return color.RedString(state)
}

func printSummary(w io.Writer, s *stats.Summary) error {
	updated := "never"
	if s.UpdatedAt != 0 {
		updated = time.Since(time.Unix(0, s.UpdatedAt)).Round(time.Millisecond).String() + " ago"
	}
	table := tablewriter.NewWriter(w)
	table.Header("clock", "servo", "state", "offset(ns)", "freq(ppb)", "delay(ns)", "rate ratio", "leap", "updated")
	if err := table.Append([]string{
		s.ClockName,
		s.Servo,
		colorState(s.State),
		fmt.Sprintf("%d", s.OffsetNS),
		fmt.Sprintf("%.3f", s.FreqPPB),
		fmt.Sprintf("%d", s.DelayNS),
		fmt.Sprintf("%.9f", s.RateRatio),
		fmt.Sprintf("%+d", s.Leap),
		updated,
	}); err != nil {
		return err
	}
	return table.Render()
}

func printCounters(w io.Writer, counters stats.Counters) error {
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	table := tablewriter.NewWriter(w)
	table.Header("counter", "value")
	for _, k := range keys {
		if err := table.Append([]string{k, fmt.Sprintf("%d", counters[k])}); err != nil {
			return err
		}
	}
	return table.Render()
}

func statsRunOnce(address string, withCounters bool) error {
	summary, err := stats.FetchSummary(address)
	if err != nil {
		return fmt.Errorf("fetching summary: %w", err)
	}
	if err := printSummary(os.Stdout, summary); err != nil {
		return err
	}
	if !withCounters {
		return nil
	}
	counters, err := stats.FetchCounters(address)
	if err != nil {
		return fmt.Errorf("fetching counters: %w", err)
	}
	return printCounters(os.Stdout, counters)
}

func statsRun(address string, withCounters bool, watch time.Duration) error {
	if watch <= 0 {
		return statsRunOnce(address, withCounters)
	}
	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	for {
		if interactive {
			// move cursor home and clear the screen
			fmt.Print("\033[H\033[2J")
		}
		if err := statsRunOnce(address, withCounters); err != nil {
			log.Error(err)
		}
		time.Sleep(watch)
	}
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print state of running servod",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := statsRun(statsAddressFlag, statsCountersFlag, statsWatchFlag); err != nil {
			log.Fatal(err)
		}
	},
}
