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
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clocksync/servod/config"
	"github.com/clocksync/servod/daemon"
	"github.com/clocksync/servod/stats"

	// #nosec G108
	_ "net/http/pprof"
)

var (
	runConfigFlag   string
	runPprofFlag    string
	runAccuracyFlag string
	runOverrides    config.Overrides
)

// overridable config keys, same names as the flags
var runOverrideFlags = []string{"tod", "freq", "iface", "uds", "servo", "monitoringport", "freerunning", "verbose"}

func init() {
	RootCmd.AddCommand(runCmd)
	defaults := config.DefaultConfig()
	runCmd.Flags().StringVarP(&runConfigFlag, "config", "c", "", "path to the config")
	runCmd.Flags().StringVar(&runOverrides.TODDevice, "tod", "", "PHC device to step, requires --freq")
	runCmd.Flags().StringVar(&runOverrides.FreqDevice, "freq", "", "PHC device to adjust frequency and phase of, requires --tod")
	runCmd.Flags().StringVarP(&runOverrides.Interface, "iface", "i", "", "network interface whose PHC is disciplined")
	runCmd.Flags().StringVarP(&runOverrides.MonitorUDSAddress, "uds", "u", defaults.Device.MonitorUDSAddress, "unix socket to receive slave timing data on")
	runCmd.Flags().StringVarP(&runOverrides.ServoType, "servo", "s", string(defaults.Servo.Type), "servo algorithm: pi, linreg or ntpshm")
	runCmd.Flags().IntVar(&runOverrides.MonitoringPort, "monitoringport", defaults.Monitoring.Port, "port to start monitoring http server on, 0 disables it")
	runCmd.Flags().BoolVar(&runOverrides.FreeRunning, "freerunning", false, "don't touch the clock, only run the servo")
	runCmd.Flags().StringVar(&runPprofFlag, "pprof", "", "Address to have the profiler listen on, disabled if empty.")
	runCmd.Flags().StringVar(&runAccuracyFlag, "accuracy", stats.DefaultAccuracyExpression, stats.AccuracyHelp)
}

func runDaemon(cfg *config.Config, accuracyExpr string) error {
	accuracy, err := stats.NewAccuracy(accuracyExpr)
	if err != nil {
		return fmt.Errorf("parsing accuracy expression: %w", err)
	}
	clk, err := daemon.NewClock(&cfg.Device)
	if err != nil {
		return err
	}
	defer clk.Close()

	st := stats.NewStats()
	d, err := daemon.New(cfg, clk, st)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)
	if cfg.Monitoring.Port > 0 {
		js := stats.NewJSONStats(st, accuracy)
		eg.Go(func() error {
			return js.Start(ctx, cfg.Monitoring.Port, cfg.Monitoring.AggregationWindow)
		})
	}
	eg.Go(func() error {
		return d.Run(ctx)
	})
	return eg.Wait()
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the clock servo",
	Run: func(c *cobra.Command, _ []string) {
		ConfigureVerbosity()
		runOverrides.Verbose = rootVerboseFlag
		setFlags := map[string]bool{}
		for _, name := range runOverrideFlags {
			setFlags[name] = c.Flags().Changed(name)
		}
		cfg, err := config.PrepareConfig(runConfigFlag, &runOverrides, setFlags)
		if err != nil {
			log.Fatal(err)
		}
		if err := cfg.Logging.Setup(); err != nil {
			log.Fatal(err)
		}
		if runPprofFlag != "" {
			go func() {
				if err := http.ListenAndServe(runPprofFlag, nil); err != nil {
					log.Errorf("Failed to start pprof. Err: %v", err)
				}
			}()
		}
		if err := runDaemon(cfg, runAccuracyFlag); err != nil {
			log.Fatal(err)
		}
	},
}
