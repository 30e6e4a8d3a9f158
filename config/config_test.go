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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/clocksync/servod/filter"
	"github.com/clocksync/servod/servo"
	"github.com/clocksync/servod/tsproc"
)

func writeConfig(t *testing.T, content string) string {
	p := filepath.Join(t.TempDir(), "servod.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig("/does/not/exist")
	require.Error(t, err)
}

func TestReadConfigDefaults(t *testing.T) {
	cfg, err := ReadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
	require.True(t, cfg.Device.Realtime())
	require.InDelta(t, 1.0, cfg.Servo.SyncInterval(), 1e-12)
}

func TestReadConfig(t *testing.T) {
	cfg, err := ReadConfig(writeConfig(t, `logging:
  level: debug
  syslog: true
  tag: ptpservo
  stdout: false
servo:
  type: linreg
  software_timestamp: false
  max_frequency: 100000
  step_threshold: 1.5
  first_step_threshold: 0.001
  servo_offset_threshold: 100
  servo_num_offset_values: 10
  pi_proportional_const: 0.5
  ntp_shm_segment: 2
  log_sync_interval: -3
  log_min_delay_req_interval: 1
device:
  tod_device: /dev/ptp0
  freq_device: /dev/ptp1
  monitor_uds_address: /run/servod.sock
  poll_time: 500ms
  tsproc_mode: raw_weight
  delay_filter: moving_median
  delay_filter_length: 4
  free_running: true
  leap_file: /tmp/leap
  open_backoff:
    mode: linear
    step: 1
    maxvalue: 5
  open_attempts: 3
monitoring:
  port: 0
  aggregation_window: 10s
`))
	require.NoError(t, err)

	want := DefaultConfig()
	want.Logging = LoggingConfig{Level: "debug", Syslog: true, Tag: "ptpservo", Stdout: false}
	want.Servo.Type = servo.TypeLinReg
	want.Servo.SWTimestamping = false
	want.Servo.MaxFrequency = 100000
	want.Servo.StepThreshold = 1.5
	want.Servo.FirstStepThreshold = 0.001
	want.Servo.OffsetThreshold = 100
	want.Servo.NumOffsetValues = 10
	want.Servo.PI.PiKp = 0.5
	want.Servo.NTPSHMSegment = 2
	want.Servo.LogSyncInterval = -3
	want.Servo.LogMinDelayReqInterval = 1
	want.Device = DeviceConfig{
		TODDevice:         "/dev/ptp0",
		FreqDevice:        "/dev/ptp1",
		MonitorUDSAddress: "/run/servod.sock",
		PollTime:          500 * time.Millisecond,
		TsprocMode:        tsproc.ModeRawWeight,
		DelayFilter:       filter.MovingMedian,
		DelayFilterLength: 4,
		FreeRunning:       true,
		LeapFile:          "/tmp/leap",
		OpenBackoff:       BackoffConfig{Mode: BackoffLinear, Step: 1, MaxValue: 5},
		OpenAttempts:      3,
	}
	want.Monitoring = MonitoringConfig{Port: 0, AggregationWindow: 10 * time.Second}
	require.Equal(t, want, cfg)
	require.NoError(t, cfg.Validate())
	require.False(t, cfg.Device.Realtime())
	require.InDelta(t, 0.125, cfg.Servo.SyncInterval(), 1e-12)
}

func TestReadConfigErrors(t *testing.T) {
	_, err := ReadConfig(writeConfig(t, "device:\n  no_such_key: 1\n"))
	require.Error(t, err)

	_, err = ReadConfig(writeConfig(t, "device:\n  tsproc_mode: fancy\n"))
	require.Error(t, err)

	_, err = ReadConfig(writeConfig(t, "device:\n  delay_filter: moving_mode\n"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"syslog without tag", func(c *Config) { c.Logging.Syslog = true; c.Logging.Tag = "" }},
		{"bad servo", func(c *Config) { c.Servo.Type = "pid" }},
		{"only tod", func(c *Config) { c.Device.TODDevice = "/dev/ptp0" }},
		{"interface and devices", func(c *Config) {
			c.Device.TODDevice = "/dev/ptp0"
			c.Device.FreqDevice = "/dev/ptp0"
			c.Device.Interface = "eth0"
		}},
		{"no uds", func(c *Config) { c.Device.MonitorUDSAddress = "" }},
		{"zero poll", func(c *Config) { c.Device.PollTime = 0 }},
		{"zero filter length", func(c *Config) { c.Device.DelayFilterLength = 0 }},
		{"zero attempts", func(c *Config) { c.Device.OpenAttempts = 0 }},
		{"bad backoff", func(c *Config) { c.Device.OpenBackoff.Mode = "random" }},
		{"negative port", func(c *Config) { c.Monitoring.Port = -1 }},
		{"zero window", func(c *Config) { c.Monitoring.AggregationWindow = 0 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.mutate(c)
			require.Error(t, c.Validate())
		})
	}
}

func TestBackoffConfigValidate(t *testing.T) {
	require.NoError(t, (&BackoffConfig{}).Validate())
	require.NoError(t, (&BackoffConfig{Mode: BackoffFixed, Step: 3}).Validate())
	require.Error(t, (&BackoffConfig{Mode: BackoffFixed}).Validate())
	require.Error(t, (&BackoffConfig{Mode: BackoffLinear, Step: 1}).Validate())
	require.NoError(t, (&BackoffConfig{Mode: BackoffExponential, Step: 2, MaxValue: 10}).Validate())
}

func TestPrepareConfig(t *testing.T) {
	path := writeConfig(t, "device:\n  poll_time: 1s\n")
	o := &Overrides{
		TODDevice:         "/dev/ptp2",
		FreqDevice:        "/dev/ptp2",
		MonitorUDSAddress: "/run/monitor",
		ServoType:         "ntpshm",
		MonitoringPort:    9999,
		FreeRunning:       true,
	}
	cfg, err := PrepareConfig(path, o, map[string]bool{
		"tod":            true,
		"freq":           true,
		"uds":            true,
		"servo":          true,
		"monitoringport": true,
		"freerunning":    true,
	})
	require.NoError(t, err)
	require.Equal(t, time.Second, cfg.Device.PollTime)
	require.Equal(t, "/dev/ptp2", cfg.Device.TODDevice)
	require.Equal(t, "/dev/ptp2", cfg.Device.FreqDevice)
	require.Equal(t, "/run/monitor", cfg.Device.MonitorUDSAddress)
	require.Equal(t, servo.TypeNTPSHM, cfg.Servo.Type)
	require.Equal(t, 9999, cfg.Monitoring.Port)
	require.True(t, cfg.Device.FreeRunning)

	// flags not marked as set are ignored
	cfg, err = PrepareConfig("", o, map[string]bool{})
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	_, err = PrepareConfig("", &Overrides{ServoType: "pid"}, map[string]bool{"servo": true})
	require.Error(t, err)

	_, err = PrepareConfig("/does/not/exist", o, nil)
	require.Error(t, err)
}

func TestLoggingSetup(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)
	c := &LoggingConfig{Level: "warning", Stdout: true}
	require.NoError(t, c.Setup())
	require.Equal(t, log.WarnLevel, log.GetLevel())

	c.Level = "nope"
	require.Error(t, c.Setup())
}
