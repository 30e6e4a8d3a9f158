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

// Package config holds servod configuration: defaults, on-disk YAML and CLI overrides
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/clocksync/servod/filter"
	ptp "github.com/clocksync/servod/ptp/protocol"
	"github.com/clocksync/servod/servo"
	"github.com/clocksync/servod/tsproc"
)

// DefaultMonitorUDSAddress is where the PTP stack sends slave timing data by default
const DefaultMonitorUDSAddress = "/var/run/monitor"

// backoff modes
const (
	BackoffNone        = ""
	BackoffFixed       = "fixed"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// BackoffConfig describes how long to wait between attempts to open a clock device
type BackoffConfig struct {
	Mode     string
	Step     int
	MaxValue int
}

// Validate BackoffConfig is sane
func (c *BackoffConfig) Validate() error {
	if c.Mode != BackoffNone && c.Mode != BackoffFixed && c.Mode != BackoffLinear && c.Mode != BackoffExponential {
		return fmt.Errorf("mode must be either %q, %q, %q or %q", BackoffNone, BackoffFixed, BackoffLinear, BackoffExponential)
	}
	if c.Mode != BackoffNone {
		if c.Step <= 0 {
			return fmt.Errorf("step must be positive")
		}
		if c.Mode != BackoffFixed && c.MaxValue <= 0 {
			return fmt.Errorf("maxvalue must be positive")
		}
	}
	return nil
}

// LoggingConfig controls where and how much we log
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Syslog bool   `yaml:"syslog"`
	Tag    string `yaml:"tag"`
	Stdout bool   `yaml:"stdout"`
}

// Validate LoggingConfig is sane
func (c *LoggingConfig) Validate() error {
	if _, err := log.ParseLevel(c.Level); err != nil {
		return err
	}
	if c.Syslog && c.Tag == "" {
		return fmt.Errorf("tag must be set when logging to syslog")
	}
	return nil
}

// ServoConfig is servo configuration plus the intervals the master runs at
type ServoConfig struct {
	servo.Config           `yaml:",inline"`
	LogSyncInterval        ptp.LogInterval `yaml:"log_sync_interval"`
	LogMinDelayReqInterval ptp.LogInterval `yaml:"log_min_delay_req_interval"`
}

// SyncInterval returns the master sync interval in seconds
func (c *ServoConfig) SyncInterval() float64 {
	return c.LogSyncInterval.Seconds()
}

// Validate ServoConfig is sane
func (c *ServoConfig) Validate() error {
	return c.Config.Validate()
}

// DeviceConfig describes the clock we discipline and where timing data comes from
type DeviceConfig struct {
	TODDevice         string        `yaml:"tod_device"`
	FreqDevice        string        `yaml:"freq_device"`
	Interface         string        `yaml:"interface"`
	MonitorUDSAddress string        `yaml:"monitor_uds_address"`
	PollTime          time.Duration `yaml:"poll_time"`
	TsprocMode        tsproc.Mode   `yaml:"tsproc_mode"`
	DelayFilter       filter.Type   `yaml:"delay_filter"`
	DelayFilterLength int           `yaml:"delay_filter_length"`
	FreeRunning       bool          `yaml:"free_running"`
	LeapFile          string        `yaml:"leap_file"`
	OpenBackoff       BackoffConfig `yaml:"open_backoff"`
	OpenAttempts      int           `yaml:"open_attempts"`
}

// Realtime reports whether no PHC is configured and CLOCK_REALTIME is disciplined directly
func (c *DeviceConfig) Realtime() bool {
	return c.TODDevice == "" && c.FreqDevice == "" && c.Interface == ""
}

// Validate DeviceConfig is sane
func (c *DeviceConfig) Validate() error {
	if (c.TODDevice == "") != (c.FreqDevice == "") {
		return fmt.Errorf("tod_device and freq_device must be set together")
	}
	if c.Interface != "" && c.TODDevice != "" {
		return fmt.Errorf("interface can't be used together with tod_device and freq_device")
	}
	if c.MonitorUDSAddress == "" {
		return fmt.Errorf("monitor_uds_address must be specified")
	}
	if c.PollTime <= 0 {
		return fmt.Errorf("poll_time must be greater than zero")
	}
	if c.DelayFilterLength < 1 {
		return fmt.Errorf("delay_filter_length must be at least 1")
	}
	if c.OpenAttempts < 1 {
		return fmt.Errorf("open_attempts must be at least 1")
	}
	if err := c.OpenBackoff.Validate(); err != nil {
		return fmt.Errorf("invalid open_backoff config: %w", err)
	}
	return nil
}

// MonitoringConfig controls the stats endpoint
type MonitoringConfig struct {
	Port              int           `yaml:"port"`
	AggregationWindow time.Duration `yaml:"aggregation_window"`
}

// Validate MonitoringConfig is sane
func (c *MonitoringConfig) Validate() error {
	if c.Port < 0 {
		return fmt.Errorf("port must be 0 or positive")
	}
	if c.AggregationWindow <= 0 {
		return fmt.Errorf("aggregation_window must be greater than zero")
	}
	return nil
}

// Config specifies servod run options
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Servo      ServoConfig      `yaml:"servo"`
	Device     DeviceConfig     `yaml:"device"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Tag:    "servo",
			Stdout: true,
		},
		Servo: ServoConfig{
			Config: *servo.DefaultConfig(),
		},
		Device: DeviceConfig{
			MonitorUDSAddress: DefaultMonitorUDSAddress,
			PollTime:          2 * time.Second,
			TsprocMode:        tsproc.ModeFilter,
			DelayFilter:       filter.MovingAverage,
			DelayFilterLength: 10,
			OpenBackoff: BackoffConfig{
				Mode:     BackoffExponential,
				Step:     2,
				MaxValue: 30,
			},
			OpenAttempts: 5,
		},
		Monitoring: MonitoringConfig{
			Port:              4270,
			AggregationWindow: 60 * time.Second,
		},
	}
}

// Validate config is sane
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := c.Servo.Validate(); err != nil {
		return fmt.Errorf("invalid servo config: %w", err)
	}
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("invalid device config: %w", err)
	}
	if err := c.Monitoring.Validate(); err != nil {
		return fmt.Errorf("invalid monitoring config: %w", err)
	}
	return nil
}

// ReadConfig reads config from the file, on top of defaults
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.UnmarshalStrict(cData, c)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Overrides are values set from the command line
type Overrides struct {
	TODDevice         string
	FreqDevice        string
	Interface         string
	MonitorUDSAddress string
	ServoType         string
	MonitoringPort    int
	FreeRunning       bool
	Verbose           bool
}

// PrepareConfig prepares final version of config based on defaults, CLI flags and on-disk config, and validates resulting config
func PrepareConfig(cfgPath string, o *Overrides, setFlags map[string]bool) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		cfg, err = ReadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("reading config from %q: %w", cfgPath, err)
		}
	}
	if setFlags["tod"] {
		warn("tod_device")
		cfg.Device.TODDevice = o.TODDevice
	}
	if setFlags["freq"] {
		warn("freq_device")
		cfg.Device.FreqDevice = o.FreqDevice
	}
	if setFlags["iface"] {
		warn("interface")
		cfg.Device.Interface = o.Interface
	}
	if setFlags["uds"] {
		warn("monitor_uds_address")
		cfg.Device.MonitorUDSAddress = o.MonitorUDSAddress
	}
	if setFlags["servo"] {
		warn("servo type")
		cfg.Servo.Type = servo.Type(o.ServoType)
	}
	if setFlags["monitoringport"] {
		warn("monitoring port")
		cfg.Monitoring.Port = o.MonitoringPort
	}
	if setFlags["freerunning"] {
		warn("free_running")
		cfg.Device.FreeRunning = o.FreeRunning
	}
	if setFlags["verbose"] && o.Verbose {
		warn("logging level")
		cfg.Logging.Level = log.DebugLevel.String()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("config: %s", spew.Sdump(cfg))
	}
	return cfg, nil
}
