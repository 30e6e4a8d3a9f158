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

/*
Package daemon runs the servo loop: it reads slave timing data sent by the PTP stack
over a unix socket, turns timestamps into offsets and path delays, feeds the offsets
to the servo and applies its decisions to the clock.
*/
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	sd "github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"

	"github.com/clocksync/servod/config"
	"github.com/clocksync/servod/leapsectz"
	ptp "github.com/clocksync/servod/ptp/protocol"
	"github.com/clocksync/servod/servo"
	"github.com/clocksync/servod/stats"
	"github.com/clocksync/servod/tsproc"
	"github.com/clocksync/servod/uds"
)

// big enough for any datagram
const maxPacketSize = 65536

// Daemon is the clock update loop
type Daemon struct {
	cfg    *config.Config
	clock  Clock
	stats  stats.Server
	servo  *servo.Controller
	tsproc *tsproc.Processor
	conn   *uds.Conn

	leaps leapsectz.Table
	leap  int
	now   func() time.Time

	delay          time.Duration
	negativeDelays int64
	closed         bool
}

// New creates the servo and the timestamp processor for the clock
func New(cfg *config.Config, clk Clock, st stats.Server) (*Daemon, error) {
	freq, err := clk.FrequencyPPB()
	if err != nil {
		return nil, fmt.Errorf("reading current frequency of %s: %w", clk.Name(), err)
	}
	maxFreq, err := clk.MaxFreqPPB()
	if err != nil {
		return nil, fmt.Errorf("reading max frequency of %s: %w", clk.Name(), err)
	}
	log.Infof("%s: current frequency %.3f ppb, max frequency %.3f ppb", clk.Name(), freq, maxFreq)
	if cfg.Servo.OffsetThreshold > 0 && !clk.Realtime() {
		if v, err := KernelVersion(); err != nil {
			log.Warningf("failed to get kernel version: %v", err)
		} else if !SupportsPHCAdjPhase(v) {
			log.Warningf("kernel %s may not support phase adjustment of %s, LOCKED_STABLE corrections can fail", v, clk.Name())
		}
	}

	s, err := servo.New(&cfg.Servo.Config, -freq, maxFreq)
	if err != nil {
		return nil, fmt.Errorf("creating servo: %w", err)
	}
	s.SyncInterval(cfg.Servo.SyncInterval())

	p, err := tsproc.New(cfg.Device.TsprocMode, cfg.Device.DelayFilter, cfg.Device.DelayFilterLength)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating timestamp processor: %w", err)
	}

	d := &Daemon{
		cfg:    cfg,
		clock:  clk,
		stats:  st,
		servo:  s,
		tsproc: p,
		now:    time.Now,
	}
	d.loadLeaps()
	return d, nil
}

// loadLeaps reads the leap second table and sets the TAI offset of CLOCK_REALTIME.
// Leap second handling is disabled when the table can't be read.
func (d *Daemon) loadLeaps() {
	leaps, err := leapsectz.Load(d.cfg.Device.LeapFile)
	if err != nil {
		log.Warningf("leap second handling disabled: %v", err)
		return
	}
	d.leaps = leaps
	offset := leaps.TAIOffset(d.now())
	d.stats.SetCounter(stats.TAIOffset, int64(offset))
	if !d.clock.Realtime() {
		return
	}
	if err := d.clock.SetTAIOffset(offset); err != nil {
		log.Warningf("failed to set TAI offset to %d: %v", offset, err)
		return
	}
	log.Infof("TAI offset set to %d", offset)
}

// Run reads timing data until ctx is cancelled
func (d *Daemon) Run(ctx context.Context) error {
	conn, err := uds.Listen(d.cfg.Device.MonitorUDSAddress)
	if err != nil {
		return err
	}
	d.conn = conn
	defer d.Close()

	log.Infof("servo %s disciplining %s, waiting for timing data on %s", d.servo.Type(), d.clock.Name(), conn.Path())
	if ok, err := sd.SdNotify(false, sd.SdNotifyReady); err != nil {
		log.Warningf("failed to notify systemd: %v", err)
	} else if ok {
		log.Debug("notified systemd")
	}

	buf := make([]byte, maxPacketSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := conn.ReadPacket(buf, d.cfg.Device.PollTime)
		if errors.Is(err, uds.ErrTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading from %s: %w", conn.Path(), err)
		}
		d.HandlePacket(buf[:n])
	}
}

// HandlePacket decodes one datagram and runs every timing record in it through the servo loop
func (d *Daemon) HandlePacket(b []byte) {
	d.stats.UpdateCounterBy(stats.PacketsRX, 1)
	msg, err := ptp.DecodeSignaling(b)
	if err != nil {
		log.Debugf("failed to decode packet: %v", err)
		d.stats.UpdateCounterBy(stats.PacketsDecodeErrors, 1)
		return
	}
	if msg == nil {
		d.stats.UpdateCounterBy(stats.PacketsIgnored, 1)
		return
	}
	for _, tlv := range msg.TLVs {
		switch v := tlv.(type) {
		case *ptp.SlaveRxSyncTimingDataTLV:
			for i := range v.Records {
				d.stats.UpdateCounterBy(stats.SyncRecords, 1)
				d.clockUpdate(v.Records[i].Timing())
			}
		case *ptp.SlaveDelayTimingDataTLV:
			for i := range v.Records {
				d.stats.UpdateCounterBy(stats.DelayRecords, 1)
				d.pathDelay(v.Records[i].Timing())
			}
		}
	}
}

func (d *Daemon) clockError(format string, args ...any) {
	log.Errorf(format, args...)
	d.stats.UpdateCounterBy(stats.ClockErrors, 1)
}

func (d *Daemon) setSync() {
	if !d.clock.Realtime() {
		return
	}
	if err := d.clock.SetSync(); err != nil {
		d.clockError("failed to set sync state: %v", err)
	}
}

// clockUpdate handles one sync: t1 is the master's origin time, t2 is local ingress time
func (d *Daemon) clockUpdate(t1, t2 int64) {
	d.checkLeap()

	d.tsproc.DownTS(t1, t2)
	offset, weight, err := d.tsproc.UpdateOffset()
	if errors.Is(err, tsproc.ErrMissingMeasurement) {
		log.Debug("no delay measurement yet, skipping sync")
		d.stats.UpdateCounterBy(stats.MissingMeasurement, 1)
		return
	}

	freqAdj, state := d.servo.Sample(offset.Nanoseconds(), uint64(t2), weight)
	d.tsproc.SetClockRateRatio(d.servo.RateRatio())
	log.Debugf("offset %10d s%d freq %+7.0f path delay %10d", offset.Nanoseconds(), state, freqAdj, d.delay.Nanoseconds())

	switch state {
	case servo.StateJump:
		d.stats.UpdateCounterBy(stats.ServoJumps, 1)
		if err := d.clock.AdjFreqPPB(-freqAdj); err != nil {
			d.clockError("failed to adjust freq to %v: %v", -freqAdj, err)
		}
		if err := d.clock.Step(-offset); err != nil {
			d.clockError("failed to step clock by %v: %v", -offset, err)
		}
		// keep the filtered delay, the step doesn't change the path
		d.tsproc.Reset(false)
	case servo.StateLocked:
		if err := d.clock.AdjFreqPPB(-freqAdj); err != nil {
			d.clockError("failed to adjust freq to %v: %v", -freqAdj, err)
		}
		d.setSync()
	case servo.StateLockedStable:
		if err := d.clock.AdjPhase(-offset); err != nil {
			d.clockError("failed to adjust phase by %v: %v", -offset, err)
		}
		d.setSync()
	case servo.StateUnlocked:
	}
	d.report(offset, freqAdj, state)
}

// pathDelay handles one delay measurement: t3 is local egress time, t4 is the master's receive time
func (d *Daemon) pathDelay(t3, t4 int64) {
	d.tsproc.UpTS(t3, t4)
	delay, err := d.tsproc.UpdateDelay()
	if n := d.tsproc.NegativeDelays(); n != d.negativeDelays {
		d.stats.UpdateCounterBy(stats.NegativeDelay, n-d.negativeDelays)
		d.negativeDelays = n
	}
	if errors.Is(err, tsproc.ErrMissingMeasurement) {
		log.Debug("no sync for delay measurement yet, skipping")
		d.stats.UpdateCounterBy(stats.MissingMeasurement, 1)
		return
	}
	d.delay = delay
	d.stats.SetCounter(stats.ServoPathDelayNS, delay.Nanoseconds())
}

// checkLeap arms or disarms the leap second at the end of the current day when the table says so
func (d *Daemon) checkLeap() {
	if d.leaps == nil {
		return
	}
	leap := d.leaps.Pending(d.now())
	if leap == d.leap {
		return
	}
	if leap != 0 {
		log.Infof("leap second %+d at the end of the day", leap)
	} else {
		log.Info("leap second cleared")
	}
	d.servo.Leap(leap)
	if d.clock.Realtime() {
		if err := d.clock.SetLeap(leap); err != nil {
			d.clockError("failed to set leap second status %d: %v", leap, err)
		}
	}
	d.leap = leap
	d.stats.SetCounter(stats.LeapPending, int64(leap))
}

func (d *Daemon) report(offset time.Duration, freqAdj float64, state servo.State) {
	rateRatio := d.servo.RateRatio()
	d.stats.SetCounter(stats.ServoOffsetNS, offset.Nanoseconds())
	d.stats.SetCounter(stats.ServoFreqPPB, int64(freqAdj))
	d.stats.SetCounter(stats.ServoState, int64(state))
	d.stats.SetCounter(stats.ServoRateRatioPPB, int64((rateRatio-1.0)*1e9))
	d.stats.AddSample(float64(offset.Nanoseconds()), float64(d.delay.Nanoseconds()), freqAdj)
	d.stats.SetSummary(&stats.Summary{
		ClockName: d.clock.Name(),
		Servo:     string(d.servo.Type()),
		State:     state.String(),
		OffsetNS:  offset.Nanoseconds(),
		FreqPPB:   freqAdj,
		DelayNS:   d.delay.Nanoseconds(),
		RateRatio: rateRatio,
		Leap:      d.leap,
		UpdatedAt: d.now().UnixNano(),
	})
}

// Close releases the socket and the servo. It's safe to call more than once.
func (d *Daemon) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	var err error
	if d.conn != nil {
		err = d.conn.Close()
	}
	if serr := d.servo.Close(); serr != nil && err == nil {
		err = serr
	}
	return err
}
