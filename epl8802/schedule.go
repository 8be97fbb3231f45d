package epl8802

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// SetLightEnabled turns the ambient light channel on or off. Enabling resets
// the range controller and seeds it from a fast single-cycle sample.
func (d *EPL8802) SetLightEnabled(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	if d.cfg.Light.Enabled == on {
		return nil
	}
	prev := d.snapshot()
	d.cfg.Light.Enabled = on
	if on {
		d.light.Reset()
		d.syncLight()
	}
	d.cfg.derive()
	l.WithFields(logrus.Fields{"channel": Light, "enabled": on, "mode": ModeToString(d.cfg.Mode)}).Info("channel toggled")

	if err := d.transition(on, false); err != nil {
		d.restore(prev)
		return err
	}
	if !on {
		d.emit(Reading{Channel: Light, Value: Unavailable, ReportType: d.light.ReportType()})
	}
	return nil
}

// SetProximityEnabled turns the proximity channel on or off. Enabling arms the
// first report guard and seeds the thresholds from the first live sample.
func (d *EPL8802) SetProximityEnabled(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	if d.cfg.Proximity.Enabled == on {
		return nil
	}
	prev := d.snapshot()
	d.cfg.Proximity.Enabled = on
	if on {
		d.prox.BeginEnable()
	}
	d.cfg.derive()
	l.WithFields(logrus.Fields{"channel": Proximity, "enabled": on, "mode": ModeToString(d.cfg.Mode)}).Info("channel toggled")

	if err := d.transition(false, on); err != nil {
		d.restore(prev)
		return err
	}
	if !on {
		d.emit(Reading{Channel: Proximity, Value: Unavailable})
	}
	return nil
}

// engineState is what a failed reconfiguration rolls back.
type engineState struct {
	cfg   Configuration
	armed ThresholdPair
	zone  Zone
}

func (d *EPL8802) snapshot() engineState {
	return engineState{cfg: d.cfg, armed: d.prox.Armed(), zone: d.prox.zone}
}

// restore returns to the last known configuration after the device could not
// be reprogrammed. The next change reprograms it in full.
func (d *EPL8802) restore(s engineState) {
	l.WithField("mode", ModeToString(s.cfg.Mode)).Error("reprogram failed, keeping last known configuration")
	d.cfg = s.cfg
	d.prox.SetArmed(s.armed)
	d.prox.zone = s.zone
	d.light.SetEventDriven(!d.cfg.Light.Polling)
	d.restartPolling()
}

// transition runs the full reconfiguration sequence.
func (d *EPL8802) transition(lightOn, proxOn bool) error {
	defer d.restartPolling()

	if err := d.program(d.prox.Armed()); err != nil {
		return err
	}
	if lightOn {
		if err := d.fastUpdate(); err != nil {
			return err
		}
	}
	if err := d.updateMode(proxOn); err != nil {
		return err
	}
	if proxOn {
		if err := d.seedProximity(); err != nil {
			return err
		}
	}
	if lightOn && d.light.Adaptive() {
		return d.seedLight()
	}
	return nil
}

func (d *EPL8802) seedProximity() error {
	s, err := d.readProximity()
	if err != nil {
		return err
	}
	return d.writeProximityWindow(d.prox.AutoCalibrate(s))
}

// seedLight samples until the range controller settles on a step. Every
// range change costs one fast frame, so the loop is bounded by the table size.
func (d *EPL8802) seedLight() error {
	for i := 0; i <= len(d.light.Steps()); i++ {
		s, err := d.readLight()
		if err != nil {
			return err
		}
		value, changed := d.light.Classify(s.Channel1)
		if changed {
			if err := d.applyRange(); err != nil {
				return err
			}
			continue
		}
		d.emit(Reading{Channel: Light, Value: value, Raw: s.Channel1, ReportType: d.light.ReportType()})
		if !d.cfg.Light.Polling {
			return d.writeLightWindow(d.light.NextWindow(value, s.Channel1))
		}
		return nil
	}
	l.WithField("channel", Light).Warn("light range did not settle while seeding")
	return nil
}

// applyRange reprograms the front end for the range step just selected.
func (d *EPL8802) applyRange() error {
	d.syncLight()
	if err := d.fastUpdate(); err != nil {
		return err
	}
	return d.bus.Do(func(r Registers) error {
		if !d.cfg.Light.Polling {
			// Any count trips a zero window, forcing an event at the new range.
			if err := r.Write(EPL8802_REGISTER_ALS_THD, ThresholdPair{}.bytes()...); err != nil {
				return err
			}
		}
		if err := r.Write(EPL8802_REGISTER_MODE, d.cfg.modeByte()); err != nil {
			return err
		}
		return r.Write(EPL8802_REGISTER_POWER, EPL8802_POWER_ON|EPL8802_RESETN_RUN)
	})
}

// reprogram pushes a changed configuration while keeping both channels'
// calibration state.
func (d *EPL8802) reprogram() error {
	defer d.restartPolling()
	if err := d.program(d.prox.Armed()); err != nil {
		return err
	}
	return d.updateMode(false)
}

func (d *EPL8802) needsTimer() bool {
	c := &d.cfg
	return (c.Light.Enabled && c.Light.Polling) ||
		(c.Proximity.Enabled && (c.Proximity.Polling || d.features.FaultRecovery))
}

func (d *EPL8802) stopPolling() {
	d.timerGen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// restartPolling cancels any pending tick and arms a new one if a channel
// needs it. A tick that already fired sees a stale generation and exits.
func (d *EPL8802) restartPolling() {
	d.stopPolling()
	if d.halted || !d.needsTimer() {
		return
	}
	gen := d.timerGen
	d.timer = time.AfterFunc(d.pollInterval, func() { d.poll(gen) })
}

func (d *EPL8802) poll(gen int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.timerGen || d.halted || !d.needsTimer() {
		return
	}
	d.timer = time.AfterFunc(d.pollInterval, func() { d.poll(gen) })
	d.pollOnce()
}

// pollOnce runs one polling pass. The caller holds d.mu.
func (d *EPL8802) pollOnce() {
	c := &d.cfg
	if c.Proximity.Enabled && d.features.FaultRecovery {
		if err := d.checkDrift(); err != nil && !errors.Is(err, ErrConfigurationDrift) {
			l.WithError(err).Error("drift check failed")
		}
	}

	if c.Light.Enabled && c.Light.Polling {
		d.pollLight()
	}
	if c.Proximity.Enabled && c.Proximity.Polling {
		d.pollProximity()
	}
}

func (d *EPL8802) pollLight() {
	s, err := d.readLight()
	if err != nil {
		l.WithError(err).WithField("channel", Light).Error("sample read failed")
		d.emit(Reading{Channel: Light, Value: Unavailable, ReportType: d.light.ReportType()})
		return
	}
	value, changed := d.light.Classify(s.Channel1)
	if changed {
		if err := d.applyRange(); err != nil {
			l.WithError(err).WithField("channel", Light).Error("range change failed")
		}
		return
	}
	l.WithFields(logrus.Fields{"channel": Light, "raw": s.Channel1, "lux": value}).Debug("light sample")
	d.emit(Reading{Channel: Light, Value: value, Raw: s.Channel1, ReportType: d.light.ReportType()})
}

func (d *EPL8802) pollProximity() {
	s, err := d.readProximity()
	if err != nil {
		l.WithError(err).WithField("channel", Proximity).Error("sample read failed")
		d.emit(Reading{Channel: Proximity, Value: Unavailable})
		return
	}
	zone, rearm := d.prox.Classify(s)
	if rearm {
		if err := d.writeProximityWindow(d.prox.Armed()); err != nil {
			l.WithError(err).WithField("channel", Proximity).Error("re-arm failed")
		}
	}
	d.emit(Reading{Channel: Proximity, Value: int(zone), Zone: zone, Raw: s.Data})
}

// checkDrift compares the IR and interrupt control registers with what was
// last written. On a mismatch the whole configuration is rewritten with the
// far window armed.
func (d *EPL8802) checkDrift() error {
	b, err := d.bus.Read(EPL8802_REGISTER_PS_IR, 2)
	if err != nil {
		return err
	}
	if b[0] == d.cfg.psIRByte() && b[1] == d.cfg.psIntByte() {
		return nil
	}
	d.driftRecoveries++
	l.WithFields(logrus.Fields{
		"reg0x05": fmt.Sprintf("0x%02x", b[0]),
		"reg0x06": fmt.Sprintf("0x%02x", b[1]),
	}).Warnf("%v, reprogramming", ErrConfigurationDrift)

	far := d.prox.Far()
	d.prox.SetArmed(far)
	if err := d.program(far); err != nil {
		return err
	}
	if err := d.bus.Write(EPL8802_REGISTER_POWER, EPL8802_POWER_ON|EPL8802_RESETN_RUN); err != nil {
		return err
	}
	if err := d.resetCompare(Proximity); err != nil {
		return err
	}
	return ErrConfigurationDrift
}

// SetPollInterval changes the polling cadence.
func (d *EPL8802) SetPollInterval(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	d.pollInterval = interval
	d.restartPolling()
	return nil
}

// update applies fn to a copy of the configuration, validates it and runs the
// reconfiguration path.
func (d *EPL8802) update(fn func(c *Configuration) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	next := d.cfg
	if err := fn(&next); err != nil {
		return err
	}
	next.derive()
	if err := next.Validate(); err != nil {
		return err
	}
	prev := d.snapshot()
	d.cfg = next
	d.light.SetEventDriven(!d.cfg.Light.Polling)
	if err := d.reprogram(); err != nil {
		d.restore(prev)
		return err
	}
	return nil
}

// SetPolling selects timer driven sampling (true) or comparator interrupts
// (false) for a channel.
func (d *EPL8802) SetPolling(ch Channel, polling bool) error {
	return d.update(func(c *Configuration) error {
		c.settings(ch).Polling = polling
		return nil
	})
}

// SetIntegrationTime sets a channel's integration time index. With the
// adaptive light pipeline it re-seeds both range steps instead.
func (d *EPL8802) SetIntegrationTime(ch Channel, intt byte) error {
	if ch == Light && d.isAdaptive() {
		return d.SetLightRange(intt, intt)
	}
	return d.update(func(c *Configuration) error {
		c.settings(ch).IntegrationTime = intt
		return nil
	})
}

func (d *EPL8802) SetGain(ch Channel, gain byte) error {
	if ch == Light && d.isAdaptive() {
		return errors.New("epl8802: light gain is owned by the adaptive range table")
	}
	return d.update(func(c *Configuration) error {
		c.settings(ch).Gain = gain
		return nil
	})
}

func (d *EPL8802) SetADC(ch Channel, adc byte) error {
	return d.update(func(c *Configuration) error {
		c.settings(ch).ADC = adc
		return nil
	})
}

func (d *EPL8802) SetCycle(ch Channel, cycle byte) error {
	return d.update(func(c *Configuration) error {
		c.settings(ch).Cycle = cycle
		return nil
	})
}

func (d *EPL8802) SetPersist(ch Channel, persist byte) error {
	return d.update(func(c *Configuration) error {
		c.settings(ch).Persist = persist
		return nil
	})
}

func (d *EPL8802) SetWait(wait byte) error {
	return d.update(func(c *Configuration) error {
		c.Wait = wait
		return nil
	})
}

// SetIR sets the proximity emitter on-control, drive mode and drive strength.
func (d *EPL8802) SetIR(on bool, voltage bool, drive byte) error {
	return d.update(func(c *Configuration) error {
		c.IROnControl = EPL8802_IR_ON_CTRL_OFF
		if on {
			c.IROnControl = EPL8802_IR_ON_CTRL_ON
		}
		c.IRMode = EPL8802_IR_MODE_CURRENT
		if voltage {
			c.IRMode = EPL8802_IR_MODE_VOLTAGE
		}
		c.IRDrive = drive
		return nil
	})
}

// SetLightInterruptChannel selects which ALS channel drives the comparator.
func (d *EPL8802) SetLightInterruptChannel(channel int) error {
	return d.update(func(c *Configuration) error {
		switch channel {
		case 0:
			c.ALSChannelSelect = EPL8802_ALS_INT_CHSEL_0
		case 1:
			c.ALSChannelSelect = EPL8802_ALS_INT_CHSEL_1
		default:
			return fmt.Errorf("als interrupt channel %d out of range 0-1", channel)
		}
		return nil
	})
}

// SetCancellation writes the crosstalk cancellation registers.
func (d *EPL8802) SetCancellation(v uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	d.cfg.Cancellation = v
	d.prox.SetCancellation(v)
	return d.bus.Do(func(r Registers) error {
		if err := r.Write(EPL8802_REGISTER_PS_CANCEL_L, byte(v&0xff)); err != nil {
			return err
		}
		return r.Write(EPL8802_REGISTER_PS_CANCEL_H, byte(v>>8))
	})
}

// SetThresholds installs an explicit comparator window for a channel.
func (d *EPL8802) SetThresholds(ch Channel, low, high uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	if ch == Proximity {
		if err := d.prox.SetThresholds(low, high); err != nil {
			return err
		}
		return d.writeProximityWindow(d.prox.Armed())
	}
	if err := d.light.SetThresholds(low, high); err != nil {
		return err
	}
	if d.cfg.Light.Polling {
		return nil
	}
	return d.writeLightWindow(low, high)
}

// SetReportType switches the light report pipeline.
func (d *EPL8802) SetReportType(r ReportType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	if err := d.light.SetReportType(r); err != nil {
		return err
	}
	d.light.Reset()
	d.syncLight()
	return d.reprogram()
}

// SetCountGain sets the adaptive pipeline's milli-lux per normalized count.
// An enabled event driven channel gets a zero window so its next frame
// reports in the new scale.
func (d *EPL8802) SetCountGain(milliLux int) error {
	err := d.update(func(c *Configuration) error {
		return d.light.SetCountGain(milliLux)
	})
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted || !d.cfg.Light.Enabled || d.cfg.Light.Polling {
		return nil
	}
	return d.writeLightWindow(0, 0)
}

// SetLightRange re-seeds the two adaptive range steps with new integration
// time indices. Gains and re-range thresholds are kept, the level table is
// rebuilt and the controller restarts at its initial step.
func (d *EPL8802) SetLightRange(intt0, intt1 byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	steps := d.light.Steps()
	if len(steps) < 2 {
		return fmt.Errorf("range table has %d steps, need 2", len(steps))
	}
	steps[0].IntegrationTime = intt0
	steps[1].IntegrationTime = intt1
	if err := d.light.SetRangeSteps(steps); err != nil {
		return err
	}
	d.syncLight()
	l.WithFields(logrus.Fields{"channel": Light, "intt0": IntegrationTimeToString(Light, intt0), "intt1": IntegrationTimeToString(Light, intt1)}).Info("light range table re-seeded")
	return d.reprogram()
}

// Unlock restarts a channel's comparator after a locked event.
func (d *EPL8802) Unlock(ch Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	reg := EPL8802_REGISTER_ALS_STATUS
	if ch == Proximity {
		reg = EPL8802_REGISTER_PS_STATUS
	}
	return d.bus.Write(reg, EPL8802_CMP_RUN|EPL8802_UN_LOCK)
}

// WriteRegister writes one raw register. Meant for bench debugging; the
// engine does not track the change.
func (d *EPL8802) WriteRegister(reg, value byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	l.WithField("reg", fmt.Sprintf("0x%02x", reg)).Warnf("raw register write 0x%02x", value)
	return d.bus.Write(reg, value)
}

func (d *EPL8802) isAdaptive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.light.Adaptive()
}
