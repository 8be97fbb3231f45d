package epl8802

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
)

// edgePoll bounds each wait on the interrupt line so cancellation is noticed.
const edgePoll = 250 * time.Millisecond

// maxHeldEvents bounds how many events are serviced back to back while the
// line stays low.
const maxHeldEvents = 8

// WatchInterrupt services the sensor's active-low interrupt line until ctx is
// done. Each event is handed to a single handler goroutine and the line is not
// watched again until that event has been handled. The sensor holds the line
// low while an event is pending, so after each handled event the level is
// checked again; an event latched during handling produces no new edge.
func (d *EPL8802) WatchInterrupt(ctx context.Context, pin gpio.PinIn) error {
	if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("Failed to configure interrupt pin %s: %w", pin, err)
	}
	events := make(chan chan struct{})
	go d.eventLoop(ctx, events)

	dispatch := func() error {
		done := make(chan struct{})
		select {
		case events <- done:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.WithField("pin", pin.String()).Info("watching interrupt line")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !pin.WaitForEdge(edgePoll) {
			continue
		}
		if err := dispatch(); err != nil {
			return err
		}
		held := 0
		for ; held < maxHeldEvents && pin.Read() == gpio.Low; held++ {
			if err := dispatch(); err != nil {
				return err
			}
		}
		if held == maxHeldEvents && pin.Read() == gpio.Low {
			l.WithField("pin", pin.String()).Warnf("interrupt line still low after %d events", held)
		}
	}
}

func (d *EPL8802) eventLoop(ctx context.Context, events <-chan chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case done := <-events:
			if err := d.HandleInterrupt(); err != nil {
				l.WithError(err).Error("interrupt handling failed")
			}
			close(done)
		}
	}
}

// HandleInterrupt services one comparator event: it classifies whichever
// channel raised it, re-arms the comparator window and restarts the compare
// logic.
func (d *EPL8802) HandleInterrupt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}

	ps, psErr := d.readProximity()
	if psErr != nil && d.cfg.Proximity.Enabled {
		d.emit(Reading{Channel: Proximity, Value: Unavailable})
	}
	als, alsErr := d.readLight()
	if alsErr != nil && d.cfg.Light.Enabled {
		d.emit(Reading{Channel: Light, Value: Unavailable, ReportType: d.light.ReportType()})
	}
	if err := errors.Join(psErr, alsErr); err != nil {
		return err
	}

	if ps.InterruptPending() {
		if err := d.handleProximityEvent(ps); err != nil {
			return err
		}
	}
	if als.InterruptPending() {
		if err := d.handleLightEvent(als); err != nil {
			return err
		}
		if err := d.bus.Write(EPL8802_REGISTER_ALS_STATUS, EPL8802_CMP_RUN|EPL8802_UN_LOCK); err != nil {
			return err
		}
	}
	return nil
}

func (d *EPL8802) handleProximityEvent(s ProximitySample) error {
	// The device is the authority on which window is armed.
	b, err := d.bus.Read(EPL8802_REGISTER_PS_THD, 4)
	if err != nil {
		return err
	}
	d.prox.SetArmed(ThresholdPair{Low: le16(b[0:2]), High: le16(b[2:4])})

	zone, rearm := d.prox.Classify(s)
	if rearm {
		err := d.bus.Do(func(r Registers) error {
			if err := r.Write(EPL8802_REGISTER_PS_THD, d.prox.Armed().bytes()...); err != nil {
				return err
			}
			return r.Write(EPL8802_REGISTER_PS_STATUS, EPL8802_CMP_RESET|EPL8802_UN_LOCK)
		})
		if err != nil {
			return err
		}
	}
	if d.cfg.Proximity.Enabled {
		d.emit(Reading{Channel: Proximity, Value: int(zone), Zone: zone, Raw: s.Data})
	}
	return d.bus.Write(EPL8802_REGISTER_PS_STATUS, EPL8802_CMP_RUN|EPL8802_UN_LOCK)
}

// handleLightEvent reports the light level behind an ALS comparator event and
// arms the window around it. The sensor idles while the window is rewritten.
func (d *EPL8802) handleLightEvent(s LightSample) error {
	if !d.cfg.Light.Enabled {
		return nil
	}
	if err := d.bus.Write(EPL8802_REGISTER_MODE, d.cfg.Wait<<4|EPL8802_MODE_IDLE); err != nil {
		return err
	}
	value, changed := d.light.Classify(s.Channel1)
	err := d.bus.Do(func(r Registers) error {
		if err := r.Write(EPL8802_REGISTER_ALS_STATUS, EPL8802_CMP_RESET|EPL8802_UN_LOCK); err != nil {
			return err
		}
		return r.Write(EPL8802_REGISTER_POWER, EPL8802_POWER_OFF|EPL8802_RESETN_RESET)
	})
	if err != nil {
		return err
	}
	if changed {
		return d.applyRange()
	}

	l.WithFields(logrus.Fields{"channel": Light, "raw": s.Channel1, "lux": value}).Debug("light event")
	d.emit(Reading{Channel: Light, Value: value, Raw: s.Channel1, ReportType: d.light.ReportType()})
	low, high := d.light.NextWindow(value, s.Channel1)
	return d.bus.Do(func(r Registers) error {
		if err := r.Write(EPL8802_REGISTER_ALS_THD, ThresholdPair{low, high}.bytes()...); err != nil {
			return err
		}
		if err := r.Write(EPL8802_REGISTER_MODE, d.cfg.modeByte()); err != nil {
			return err
		}
		return r.Write(EPL8802_REGISTER_POWER, EPL8802_POWER_ON|EPL8802_RESETN_RUN)
	})
}
