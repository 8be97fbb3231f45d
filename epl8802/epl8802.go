package epl8802

/*
 * epl8802 - Package for driving ELAN EPL8802 ambient light / proximity sensors.
 *
 * The engine owns the sensor configuration, turns raw counts into lux and
 * proximity zones, and decides per channel between timer driven polling and
 * comparator driven interrupts.
 */

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Features are behaviour variants chosen at construction.
type Features struct {
	AutoRange          bool `json:"auto_range"`
	FirstReportGuard   bool `json:"first_report_guard"`
	DynamicCalibration bool `json:"dynamic_calibration"`
	FaultRecovery      bool `json:"fault_recovery"`
}

// Opts configures an EPL8802. A nil *Opts selects DefaultOpts.
type Opts struct {
	Configuration  Configuration
	Light          LightOpts
	Proximity      ProximityOpts
	Features       Features
	PollInterval   time.Duration
	Store          CalibrationStore
	ReadingsBuffer int
}

func DefaultOpts() *Opts {
	return &Opts{
		Configuration: DefaultConfiguration(),
		Light:         DefaultLightOpts(),
		Proximity:     DefaultProximityOpts(),
		Features: Features{
			AutoRange:          true,
			FirstReportGuard:   true,
			DynamicCalibration: true,
			FaultRecovery:      true,
		},
		PollInterval:   EPL8802_POLLING_TIME * time.Millisecond,
		ReadingsBuffer: 64,
	}
}

type EPL8802 struct {
	bus      *Bus
	mu       sync.Mutex
	cfg      Configuration
	light    *LightController
	prox     *ProximityClassifier
	store    CalibrationStore
	features Features

	pollInterval time.Duration
	timer        *time.Timer
	timerGen     int

	readings    chan Reading
	lastReading map[Channel]Reading

	revno           uint16
	alsFrame        int
	psFrame         int
	driftRecoveries int
	halted          bool

	sleep func(time.Duration)
	now   func() time.Time
}

// NewEPL8802 brings the sensor up with both channels disabled.
func NewEPL8802(bus *Bus, opts *Opts) (*EPL8802, error) {
	if bus == nil {
		return nil, errors.New("epl8802: nil bus")
	}
	if opts == nil {
		opts = DefaultOpts()
	}
	lightOpts := opts.Light
	lightOpts.AutoRange = opts.Features.AutoRange
	light, err := NewLightController(lightOpts)
	if err != nil {
		return nil, fmt.Errorf("Failed to build light controller: %w", err)
	}
	proxOpts := opts.Proximity
	proxOpts.FirstReportGuard = opts.Features.FirstReportGuard
	proxOpts.DynamicCalibration = opts.Features.DynamicCalibration
	prox, err := NewProximityClassifier(proxOpts)
	if err != nil {
		return nil, fmt.Errorf("Failed to build proximity classifier: %w", err)
	}

	cfg := opts.Configuration
	cfg.Light.Enabled, cfg.Proximity.Enabled = false, false
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store := opts.Store
	if store == nil {
		store = NopCalibrationStore{}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = EPL8802_POLLING_TIME * time.Millisecond
	}
	buffer := opts.ReadingsBuffer
	if buffer <= 0 {
		buffer = 64
	}

	d := &EPL8802{
		bus:          bus,
		cfg:          cfg,
		light:        light,
		prox:         prox,
		store:        store,
		features:     opts.Features,
		pollInterval: interval,
		readings:     make(chan Reading, buffer),
		lastReading:  make(map[Channel]Reading),
		sleep:        time.Sleep,
		now:          time.Now,
	}
	d.syncLight()
	d.cfg.derive()
	d.light.SetEventDriven(!d.cfg.Light.Polling)
	d.prox.SetCancellation(d.cfg.Cancellation)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.program(d.prox.Armed()); err != nil {
		return nil, fmt.Errorf("Failed to initialize sensor: %w", err)
	}
	l.WithFields(logrus.Fields{"revno": fmt.Sprintf("0x%04x", d.revno)}).Info("epl8802 initialized")
	return d, nil
}

// syncLight copies the active range step into the configuration so the
// programmed integration time and gain always match the range index.
func (d *EPL8802) syncLight() {
	if !d.light.Adaptive() {
		return
	}
	_, step := d.light.Step()
	d.cfg.Light.IntegrationTime = step.IntegrationTime
	d.cfg.Light.Gain = step.Gain
}

// program pushes the full configuration with the device held in power-off
// and reset. ps is the proximity window to arm. The device is left powered
// down; updateMode powers it up.
func (d *EPL8802) program(ps ThresholdPair) error {
	c := &d.cfg
	return d.bus.Do(func(r Registers) error {
		if err := r.Write(EPL8802_REGISTER_POWER, EPL8802_POWER_OFF|EPL8802_RESETN_RESET); err != nil {
			return err
		}
		rev, err := r.Read(EPL8802_REGISTER_REVNO, 2)
		if err != nil {
			return err
		}
		d.revno = le16(rev)

		writes := []struct {
			reg byte
			val byte
		}{
			{EPL8802_REGISTER_REFRESH_A, EPL8802_REFRESH_KEY},
			{EPL8802_REGISTER_REFRESH_B, EPL8802_REFRESH_STEP_1},
			{EPL8802_REGISTER_REFRESH_B, EPL8802_REFRESH_STEP_2},
			{EPL8802_REGISTER_REFRESH_A, EPL8802_REFRESH_DONE},
			{EPL8802_REGISTER_GAIN_CTRL, EPL8802_GAIN_CTRL_NORMAL},
			{EPL8802_REGISTER_PS_INTT, c.psInttByte()},
			{EPL8802_REGISTER_PS_ADC, c.psAdcByte()},
			{EPL8802_REGISTER_PS_IR, c.psIRByte()},
			{EPL8802_REGISTER_PS_INT, c.psIntByte()},
			{EPL8802_REGISTER_PS_STATUS, EPL8802_CMP_RUN | EPL8802_UN_LOCK},
			{EPL8802_REGISTER_PS_CANCEL_L, byte(c.Cancellation & 0xff)},
			{EPL8802_REGISTER_PS_CANCEL_H, byte(c.Cancellation >> 8)},
			{EPL8802_REGISTER_ALS_INTT, c.alsInttByte()},
			{EPL8802_REGISTER_ALS_ADC, c.alsAdcByte()},
			{EPL8802_REGISTER_ALS_INT, c.alsIntByte()},
			{EPL8802_REGISTER_ALS_STATUS, EPL8802_CMP_RUN | EPL8802_UN_LOCK},
			{EPL8802_REGISTER_MODE, c.modeByte()},
		}
		for _, w := range writes {
			if err := r.Write(w.reg, w.val); err != nil {
				return err
			}
		}
		if err := r.Write(EPL8802_REGISTER_PS_THD, ps.bytes()...); err != nil {
			return err
		}
		if !c.Light.Polling {
			low, high := d.light.Thresholds()
			return r.Write(EPL8802_REGISTER_ALS_THD, ThresholdPair{low, high}.bytes()...)
		}
		return nil
	})
}

// updateMode powers the device up in the configured mode. The factory
// calibration is looked up the first time through.
func (d *EPL8802) updateMode(psFirst bool) error {
	c := &d.cfg
	d.alsFrame = alsSensingTime(c.Light.IntegrationTime, c.Light.ADC, c.Light.Cycle)
	d.psFrame = psSensingTime(c.Proximity.IntegrationTime, c.Proximity.ADC, c.Proximity.Cycle)

	if err := d.loadFactoryCalibration(); err != nil {
		return err
	}

	err := d.bus.Do(func(r Registers) error {
		if err := r.Write(EPL8802_REGISTER_POWER, EPL8802_POWER_OFF|EPL8802_RESETN_RESET); err != nil {
			return err
		}
		if err := r.Write(EPL8802_REGISTER_MODE, c.modeByte()); err != nil {
			return err
		}
		if c.Mode != EPL8802_MODE_IDLE {
			return r.Write(EPL8802_REGISTER_POWER, EPL8802_POWER_ON|EPL8802_RESETN_RUN)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.WithFields(logrus.Fields{"mode": ModeToString(c.Mode), "reg0x06": fmt.Sprintf("0x%02x", c.psIntByte()), "reg0x07": fmt.Sprintf("0x%02x", c.alsIntByte())}).Debug("mode updated")

	if psFirst {
		if err := d.resetCompare(Proximity); err != nil {
			return err
		}
		d.sleep(time.Duration(d.psFrame) * time.Millisecond)
	}
	return nil
}

// fastUpdate runs one single-cycle ALS frame so a fresh sample is available
// without waiting a full integration period, then restores the cycle count.
func (d *EPL8802) fastUpdate() error {
	c := &d.cfg
	fast := alsSensingTime(c.Light.IntegrationTime, c.Light.ADC, EPL8802_CYCLE_1)
	err := d.bus.Do(func(r Registers) error {
		if err := r.Write(EPL8802_REGISTER_POWER, EPL8802_POWER_OFF|EPL8802_RESETN_RESET); err != nil {
			return err
		}
		if err := r.Write(EPL8802_REGISTER_ALS_ADC, c.Light.ADC<<3|EPL8802_CYCLE_1); err != nil {
			return err
		}
		if err := r.Write(EPL8802_REGISTER_ALS_INTT, c.alsInttByte()); err != nil {
			return err
		}
		if err := r.Write(EPL8802_REGISTER_MODE, c.Wait<<4|EPL8802_MODE_ALS); err != nil {
			return err
		}
		return r.Write(EPL8802_REGISTER_POWER, EPL8802_POWER_ON|EPL8802_RESETN_RUN)
	})
	if err != nil {
		return err
	}

	d.sleep(time.Duration(fast) * time.Millisecond)

	return d.bus.Do(func(r Registers) error {
		if !c.Light.Polling {
			// The fast frame already ran the comparator once.
			if err := r.Write(EPL8802_REGISTER_MODE, c.Wait<<4|EPL8802_MODE_IDLE); err != nil {
				return err
			}
			if err := r.Write(EPL8802_REGISTER_ALS_STATUS, EPL8802_CMP_RESET|EPL8802_UN_LOCK); err != nil {
				return err
			}
			if err := r.Write(EPL8802_REGISTER_ALS_STATUS, EPL8802_CMP_RUN|EPL8802_UN_LOCK); err != nil {
				return err
			}
		}
		if err := r.Write(EPL8802_REGISTER_POWER, EPL8802_POWER_OFF|EPL8802_RESETN_RESET); err != nil {
			return err
		}
		return r.Write(EPL8802_REGISTER_ALS_ADC, c.alsAdcByte())
	})
}

func (d *EPL8802) resetCompare(ch Channel) error {
	reg := EPL8802_REGISTER_ALS_STATUS
	if ch == Proximity {
		reg = EPL8802_REGISTER_PS_STATUS
	}
	return d.bus.Do(func(r Registers) error {
		if err := r.Write(reg, EPL8802_CMP_RESET|EPL8802_UN_LOCK); err != nil {
			return err
		}
		return r.Write(reg, EPL8802_CMP_RUN|EPL8802_UN_LOCK)
	})
}

func (d *EPL8802) loadFactoryCalibration() error {
	if !d.prox.CalibrationPending() {
		return nil
	}
	d.prox.MarkCalibrationLoaded()

	if scale, ok, err := d.store.LoadLightScaleFactor(); err != nil {
		l.WithField("channel", Light).Warnf("%v: %v", ErrCalibrationInvalid, err)
	} else if ok {
		if err := d.light.SetLuxPerCount(scale); err != nil {
			l.WithField("channel", Light).Warnf("%v: %v", ErrCalibrationInvalid, err)
		}
	}

	cal, ok, err := d.store.LoadProximityCalibration()
	if err != nil {
		l.WithField("channel", Proximity).Warnf("%v: %v", ErrCalibrationInvalid, err)
		return nil
	}
	if !ok {
		return nil
	}
	armed := d.prox.Armed()
	guarded := armed == d.prox.Guard()
	if err := d.prox.ApplyCalibration(cal); err != nil {
		l.WithField("channel", Proximity).Warn(err)
		return nil
	}
	if guarded {
		d.prox.SetArmed(armed)
	}
	d.cfg.Cancellation = cal.Crosstalk
	l.WithFields(logrus.Fields{"channel": Proximity, "crosstalk": cal.Crosstalk}).Infof("factory calibration loaded, thresholds %d/%d", cal.LowThreshold, cal.HighThreshold)
	return d.bus.Do(func(r Registers) error {
		if err := r.Write(EPL8802_REGISTER_PS_CANCEL_L, byte(cal.Crosstalk&0xff)); err != nil {
			return err
		}
		if err := r.Write(EPL8802_REGISTER_PS_CANCEL_H, byte(cal.Crosstalk>>8)); err != nil {
			return err
		}
		return r.Write(EPL8802_REGISTER_PS_THD, d.prox.Armed().bytes()...)
	})
}

func (d *EPL8802) readLight() (LightSample, error) {
	b, err := d.bus.Read(EPL8802_REGISTER_ALS_STATUS, 5)
	if err != nil {
		return LightSample{}, err
	}
	return decodeLightSample(b), nil
}

func (d *EPL8802) readProximity() (ProximitySample, error) {
	b, err := d.bus.Read(EPL8802_REGISTER_PS_STATUS, 5)
	if err != nil {
		return ProximitySample{}, err
	}
	return decodeProximitySample(b), nil
}

func (d *EPL8802) writeProximityWindow(p ThresholdPair) error {
	return d.bus.Write(EPL8802_REGISTER_PS_THD, p.bytes()...)
}

func (d *EPL8802) writeLightWindow(low, high uint16) error {
	return d.bus.Write(EPL8802_REGISTER_ALS_THD, ThresholdPair{low, high}.bytes()...)
}

// Calibrate measures the current proximity crosstalk and derives static
// thresholds from it. The result is saved before it takes effect; on any
// failure the previous thresholds stay armed.
func (d *EPL8802) Calibrate() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return 0, ErrHalted
	}
	if !d.cfg.Proximity.Enabled {
		return 0, &CalibrationError{Reason: "proximity channel disabled", Measured: Unavailable}
	}
	s, err := d.readProximity()
	if err != nil {
		return 0, err
	}
	cal, err := d.prox.ComputeCalibration(int(s.Data))
	if err != nil {
		l.WithFields(logrus.Fields{"channel": Proximity, "raw": s.Data}).Error(err)
		return 0, err
	}
	if err := d.store.SaveProximityCalibration(cal); err != nil {
		return 0, &CalibrationError{Reason: fmt.Sprintf("save failed: %v", err), Measured: int(s.Data)}
	}
	if err := d.prox.ApplyCalibration(cal); err != nil {
		return 0, err
	}
	if err := d.writeProximityWindow(d.prox.Armed()); err != nil {
		return 0, err
	}
	l.WithFields(logrus.Fields{"channel": Proximity, "raw": s.Data}).Infof("proximity calibrated, thresholds %d/%d", cal.LowThreshold, cal.HighThreshold)
	return int(s.Data), nil
}

// Configuration returns a copy of the intended device state.
func (d *EPL8802) Configuration() Configuration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// ReadConfiguration reads the configuration registers back from the device.
func (d *EPL8802) ReadConfiguration() (Configuration, error) {
	var block, cancel []byte
	err := d.bus.Do(func(r Registers) error {
		var err error
		if block, err = r.Read(EPL8802_REGISTER_MODE, 8); err != nil {
			return err
		}
		cancel, err = r.Read(EPL8802_REGISTER_PS_CANCEL_L, 2)
		return err
	})
	if err != nil {
		return Configuration{}, err
	}
	return DecodeConfiguration(block, cancel)
}

// Revision returns the chip revision read at the last full program.
func (d *EPL8802) Revision() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revno
}

// Status is a snapshot of the engine for the control surface.
type Status struct {
	Revision         uint16        `json:"revision"`
	Mode             string        `json:"mode"`
	Configuration    Configuration `json:"configuration"`
	LightEnabled     bool          `json:"light_enabled"`
	ProximityEnabled bool          `json:"proximity_enabled"`
	LightPolling     bool          `json:"light_polling"`
	ProximityPolling bool          `json:"proximity_polling"`
	ReportType       ReportType    `json:"report_type"`
	LightFrameMs     int           `json:"light_frame_ms"`
	ProximityFrameMs int           `json:"proximity_frame_ms"`
	RangeIndex       int           `json:"range_index"`
	RangeSteps       []RangeStep   `json:"range_steps"`
	LightThresholds  ThresholdPair `json:"light_thresholds"`
	LuxLevels        []int         `json:"lux_levels"`
	RawLevels        []int         `json:"raw_levels"`
	Lux              int           `json:"lux"`
	LightRaw         uint16        `json:"light_raw"`
	Far              ThresholdPair `json:"far"`
	Near             ThresholdPair `json:"near"`
	VeryNear         ThresholdPair `json:"very_near"`
	Armed            ThresholdPair `json:"armed"`
	Zone             Zone          `json:"zone"`
	ProximityRaw     uint16        `json:"proximity_raw"`
	ProximityIR      uint16        `json:"proximity_ir"`
	Cancellation     uint16        `json:"cancellation"`
	PollInterval     string        `json:"poll_interval"`
	Polling          bool          `json:"polling"`
	DriftRecoveries  int           `json:"drift_recoveries"`
	Features         Features      `json:"features"`
}

func (d *EPL8802) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx, _ := d.light.Step()
	low, high := d.light.Thresholds()
	data, ir := d.prox.Last()
	zone := d.prox.Zone()
	if !d.cfg.Proximity.Enabled {
		zone = Unavailable
	}
	lux := d.light.Lux()
	if !d.cfg.Light.Enabled {
		lux = Unavailable
	}
	return Status{
		Revision:         d.revno,
		Mode:             ModeToString(d.cfg.Mode),
		Configuration:    d.cfg,
		LightEnabled:     d.cfg.Light.Enabled,
		ProximityEnabled: d.cfg.Proximity.Enabled,
		LightPolling:     d.cfg.Light.Polling,
		ProximityPolling: d.cfg.Proximity.Polling,
		ReportType:       d.light.ReportType(),
		LightFrameMs:     alsSensingTime(d.cfg.Light.IntegrationTime, d.cfg.Light.ADC, d.cfg.Light.Cycle),
		ProximityFrameMs: psSensingTime(d.cfg.Proximity.IntegrationTime, d.cfg.Proximity.ADC, d.cfg.Proximity.Cycle),
		RangeIndex:       idx,
		RangeSteps:       d.light.Steps(),
		LightThresholds:  ThresholdPair{low, high},
		LuxLevels:        d.light.Levels().LuxLevels(),
		RawLevels:        d.light.Levels().RawLevels(),
		Lux:              lux,
		LightRaw:         d.light.LastRaw(),
		Far:              d.prox.Far(),
		Near:             d.prox.Near(),
		VeryNear:         d.prox.VeryNear(),
		Armed:            d.prox.Armed(),
		Zone:             zone,
		ProximityRaw:     data,
		ProximityIR:      ir,
		Cancellation:     d.cfg.Cancellation,
		PollInterval:     d.pollInterval.String(),
		Polling:          d.timer != nil,
		DriftRecoveries:  d.driftRecoveries,
		Features:         d.features,
	}
}

// DumpRegisters reads registers 0x00 through 0x23.
func (d *EPL8802) DumpRegisters() ([]byte, error) {
	return d.bus.Read(EPL8802_REGISTER_MODE, int(EPL8802_REGISTER_PS_CANCEL_H)+1)
}

// Halt stops polling and powers the sensor down. Every later operation
// returns ErrHalted.
func (d *EPL8802) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return nil
	}
	d.halted = true
	d.stopPolling()
	d.cfg.Light.Enabled, d.cfg.Proximity.Enabled = false, false
	d.cfg.derive()
	d.emit(Reading{Channel: Light, Value: Unavailable})
	d.emit(Reading{Channel: Proximity, Value: Unavailable})
	return d.bus.Do(func(r Registers) error {
		if err := r.Write(EPL8802_REGISTER_MODE, d.cfg.modeByte()); err != nil {
			return err
		}
		return r.Write(EPL8802_REGISTER_POWER, EPL8802_POWER_OFF|EPL8802_RESETN_RESET)
	})
}
