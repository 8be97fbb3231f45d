package epl8802

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Zone is a discrete proximity class. The values are the distance codes
// reported upstream.
type Zone int

const (
	ZoneVeryNear Zone = 1
	ZoneNear     Zone = 3
	ZoneFar      Zone = 100
)

func (z Zone) String() string {
	switch z {
	case ZoneVeryNear:
		return "very-near"
	case ZoneNear:
		return "near"
	case ZoneFar:
		return "far"
	default:
		return fmt.Sprintf("Zone(%d)", int(z))
	}
}

// ThresholdPair is a comparator window. Readings outside it raise a compare flag.
type ThresholdPair struct {
	Low  uint16 `json:"low"`
	High uint16 `json:"high"`
}

func (p ThresholdPair) bytes() []byte {
	return append(putLE16(p.Low), putLE16(p.High)...)
}

// ProximityOpts configures a ProximityClassifier.
type ProximityOpts struct {
	LowThreshold  uint16
	HighThreshold uint16
	// MaxCrosstalk bounds an accepted static calibration reading.
	MaxCrosstalk int
	LowOffset    int
	HighOffset   int
	// AutoK bounds and offsets apply to the first reading after enable.
	AutoKMaxCount   int
	AutoKMaxIR      int
	AutoKLowOffset  int
	AutoKHighOffset int
	// VeryNearGain multiplies the far high threshold into the very-near one.
	VeryNearGain       int
	FirstReportGuard   bool
	DynamicCalibration bool
}

func DefaultProximityOpts() ProximityOpts {
	return ProximityOpts{
		LowThreshold:       2000,
		HighThreshold:      2300,
		MaxCrosstalk:       30000,
		LowOffset:          1000,
		HighOffset:         2000,
		AutoKMaxCount:      8800,
		AutoKMaxIR:         50000,
		AutoKLowOffset:     310,
		AutoKHighOffset:    550,
		VeryNearGain:       9,
		FirstReportGuard:   true,
		DynamicCalibration: true,
	}
}

// ProximityCalibration is a persisted static calibration.
type ProximityCalibration struct {
	Crosstalk     uint16 `json:"crosstalk"`
	HighThreshold uint16 `json:"high_threshold"`
	LowThreshold  uint16 `json:"low_threshold"`
}

// ProximityClassifier holds the proximity calibration state and maps compare
// events to zones through three named threshold pairs. It is not safe for
// concurrent use.
type ProximityClassifier struct {
	opts ProximityOpts

	low, high    uint16
	veryNearHigh uint16
	cancellation uint16
	armed        ThresholdPair
	zone         Zone

	firstSample        bool
	calibrationPending bool
	lastData, lastIR   uint16
}

func NewProximityClassifier(opts ProximityOpts) (*ProximityClassifier, error) {
	if err := checkFar(opts.LowThreshold, opts.HighThreshold); err != nil {
		return nil, fmt.Errorf("proximity %w", err)
	}
	if opts.VeryNearGain < 1 {
		opts.VeryNearGain = 1
	}
	c := &ProximityClassifier{opts: opts, zone: ZoneFar, calibrationPending: true}
	c.setFar(opts.LowThreshold, opts.HighThreshold, clamp16(opts.VeryNearGain*int(opts.HighThreshold)))
	c.armed = c.Far()
	return c, nil
}

// checkFar rejects a far window that leaves no room for the very-near
// threshold above it.
func checkFar(low, high uint16) error {
	if low >= high {
		return fmt.Errorf("low threshold %d not below high threshold %d", low, high)
	}
	if high >= EPL8802_MAX_COUNT {
		return fmt.Errorf("high threshold %d must be below %d", high, EPL8802_MAX_COUNT)
	}
	return nil
}

// setFar installs the far window. The caller has checked it with checkFar, so
// the very-near high threshold always lands above high.
func (c *ProximityClassifier) setFar(low, high, veryNearHigh uint16) {
	c.low, c.high = low, high
	if veryNearHigh <= high {
		veryNearHigh = high + 1
	}
	c.veryNearHigh = veryNearHigh
}

// Far is the widest window, armed while nothing is close.
func (c *ProximityClassifier) Far() ThresholdPair { return ThresholdPair{c.low, c.high} }

// Near is armed after the far high threshold was crossed.
func (c *ProximityClassifier) Near() ThresholdPair { return ThresholdPair{c.low, c.veryNearHigh} }

// VeryNear is the narrowest window.
func (c *ProximityClassifier) VeryNear() ThresholdPair { return ThresholdPair{c.high, c.veryNearHigh} }

// Guard is the unreachable window held until the first real compare event.
func (c *ProximityClassifier) Guard() ThresholdPair {
	n := clamp16(c.opts.AutoKMaxCount)
	return ThresholdPair{n, n + 1}
}

func (c *ProximityClassifier) Armed() ThresholdPair { return c.armed }

// SetArmed records the window programmed into the device.
func (c *ProximityClassifier) SetArmed(p ThresholdPair) { c.armed = p }

func (c *ProximityClassifier) Zone() Zone { return c.zone }

func (c *ProximityClassifier) Cancellation() uint16 { return c.cancellation }

func (c *ProximityClassifier) SetCancellation(v uint16) { c.cancellation = v }

func (c *ProximityClassifier) CalibrationPending() bool { return c.calibrationPending }

func (c *ProximityClassifier) Last() (data, ir uint16) { return c.lastData, c.lastIR }

// Options returns the classifier options.
func (c *ProximityClassifier) Options() ProximityOpts { return c.opts }

// BeginEnable resets the zone and returns the window to arm before the first
// sample. With the first report guard enabled that is the guard window.
func (c *ProximityClassifier) BeginEnable() ThresholdPair {
	c.zone = ZoneFar
	c.firstSample = true
	if c.opts.FirstReportGuard {
		c.armed = c.Guard()
	} else {
		c.armed = c.Far()
	}
	return c.armed
}

// AutoCalibrate seeds the thresholds from the first sample after enable. A
// saturated or out of bounds sample falls back to the default thresholds. It
// returns the window to arm; the zone stays far.
func (c *ProximityClassifier) AutoCalibrate(s ProximitySample) ThresholdPair {
	c.lastData, c.lastIR = s.Data, s.IR
	if !c.firstSample {
		c.armed = c.Far()
		return c.armed
	}
	c.firstSample = false
	if !c.opts.DynamicCalibration {
		c.armed = c.Far()
		return c.armed
	}
	fields := logrus.Fields{"channel": Proximity, "raw": s.Data, "ir": s.IR}
	if int(s.Data) < c.opts.AutoKMaxCount && !s.Saturated() && int(s.IR) < c.opts.AutoKMaxIR &&
		int(s.Data)+c.opts.AutoKHighOffset < EPL8802_MAX_COUNT {
		c.setFar(
			clamp16(int(s.Data)+c.opts.AutoKLowOffset),
			clamp16(int(s.Data)+c.opts.AutoKHighOffset),
			clamp16(int(s.Data)+c.opts.VeryNearGain*c.opts.AutoKHighOffset),
		)
		l.WithFields(fields).Infof("proximity thresholds seeded at %d/%d", c.low, c.high)
	} else {
		c.setFar(c.opts.LowThreshold, c.opts.HighThreshold, clamp16(c.opts.VeryNearGain*int(c.opts.HighThreshold)))
		l.WithFields(fields).Warnf("proximity sample unusable for auto calibration, defaults %d/%d kept", c.low, c.high)
	}
	c.zone = ZoneFar
	c.armed = c.Far()
	return c.armed
}

// Classify maps a sample and its compare flags to a zone. Raw values alone
// never demote a zone; only the device's compare-low flag does. When a new
// window must be armed it is returned with rearm set.
func (c *ProximityClassifier) Classify(s ProximitySample) (zone Zone, rearm bool) {
	c.lastData, c.lastIR = s.Data, s.IR
	switch {
	case s.CompareLow():
		c.zone = ZoneFar
		rearm = c.armed != c.Far()
		c.armed = c.Far()
	case s.CompareHigh():
		switch c.armed {
		case c.Far():
			c.zone = ZoneNear
			c.armed = c.Near()
			rearm = true
		case c.Near():
			c.zone = ZoneVeryNear
			c.armed = c.VeryNear()
			rearm = true
		default:
			c.zone = ZoneVeryNear
		}
	}
	l.WithFields(logrus.Fields{"channel": Proximity, "raw": s.Data, "zone": c.zone}).Debug("proximity classified")
	return c.zone, rearm
}

// SetThresholds installs an explicit far window. The very-near high threshold
// follows from the gain multiplier.
func (c *ProximityClassifier) SetThresholds(low, high uint16) error {
	if err := checkFar(low, high); err != nil {
		return err
	}
	c.setFar(low, high, clamp16(c.opts.VeryNearGain*int(high)))
	c.armed = c.Far()
	return nil
}

// ComputeCalibration derives a static calibration from a crosstalk reading
// without touching the current state.
func (c *ProximityClassifier) ComputeCalibration(crosstalk int) (ProximityCalibration, error) {
	if c.opts.MaxCrosstalk < 0 {
		return ProximityCalibration{}, &CalibrationError{Reason: "negative crosstalk bound", Measured: crosstalk}
	}
	if crosstalk > c.opts.MaxCrosstalk {
		return ProximityCalibration{}, &CalibrationError{Reason: fmt.Sprintf("crosstalk above %d", c.opts.MaxCrosstalk), Measured: crosstalk}
	}
	if crosstalk < 0 {
		return ProximityCalibration{}, &CalibrationError{Reason: "negative crosstalk", Measured: crosstalk}
	}
	cal := ProximityCalibration{
		Crosstalk:     c.cancellation,
		HighThreshold: clamp16(crosstalk + c.opts.HighOffset),
		LowThreshold:  clamp16(crosstalk + c.opts.LowOffset),
	}
	if err := checkFar(cal.LowThreshold, cal.HighThreshold); err != nil {
		return ProximityCalibration{}, &CalibrationError{Reason: err.Error(), Measured: crosstalk}
	}
	return cal, nil
}

// ApplyCalibration installs a static calibration as the far window.
func (c *ProximityClassifier) ApplyCalibration(cal ProximityCalibration) error {
	if err := checkFar(cal.LowThreshold, cal.HighThreshold); err != nil {
		return &CalibrationError{Reason: err.Error(), Measured: int(cal.HighThreshold)}
	}
	c.cancellation = cal.Crosstalk
	c.setFar(cal.LowThreshold, cal.HighThreshold, clamp16(c.opts.VeryNearGain*int(cal.HighThreshold)))
	c.armed = c.Far()
	return nil
}

// MarkCalibrationLoaded clears the pending flag once the factory calibration
// has been looked up, whether or not one was found.
func (c *ProximityClassifier) MarkCalibrationLoaded() { c.calibrationPending = false }

func clamp16(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > EPL8802_MAX_COUNT {
		return EPL8802_MAX_COUNT
	}
	return uint16(v)
}
