package epl8802

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Unavailable is reported for a disabled channel or a suppressed sample.
const Unavailable = -1

// ReportType selects how a raw light count becomes a report value.
type ReportType int

const (
	ReportRaw ReportType = iota
	ReportScaled
	ReportTable
	ReportAdaptive
	ReportLevel
)

func (r ReportType) String() string {
	switch r {
	case ReportRaw:
		return "raw"
	case ReportScaled:
		return "scaled"
	case ReportTable:
		return "table"
	case ReportAdaptive:
		return "adaptive"
	case ReportLevel:
		return "level"
	default:
		return fmt.Sprintf("ReportType(%d)", int(r))
	}
}

func (r ReportType) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func ParseReportType(s string) (ReportType, error) {
	switch strings.ToLower(s) {
	case "raw":
		return ReportRaw, nil
	case "scaled", "pre_count", "precount":
		return ReportScaled, nil
	case "table":
		return ReportTable, nil
	case "adaptive", "dyn_int", "dynamic":
		return ReportAdaptive, nil
	case "level", "intr_level":
		return ReportLevel, nil
	}
	return 0, fmt.Errorf("unknown report type %q", s)
}

// RangeStep is one integration time/gain pair of the adaptive range table,
// with the raw counts that move the controller to a neighbouring step.
type RangeStep struct {
	IntegrationTime byte `json:"integration_time"`
	Gain            byte `json:"gain"`
	High            int  `json:"high"`
	Low             int  `json:"low"`
}

func (s RangeStep) weight() int64 {
	return int64(alsIntegrationTime[s.IntegrationTime&0x0f]) * int64(gainMultiplier(s.Gain))
}

// DefaultRangeSteps covers dim light at mid gain and bright light at low gain.
var DefaultRangeSteps = []RangeStep{
	{IntegrationTime: EPL8802_ALS_INTT_1024, Gain: EPL8802_GAIN_MID, High: 60000, Low: 200},
	{IntegrationTime: EPL8802_ALS_INTT_1024, Gain: EPL8802_GAIN_LOW, High: 60000, Low: 200},
}

// Raw count breakpoints and the lux reported between them for ReportTable.
var (
	tableLevels = []int{20, 45, 70, 90, 150, 300, 500, 700, 1150, 2250, 4500, 8000, 15000, 30000, 50000}
	tableValues = []int{10, 30, 60, 80, 100, 200, 400, 600, 800, 1500, 3000, 6000, 10000, 20000, 40000, 60000}
)

// LightOpts configures a LightController.
type LightOpts struct {
	ReportType    ReportType
	Steps         []RangeStep
	InitialStep   int
	ReferenceStep int
	// CountGain is the adaptive pipeline's milli-lux per normalized count.
	CountGain int
	// LuxPerCount is the milli-lux per count used by the scaled and level types.
	LuxPerCount int
	MinLux      int
	MaxLux      int
	LuxLevels   []int
	// Thresholds used in event-driven mode by report types without levels.
	LowThreshold  uint16
	HighThreshold uint16
	AutoRange     bool
}

// DefaultLightOpts returns the reference board light settings.
func DefaultLightOpts() LightOpts {
	return LightOpts{
		ReportType:    ReportAdaptive,
		Steps:         DefaultRangeSteps,
		InitialStep:   1,
		ReferenceStep: 1,
		CountGain:     300,
		LuxPerCount:   400,
		MinLux:        0,
		MaxLux:        17000,
		LuxLevels:     DefaultLuxLevels,
		LowThreshold:  1000,
		HighThreshold: 3000,
		AutoRange:     true,
	}
}

// LightController turns raw light counts into report values and walks the
// adaptive range table. It is not safe for concurrent use; the engine
// serializes access.
type LightController struct {
	opts        LightOpts
	steps       []RangeStep
	idx         int
	levels      *InterruptLevelTable
	eventDriven bool

	low, high uint16
	lastRaw   uint16
	lastNorm  int
	lastLux   int
	lastLevel int
}

func NewLightController(opts LightOpts) (*LightController, error) {
	c := &LightController{opts: opts, low: opts.LowThreshold, high: opts.HighThreshold}
	if c.opts.CountGain <= 0 {
		c.opts.CountGain = 300
	}
	if c.opts.LuxPerCount <= 0 {
		c.opts.LuxPerCount = 400
	}
	if len(c.opts.LuxLevels) == 0 {
		c.opts.LuxLevels = DefaultLuxLevels
	}
	steps := opts.Steps
	if len(steps) == 0 {
		steps = DefaultRangeSteps
	}
	if err := c.SetRangeSteps(steps); err != nil {
		return nil, err
	}
	return c, nil
}

// SetRangeSteps replaces the adaptive range table. The level table is rebuilt
// and the controller restarts at the initial step.
func (c *LightController) SetRangeSteps(steps []RangeStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("range table is empty")
	}
	for i, s := range steps {
		if s.IntegrationTime > 15 {
			return fmt.Errorf("range step %d: integration time index %d out of range", i, s.IntegrationTime)
		}
		if s.Low >= s.High {
			return fmt.Errorf("range step %d: low threshold %d not below high threshold %d", i, s.Low, s.High)
		}
	}
	if c.opts.InitialStep < 0 || c.opts.InitialStep >= len(steps) {
		return fmt.Errorf("initial step %d outside table of %d", c.opts.InitialStep, len(steps))
	}
	if c.opts.ReferenceStep < 0 || c.opts.ReferenceStep >= len(steps) {
		return fmt.Errorf("reference step %d outside table of %d", c.opts.ReferenceStep, len(steps))
	}
	c.steps = append([]RangeStep(nil), steps...)
	c.Reset()
	c.rebuildLevels()
	return nil
}

// Reset returns to the initial range step, as on every enable.
func (c *LightController) Reset() {
	c.idx = c.opts.InitialStep
	c.lastLux = Unavailable
	c.lastLevel = 0
}

func (c *LightController) rebuildLevels() {
	scale := c.opts.LuxPerCount
	if c.opts.ReportType == ReportAdaptive {
		scale = c.opts.CountGain
	}
	c.levels = NewInterruptLevelTable(c.opts.LuxLevels, scale)
}

func (c *LightController) SetReportType(r ReportType) error {
	if r < ReportRaw || r > ReportLevel {
		return fmt.Errorf("unknown report type %d", int(r))
	}
	c.opts.ReportType = r
	c.rebuildLevels()
	return nil
}

func (c *LightController) ReportType() ReportType { return c.opts.ReportType }

// SetLuxPerCount changes the scale factor, usually from a factory calibration.
func (c *LightController) SetLuxPerCount(milliLux int) error {
	if milliLux <= 0 {
		return fmt.Errorf("lux per count must be positive, got %d", milliLux)
	}
	c.opts.LuxPerCount = milliLux
	c.rebuildLevels()
	return nil
}

func (c *LightController) SetCountGain(milliLux int) error {
	if milliLux <= 0 {
		return fmt.Errorf("count gain must be positive, got %d", milliLux)
	}
	c.opts.CountGain = milliLux
	c.rebuildLevels()
	return nil
}

func (c *LightController) SetEventDriven(on bool) { c.eventDriven = on }

func (c *LightController) SetThresholds(low, high uint16) error {
	if low >= high {
		return fmt.Errorf("low threshold %d not below high threshold %d", low, high)
	}
	c.low, c.high = low, high
	return nil
}

// Thresholds returns the comparator window last computed or set.
func (c *LightController) Thresholds() (low, high uint16) { return c.low, c.high }

// Adaptive reports whether the range table drives the front end settings.
func (c *LightController) Adaptive() bool { return c.opts.ReportType == ReportAdaptive }

// Step returns the active range step and its index.
func (c *LightController) Step() (int, RangeStep) { return c.idx, c.steps[c.idx] }

func (c *LightController) Steps() []RangeStep { return append([]RangeStep(nil), c.steps...) }

func (c *LightController) Levels() *InterruptLevelTable { return c.levels }

// Lux returns the last accepted lux value, or Unavailable.
func (c *LightController) Lux() int { return c.lastLux }

func (c *LightController) LastRaw() uint16 { return c.lastRaw }

// Classify converts one raw count into a report value. A range change is
// reported with rangeChanged set and an Unavailable value; the caller must
// reprogram the front end and wait for the next sample.
func (c *LightController) Classify(raw uint16) (value int, rangeChanged bool) {
	c.lastRaw = raw
	switch c.opts.ReportType {
	case ReportRaw:
		return int(raw), false
	case ReportScaled:
		return int(raw) * c.opts.LuxPerCount / 1000, false
	case ReportTable:
		return tableLookup(int(raw)), false
	case ReportLevel:
		lux := int(raw) * c.opts.LuxPerCount / 1000
		c.lastLux = lux
		c.lastLevel = c.levels.Level(lux)
		return c.lastLevel, false
	case ReportAdaptive:
		return c.classifyAdaptive(raw)
	}
	return Unavailable, false
}

func (c *LightController) classifyAdaptive(raw uint16) (int, bool) {
	step := c.steps[c.idx]
	milliLux := 0
	changed := false
	switch {
	case int(raw) > step.High && c.opts.AutoRange:
		if c.idx == len(c.steps)-1 {
			l.WithFields(logrus.Fields{"channel": Light, "raw": raw}).Debugf("%v: clamped to %d lux", ErrRangeExhausted, c.opts.MaxLux)
			milliLux = c.opts.MaxLux * 1000
		} else {
			c.idx++
			changed = true
		}
	case int(raw) < step.Low && c.opts.AutoRange:
		if c.idx == 0 {
			l.WithFields(logrus.Fields{"channel": Light, "raw": raw}).Debugf("%v: clamped to %d lux", ErrRangeExhausted, c.opts.MinLux)
			milliLux = c.opts.MinLux * 1000
		} else {
			c.idx--
			changed = true
		}
	default:
		milliLux = c.toMilliLux(raw)
	}

	if changed {
		l.WithFields(logrus.Fields{"channel": Light, "raw": raw, "step": c.idx}).Info("light range changed")
		c.lastLux = Unavailable
		return Unavailable, true
	}

	c.lastLux = milliLux / 1000
	if !c.eventDriven {
		return c.lastLux, false
	}
	lux := c.lastLux
	if lux > EPL8802_MAX_COUNT {
		lux = EPL8802_MAX_COUNT
	}
	c.lastLevel = c.levels.Level(lux)
	return c.lastLevel, false
}

// toMilliLux normalizes raw into reference step units and applies the count gain.
func (c *LightController) toMilliLux(raw uint16) int {
	cur, ref := c.steps[c.idx], c.steps[c.opts.ReferenceStep]
	norm := int64(raw) * ref.weight() / cur.weight()
	if norm > EPL8802_MAX_COUNT {
		norm = EPL8802_MAX_COUNT
	}
	c.lastNorm = int(norm)
	lux := int64(c.opts.CountGain) * norm
	if hi := int64(c.opts.MaxLux) * 1000; lux >= hi {
		return int(hi)
	}
	if lo := int64(c.opts.MinLux) * 1000; lux <= lo {
		return int(lo)
	}
	return int(lux)
}

// NextWindow computes the comparator window for event-driven operation from
// the level just reported. Report types without levels keep the configured
// thresholds.
func (c *LightController) NextWindow(level int, raw uint16) (low, high uint16) {
	switch c.opts.ReportType {
	case ReportAdaptive:
		cur, ref := c.steps[c.idx], c.steps[c.opts.ReferenceStep]
		normal := float64(cur.weight()) / float64(ref.weight())
		c.low, c.high = c.levels.Window(level, normal)
	case ReportLevel:
		c.low, c.high = c.levels.Window(level, 1)
		if level == 0 || raw == 0 {
			c.low = 0
		}
	}
	return c.low, c.high
}

func tableLookup(raw int) int {
	idx := len(tableLevels)
	for i, level := range tableLevels {
		if raw < level {
			idx = i
			break
		}
	}
	if idx >= len(tableValues) {
		idx = len(tableValues) - 1
	}
	return tableValues[idx]
}
