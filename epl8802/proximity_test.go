package epl8802

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProx(t *testing.T, mutate func(o *ProximityOpts)) *ProximityClassifier {
	t.Helper()
	opts := DefaultProximityOpts()
	if mutate != nil {
		mutate(&opts)
	}
	c, err := NewProximityClassifier(opts)
	require.NoError(t, err)
	return c
}

func TestProximityDefaults(t *testing.T) {
	c := newProx(t, nil)
	assert.Equal(t, ThresholdPair{2000, 2300}, c.Far())
	assert.Equal(t, ThresholdPair{2000, 20700}, c.Near())
	assert.Equal(t, ThresholdPair{2300, 20700}, c.VeryNear())
	assert.Equal(t, ZoneFar, c.Zone())
	assert.True(t, c.CalibrationPending())

	_, err := NewProximityClassifier(ProximityOpts{LowThreshold: 5, HighThreshold: 5})
	require.Error(t, err)
}

func TestProximityGuardWindow(t *testing.T) {
	c := newProx(t, nil)
	assert.Equal(t, ThresholdPair{8800, 8801}, c.BeginEnable())
	assert.Equal(t, c.Guard(), c.Armed())

	c = newProx(t, func(o *ProximityOpts) { o.FirstReportGuard = false })
	assert.Equal(t, c.Far(), c.BeginEnable())
}

func TestProximityAutoCalibrate(t *testing.T) {
	c := newProx(t, nil)
	c.BeginEnable()
	armed := c.AutoCalibrate(ProximitySample{Data: 4000, IR: 100})
	assert.Equal(t, ThresholdPair{4310, 4550}, armed)
	assert.Equal(t, ThresholdPair{4310, 8950}, c.Near())
	assert.Equal(t, ThresholdPair{4550, 8950}, c.VeryNear())
	assert.Equal(t, ZoneFar, c.Zone())

	// Only the first sample after enable seeds the thresholds.
	assert.Equal(t, ThresholdPair{4310, 4550}, c.AutoCalibrate(ProximitySample{Data: 100}))
}

func TestProximityAutoCalibrateFallback(t *testing.T) {
	tests := []struct {
		name   string
		sample ProximitySample
	}{
		{"above max count", ProximitySample{Data: 8800}},
		{"saturated", ProximitySample{Data: 100, Status: EPL8802_STATUS_SATURATION}},
		{"bright ir", ProximitySample{Data: 100, IR: 50000}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := newProx(t, nil)
			require.NoError(t, c.SetThresholds(500, 600))
			c.BeginEnable()
			armed := c.AutoCalibrate(test.sample)
			assert.Equal(t, ThresholdPair{2000, 2300}, armed)
			assert.Equal(t, uint16(20700), c.Near().High)
		})
	}
}

func TestProximityAutoCalibrateDisabled(t *testing.T) {
	c := newProx(t, func(o *ProximityOpts) { o.DynamicCalibration = false })
	c.BeginEnable()
	assert.Equal(t, ThresholdPair{2000, 2300}, c.AutoCalibrate(ProximitySample{Data: 4000}))
}

func TestProximityTransitions(t *testing.T) {
	c := newProx(t, nil)
	c.BeginEnable()
	c.AutoCalibrate(ProximitySample{Data: 4000})

	high := ProximitySample{Status: EPL8802_STATUS_CMP_HIGH | EPL8802_STATUS_INT_FLAG, Data: 5000}
	low := ProximitySample{Status: EPL8802_STATUS_CMP_LOW | EPL8802_STATUS_INT_FLAG, Data: 3000}

	steps := []struct {
		sample ProximitySample
		zone   Zone
		rearm  bool
		armed  ThresholdPair
	}{
		{high, ZoneNear, true, ThresholdPair{4310, 8950}},
		{high, ZoneVeryNear, true, ThresholdPair{4550, 8950}},
		{high, ZoneVeryNear, false, ThresholdPair{4550, 8950}},
		{low, ZoneFar, true, ThresholdPair{4310, 4550}},
		{low, ZoneFar, false, ThresholdPair{4310, 4550}},
		{high, ZoneNear, true, ThresholdPair{4310, 8950}},
		{low, ZoneFar, true, ThresholdPair{4310, 4550}},
	}
	for i, step := range steps {
		zone, rearm := c.Classify(step.sample)
		assert.Equal(t, step.zone, zone, "step %d", i)
		assert.Equal(t, step.rearm, rearm, "step %d", i)
		assert.Equal(t, step.armed, c.Armed(), "step %d", i)
	}
}

func TestProximityRawNeverDemotes(t *testing.T) {
	c := newProx(t, nil)
	c.Classify(ProximitySample{Status: EPL8802_STATUS_CMP_HIGH})
	c.Classify(ProximitySample{Status: EPL8802_STATUS_CMP_HIGH})
	require.Equal(t, ZoneVeryNear, c.Zone())

	for _, data := range []uint16{0, 100, 1999, 2300} {
		zone, rearm := c.Classify(ProximitySample{Data: data})
		assert.Equal(t, ZoneVeryNear, zone)
		assert.False(t, rearm)
	}
}

func TestProximityGuardEscalates(t *testing.T) {
	c := newProx(t, func(o *ProximityOpts) { o.DynamicCalibration = false })
	c.BeginEnable()
	c.SetArmed(c.Guard())
	zone, rearm := c.Classify(ProximitySample{Status: EPL8802_STATUS_CMP_HIGH})
	assert.Equal(t, ZoneVeryNear, zone)
	assert.False(t, rearm)

	zone, rearm = c.Classify(ProximitySample{Status: EPL8802_STATUS_CMP_LOW})
	assert.Equal(t, ZoneFar, zone)
	assert.True(t, rearm)
	assert.Equal(t, c.Far(), c.Armed())
}

func TestProximityVeryNearStaysAboveHigh(t *testing.T) {
	c := newProx(t, func(o *ProximityOpts) { o.VeryNearGain = 1 })
	assert.Equal(t, ThresholdPair{2300, 2301}, c.VeryNear())
	require.Error(t, c.SetThresholds(100, 0xFFFF))
	assert.Equal(t, ThresholdPair{2000, 2300}, c.Far())

	require.NoError(t, c.SetThresholds(100, 0xFFFE))
	assert.Equal(t, ThresholdPair{100, 0xFFFE}, c.Far())
	assert.Equal(t, ThresholdPair{100, 0xFFFF}, c.Near())
	assert.Equal(t, ThresholdPair{0xFFFE, 0xFFFF}, c.VeryNear())

	// Every step of the ladder stays reachable.
	zone, _ := c.Classify(ProximitySample{Status: EPL8802_STATUS_CMP_HIGH})
	assert.Equal(t, ZoneNear, zone)
	zone, _ = c.Classify(ProximitySample{Status: EPL8802_STATUS_CMP_HIGH})
	assert.Equal(t, ZoneVeryNear, zone)
	assert.Equal(t, c.VeryNear(), c.Armed())
}

func TestProximityCalibrationNearMaxCount(t *testing.T) {
	c := newProx(t, func(o *ProximityOpts) { o.MaxCrosstalk = 70000 })
	_, err := c.ComputeCalibration(64000)
	require.ErrorIs(t, err, ErrCalibrationInvalid)

	err = c.ApplyCalibration(ProximityCalibration{HighThreshold: 0xFFFF, LowThreshold: 1000})
	require.ErrorIs(t, err, ErrCalibrationInvalid)
	assert.Equal(t, ThresholdPair{2000, 2300}, c.Far())
}

func TestProximitySetThresholds(t *testing.T) {
	c := newProx(t, nil)
	require.Error(t, c.SetThresholds(300, 300))
	assert.Equal(t, ThresholdPair{2000, 2300}, c.Far())
	require.NoError(t, c.SetThresholds(300, 400))
	assert.Equal(t, ThresholdPair{300, 400}, c.Armed())
	assert.Equal(t, uint16(3600), c.Near().High)
}

func TestProximityComputeCalibration(t *testing.T) {
	c := newProx(t, nil)
	c.SetCancellation(0x1234)
	cal, err := c.ComputeCalibration(1200)
	require.NoError(t, err)
	assert.Equal(t, ProximityCalibration{Crosstalk: 0x1234, HighThreshold: 3200, LowThreshold: 2200}, cal)
	// Computing does not install.
	assert.Equal(t, ThresholdPair{2000, 2300}, c.Far())

	_, err = c.ComputeCalibration(30001)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCalibrationInvalid))
	var calErr *CalibrationError
	require.True(t, errors.As(err, &calErr))
	assert.Equal(t, 30001, calErr.Measured)

	_, err = c.ComputeCalibration(30000)
	require.NoError(t, err)
}

func TestProximityApplyCalibration(t *testing.T) {
	c := newProx(t, nil)
	require.NoError(t, c.ApplyCalibration(ProximityCalibration{Crosstalk: 7, HighThreshold: 3200, LowThreshold: 2200}))
	assert.Equal(t, ThresholdPair{2200, 3200}, c.Far())
	assert.Equal(t, uint16(7), c.Cancellation())

	err := c.ApplyCalibration(ProximityCalibration{HighThreshold: 100, LowThreshold: 200})
	require.ErrorIs(t, err, ErrCalibrationInvalid)
	assert.Equal(t, ThresholdPair{2200, 3200}, c.Far())
	assert.Equal(t, uint16(7), c.Cancellation())
}

func TestZoneString(t *testing.T) {
	assert.Equal(t, "far", ZoneFar.String())
	assert.Equal(t, "near", ZoneNear.String())
	assert.Equal(t, "very-near", ZoneVeryNear.String())
	assert.Equal(t, "Zone(7)", Zone(7).String())
}
