package epl8802

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLight(t *testing.T, mutate func(o *LightOpts)) *LightController {
	t.Helper()
	opts := DefaultLightOpts()
	if mutate != nil {
		mutate(&opts)
	}
	c, err := NewLightController(opts)
	require.NoError(t, err)
	return c
}

func TestLightAdaptiveConversion(t *testing.T) {
	c := newLight(t, nil)
	tests := []struct {
		raw uint16
		lux int
	}{
		{200, 60},
		{1000, 300},
		{10000, 3000},
		{56666, 16999},
		// 60000 counts is 18000 lux, above the clamp
		{60000, 17000},
	}
	for _, test := range tests {
		v, changed := c.Classify(test.raw)
		assert.False(t, changed, "raw %d", test.raw)
		assert.Equal(t, test.lux, v, "raw %d", test.raw)
		idx, _ := c.Step()
		assert.Equal(t, 1, idx)
	}
}

func TestLightBottomStepClampsToMin(t *testing.T) {
	c := newLight(t, func(o *LightOpts) { o.InitialStep = 0 })
	for raw := 0; raw < 200; raw++ {
		v, changed := c.Classify(uint16(raw))
		require.False(t, changed, "raw %d", raw)
		require.Equal(t, 0, v, "raw %d", raw)
		idx, _ := c.Step()
		require.Equal(t, 0, idx)
	}
}

func TestLightTopStepClampsToMax(t *testing.T) {
	c := newLight(t, nil)
	for raw := 60001; raw <= 0xFFFF; raw += 97 {
		v, changed := c.Classify(uint16(raw))
		require.False(t, changed, "raw %d", raw)
		require.Equal(t, 17000, v, "raw %d", raw)
		idx, _ := c.Step()
		require.Equal(t, 1, idx)
	}
}

func TestLightRangeAdvance(t *testing.T) {
	c := newLight(t, func(o *LightOpts) { o.InitialStep = 0 })

	dim, changed := c.Classify(500)
	require.False(t, changed)
	assert.Equal(t, 18, dim)

	v, changed := c.Classify(61000)
	assert.True(t, changed)
	assert.Equal(t, Unavailable, v)
	assert.Equal(t, Unavailable, c.Lux())
	idx, step := c.Step()
	assert.Equal(t, 1, idx)
	assert.Equal(t, EPL8802_GAIN_LOW, step.Gain)

	// The same count at the low gain step is eight times brighter.
	v, changed = c.Classify(500)
	assert.False(t, changed)
	assert.Equal(t, 150, v)
	assert.Equal(t, 150, c.Lux())
}

func TestLightRangeRetreat(t *testing.T) {
	c := newLight(t, nil)
	v, changed := c.Classify(100)
	assert.True(t, changed)
	assert.Equal(t, Unavailable, v)
	idx, step := c.Step()
	assert.Equal(t, 0, idx)
	assert.Equal(t, EPL8802_GAIN_MID, step.Gain)

	v, changed = c.Classify(800)
	assert.False(t, changed)
	assert.Equal(t, 30, v)
}

func TestLightSingleSuppressedReport(t *testing.T) {
	c := newLight(t, func(o *LightOpts) { o.InitialStep = 0 })
	samples := []uint16{61000, 30000, 30000, 30000}
	suppressed := 0
	for _, raw := range samples {
		if v, changed := c.Classify(raw); changed {
			suppressed++
			assert.Equal(t, Unavailable, v)
		} else {
			assert.Equal(t, 9000, v)
		}
	}
	assert.Equal(t, 1, suppressed)
}

func TestLightAutoRangeDisabled(t *testing.T) {
	c := newLight(t, func(o *LightOpts) {
		o.InitialStep = 0
		o.AutoRange = false
	})
	v, changed := c.Classify(61000)
	assert.False(t, changed)
	assert.Equal(t, 2287, v)
	idx, _ := c.Step()
	assert.Equal(t, 0, idx)
}

func TestLightReportTypes(t *testing.T) {
	tests := []struct {
		typ      ReportType
		raw      uint16
		expected int
	}{
		{ReportRaw, 1234, 1234},
		{ReportScaled, 1000, 400},
		{ReportScaled, 0, 0},
		{ReportTable, 10, 10},
		{ReportTable, 20, 30},
		{ReportTable, 149, 100},
		{ReportTable, 49999, 40000},
		{ReportTable, 60000, 60000},
		{ReportLevel, 0, 0},
		{ReportLevel, 1000, 4},
		{ReportLevel, 0xFFFF, 9},
	}
	for _, test := range tests {
		c := newLight(t, func(o *LightOpts) { o.ReportType = test.typ })
		v, changed := c.Classify(test.raw)
		assert.False(t, changed)
		assert.Equal(t, test.expected, v, "%s raw %d", test.typ, test.raw)
	}
}

func TestLightEventWindow(t *testing.T) {
	c := newLight(t, nil)
	c.SetEventDriven(true)

	level, changed := c.Classify(1000)
	require.False(t, changed)
	assert.Equal(t, 3, level)
	low, high := c.NextWindow(level, 1000)
	assert.Equal(t, uint16(211), low)
	assert.Equal(t, uint16(1053), high)

	low, high = c.NextWindow(0, 10)
	assert.Equal(t, uint16(0), low)
	assert.Equal(t, uint16(50), high)

	low, high = c.NextWindow(9, 60000)
	assert.Equal(t, uint16(48391), low)
	assert.Equal(t, uint16(65534), high)
}

func TestLightEventWindowScalesWithStep(t *testing.T) {
	c := newLight(t, func(o *LightOpts) { o.InitialStep = 0 })
	c.SetEventDriven(true)
	low, high := c.NextWindow(3, 8000)
	assert.Equal(t, uint16(211*8), low)
	assert.Equal(t, uint16(1053*8), high)
}

func TestLightLevelWindow(t *testing.T) {
	c := newLight(t, func(o *LightOpts) { o.ReportType = ReportLevel })
	c.SetEventDriven(true)
	level, _ := c.Classify(0)
	low, high := c.NextWindow(level, 0)
	assert.Equal(t, uint16(0), low)
	assert.Equal(t, uint16(37), high)

	level, _ = c.Classify(1000)
	low, high = c.NextWindow(level, 1000)
	assert.Equal(t, uint16(791), low)
	assert.Equal(t, uint16(1597), high)
}

func TestLightFixedThresholdsForOtherTypes(t *testing.T) {
	c := newLight(t, func(o *LightOpts) { o.ReportType = ReportRaw })
	low, high := c.NextWindow(0, 500)
	assert.Equal(t, uint16(1000), low)
	assert.Equal(t, uint16(3000), high)
	require.Error(t, c.SetThresholds(10, 10))
	require.NoError(t, c.SetThresholds(10, 20))
	low, high = c.NextWindow(0, 500)
	assert.Equal(t, uint16(10), low)
	assert.Equal(t, uint16(20), high)
}

func TestInterruptLevelTable(t *testing.T) {
	tbl := NewInterruptLevelTable(DefaultLuxLevels, 300)
	assert.Equal(t, []int{50, 130, 210, 1053, 2130, 13360, 19160, 35906, 48390, 65535}, tbl.RawLevels())
	assert.Equal(t, 0, tbl.Level(0))
	assert.Equal(t, 0, tbl.Level(15))
	assert.Equal(t, 1, tbl.Level(16))
	assert.Equal(t, 9, tbl.Level(70000))
	assert.Equal(t, 10, tbl.Len())

	flat := NewInterruptLevelTable([]int{10, 10, 20}, 1000)
	assert.Equal(t, []int{10, 65535, 65535}, flat.RawLevels())
}

func TestLightLevelTableRebuilt(t *testing.T) {
	c := newLight(t, func(o *LightOpts) { o.ReportType = ReportLevel })
	assert.Equal(t, 37, c.Levels().RawLevel(0))
	require.NoError(t, c.SetLuxPerCount(500))
	assert.Equal(t, 30, c.Levels().RawLevel(0))
	require.NoError(t, c.SetReportType(ReportAdaptive))
	assert.Equal(t, 50, c.Levels().RawLevel(0))
	require.Error(t, c.SetLuxPerCount(0))
}

func TestLightRangeSteps(t *testing.T) {
	c := newLight(t, nil)
	c.Classify(100)
	idx, _ := c.Step()
	require.Equal(t, 0, idx)

	steps := c.Steps()
	steps[0].IntegrationTime = 12
	require.NoError(t, c.SetRangeSteps(steps))
	idx, step := c.Step()
	assert.Equal(t, 1, idx)
	assert.Equal(t, EPL8802_ALS_INTT_1024, step.IntegrationTime)

	require.Error(t, c.SetRangeSteps(nil))
	require.Error(t, c.SetRangeSteps([]RangeStep{{IntegrationTime: 16, High: 2, Low: 1}}))
	require.Error(t, c.SetRangeSteps([]RangeStep{{IntegrationTime: 1, High: 1, Low: 1}}))
}

func TestParseReportType(t *testing.T) {
	for _, r := range []ReportType{ReportRaw, ReportScaled, ReportTable, ReportAdaptive, ReportLevel} {
		got, err := ParseReportType(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseReportType("bogus")
	require.Error(t, err)
}
