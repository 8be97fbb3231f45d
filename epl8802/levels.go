package epl8802

// DefaultLuxLevels are the ascending lux breakpoints used to quantize light
// readings into report levels in event-driven operation.
var DefaultLuxLevels = []int{15, 39, 63, 316, 639, 4008, 5748, 10772, 14517, 65535}

// InterruptLevelTable maps lux to a discrete level and each level back to the
// raw count window the comparator should watch. It must be rebuilt whenever
// the light gain or the lux scale factor changes.
type InterruptLevelTable struct {
	lux []int
	adc []int
}

// NewInterruptLevelTable converts lux breakpoints to raw counts using scale,
// expressed in milli-lux per count. A breakpoint that does not ascend after
// conversion is pushed to the top of the range.
func NewInterruptLevelTable(luxLevels []int, scale int) *InterruptLevelTable {
	if scale <= 0 {
		scale = 1
	}
	t := &InterruptLevelTable{
		lux: append([]int(nil), luxLevels...),
		adc: make([]int, len(luxLevels)),
	}
	for i, lux := range t.lux {
		if lux >= EPL8802_MAX_COUNT {
			t.adc[i] = lux
			continue
		}
		t.adc[i] = lux * 1000 / scale
		if i != 0 && t.adc[i] <= t.adc[i-1] {
			t.adc[i] = EPL8802_MAX_COUNT
		}
	}
	return t
}

// Len returns the number of levels.
func (t *InterruptLevelTable) Len() int { return len(t.lux) }

// Level returns the first level whose breakpoint is not below lux, or the
// last level.
func (t *InterruptLevelTable) Level(lux int) int {
	if lux > EPL8802_MAX_COUNT {
		lux = EPL8802_MAX_COUNT
	}
	for i, l := range t.lux {
		if lux <= l {
			return i
		}
	}
	return len(t.lux) - 1
}

// RawLevel returns the raw count boundary of a level.
func (t *InterruptLevelTable) RawLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level >= len(t.adc) {
		level = len(t.adc) - 1
	}
	return t.adc[level]
}

// Window returns the comparator window bracketing level, scaled by normal.
// The bounds stay below the saturation value so the comparator stays armed.
func (t *InterruptLevelTable) Window(level int, normal float64) (low, high uint16) {
	var lo, hi float64
	if level > 0 {
		lo = float64(t.RawLevel(level-1)+1) * normal
	}
	hi = float64(t.RawLevel(level)) * normal
	if lo > 0xfffe {
		lo = 65533
	}
	if hi >= 0xffff {
		hi = 65534
	}
	return uint16(lo), uint16(hi)
}

// LuxLevels returns a copy of the lux breakpoints.
func (t *InterruptLevelTable) LuxLevels() []int {
	return append([]int(nil), t.lux...)
}

// RawLevels returns a copy of the raw count breakpoints.
func (t *InterruptLevelTable) RawLevels() []int {
	return append([]int(nil), t.adc...)
}
