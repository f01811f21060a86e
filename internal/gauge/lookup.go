package gauge

import "ozgauge/internal/mathx"

// interpolate returns the y on the line through (x0, y0) and (x1, y1) at x.
// Callers guarantee x0 != x1.
func interpolate(x, x0, x1, y0, y1 int32) int32 {
	return y0 + int32(int64(x-x0)*int64(y1-y0)/int64(x1-x0))
}

// OnePointInterpolate looks value up in an ascending one-axis table. Inputs
// outside the table return the first or last y; nothing is extrapolated.
func OnePointInterpolate(table []Point, value int32) int32 {
	if len(table) == 0 {
		return 0
	}
	for _, p := range table {
		if p.X == value {
			return p.Y
		}
	}
	if value < table[0].X {
		return table[0].Y
	}
	last := table[len(table)-1]
	if value > last.X {
		return last.Y
	}
	for i := 1; i < len(table); i++ {
		if value < table[i].X {
			lo, hi := table[i-1], table[i]
			if hi.X == lo.X {
				return lo.Y
			}
			return interpolate(value, lo.X, hi.X, lo.Y, hi.Y)
		}
	}
	return last.Y
}

// bracket clamps x to the axis and returns the lower index of the segment
// that holds it. ok is false when that segment has zero width.
func bracket(axis []int32, x int32) (clamped int32, lo int, ok bool) {
	n := len(axis)
	clamped = mathx.Clamp(x, axis[0], axis[n-1])
	for lo < n-2 && clamped > axis[lo+1] {
		lo++
	}
	return clamped, lo, axis[lo+1] != axis[lo]
}

// Lookup performs trilinear interpolation of the remaining capacity at the
// given loaded voltage, discharge current magnitude and temperature. Inputs
// are clamped to the table's axes. found is false when any bracket is
// degenerate; the returned value is then meaningless.
func (t *RCTable) Lookup(voltage, current, temperature int32) (Centipercent, bool) {
	v, vi, okV := bracket(t.Voltage, voltage)
	c, ci, okC := bracket(t.Current, current)
	tt, ti, okT := bracket(t.Temperature, temperature)
	if !okV || !okC || !okT {
		return 0, false
	}

	alongT := func(cIdx, vIdx int) int32 {
		return interpolate(tt, t.Temperature[ti], t.Temperature[ti+1],
			int32(t.Values[ti][cIdx][vIdx]), int32(t.Values[ti+1][cIdx][vIdx]))
	}
	lowV := interpolate(c, t.Current[ci], t.Current[ci+1], alongT(ci, vi), alongT(ci+1, vi))
	highV := interpolate(c, t.Current[ci], t.Current[ci+1], alongT(ci, vi+1), alongT(ci+1, vi+1))
	res := interpolate(v, t.Voltage[vi], t.Voltage[vi+1], lowV, highV)

	return mathx.Clamp(Centipercent(res), 0, FullScale), true
}
