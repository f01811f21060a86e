package gauge

// Centipercent is a state-of-charge value scaled by 100: 10000 is 100.00%.
// Lookup tables and their interpolation results are carried in this unit so
// integer interpolation keeps two decimal places.
type Centipercent int32

// FullScale is 100% in Centipercent.
const FullScale Centipercent = 10000

// Percent truncates to whole percent.
func (c Centipercent) Percent() int32 { return int32(c) / 100 }

// FromPercent converts a whole percent.
func FromPercent(p int32) Centipercent { return Centipercent(p * 100) }

// Ratio is a per-thousand scaling factor: 1000 leaves a coulomb delta unchanged.
type Ratio int32

// Unity is the identity ratio.
const Unity Ratio = 1000

// carry scales coulomb deltas by a Ratio and keeps the sub-mAh remainder in
// µAh so that repeated truncation does not lose capacity across ticks.
type carry struct {
	microAh int64
}

// apply returns the whole mAh produced by scaling deltaMah by r, carrying the
// fractional part into the next call. deltaMah must be non-negative.
func (c *carry) apply(deltaMah int32, r Ratio) int32 {
	c.microAh += int64(deltaMah) * int64(r)
	whole := c.microAh / 1000
	c.microAh -= whole * 1000
	return int32(whole)
}

func (c *carry) reset() { c.microAh = 0 }
