package gauge

import (
	"ozgauge/internal/mathx"
)

// initialize runs the power-on estimator. On any register failure it leaves
// InitDone false so the next tick retries.
func (g *Gauge) initialize() error {
	acc, err := g.chip.Accumulator()
	if err != nil {
		return g.initFailed(g.transport(err, "read accumulator"))
	}
	if acc < 0 || acc > g.chip.MaxAccumulator() {
		floor := mathx.Max(g.emptyFloor(), 1)
		g.log.Printf("Gauge: %v", g.rangeAnomaly("accumulator %d mAh out of range, forcing %d mAh", acc, floor))
		if err := g.chip.SetAccumulator(floor); err != nil {
			return g.initFailed(g.transport(err, "write accumulator floor"))
		}
		acc = floor
	}

	ocv, err := g.chip.OCV()
	if err != nil {
		return g.initFailed(g.transport(err, "read ocv"))
	}
	r, err := g.sample()
	if err != nil {
		return g.initFailed(err)
	}
	marker, err := g.chip.InitMarker()
	if err != nil {
		return g.initFailed(g.transport(err, "read init marker"))
	}

	cold := g.forceReinit || marker != g.cfg.InitMarker
	var rc int32
	if cold {
		pct := mathx.Clamp(OnePointInterpolate(g.cfg.OCV, ocv), 0, 100)
		if ocv >= g.cfg.FullOCVVoltage {
			pct = 100
		}
		rc = pct * g.fcc() / 100
		if marker != g.cfg.InitMarker {
			// First power-on: the aging registers hold nothing of ours yet.
			if err := g.chip.SetCycleCount(0); err != nil {
				return g.initFailed(g.transport(err, "reset cycle count"))
			}
			if err := g.chip.SetAgingAccumulator(0); err != nil {
				return g.initFailed(g.transport(err, "reset aging accumulator"))
			}
		}
		g.log.Printf("Gauge: cold start from OCV %d mV -> %d%% (marker 0x%04x, forced %v)", ocv, pct, marker, g.forceReinit)
	} else {
		rc = acc
		if r.Voltage < g.cfg.DischargeEndVoltage {
			g.log.Printf("Gauge: power-on voltage %d mV below cutoff, ignoring accumulator %d mAh", r.Voltage, acc)
			rc = g.emptyFloor()
		}
		g.log.Printf("Gauge: warm restart from accumulator %d mAh", acc)
	}

	cycles, err := g.chip.CycleCount()
	if err != nil {
		return g.initFailed(g.transport(err, "read cycle count"))
	}
	aging, err := g.chip.AgingAccumulator()
	if err != nil {
		return g.initFailed(g.transport(err, "read aging accumulator"))
	}

	ceiling := mathx.Min(g.fcc()-1, g.chip.MaxAccumulator()-1)
	rc = mathx.Clamp(rc, g.emptyFloor(), ceiling)

	if off, err := g.chip.BoardOffset(); err != nil {
		g.log.Printf("Gauge: %v", g.transport(err, "read board offset"))
	} else if off != g.cfg.BoardOffset {
		if err := g.chip.SetBoardOffset(g.cfg.BoardOffset); err != nil {
			g.log.Printf("Gauge: %v", g.transport(err, "write board offset"))
		}
	}

	g.setRemaining(rc)
	g.st.PreviousRemainingCapacityMah = rc
	if err := g.syncAccumulator(); err != nil {
		return g.initFailed(err)
	}
	if cold {
		if err := g.chip.SetInitMarker(g.cfg.InitMarker); err != nil {
			g.log.Printf("Gauge: %v", g.transport(err, "write init marker"))
		}
	}

	if g.cyclesDirty {
		cycles = g.st.CycleCount
		g.persistCycleCount()
	}
	g.st.CycleCount = cycles
	g.st.AccumulatedDischargeMah = aging
	g.st.ChargeEnd = false
	g.st.DischargeEnd = false
	g.chargeEndDone = false
	g.dischargeEndDone = false
	g.learning = false
	g.seg = segmentNone
	g.resetSegments()
	g.forceReinit = false
	g.st.InitDone = true
	g.updatedAt = g.now()
	g.log.Printf("Gauge: ready, %d/%d mAh (%d%%), %d cycles", rc, g.fcc(), g.st.RelativeStateOfChargePercent, cycles)
	return nil
}

func (g *Gauge) initFailed(err error) error {
	g.diag.InitFailures++
	g.log.Printf("Gauge: initialization deferred: %v", err)
	return err
}

// sample reads voltage, current and temperature. A failed register keeps its
// previous value; the first failure is returned.
func (g *Gauge) sample() (Reading, error) {
	var first error
	read := func(dst *int32, fn func() (int32, error), op string) {
		v, err := fn()
		if err != nil {
			err = g.transport(err, op)
			if first == nil {
				first = err
			}
			return
		}
		*dst = v
	}
	r := g.reading
	read(&r.Voltage, g.chip.Voltage, "read voltage")
	read(&r.Current, g.chip.Current, "read current")
	read(&r.Temperature, g.chip.Temperature, "read temperature")
	g.reading = r
	return r, first
}
