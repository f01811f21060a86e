package gauge

import (
	"time"

	"ozgauge/internal/mathx"
)

// predictUsable returns the capacity the RC table says can still be drawn
// before the cutoff voltage at this current and temperature.
func (g *Gauge) predictUsable(voltage, current, temperature int32) (int32, error) {
	now, okNow := g.cfg.RC.Lookup(voltage, current, temperature)
	cut, okCut := g.cfg.RC.Lookup(g.cfg.DischargeEndVoltage, current, temperature)
	if !okNow || !okCut || cut >= FullScale {
		return 0, g.degenerate(voltage, current, temperature)
	}
	usable := mathx.MulDiv(int32(now-cut), g.fcc(), int32(FullScale-cut))
	return mathx.Clamp(usable, 0, g.fcc()), nil
}

func (g *Gauge) computeChargeRatio(r Reading) {
	g.chargeTableFlag = true
	g.chargeCarry.reset()

	ocv := r.Voltage - mathx.MulDiv(g.cfg.InternalResistanceMilliOhm, r.Current, 1000)
	predicted, err := g.predictUsable(ocv, mathx.Abs(r.Current), r.Temperature)
	if err != nil {
		g.chargeRatioValid = false
		g.st.ChargeRatio = Unity
		g.log.Printf("Gauge: charge ratio skipped: %v", err)
		return
	}
	fcc := g.fcc()
	target := fcc - predicted + fcc*g.cfg.ChargeReservePercent/100
	gap := fcc - g.st.RemainingCapacityMah

	ratio := g.cfg.MaxChargeRatio
	if target > 0 {
		ratio = Ratio(mathx.MulDiv(gap, 1000, target))
	}
	g.st.ChargeRatio = mathx.Clamp(ratio, g.cfg.MinRatio, g.cfg.MaxChargeRatio)
	g.chargeRatioValid = true
	g.log.Printf("Gauge: charge segment, ocv %d mV, predicted %d mAh, to-full %d/%d mAh, ratio %d",
		ocv, predicted, gap, target, g.st.ChargeRatio)
}

func (g *Gauge) computeDischargeRatio(r Reading) {
	g.dischargeTableFlag = true
	g.dischargeCarry.reset()

	predicted, err := g.predictUsable(r.Voltage, mathx.Abs(r.Current), r.Temperature)
	if err != nil {
		g.dischargeRatioValid = false
		g.st.DischargeRatio = Unity
		g.log.Printf("Gauge: discharge ratio skipped: %v", err)
		return
	}
	if g.st.RelativeStateOfChargePercent < g.cfg.LowSOCThreshold {
		predicted = predicted * (100 - g.cfg.LowSOCReservePercent) / 100
	}

	ratio := g.cfg.MaxDischargeRatio
	if predicted > 0 {
		ratio = Ratio(mathx.MulDiv(g.st.RemainingCapacityMah, 1000, predicted))
	}
	g.st.DischargeRatio = mathx.Clamp(ratio, g.cfg.MinRatio, g.cfg.MaxDischargeRatio)
	g.dischargeRatioValid = true
	g.log.Printf("Gauge: discharge segment, %d mV %d mA, predicted %d mAh vs tracked %d mAh, ratio %d",
		r.Voltage, r.Current, predicted, g.st.RemainingCapacityMah, g.st.DischargeRatio)
}

// notReallyFull holds 100% back while the charger still pushes real current.
func (g *Gauge) notReallyFull(r Reading) bool {
	return r.Current >= g.cfg.ChargeEndCurrent2 && !g.supply.ChargeDone
}

// fastCatch reports whether a stalled tick near the end of charge should be
// credited one mAh.
func (g *Gauge) fastCatch(r Reading) bool {
	return g.st.RelativeStateOfChargePercent < 100 &&
		r.Current < g.cfg.ChargeEndCurrent*g.cfg.FastCatchStep &&
		r.Voltage >= g.cfg.CVVoltage-g.cfg.CVMargin
}

func (g *Gauge) charge(r Reading, delta int32) {
	if g.st.ChargeEnd {
		return
	}
	if !g.chargeTableFlag {
		g.computeChargeRatio(r)
	}
	if delta <= 0 && g.fastCatch(r) {
		delta = 1
	}

	if delta > 0 && g.st.RelativeStateOfChargePercent < 100 {
		inc := delta
		if g.chargeRatioValid {
			inc = g.chargeCarry.apply(delta, g.st.ChargeRatio)
		}
		rc := g.st.RemainingCapacityMah + inc
		if rc >= g.fcc() && g.notReallyFull(r) {
			rc = mathx.Max(g.st.RemainingCapacityMah, g.fcc()*99/100)
		}
		g.setRemaining(rc)
	}

	pct := g.st.RelativeStateOfChargePercent
	switch {
	case pct >= 100:
		g.latchChargeEnd("reached 100%")
	case g.supply.ChargeDone && r.Voltage >= g.cfg.CVVoltage-g.cfg.CVMargin:
		g.latchChargeEnd("charger reports done")
	case pct == 99 && r.Current < g.cfg.ChargeEndCurrent:
		now := g.now()
		if g.nearFullSince.IsZero() {
			g.nearFullSince = now
		} else if now.Sub(g.nearFullSince) >= g.cfg.ForceFullAfter {
			g.latchChargeEnd("held at 99% past the forced-full timer")
		}
	default:
		g.nearFullSince = time.Time{}
	}
}

func (g *Gauge) latchChargeEnd(why string) {
	g.st.ChargeEnd = true
	g.log.Printf("Gauge: charge end, %s", why)
}

func (g *Gauge) discharge(r Reading, delta int32) {
	if g.st.DischargeEnd {
		return
	}
	if !g.dischargeTableFlag {
		g.computeDischargeRatio(r)
	}
	if delta < 0 && g.st.RemainingCapacityMah > 0 {
		dec := -delta
		if g.dischargeRatioValid {
			dec = g.dischargeCarry.apply(-delta, g.st.DischargeRatio)
		}
		g.setRemaining(g.st.RemainingCapacityMah - dec)
	}
	if g.st.RelativeStateOfChargePercent <= 0 {
		g.latchDischargeEnd("reached 0%")
	}
}

func (g *Gauge) latchDischargeEnd(why string) {
	g.st.DischargeEnd = true
	g.log.Printf("Gauge: discharge end, %s", why)
}

// checkShutdownVoltage latches discharge end when the cell sits at or below
// the cutoff for several consecutive samples while still reporting charge.
func (g *Gauge) checkShutdownVoltage(r Reading) {
	if g.seg == segmentCharge || g.st.DischargeEnd ||
		r.Voltage > g.cfg.DischargeEndVoltage || g.st.RelativeStateOfChargePercent <= 0 {
		g.lowVoltageTicks = 0
		return
	}
	g.lowVoltageTicks++
	if g.lowVoltageTicks >= g.cfg.ShutdownVoltageTicks {
		g.lowVoltageTicks = 0
		g.latchDischargeEnd("voltage at cutoff")
	}
}

func (g *Gauge) chargeEndProcess() {
	g.setRemaining(g.fcc())
	g.resetSegments()
	g.nearFullSince = time.Time{}
	g.learning = true
	g.learnedMah = 0
	g.chargeEndDone = true
	if err := g.syncAccumulator(); err != nil {
		g.log.Printf("Gauge: charge end sync: %v", err)
	}
}

func (g *Gauge) dischargeEndProcess() {
	if g.learning {
		g.learnCapacity()
	}
	g.setRemaining(g.emptyFloor())
	g.resetSegments()
	g.dischargeEndDone = true
	if err := g.syncAccumulator(); err != nil {
		g.log.Printf("Gauge: discharge end sync: %v", err)
	}
}

// learnCapacity adopts the charge drawn over an uninterrupted full-to-empty
// run as the new full charge capacity when it lies within the learning window.
func (g *Gauge) learnCapacity() {
	g.learning = false
	learned := g.learnedMah
	lo := g.cfg.DesignCapacityMah * g.cfg.FCCLearnMinPercent / 100
	hi := g.cfg.DesignCapacityMah * g.cfg.FCCLearnMaxPercent / 100
	if learned < lo || learned > hi {
		g.log.Printf("Gauge: learned capacity %d mAh outside [%d, %d], keeping %d mAh", learned, lo, hi, g.fcc())
		return
	}
	g.log.Printf("Gauge: full charge capacity %d -> %d mAh", g.fcc(), learned)
	g.st.FullChargeCapacityMah = learned
}

// account updates the segment counters and the aging accumulators for one
// coulomb delta, persisting the aging registers when they change.
func (g *Gauge) account(delta int32) {
	switch {
	case delta > 0:
		g.st.ChargeSegmentCoulombs += delta
		return
	case delta == 0:
		return
	}
	d := -delta
	g.st.DischargeSegmentCoulombs += d
	if g.learning {
		g.learnedMah += d
	}
	g.st.AccumulatedDischargeMah += d
	if g.st.AccumulatedDischargeMah >= g.fcc() {
		g.st.AccumulatedDischargeMah -= g.fcc()
		g.st.CycleCount++
		g.log.Printf("Gauge: cycle count %d", g.st.CycleCount)
		g.cyclesDirty = true
		g.persistCycleCount()
	}
	if err := g.chip.SetAgingAccumulator(g.st.AccumulatedDischargeMah); err != nil {
		g.log.Printf("Gauge: persist aging accumulator: %v", g.transport(err, "write aging accumulator"))
	}
}

func (g *Gauge) persistCycleCount() {
	if err := g.chip.SetCycleCount(g.st.CycleCount); err != nil {
		g.log.Printf("Gauge: persist cycle count: %v", g.transport(err, "write cycle count"))
		return
	}
	g.cyclesDirty = false
}
