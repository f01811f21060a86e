package gauge

import (
	"time"

	"ozgauge/internal/mathx"
)

// railMargin is how close, in mAh, the accumulator may get to either end of
// its range before it is rewritten.
const railMargin = 5

// GuardOverflow rewrites the accumulator with the tracked capacity when it
// sits near an overflow rail or has drifted more than 1% of FCC from it.
// Calling it again without an intervening tick changes nothing.
func (g *Gauge) GuardOverflow() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.st.InitDone {
		return ErrNotReady
	}
	return g.guardOverflow()
}

func (g *Gauge) guardOverflow() error {
	acc, err := g.chip.Accumulator()
	if err != nil {
		return g.transport(err, "read accumulator")
	}
	rc := g.st.RemainingCapacityMah
	if acc == rc {
		return nil
	}
	limit := g.chip.MaxAccumulator()
	onRail := acc < railMargin || acc > limit-railMargin
	diverged := mathx.Abs(acc-rc) > g.fcc()/100
	if !onRail && !diverged {
		return nil
	}
	g.log.Printf("Gauge: %v", g.rangeAnomaly("accumulator %d mAh vs tracked %d mAh (limit %d), rewriting", acc, rc, limit))
	return g.syncAccumulator()
}

// OnSuspend records the accumulator reference before the system sleeps.
func (g *Gauge) OnSuspend() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suspended = true
	g.suspendAccumulator = g.prevAccumulator
	g.log.Printf("Gauge: suspend at %d mAh (%d%%)", g.st.RemainingCapacityMah, g.st.RelativeStateOfChargePercent)
}

// OnResume reconciles the accumulator after sleeping for elapsed. Drift
// beyond what the worst-case sleep current could explain is clamped, and an
// accumulator that was reset during sleep is reseeded from voltage.
func (g *Gauge) OnResume(elapsed time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	last := g.prevAccumulator
	if g.suspended {
		last = g.suspendAccumulator
		g.suspended = false
	}
	if !g.st.InitDone {
		return nil
	}

	acc, err := g.chip.Accumulator()
	if err != nil {
		return g.transport(err, "read accumulator")
	}
	r, err := g.sample()
	if err != nil {
		g.log.Printf("Gauge: resume sample: %v", err)
	}
	g.st.PreviousRemainingCapacityMah = g.st.RemainingCapacityMah
	g.resetSegments()

	discharging := r.Current < g.cfg.DischargeCurrentThreshold
	if acc == 0 || (acc < 0 && !discharging) {
		rc := g.calculateSOCResult(r)
		g.log.Printf("Gauge: %v", g.rangeAnomaly("accumulator reset during sleep (%d mAh), reseeding %d mAh", acc, rc))
		g.setRemaining(rc)
		return g.syncAccumulator()
	}

	drift := acc - last
	secs := int64(elapsed / time.Second)
	maxDown := int32(int64(g.cfg.MaxSuspendConsumeMa) * secs / 3600)
	maxUp := int32(int64(g.cfg.MaxSuspendChargeMa) * secs / 3600)
	if mathx.Abs(drift) > g.fcc()/10 {
		clamped := mathx.Clamp(drift, -maxDown, maxUp)
		if clamped != drift {
			g.log.Printf("Gauge: %v", g.rangeAnomaly("sleep drift %d mAh over %s exceeds [-%d, %d], clamping", drift, elapsed, maxDown, maxUp))
			acc = last + clamped
			if err := g.chip.SetAccumulator(acc); err != nil {
				return g.transport(err, "write accumulator")
			}
			drift = clamped
		}
	}

	g.account(drift)
	switch {
	case drift < 0 && !g.st.DischargeEnd, drift > 0 && !g.st.ChargeEnd:
		g.setRemaining(g.st.RemainingCapacityMah + drift)
	}
	g.prevAccumulator = acc
	g.log.Printf("Gauge: resume after %s, drift %d mAh, now %d mAh (%d%%)",
		elapsed, drift, g.st.RemainingCapacityMah, g.st.RelativeStateOfChargePercent)

	g.checkShutdownVoltage(r)
	if g.st.DischargeEnd && !g.dischargeEndDone {
		g.dischargeEndProcess()
	}
	return g.guardOverflow()
}

// calculateSOCResult estimates remaining capacity from the present reading
// alone: the OCV table when the cell is at rest, the RC table under load.
func (g *Gauge) calculateSOCResult(r Reading) int32 {
	ceiling := g.fcc() - 1
	cur := mathx.Abs(r.Current)
	if cur > g.cfg.IdleCurrent {
		usable, err := g.predictUsable(r.Voltage, cur, r.Temperature)
		if err == nil {
			return mathx.Clamp(usable, g.emptyFloor(), ceiling)
		}
		g.log.Printf("Gauge: falling back to OCV: %v", err)
	}
	ocv := r.Voltage - mathx.MulDiv(g.cfg.InternalResistanceMilliOhm, r.Current, 1000)
	pct := mathx.Clamp(OnePointInterpolate(g.cfg.OCV, ocv), 0, 100)
	return mathx.Clamp(pct*g.fcc()/100, g.emptyFloor(), ceiling)
}
