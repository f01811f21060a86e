package gauge

import (
	"context"
	"time"

	"ozgauge/internal/mathx"
)

// WithTickHook registers fn to run after every tick, outside the update mutex.
func WithTickHook(fn func(Snapshot)) Option { return func(g *Gauge) { g.onTick = fn } }

// Run ticks until ctx is done. The period is Config.Interval, narrowed to
// Config.FastInterval while uninitialized or while the voltage is implausible.
func (g *Gauge) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		next := g.Tick()
		if g.onTick != nil {
			g.onTick(g.Snapshot())
		}
		timer.Reset(next)
	}
}

// Tick runs one polling cycle and returns the delay until the next one.
func (g *Gauge) Tick() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.st.InitDone {
		if err := g.initialize(); err != nil {
			return g.cfg.FastInterval
		}
		return g.nextInterval()
	}

	g.st.PreviousRemainingCapacityMah = g.st.RemainingCapacityMah
	r, err := g.sample()
	if err != nil {
		g.log.Printf("Gauge: holding previous reading: %v", err)
	}
	g.refreshCharger()

	acc, err := g.chip.Accumulator()
	if err != nil {
		g.log.Printf("Gauge: skipping integration: %v", g.transport(err, "read accumulator"))
		return g.nextInterval()
	}
	delta := acc - g.prevAccumulator
	if mathx.Abs(delta) > g.fcc()/10 {
		g.log.Printf("Gauge: %v", g.rangeAnomaly("implausible accumulator step %d -> %d mAh, dropped", g.prevAccumulator, acc))
		delta = 0
	} else {
		g.prevAccumulator = acc
	}

	seg := g.classify(r)
	g.enterSegment(seg)
	g.account(delta)
	if seg == segmentCharge {
		g.charge(r, delta)
	} else {
		g.discharge(r, delta)
	}
	g.checkShutdownVoltage(r)

	if g.st.ChargeEnd && !g.chargeEndDone {
		g.chargeEndProcess()
	}
	if g.st.DischargeEnd && !g.dischargeEndDone {
		g.dischargeEndProcess()
	}
	if err := g.guardOverflow(); err != nil {
		g.log.Printf("Gauge: overflow guard: %v", err)
	}
	g.refreshCycleCount()
	g.updatedAt = g.now()
	return g.nextInterval()
}

func (g *Gauge) nextInterval() time.Duration {
	if !g.st.InitDone || g.reading.Voltage < g.cfg.MinSaneVoltage {
		return g.cfg.FastInterval
	}
	return g.cfg.Interval
}

func (g *Gauge) refreshCharger() {
	if g.charger == nil {
		return
	}
	s, err := g.charger.ChargerState()
	if err != nil {
		g.log.Printf("Gauge: charger state: %v", err)
		return
	}
	g.supply = s
}

// refreshCycleCount reloads the cycle count from the IC, or retries the
// write first when the IC is behind.
func (g *Gauge) refreshCycleCount() {
	if g.cyclesDirty {
		g.persistCycleCount()
		return
	}
	n, err := g.chip.CycleCount()
	if err != nil {
		g.log.Printf("Gauge: %v", g.transport(err, "read cycle count"))
		return
	}
	g.st.CycleCount = n
}

// classify treats anything at or above the discharge threshold as charging,
// so a resting cell keeps the charge-end latch until real discharge starts.
func (g *Gauge) classify(r Reading) segment {
	if r.Current < g.cfg.DischargeCurrentThreshold {
		return segmentDischarge
	}
	return segmentCharge
}

// enterSegment resets the opposite direction's segment state on a change of
// direction. Leaving charge for discharge releases the charge-end latch and
// vice versa.
func (g *Gauge) enterSegment(s segment) {
	if s == g.seg {
		return
	}
	g.log.Printf("Gauge: segment %s -> %s at %d%%", g.seg, s, g.st.RelativeStateOfChargePercent)
	g.seg = s
	switch s {
	case segmentCharge:
		g.chargeTableFlag = false
		g.dischargeTableFlag = false
		g.dischargeRatioValid = false
		g.dischargeCarry.reset()
		g.st.DischargeEnd = false
		g.dischargeEndDone = false
		g.st.ChargeSegmentCoulombs = 0
		g.learning = false
	case segmentDischarge:
		g.dischargeTableFlag = false
		g.chargeTableFlag = false
		g.chargeRatioValid = false
		g.chargeCarry.reset()
		g.st.ChargeEnd = false
		g.chargeEndDone = false
		g.nearFullSince = time.Time{}
		g.st.DischargeSegmentCoulombs = 0
	}
}
