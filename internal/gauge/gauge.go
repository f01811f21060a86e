// Package gauge turns raw fuel-gauge readings into a stable state of charge.
//
// A Gauge fuses coulomb counting from the IC accumulator with open-circuit
// voltage and a three-axis remaining-capacity table. It is driven by a single
// polling task (Run or Tick); suspend/resume notifications and readers share
// the same update mutex, so every mutation is serialized.
package gauge

import (
	"io"
	"log"
	"sync"
	"time"

	"ozgauge/internal/mathx"
)

// Gauge owns the estimator state for one fuel-gauge IC.
type Gauge struct {
	mu sync.Mutex

	cfg     Config
	chip    Chip
	charger Charger
	log     *log.Logger
	now     func() time.Time
	onTick  func(Snapshot)

	st        State
	reading   Reading
	supply    ChargerState
	updatedAt time.Time
	diag      Diagnostics

	prevAccumulator int32
	seg             segment

	chargeTableFlag     bool
	dischargeTableFlag  bool
	chargeRatioValid    bool
	dischargeRatioValid bool
	chargeCarry         carry
	dischargeCarry      carry
	chargeEndDone       bool
	dischargeEndDone    bool

	nearFullSince   time.Time
	lowVoltageTicks int

	learning   bool
	learnedMah int32

	// cyclesDirty is set while the IC holds an older cycle count than State.
	cyclesDirty bool

	forceReinit        bool
	suspended          bool
	suspendAccumulator int32
}

// Option configures a Gauge.
type Option func(*Gauge)

// WithCharger supplies the adapter-present signal.
func WithCharger(c Charger) Option { return func(g *Gauge) { g.charger = c } }

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option { return func(g *Gauge) { g.log = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(g *Gauge) { g.now = now } }

// New validates cfg and returns an uninitialized gauge. The first Tick runs
// the power-on estimator.
func New(chip Chip, cfg Config, opts ...Option) (*Gauge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Gauge{
		cfg:  cfg,
		chip: chip,
		log:  log.New(io.Discard, "", 0),
		now:  time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	g.st.FullChargeCapacityMah = cfg.DesignCapacityMah
	g.st.ChargeRatio = Unity
	g.st.DischargeRatio = Unity
	return g, nil
}

// Snapshot returns a consistent copy of the reported properties.
func (g *Gauge) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		StateOfChargePercent: g.st.RelativeStateOfChargePercent,
		RemainingCapacityMah: g.st.RemainingCapacityMah,
		FullChargeCapacity:   g.st.FullChargeCapacityMah,
		VoltageMv:            g.reading.Voltage,
		CurrentMa:            g.reading.Current,
		TemperatureDeciC:     g.reading.Temperature,
		CycleCount:           g.st.CycleCount,
		ChargeEnd:            g.st.ChargeEnd,
		DischargeEnd:         g.st.DischargeEnd,
		AdapterPresent:       g.supply.AdapterPresent,
		Initialized:          g.st.InitDone,
		UpdatedAt:            g.updatedAt,
		Diagnostics:          g.diag,
	}
}

// State returns a copy of the estimator state.
func (g *Gauge) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st
}

func (g *Gauge) StateOfChargePercent() int32 { return g.Snapshot().StateOfChargePercent }
func (g *Gauge) RemainingCapacityMah() int32 { return g.Snapshot().RemainingCapacityMah }
func (g *Gauge) CycleCount() uint32          { return g.Snapshot().CycleCount }
func (g *Gauge) ChargeEndLatched() bool      { return g.Snapshot().ChargeEnd }
func (g *Gauge) DischargeEndLatched() bool   { return g.Snapshot().DischargeEnd }

// Reinit discards the current estimate. The next tick re-runs the power-on
// estimator from OCV regardless of what the IC has persisted.
func (g *Gauge) Reinit() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forceReinit = true
	g.st.InitDone = false
	g.log.Printf("Gauge: re-initialization requested")
}

func (g *Gauge) fcc() int32 { return g.st.FullChargeCapacityMah }

// emptyFloor reports 0% while keeping the accumulator off its zero rail.
func (g *Gauge) emptyFloor() int32 {
	return mathx.Max(g.fcc()/100-1, 0)
}

func (g *Gauge) percentOf(rc int32) int32 {
	return mathx.Clamp(mathx.MulDiv(rc, 100, g.fcc()), 0, 100)
}

func (g *Gauge) setRemaining(rc int32) {
	g.st.RemainingCapacityMah = mathx.Clamp(rc, 0, g.fcc())
	g.st.RelativeStateOfChargePercent = g.percentOf(g.st.RemainingCapacityMah)
}

// syncAccumulator writes the tracked capacity into the IC accumulator.
func (g *Gauge) syncAccumulator() error {
	rc := g.st.RemainingCapacityMah
	if err := g.chip.SetAccumulator(rc); err != nil {
		return g.transport(err, "write accumulator")
	}
	g.prevAccumulator = rc
	return nil
}

// resetSegments forgets both segment ratios and carries so the next segment
// in either direction recomputes them.
func (g *Gauge) resetSegments() {
	g.chargeTableFlag = false
	g.dischargeTableFlag = false
	g.chargeRatioValid = false
	g.dischargeRatioValid = false
	g.chargeCarry.reset()
	g.dischargeCarry.reset()
	g.st.ChargeRatio = Unity
	g.st.DischargeRatio = Unity
}
