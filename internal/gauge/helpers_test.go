package gauge

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBus = errors.New("i2c: nack")

// fakeChip is an in-memory fuel-gauge IC.
type fakeChip struct {
	voltage, ocv, current, temp int32

	acc    int32
	maxAcc int32
	cycles uint32
	aging  int32
	offset int32
	marker uint16

	failAcc        bool
	failVoltage    bool
	failCycleRead  bool
	failCycleWrite bool
	accWrites      []int32
}

func (c *fakeChip) Voltage() (int32, error) {
	if c.failVoltage {
		return 0, errBus
	}
	return c.voltage, nil
}
func (c *fakeChip) OCV() (int32, error)         { return c.ocv, nil }
func (c *fakeChip) Current() (int32, error)     { return c.current, nil }
func (c *fakeChip) Temperature() (int32, error) { return c.temp, nil }
func (c *fakeChip) Accumulator() (int32, error) {
	if c.failAcc {
		return 0, errBus
	}
	return c.acc, nil
}
func (c *fakeChip) SetAccumulator(mah int32) error {
	if c.failAcc {
		return errBus
	}
	c.acc = mah
	c.accWrites = append(c.accWrites, mah)
	return nil
}
func (c *fakeChip) MaxAccumulator() int32 { return c.maxAcc }
func (c *fakeChip) CycleCount() (uint32, error) {
	if c.failCycleRead {
		return 0, errBus
	}
	return c.cycles, nil
}
func (c *fakeChip) SetCycleCount(n uint32) error {
	if c.failCycleWrite {
		return errBus
	}
	c.cycles = n
	return nil
}
func (c *fakeChip) AgingAccumulator() (int32, error)    { return c.aging, nil }
func (c *fakeChip) SetAgingAccumulator(mah int32) error { c.aging = mah; return nil }
func (c *fakeChip) BoardOffset() (int32, error)         { return c.offset, nil }
func (c *fakeChip) SetBoardOffset(v int32) error        { c.offset = v; return nil }
func (c *fakeChip) InitMarker() (uint16, error)         { return c.marker, nil }
func (c *fakeChip) SetInitMarker(v uint16) error        { c.marker = v; return nil }

const testMarker = 0x8806

var testOCV = []Point{
	{3300, 0},
	{3600, 10},
	{3700, 45},
	{3900, 75},
	{4200, 100},
}

// testRCTable derives loaded-voltage capacity from the OCV curve with a
// 100 mΩ cell, identical at both temperatures.
func testRCTable() RCTable {
	t := RCTable{
		Voltage:     []int32{3000, 3300, 3600, 3700, 3900, 4200, 4400},
		Current:     []int32{0, 2000},
		Temperature: []int32{0, 500},
	}
	t.Values = make([][][]Centipercent, len(t.Temperature))
	for ti := range t.Temperature {
		t.Values[ti] = make([][]Centipercent, len(t.Current))
		for ci, c := range t.Current {
			row := make([]Centipercent, len(t.Voltage))
			for vi, v := range t.Voltage {
				ocv := v + c*100/1000
				row[vi] = Centipercent(OnePointInterpolate(testOCV, ocv) * 100)
			}
			t.Values[ti][ci] = row
		}
	}
	return t
}

func testConfig() Config {
	return Config{
		DesignCapacityMah:          5000,
		InternalResistanceMilliOhm: 100,
		DischargeEndVoltage:        3400,
		FullOCVVoltage:             4150,
		MinSaneVoltage:             2500,
		DischargeCurrentThreshold:  -10,
		IdleCurrent:                20,
		ChargeEndCurrent:           100,
		ChargeEndCurrent2:          300,
		FastCatchStep:              2,
		CVVoltage:                  4200,
		CVMargin:                   30,
		ForceFullAfter:             12 * time.Minute,
		ChargeReservePercent:       0,
		LowSOCThreshold:            15,
		LowSOCReservePercent:       10,
		MinRatio:                   500,
		MaxChargeRatio:             1500,
		MaxDischargeRatio:          1500,
		ShutdownVoltageTicks:       2,
		MaxSuspendConsumeMa:        50,
		MaxSuspendChargeMa:         1000,
		FCCLearnMinPercent:         70,
		FCCLearnMaxPercent:         110,
		InitMarker:                 testMarker,
		Interval:                   10 * time.Second,
		FastInterval:               3 * time.Second,
		OCV:                        testOCV,
		RC:                         testRCTable(),
	}
}

// warmChip is an IC that has been initialized before, holding acc mAh.
func warmChip(acc int32) *fakeChip {
	return &fakeChip{
		voltage: 3800,
		ocv:     3800,
		temp:    250,
		acc:     acc,
		maxAcc:  16384,
		marker:  testMarker,
	}
}

// readyGauge returns a gauge that has completed its power-on tick.
func readyGauge(t *testing.T, chip *fakeChip, opts ...Option) *Gauge {
	t.Helper()
	g, err := New(chip, testConfig(), opts...)
	require.NoError(t, err)
	g.Tick()
	require.True(t, g.State().InitDone)
	return g
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }
