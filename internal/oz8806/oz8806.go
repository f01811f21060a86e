// Package oz8806 talks to the O2Micro OZ8806 single-cell coulomb counter.
//
// Every register is a 16-bit little-endian word. Reads and writes are
// retried a bounded number of times before the error is returned.
package oz8806

import (
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"ozgauge/internal/mathx"
)

const Addr = 0x2F

const (
	REG_CHIP_ID      = 0x00
	REG_BOARD_OFFSET = 0x02
	REG_OCV          = 0x04 // voltage latched before the load was applied
	REG_TEMPERATURE  = 0x0C
	REG_CELL_VOLTAGE = 0x0E
	REG_CURRENT      = 0x10
	REG_CAR          = 0x12
	REG_CYCLE_COUNT  = 0x20
	REG_AGING        = 0x22
	REG_INIT_MARKER  = 0x24

	voltageLSB = 250 * physic.MicroVolt
	senseLSB   = 10 * physic.MicroVolt // current register, across Rsense
	carLSB     = 5                     // µVh across Rsense per CAR count
	carCounts  = 1 << 15
)

// Opts configures the driver.
type Opts struct {
	// SenseResistor is the value of the current sense resistor.
	SenseResistor physic.ElectricResistance
	// Attempts is the number of tries per register access.
	Attempts uint
	// RetryDelay is the pause between tries.
	RetryDelay time.Duration
}

// DefaultOpts matches the reference board: 10 mΩ sense, three tries.
var DefaultOpts = Opts{
	SenseResistor: 10 * physic.MilliOhm,
	Attempts:      3,
	RetryDelay:    5 * time.Millisecond,
}

type OZ8806 struct {
	dev  *i2c.Dev
	opts Opts
	// Sense resistance in µΩ, used for every LSB conversion.
	rsense int64
}

func NewOZ8806(bus i2c.Bus, opts *Opts) (*OZ8806, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	o := *opts
	if o.SenseResistor <= 0 {
		return nil, errors.Errorf("oz8806: invalid sense resistor %s", o.SenseResistor)
	}
	if o.Attempts == 0 {
		o.Attempts = 1
	}
	return &OZ8806{
		dev:    &i2c.Dev{Addr: Addr, Bus: bus},
		opts:   o,
		rsense: int64(o.SenseResistor / physic.MicroOhm),
	}, nil
}

func (o *OZ8806) String() string { return "OZ8806" }

// Init checks that something answers at the chip address.
func (o *OZ8806) Init() error {
	if _, err := o.readWord(REG_CHIP_ID); err != nil {
		return errors.Wrap(err, "oz8806: probe")
	}
	return nil
}

// Voltage returns the cell voltage in mV.
func (o *OZ8806) Voltage() (int32, error) { return o.readVoltage(REG_CELL_VOLTAGE) }

// OCV returns the open-circuit voltage latched at power-on, in mV.
func (o *OZ8806) OCV() (int32, error) { return o.readVoltage(REG_OCV) }

func (o *OZ8806) readVoltage(reg byte) (int32, error) {
	raw, err := o.readWord(reg)
	if err != nil {
		return 0, err
	}
	return int32(physic.ElectricPotential(raw) * voltageLSB / physic.MilliVolt), nil
}

// Current returns the cell current in mA, positive while charging.
func (o *OZ8806) Current() (int32, error) {
	raw, err := o.readWord(REG_CURRENT)
	if err != nil {
		return 0, err
	}
	return int32(o.toMilli(int64(int16(raw)) * int64(senseLSB/physic.MicroVolt))), nil
}

// Temperature returns the cell temperature in 0.1 °C. The register counts
// 1/16 °C.
func (o *OZ8806) Temperature() (int32, error) {
	raw, err := o.readWord(REG_TEMPERATURE)
	if err != nil {
		return 0, err
	}
	return int32(int16(raw)) * 10 / 16, nil
}

// Accumulator returns the coulomb accumulator (CAR) in mAh.
func (o *OZ8806) Accumulator() (int32, error) {
	raw, err := o.readWord(REG_CAR)
	if err != nil {
		return 0, err
	}
	return int32(o.toMilli(int64(int16(raw)) * carLSB)), nil
}

// SetAccumulator overwrites CAR. Values beyond the register range saturate.
func (o *OZ8806) SetAccumulator(mah int32) error {
	counts := int64(mah) * o.rsense / (carLSB * 1000)
	counts = mathx.Clamp(counts, -carCounts, carCounts-1)
	return o.writeWord(REG_CAR, uint16(int16(counts)))
}

// MaxAccumulator is the capacity CAR holds before the count wraps.
func (o *OZ8806) MaxAccumulator() int32 {
	return int32(o.toMilli(carCounts * carLSB))
}

func (o *OZ8806) CycleCount() (uint32, error) {
	raw, err := o.readWord(REG_CYCLE_COUNT)
	return uint32(raw), err
}

func (o *OZ8806) SetCycleCount(n uint32) error {
	return o.writeWord(REG_CYCLE_COUNT, uint16(mathx.Min(n, 0xFFFF)))
}

// AgingAccumulator returns the discharged capacity since the last cycle
// increment, in mAh.
func (o *OZ8806) AgingAccumulator() (int32, error) {
	raw, err := o.readWord(REG_AGING)
	return int32(raw), err
}

func (o *OZ8806) SetAgingAccumulator(mah int32) error {
	return o.writeWord(REG_AGING, uint16(mathx.Clamp(mah, 0, 0xFFFF)))
}

// BoardOffset returns the raw current offset calibration.
func (o *OZ8806) BoardOffset() (int32, error) {
	raw, err := o.readWord(REG_BOARD_OFFSET)
	return int32(int16(raw)), err
}

func (o *OZ8806) SetBoardOffset(v int32) error {
	return o.writeWord(REG_BOARD_OFFSET, uint16(int16(mathx.Clamp(v, -carCounts, carCounts-1))))
}

func (o *OZ8806) InitMarker() (uint16, error) { return o.readWord(REG_INIT_MARKER) }

func (o *OZ8806) SetInitMarker(v uint16) error { return o.writeWord(REG_INIT_MARKER, v) }

// toMilli converts a µV (or µVh) quantity across Rsense into mA (or mAh).
func (o *OZ8806) toMilli(microVolts int64) int64 {
	return microVolts * 1000 / o.rsense
}

func (o *OZ8806) retry(fn func() error) error {
	return retry.Do(fn,
		retry.Attempts(o.opts.Attempts),
		retry.Delay(o.opts.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func (o *OZ8806) readWord(reg byte) (uint16, error) {
	buf := make([]byte, 2)
	err := o.retry(func() error {
		return o.dev.Tx([]byte{reg}, buf)
	})
	if err != nil {
		return 0, errors.Wrapf(err, "oz8806: read reg 0x%02x", reg)
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

func (o *OZ8806) writeWord(reg byte, val uint16) error {
	err := o.retry(func() error {
		return o.dev.Tx([]byte{reg, byte(val), byte(val >> 8)}, nil)
	})
	return errors.Wrapf(err, "oz8806: write reg 0x%02x", reg)
}
