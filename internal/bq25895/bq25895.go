package bq25895

import (
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
)

const (
	Addr = 0x6A

	REG_ILIM     = 0x00
	REG_CONV_ADC = 0x02
	REG_ICHG     = 0x04
	REG_WATCHDOG = 0x07
	REG_BATFET   = 0x09
	REG_STATUS   = 0x0B
	REG_BATV     = 0x0E

	BYTE_WATCHDOG_STOP = 0b10001101
	BYTE_ILIM_2A       = 0b01101000
	BYTE_ILIM_3A       = 0b01111100
	BYTE_ILIM_3_25A    = 0b01111111
	BYTE_ICHG_0_5A     = 0b01111111
	BYTE_BATFET        = 0b01001000 // delay before battery disconnect
	BYTE_BATFET_DIS    = 0b01101000

	BYTE_CONV_ADC_START = 0b10011101
	BYTE_CONV_ADC_STOP  = 0b00011101
)

// BATV is 2.304 V plus 20 mV per count in bits 6:0.
const (
	batvOffsetMv = 2304
	batvStepMv   = 20
)

// ChargeStatus is CHRG_STAT, bits 4:3 of REG_STATUS.
type ChargeStatus byte

const (
	NotCharging ChargeStatus = iota
	PreCharge
	FastCharging
	ChargeDone
)

func (s ChargeStatus) String() string {
	switch s {
	case NotCharging:
		return "Not Charging"
	case PreCharge:
		return "Pre-Charge"
	case FastCharging:
		return "Charging"
	case ChargeDone:
		return "Charging done"
	}
	return "Unknown"
}

type Opts struct {
	// ConversionWait is how long GetStatus waits for a one-shot ADC
	// conversion.
	ConversionWait time.Duration
	// DisconnectBelowMv opens BATFET when the ADC reports a battery voltage
	// below it. Zero disables the check.
	DisconnectBelowMv int32
}

var DefaultOpts = Opts{
	ConversionWait:    1200 * time.Millisecond,
	DisconnectBelowMv: 3500,
}

type BQ25895 struct {
	dev  *i2c.Dev
	opts Opts
}

type BQStatus struct {
	Input            string `json:"input"`
	PowerGood        bool   `json:"power_good"`
	ChargeStatus     string `json:"charge_status"`
	Charging         bool   `json:"charging"`
	BatteryVoltageMv int32  `json:"battery_voltage_mv"`
}

func NewBQ25895(bus i2c.Bus, opts *Opts) (*BQ25895, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	dev := &i2c.Dev{Addr: Addr, Bus: bus}
	return &BQ25895{dev: dev, opts: *opts}, nil
}

func (b *BQ25895) String() string { return "BQ25895" }

func (b *BQ25895) Init(inputLimit string) error {
	if err := b.writeReg(REG_WATCHDOG, BYTE_WATCHDOG_STOP); err != nil {
		return err
	}

	ilim := BYTE_ILIM_3_25A
	switch inputLimit {
	case "2A":
		ilim = BYTE_ILIM_2A
	case "3A":
		ilim = BYTE_ILIM_3A
	}
	if err := b.writeReg(REG_ILIM, byte(ilim)); err != nil {
		return err
	}
	if err := b.writeReg(REG_ICHG, BYTE_ICHG_0_5A); err != nil {
		return err
	}
	return b.writeReg(REG_BATFET, BYTE_BATFET)
}

// Supply reads only REG_STATUS: whether the input is power-good and whether
// the charge cycle has terminated. It does not start an ADC conversion.
func (b *BQ25895) Supply() (powerGood, done bool, err error) {
	status, err := b.readReg(REG_STATUS)
	if err != nil {
		return false, false, err
	}
	return powerGoodBit(status), chargeStatus(status) == ChargeDone, nil
}

// GetStatus runs a one-shot ADC conversion and reports input, charge state
// and battery voltage. If the voltage is below Opts.DisconnectBelowMv the
// battery is disconnected.
func (b *BQ25895) GetStatus() (*BQStatus, error) {
	if err := b.writeReg(REG_CONV_ADC, BYTE_CONV_ADC_START); err != nil {
		return nil, err
	}
	time.Sleep(b.opts.ConversionWait)

	status, err := b.readReg(REG_STATUS)
	if err != nil {
		return nil, err
	}
	batv, err := b.readReg(REG_BATV)
	if err != nil {
		return nil, err
	}
	if err := b.writeReg(REG_CONV_ADC, BYTE_CONV_ADC_STOP); err != nil {
		return nil, err
	}

	pg := powerGoodBit(status)
	input := "Disconnected"
	if pg {
		input = "Connected"
	}
	cs := chargeStatus(status)
	mv := int32(batvOffsetMv + int32(batv&0x7F)*batvStepMv)

	if b.opts.DisconnectBelowMv > 0 && mv < b.opts.DisconnectBelowMv {
		if err := b.writeReg(REG_BATFET, BYTE_BATFET_DIS); err != nil {
			return nil, errors.Wrap(err, "bq25895: battery disconnect")
		}
	}

	return &BQStatus{
		Input:            input,
		PowerGood:        pg,
		ChargeStatus:     cs.String(),
		Charging:         cs == PreCharge || cs == FastCharging,
		BatteryVoltageMv: mv,
	}, nil
}

func powerGoodBit(status byte) bool { return (status>>2)&1 == 1 }

func chargeStatus(status byte) ChargeStatus { return ChargeStatus((status >> 3) & 0b11) }

func (b *BQ25895) writeReg(reg byte, val byte) error {
	return errors.Wrapf(b.dev.Tx([]byte{reg, val}, nil), "bq25895: write reg 0x%02x", reg)
}

func (b *BQ25895) readReg(reg byte) (byte, error) {
	buf := make([]byte, 1)
	if err := b.dev.Tx([]byte{reg}, buf); err != nil {
		return 0, errors.Wrapf(err, "bq25895: read reg 0x%02x", reg)
	}
	return buf[0], nil
}
