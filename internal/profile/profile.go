// Package profile holds battery profiles: the calibration tables and the
// tuned thresholds the gauge runs with.
package profile

import (
	"bytes"
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"

	"ozgauge/internal/gauge"
)

// ocv is a generic 4.2 V LiCoO2 open-circuit curve.
var ocv = []gauge.Point{
	{X: 3300, Y: 0},
	{X: 3450, Y: 2},
	{X: 3550, Y: 5},
	{X: 3620, Y: 10},
	{X: 3670, Y: 15},
	{X: 3700, Y: 20},
	{X: 3730, Y: 30},
	{X: 3760, Y: 40},
	{X: 3800, Y: 50},
	{X: 3850, Y: 60},
	{X: 3910, Y: 70},
	{X: 3980, Y: 80},
	{X: 4060, Y: 90},
	{X: 4110, Y: 95},
	{X: 4150, Y: 98},
	{X: 4200, Y: 100},
}

var (
	rcVoltage     = []int32{3000, 3300, 3400, 3500, 3600, 3700, 3800, 3900, 4000, 4100, 4200, 4350}
	rcCurrent     = []int32{0, 250, 500, 1000, 2000, 3000}
	rcTemperature = []int32{-200, 0, 250, 450}
	// Internal resistance at each rcTemperature, in percent of the 25 °C value.
	rcResistance = []int32{300, 200, 100, 90}
)

// Default returns the profile of the reference 2500 mAh cell.
func Default() gauge.Config {
	cfg := gauge.Config{
		DesignCapacityMah:          2500,
		InternalResistanceMilliOhm: 120,
		DischargeEndVoltage:        3400,
		FullOCVVoltage:             4150,
		MinSaneVoltage:             2500,
		DischargeCurrentThreshold:  -10,
		IdleCurrent:                20,
		ChargeEndCurrent:           100,
		ChargeEndCurrent2:          250,
		FastCatchStep:              2,
		CVVoltage:                  4200,
		CVMargin:                   30,
		ForceFullAfter:             12 * time.Minute,
		ChargeReservePercent:       0,
		LowSOCThreshold:            15,
		LowSOCReservePercent:       5,
		MinRatio:                   300,
		MaxChargeRatio:             1500,
		MaxDischargeRatio:          1500,
		ShutdownVoltageTicks:       3,
		MaxSuspendConsumeMa:        30,
		MaxSuspendChargeMa:         1500,
		FCCLearnMinPercent:         70,
		FCCLearnMaxPercent:         110,
		InitMarker:                 0x8806,
		Interval:                   10 * time.Second,
		FastInterval:               3 * time.Second,
		OCV:                        append([]gauge.Point(nil), ocv...),
	}
	cfg.RC = SynthesizeRC(cfg.OCV, cfg.InternalResistanceMilliOhm)
	return cfg
}

// SynthesizeRC derives an RC table from an OCV curve: the remaining capacity
// at a loaded voltage v is the OCV capacity at v + I·R(T).
func SynthesizeRC(table []gauge.Point, rintMilliOhm int32) gauge.RCTable {
	centi := make([]gauge.Point, len(table))
	for i, p := range table {
		centi[i] = gauge.Point{X: p.X, Y: p.Y * 100}
	}
	t := gauge.RCTable{
		Voltage:     append([]int32(nil), rcVoltage...),
		Current:     append([]int32(nil), rcCurrent...),
		Temperature: append([]int32(nil), rcTemperature...),
		Values:      make([][][]gauge.Centipercent, len(rcTemperature)),
	}
	for ti := range rcTemperature {
		r := int64(rintMilliOhm) * int64(rcResistance[ti]) / 100
		plane := make([][]gauge.Centipercent, len(rcCurrent))
		for ci, c := range rcCurrent {
			row := make([]gauge.Centipercent, len(rcVoltage))
			drop := int32(int64(c) * r / 1000)
			for vi, v := range rcVoltage {
				row[vi] = gauge.Centipercent(gauge.OnePointInterpolate(centi, v+drop))
			}
			plane[ci] = row
		}
		t.Values[ti] = plane
	}
	return t
}

// duration reads "12m" style strings.
type duration time.Duration

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Errorf("duration %s must be a string such as \"10s\"", b)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// document is the on-disk form. Durations are strings, and an absent RC
// table is synthesized from the (possibly overridden) OCV curve.
type document struct {
	*gauge.Config
	ForceFullAfter *duration
	Interval       *duration
	FastInterval   *duration
	RC             *gauge.RCTable
}

// Parse overlays the JSON profile in b onto cfg and validates the result.
func Parse(b []byte, cfg *gauge.Config) error {
	doc := document{Config: cfg}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return errors.Wrap(err, "profile")
	}
	for _, d := range []struct {
		src *duration
		dst *time.Duration
	}{
		{doc.ForceFullAfter, &cfg.ForceFullAfter},
		{doc.Interval, &cfg.Interval},
		{doc.FastInterval, &cfg.FastInterval},
	} {
		if d.src != nil {
			*d.dst = time.Duration(*d.src)
		}
	}
	if doc.RC != nil {
		cfg.RC = *doc.RC
	} else {
		cfg.RC = SynthesizeRC(cfg.OCV, cfg.InternalResistanceMilliOhm)
	}
	return errors.Wrap(cfg.Validate(), "profile")
}

// Load returns Default overlaid with the profile file at path. An empty path
// yields Default.
func Load(path string) (gauge.Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "profile")
	}
	if err := Parse(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "%s", path)
	}
	return cfg, nil
}
