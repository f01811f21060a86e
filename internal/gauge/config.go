package gauge

import (
	"time"

	"github.com/pkg/errors"
)

// Point is one (x, y) breakpoint of a one-axis table.
type Point struct {
	X int32
	Y int32
}

// RCTable maps (loaded voltage, discharge current, temperature) to remaining
// capacity. Axes are ascending. Values is indexed [temperature][current][voltage].
type RCTable struct {
	Voltage     []int32 // mV
	Current     []int32 // discharge current magnitude, mA
	Temperature []int32 // 0.1 °C
	Values      [][][]Centipercent
}

// Config holds the battery model and the tuned thresholds of the estimator.
// Currents are signed mA (positive charges), voltages mV, temperatures 0.1 °C.
type Config struct {
	DesignCapacityMah          int32
	InternalResistanceMilliOhm int32

	// DischargeEndVoltage is the cutoff voltage. It anchors the reserve
	// lookup and the shutdown voltage check.
	DischargeEndVoltage int32
	// FullOCVVoltage forces 100% on a cold start at or above it.
	FullOCVVoltage int32
	// MinSaneVoltage keeps the loop on the fast period while readings are below it.
	MinSaneVoltage int32

	// DischargeCurrentThreshold is a small negative current. Below it the
	// battery is discharging; at or above it, charging or idle.
	DischargeCurrentThreshold int32
	// IdleCurrent bounds |current| for which the terminal voltage is taken as OCV.
	IdleCurrent int32

	ChargeEndCurrent  int32
	ChargeEndCurrent2 int32
	FastCatchStep     int32
	CVVoltage         int32
	CVMargin          int32
	ForceFullAfter    time.Duration

	ChargeReservePercent int32
	LowSOCThreshold      int32
	LowSOCReservePercent int32

	MinRatio          Ratio
	MaxChargeRatio    Ratio
	MaxDischargeRatio Ratio

	ShutdownVoltageTicks int

	MaxSuspendConsumeMa int32
	MaxSuspendChargeMa  int32

	FCCLearnMinPercent int32
	FCCLearnMaxPercent int32

	InitMarker  uint16
	BoardOffset int32

	Interval     time.Duration
	FastInterval time.Duration

	OCV []Point
	RC  RCTable
}

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	switch {
	case c.DesignCapacityMah <= 0:
		return errors.Errorf("design capacity %d mAh must be positive", c.DesignCapacityMah)
	case c.DischargeCurrentThreshold > 0:
		return errors.Errorf("discharge current threshold %d mA must not be positive", c.DischargeCurrentThreshold)
	case c.MinRatio <= 0 || c.MaxChargeRatio < c.MinRatio || c.MaxDischargeRatio < c.MinRatio:
		return errors.Errorf("ratio limits [%d, %d/%d] are inconsistent", c.MinRatio, c.MaxChargeRatio, c.MaxDischargeRatio)
	case c.Interval <= 0 || c.FastInterval <= 0:
		return errors.New("poll intervals must be positive")
	case c.FCCLearnMinPercent > c.FCCLearnMaxPercent:
		return errors.Errorf("fcc learning window [%d%%, %d%%] is inverted", c.FCCLearnMinPercent, c.FCCLearnMaxPercent)
	}
	if len(c.OCV) == 0 {
		return errors.New("ocv table is empty")
	}
	for i := 1; i < len(c.OCV); i++ {
		if c.OCV[i].X < c.OCV[i-1].X {
			return errors.Errorf("ocv table not ascending at index %d", i)
		}
	}
	return c.RC.validate()
}

func (t *RCTable) validate() error {
	axes := []struct {
		name string
		vals []int32
	}{
		{"voltage", t.Voltage},
		{"current", t.Current},
		{"temperature", t.Temperature},
	}
	for _, a := range axes {
		if len(a.vals) < 2 {
			return errors.Errorf("rc table %s axis needs at least 2 entries, has %d", a.name, len(a.vals))
		}
		for i := 1; i < len(a.vals); i++ {
			if a.vals[i] < a.vals[i-1] {
				return errors.Errorf("rc table %s axis not ascending at index %d", a.name, i)
			}
		}
	}
	if len(t.Values) != len(t.Temperature) {
		return errors.Errorf("rc table has %d temperature planes, want %d", len(t.Values), len(t.Temperature))
	}
	for ti, plane := range t.Values {
		if len(plane) != len(t.Current) {
			return errors.Errorf("rc table plane %d has %d rows, want %d", ti, len(plane), len(t.Current))
		}
		for ci, row := range plane {
			if len(row) != len(t.Voltage) {
				return errors.Errorf("rc table [%d][%d] has %d columns, want %d", ti, ci, len(row), len(t.Voltage))
			}
		}
	}
	return nil
}
