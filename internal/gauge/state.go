package gauge

import "time"

// State is the gauge's belief about the battery. It lives for the whole
// power-on session and is only mutated under the gauge's update mutex.
type State struct {
	RemainingCapacityMah         int32
	PreviousRemainingCapacityMah int32
	RelativeStateOfChargePercent int32
	FullChargeCapacityMah        int32

	ChargeEnd    bool
	DischargeEnd bool

	ChargeRatio    Ratio
	DischargeRatio Ratio

	CycleCount              uint32
	AccumulatedDischargeMah int32

	ChargeSegmentCoulombs    int32
	DischargeSegmentCoulombs int32

	InitDone bool
}

// Diagnostics counts locally recovered faults.
type Diagnostics struct {
	TransportErrors   uint64 `json:"transport_errors"`
	RangeAnomalies    uint64 `json:"range_anomalies"`
	DegenerateLookups uint64 `json:"degenerate_lookups"`
	InitFailures      uint64 `json:"init_failures"`
}

// Snapshot is a consistent copy of everything the power-supply interface reports.
type Snapshot struct {
	StateOfChargePercent int32       `json:"soc_percent"`
	RemainingCapacityMah int32       `json:"remaining_capacity_mah"`
	FullChargeCapacity   int32       `json:"full_charge_capacity_mah"`
	VoltageMv            int32       `json:"voltage_mv"`
	CurrentMa            int32       `json:"current_ma"`
	TemperatureDeciC     int32       `json:"temperature_decic"`
	CycleCount           uint32      `json:"cycle_count"`
	ChargeEnd            bool        `json:"charge_end"`
	DischargeEnd         bool        `json:"discharge_end"`
	AdapterPresent       bool        `json:"adapter_present"`
	Initialized          bool        `json:"initialized"`
	UpdatedAt            time.Time   `json:"updated_at"`
	Diagnostics          Diagnostics `json:"diagnostics"`
}

type segment int

const (
	segmentNone segment = iota
	segmentCharge
	segmentDischarge
)

func (s segment) String() string {
	switch s {
	case segmentCharge:
		return "charge"
	case segmentDischarge:
		return "discharge"
	default:
		return "none"
	}
}
