package gauge

// Chip is the register access layer of the fuel-gauge IC. Every method
// performs its own bounded retries and reports failure only once they are
// exhausted. Quantities are already converted out of IC-native LSB units.
type Chip interface {
	Voltage() (int32, error)     // mV
	OCV() (int32, error)         // open-circuit voltage latched at power-on, mV
	Current() (int32, error)     // mA, positive while charging
	Temperature() (int32, error) // 0.1 °C

	Accumulator() (int32, error) // mAh
	SetAccumulator(mah int32) error
	// MaxAccumulator is the largest capacity the accumulator can hold
	// before its 16-bit count wraps.
	MaxAccumulator() int32

	CycleCount() (uint32, error)
	SetCycleCount(n uint32) error
	AgingAccumulator() (int32, error)
	SetAgingAccumulator(mah int32) error
	BoardOffset() (int32, error)
	SetBoardOffset(v int32) error
	InitMarker() (uint16, error)
	SetInitMarker(v uint16) error
}

// ChargerState is what the charger reports about the external supply.
type ChargerState struct {
	AdapterPresent bool
	ChargeDone     bool
}

// Charger supplies the adapter-present signal. It is optional.
type Charger interface {
	ChargerState() (ChargerState, error)
}

// ChargerFunc adapts a function to Charger.
type ChargerFunc func() (ChargerState, error)

func (f ChargerFunc) ChargerState() (ChargerState, error) { return f() }

// Reading is one tick's sensor sample.
type Reading struct {
	Voltage     int32 // mV
	Current     int32 // mA
	Temperature int32 // 0.1 °C
}
