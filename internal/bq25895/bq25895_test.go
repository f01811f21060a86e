package bq25895

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

var noWait = Opts{DisconnectBelowMv: 3500}

func statusOps(status, batv byte) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: Addr, W: []byte{REG_CONV_ADC, BYTE_CONV_ADC_START}},
		{Addr: Addr, W: []byte{REG_STATUS}, R: []byte{status}},
		{Addr: Addr, W: []byte{REG_BATV}, R: []byte{batv}},
		{Addr: Addr, W: []byte{REG_CONV_ADC, BYTE_CONV_ADC_STOP}},
	}
}

func TestGetStatus(t *testing.T) {
	tests := []struct {
		name   string
		status byte
		batv   byte
		want   BQStatus
	}{
		{
			name:   "Charging on adapter",
			status: 0b00010100,
			batv:   75,
			want: BQStatus{
				Input:            "Connected",
				PowerGood:        true,
				ChargeStatus:     "Charging",
				Charging:         true,
				BatteryVoltageMv: 3804,
			},
		},
		{
			name:   "Done",
			status: 0b00011100,
			batv:   0x80 | 94,
			want: BQStatus{
				Input:            "Connected",
				PowerGood:        true,
				ChargeStatus:     "Charging done",
				BatteryVoltageMv: 4184,
			},
		},
		{
			name:   "On battery",
			status: 0,
			batv:   60,
			want: BQStatus{
				Input:            "Disconnected",
				ChargeStatus:     "Not Charging",
				BatteryVoltageMv: 3504,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &i2ctest.Playback{Ops: statusOps(tt.status, tt.batv)}
			bq, err := NewBQ25895(bus, &noWait)
			require.NoError(t, err)
			got, err := bq.GetStatus()
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
			require.NoError(t, bus.Close())
		})
	}
}

func TestGetStatusDisconnectsLowBattery(t *testing.T) {
	ops := append(statusOps(0, 10), i2ctest.IO{Addr: Addr, W: []byte{REG_BATFET, BYTE_BATFET_DIS}})
	bus := &i2ctest.Playback{Ops: ops}
	bq, err := NewBQ25895(bus, &noWait)
	require.NoError(t, err)

	got, err := bq.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, int32(2504), got.BatteryVoltageMv)
	require.NoError(t, bus.Close())
}

func TestSupply(t *testing.T) {
	tests := []struct {
		name      string
		status    byte
		powerGood bool
		done      bool
	}{
		{"no input", 0, false, false},
		{"pre-charge", 0b00001100, true, false},
		{"done", 0b00011100, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &i2ctest.Playback{Ops: []i2ctest.IO{
				{Addr: Addr, W: []byte{REG_STATUS}, R: []byte{tt.status}},
			}}
			bq, err := NewBQ25895(bus, &noWait)
			require.NoError(t, err)
			pg, done, err := bq.Supply()
			require.NoError(t, err)
			assert.Equal(t, tt.powerGood, pg)
			assert.Equal(t, tt.done, done)
			require.NoError(t, bus.Close())
		})
	}
}

func TestInit(t *testing.T) {
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: Addr, W: []byte{REG_WATCHDOG, BYTE_WATCHDOG_STOP}},
		{Addr: Addr, W: []byte{REG_ILIM, BYTE_ILIM_2A}},
		{Addr: Addr, W: []byte{REG_ICHG, BYTE_ICHG_0_5A}},
		{Addr: Addr, W: []byte{REG_BATFET, BYTE_BATFET}},
	}}
	bq, err := NewBQ25895(bus, &noWait)
	require.NoError(t, err)
	require.NoError(t, bq.Init("2A"))
	require.NoError(t, bus.Close())
}

func TestReadErrorIsWrapped(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}
	bq, err := NewBQ25895(bus, &noWait)
	require.NoError(t, err)
	_, _, err = bq.Supply()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read reg 0x0b")
}
