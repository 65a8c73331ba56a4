package silabs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAddress(t *testing.T) {
	b, err := encodeAddress("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}, b)

	_, err = encodeAddress("not-an-address")
	assert.Error(t, err)

	_, err = encodeAddress("aa:bb:cc:dd:ee")
	assert.Error(t, err)
}

func TestDecodeAddressRoundTrip(t *testing.T) {
	wire, err := encodeAddress("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", decodeAddress(wire))
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name     string
		class    uint8
		method   uint8
		payload  []byte
		expected Event
	}{
		{
			name:     "boot",
			class:    clsSystem,
			method:   evtSystemBoot,
			payload:  nil,
			expected: BootEvent{},
		},
		{
			name:    "scan report",
			class:   clsScan,
			method:  evtScanReport,
			payload: []byte{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA, 0xD6, 0x02, 0x01, 0x06},
			expected: ScanReportEvent{
				Address: "aa:bb:cc:dd:ee:ff",
				RSSI:    -42,
				Data:    []byte{0x02, 0x01, 0x06},
			},
		},
		{
			name:    "connection opened",
			class:   clsConnection,
			method:  evtConnOpened,
			payload: []byte{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA, 0x01},
			expected: ConnectionOpenedEvent{
				Address:    "aa:bb:cc:dd:ee:ff",
				Connection: 1,
			},
		},
		{
			name:    "connection closed",
			class:   clsConnection,
			method:  evtConnClosed,
			payload: []byte{0x01, 0x08, 0x00},
			expected: ConnectionClosedEvent{
				Connection: 1,
				Reason:     0x08,
			},
		},
		{
			name:    "gatt service",
			class:   clsGatt,
			method:  evtGattService,
			payload: []byte{0x01, 0x01, 0x00, 0x01, 0x00, 0x0d, 0x18},
			expected: GattServiceEvent{
				Connection: 1,
				Service:    0x10001,
				UUID:       []byte{0x0d, 0x18},
			},
		},
		{
			name:    "gatt characteristic",
			class:   clsGatt,
			method:  evtGattChar,
			payload: []byte{0x01, 0x0b, 0x00, 0x10, 0x00, 0x37, 0x2a},
			expected: GattCharacteristicEvent{
				Connection:     1,
				Characteristic: 11,
				Properties:     0x10,
				UUID:           []byte{0x37, 0x2a},
			},
		},
		{
			name:    "gatt descriptor",
			class:   clsGatt,
			method:  evtGattDesc,
			payload: []byte{0x01, 0x0e, 0x00, 0x02, 0x29},
			expected: GattDescriptorEvent{
				Connection: 1,
				Descriptor: 14,
				UUID:       []byte{0x02, 0x29},
			},
		},
		{
			name:    "procedure completed",
			class:   clsGatt,
			method:  evtGattCompleted,
			payload: []byte{0x01, 0x85, 0x01},
			expected: GattProcedureCompletedEvent{
				Connection: 1,
				Result:     0x0185,
			},
		},
		{
			name:    "characteristic value",
			class:   clsGatt,
			method:  evtGattCharValue,
			payload: []byte{0x01, 0x0b, 0x00, 0x1b, 0x00, 0x5a},
			expected: GattCharacteristicValueEvent{
				Connection:     1,
				Characteristic: 11,
				AttOpcode:      attOpcodeNotification,
				Value:          []byte{0x00, 0x5a},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, decodeEvent(tt.class, tt.method, tt.payload))
		})
	}
}

func TestDecodeEventUnknownOrTruncated(t *testing.T) {
	assert.Nil(t, decodeEvent(0x7f, 0x01, nil))
	assert.Nil(t, decodeEvent(clsGatt, 0x7f, nil))
	// Truncated payloads are dropped, not misparsed.
	assert.Nil(t, decodeEvent(clsConnection, evtConnOpened, []byte{0x01, 0x02}))
	assert.Nil(t, decodeEvent(clsGatt, evtGattCompleted, []byte{0x01}))
}
