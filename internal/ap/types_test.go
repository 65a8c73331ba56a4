package ap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "short form already canonical",
			input:    "2a37",
			expected: "2a37",
		},
		{
			name:     "short form uppercase",
			input:    "2A37",
			expected: "2a37",
		},
		{
			name:     "dashed 128-bit form",
			input:    "6E400001-B5A3-F393-E0A9-E50E24DCCA9E",
			expected: "6e400001b5a3f393e0a9e50e24dcca9e",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestDecodeProperties(t *testing.T) {
	tests := []struct {
		name     string
		mask     int
		expected []string
	}{
		{
			name:     "read only",
			mask:     0x02,
			expected: []string{"read"},
		},
		{
			name:     "read and notify",
			mask:     0x12,
			expected: []string{"read", "notify"},
		},
		{
			name:     "write variants",
			mask:     0x0c,
			expected: []string{"write_no_response", "write"},
		},
		{
			name:     "indicate only",
			mask:     0x20,
			expected: []string{"indicate"},
		},
		{
			name:     "reliable write needs both bits",
			mask:     0x101,
			expected: []string{"reliable_write"},
		},
		{
			name:     "high bit alone is not reliable write",
			mask:     0x100,
			expected: nil,
		},
		{
			name:     "unknown bit ignored",
			mask:     0x01,
			expected: nil,
		},
		{
			name: "all flags keep fixed order",
			mask: 0x1bf,
			expected: []string{
				"read", "write_no_response", "write", "notify",
				"indicate", "extended_props", "reliable_write",
			},
		},
		{
			name:     "zero mask",
			mask:     0,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DecodeProperties(tt.mask))
		})
	}
}

func TestCharacteristicCanNotify(t *testing.T) {
	assert.True(t, NewCharacteristic("2a37", 1, PropNotify).CanNotify())
	assert.True(t, NewCharacteristic("2a37", 1, PropIndicate).CanNotify())
	assert.False(t, NewCharacteristic("2a38", 2, PropRead).CanNotify())
}

func TestConnectionLookups(t *testing.T) {
	conn := NewConnection("AA:BB:CC:DD:EE:FF", 1)
	svc := NewService("180D", 1)
	char := NewCharacteristic("2A37", 1, PropNotify)
	svc.Characteristics.Set(char.ID, char)
	conn.Services.Set(svc.ID, svc)

	// Stored IDs are canonical.
	assert.Equal(t, "180d", svc.ID)
	assert.Equal(t, "2a37", char.ID)

	// Lookups normalize the input.
	got, ok := conn.Service("180D")
	assert.True(t, ok)
	assert.Same(t, svc, got)

	gotChar, ok := conn.Characteristic("180d", "2A37")
	assert.True(t, ok)
	assert.Same(t, char, gotChar)

	_, ok = conn.Characteristic("180d", "2a38")
	assert.False(t, ok)

	_, ok = conn.Characteristic("1800", "2a37")
	assert.False(t, ok)
}

func TestConnectionCacheFresh(t *testing.T) {
	conn := NewConnection("AA:BB:CC:DD:EE:FF", 1)

	// No bound means always fresh, even before a discover.
	assert.True(t, conn.CacheFresh(0))

	// A bound with no recorded discovery is stale.
	assert.False(t, conn.CacheFresh(time.Minute))

	conn.DiscoveredAt = time.Now()
	assert.True(t, conn.CacheFresh(time.Minute))

	conn.DiscoveredAt = time.Now().Add(-2 * time.Minute)
	assert.False(t, conn.CacheFresh(time.Minute))
}

func TestFilterServices(t *testing.T) {
	services := orderedmap.New[string, *Service]()
	for _, id := range []string{"1800", "180d", "180f"} {
		services.Set(id, NewService(id, 1))
	}

	all := FilterServices(services, nil)
	var order []string
	for _, svc := range all {
		order = append(order, svc.ID)
	}
	assert.Equal(t, []string{"1800", "180d", "180f"}, order)

	// The filter normalizes requested IDs and keeps discovery order.
	some := FilterServices(services, []string{"180F", "1800"})
	assert.Len(t, some, 2)
	assert.Equal(t, "1800", some[0].ID)
	assert.Equal(t, "180f", some[1].ID)

	assert.Empty(t, FilterServices(services, []string{"1801"}))
}

func TestServiceCharacteristicOrderPreserved(t *testing.T) {
	svc := NewService("180d", 1)
	for _, id := range []string{"2a37", "2a38", "2a39"} {
		svc.Characteristics.Set(id, NewCharacteristic(id, 1, PropRead))
	}

	var order []string
	for pair := svc.Characteristics.Oldest(); pair != nil; pair = pair.Next() {
		order = append(order, pair.Key)
	}
	assert.Equal(t, []string{"2a37", "2a38", "2a39"}, order)
}
