package ap

import (
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// NormalizeUUID converts a UUID string to the canonical internal format
// (lowercase, no dashes). Handles both the dashed 128-bit form and short
// forms that are already canonical.
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// NormalizeAddress lowercases a peer address for registry lookup. The
// backend-native form is preserved on the Connection itself.
func NormalizeAddress(address string) string {
	return strings.ToLower(address)
}

// Characteristic property bit masks as reported by the backends.
const (
	PropRead            = 0x02
	PropWriteNoResponse = 0x04
	PropWrite           = 0x08
	PropNotify          = 0x10
	PropIndicate        = 0x20
	PropExtendedProps   = 0x80
	PropReliableWrite   = 0x101
)

// DecodeProperties expands a raw property bitmask into flag names. The
// tests are independent; a characteristic may carry any combination.
// PropReliableWrite spans two bits and matches only when both are set.
func DecodeProperties(mask int) []string {
	var props []string
	if mask&PropRead == PropRead {
		props = append(props, "read")
	}
	if mask&PropWriteNoResponse == PropWriteNoResponse {
		props = append(props, "write_no_response")
	}
	if mask&PropWrite == PropWrite {
		props = append(props, "write")
	}
	if mask&PropNotify == PropNotify {
		props = append(props, "notify")
	}
	if mask&PropIndicate == PropIndicate {
		props = append(props, "indicate")
	}
	if mask&PropExtendedProps == PropExtendedProps {
		props = append(props, "extended_props")
	}
	if mask&PropReliableWrite == PropReliableWrite {
		props = append(props, "reliable_write")
	}
	return props
}

// Descriptor is a GATT descriptor: identifier plus backend handle.
// Immutable after discovery.
type Descriptor struct {
	ID     string
	Handle uint16
}

// Characteristic is one GATT characteristic within a service.
type Characteristic struct {
	ID          string
	Handle      uint16
	Properties  []string
	Descriptors *orderedmap.OrderedMap[string, *Descriptor]
}

// NewCharacteristic builds a characteristic with its properties decoded
// from the raw backend bitmask.
func NewCharacteristic(id string, handle uint16, properties int) *Characteristic {
	return &Characteristic{
		ID:          NormalizeUUID(id),
		Handle:      handle,
		Properties:  DecodeProperties(properties),
		Descriptors: orderedmap.New[string, *Descriptor](),
	}
}

// CanNotify reports whether the characteristic supports notify or indicate.
func (c *Characteristic) CanNotify() bool {
	for _, p := range c.Properties {
		if p == "notify" || p == "indicate" {
			return true
		}
	}
	return false
}

// Service is one GATT service on a connected device. The characteristic
// map preserves discovery order.
type Service struct {
	ID              string
	Handle          uint32
	Characteristics *orderedmap.OrderedMap[string, *Characteristic]
}

func NewService(id string, handle uint32) *Service {
	return &Service{
		ID:              NormalizeUUID(id),
		Handle:          handle,
		Characteristics: orderedmap.New[string, *Characteristic](),
	}
}

// Characteristic looks up a characteristic by UUID, normalizing the input.
func (s *Service) Characteristic(uuid string) (*Characteristic, bool) {
	c, ok := s.Characteristics.Get(NormalizeUUID(uuid))
	return c, ok
}

// FilterServices returns services in discovery order. A non-empty
// requested list keeps only those UUIDs; the filter shapes the response,
// never the underlying map.
func FilterServices(services *orderedmap.OrderedMap[string, *Service], requested []string) []*Service {
	var filter mapset.Set[string]
	if len(requested) > 0 {
		filter = mapset.NewSet[string]()
		for _, id := range requested {
			filter.Add(NormalizeUUID(id))
		}
	}

	var result []*Service
	for pair := services.Oldest(); pair != nil; pair = pair.Next() {
		if filter == nil || filter.Contains(pair.Value.ID) {
			result = append(result, pair.Value)
		}
	}
	return result
}

// Connection represents one live BLE link. Services is replaced wholesale
// on re-discovery.
type Connection struct {
	Address      string // backend-native case
	Handle       int
	Services     *orderedmap.OrderedMap[string, *Service]
	DiscoveredAt time.Time
}

func NewConnection(address string, handle int) *Connection {
	return &Connection{
		Address:  address,
		Handle:   handle,
		Services: orderedmap.New[string, *Service](),
	}
}

// Service looks up a discovered service by UUID.
func (c *Connection) Service(uuid string) (*Service, bool) {
	s, ok := c.Services.Get(NormalizeUUID(uuid))
	return s, ok
}

// CacheFresh reports whether the cached service map is recent enough to
// serve without a new walk. A non-positive maxAge disables the bound.
func (c *Connection) CacheFresh(maxAge time.Duration) bool {
	if maxAge <= 0 {
		return true
	}
	if c.DiscoveredAt.IsZero() {
		return false
	}
	return time.Since(c.DiscoveredAt) < maxAge
}

// Characteristic resolves a (service, characteristic) pair against the
// cached service map.
func (c *Connection) Characteristic(serviceID, charID string) (*Characteristic, bool) {
	svc, ok := c.Service(serviceID)
	if !ok {
		return nil, false
	}
	return svc.Characteristic(charID)
}
