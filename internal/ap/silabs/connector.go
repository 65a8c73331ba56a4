// Package silabs implements the access-point contract on top of a
// radio-chip (NCP) controller. The controller is driven through typed
// commands and reports back through a single asynchronous event stream;
// one dispatcher goroutine converts that stream into completions for the
// blocking operations issued by callers.
package silabs

import (
	"encoding/hex"
)

// NotificationMode selects the client characteristic configuration
// written by SetNotification.
type NotificationMode uint8

const (
	gattDisable      NotificationMode = 0x00
	gattNotification NotificationMode = 0x01
	gattIndication   NotificationMode = 0x02
)

// ATT opcodes carried on characteristic value events.
const (
	attOpcodeReadResponse = 0x0b
	attOpcodeNotification = 0x1b
	attOpcodeIndication   = 0x1d
)

// Event is the tagged union of controller events. Consumers demultiplex
// with a type switch; there is no string-based dispatch.
type Event interface{ event() }

// BootEvent signals that the controller finished booting and the access
// point is ready for commands.
type BootEvent struct{}

// ScanReportEvent carries one received advertisement.
type ScanReportEvent struct {
	Address string
	RSSI    int
	Data    []byte
}

// ConnectionOpenedEvent reports a successfully opened link.
type ConnectionOpenedEvent struct {
	Address    string
	Connection uint8
}

// ConnectionClosedEvent reports a closed link, whether requested or
// dropped by the remote side.
type ConnectionClosedEvent struct {
	Connection uint8
	Reason     uint16
}

// GattServiceEvent reports one primary service found during discovery.
type GattServiceEvent struct {
	Connection uint8
	Service    uint32
	UUID       []byte // controller byte order (reversed)
}

// GattCharacteristicEvent reports one characteristic found during
// discovery, with its raw property bitmask.
type GattCharacteristicEvent struct {
	Connection     uint8
	Characteristic uint16
	Properties     uint16
	UUID           []byte
}

// GattDescriptorEvent reports one descriptor found during discovery.
type GattDescriptorEvent struct {
	Connection uint8
	Descriptor uint16
	UUID       []byte
}

// GattProcedureCompletedEvent terminates a GATT procedure. Result zero
// means success; any other value is a controller error code.
type GattProcedureCompletedEvent struct {
	Connection uint8
	Result     uint16
}

// GattCharacteristicValueEvent carries a characteristic value, either a
// read response or an unsolicited notification/indication.
type GattCharacteristicValueEvent struct {
	Connection     uint8
	Characteristic uint16
	AttOpcode      uint8
	Value          []byte
}

func (BootEvent) event()                    {}
func (ScanReportEvent) event()              {}
func (ConnectionOpenedEvent) event()        {}
func (ConnectionClosedEvent) event()        {}
func (GattServiceEvent) event()             {}
func (GattCharacteristicEvent) event()      {}
func (GattDescriptorEvent) event()          {}
func (GattProcedureCompletedEvent) event()  {}
func (GattCharacteristicValueEvent) event() {}

// uuidString renders a controller UUID (least significant byte first) as
// canonical lowercase hex.
func uuidString(uuid []byte) string {
	rev := make([]byte, len(uuid))
	for i, b := range uuid {
		rev[len(uuid)-1-i] = b
	}
	return hex.EncodeToString(rev)
}

// Connector is the command surface of the NCP controller. Commands are
// asynchronous: outcomes arrive on the Events stream. The stream is
// closed by Stop, which ends the dispatcher.
type Connector interface {
	Start() error
	Stop() error
	Events() <-chan Event

	OpenConnection(address string) error
	CloseConnection(conn uint8) error

	DiscoverPrimaryServices(conn uint8) error
	DiscoverCharacteristics(conn uint8, serviceHandle uint32) error
	DiscoverDescriptors(conn uint8, charHandle uint16) error

	ReadCharacteristic(conn uint8, charHandle uint16) error
	WriteCharacteristic(conn uint8, charHandle uint16, value []byte) error
	SetNotification(conn uint8, charHandle uint16, mode NotificationMode) error

	StartScan() error
	StopScan() error
}
