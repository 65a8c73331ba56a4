package silabs

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/tarm/serial"

	"github.com/srg/blegw/internal/ap"
)

// NCP wire format. Each frame is a four byte header followed by the
// payload:
//
//	[0] message type (0x20 command, 0xA0 event)
//	[1] payload length
//	[2] class
//	[3] method
//
// Multi-byte payload fields are little-endian. MAC addresses travel as
// six bytes in reversed order.
const (
	msgTypeCommand = 0x20
	msgTypeEvent   = 0xA0

	clsSystem     = 0x01
	clsScan       = 0x02
	clsConnection = 0x03
	clsGatt       = 0x04

	methodSystemReset      = 0x01
	methodScanStart        = 0x01
	methodScanStop         = 0x02
	methodConnOpen         = 0x01
	methodConnClose        = 0x02
	methodGattDiscServices = 0x01
	methodGattDiscChars    = 0x02
	methodGattDiscDescs    = 0x03
	methodGattRead         = 0x04
	methodGattWrite        = 0x05
	methodGattSetNotify    = 0x06

	evtSystemBoot    = 0x00
	evtScanReport    = 0x01
	evtConnOpened    = 0x01
	evtConnClosed    = 0x02
	evtGattService   = 0x01
	evtGattChar      = 0x02
	evtGattDesc      = 0x03
	evtGattCompleted = 0x04
	evtGattCharValue = 0x05

	frameHeaderLen = 4
	rxBufferSize   = 4096
)

// SerialOptions configures the NCP serial link.
type SerialOptions struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
	QueueSize   int
}

// SerialConnector speaks the NCP framing over a serial port. One reader
// goroutine reassembles frames out of the byte stream and delivers
// decoded events on Events(); commands are written inline from the
// caller's goroutine.
type SerialConnector struct {
	opts   SerialOptions
	logger *logrus.Logger

	writeMu sync.Mutex
	port    *serial.Port

	events chan Event
	stop   chan struct{}
	wg     sync.WaitGroup
}

var _ Connector = (*SerialConnector)(nil)

// NewSerialConnector creates an unstarted connector for the given port.
func NewSerialConnector(opts SerialOptions, logger *logrus.Logger) *SerialConnector {
	if opts.Baud == 0 {
		opts.Baud = 115200
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 100 * time.Millisecond
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = 64
	}
	return &SerialConnector{
		opts:   opts,
		logger: logger,
		events: make(chan Event, opts.QueueSize),
		stop:   make(chan struct{}),
	}
}

// Start opens the port, resets the controller and launches the reader.
func (c *SerialConnector) Start() error {
	port, err := serial.OpenPort(&serial.Config{
		Name:        c.opts.Port,
		Baud:        c.opts.Baud,
		ReadTimeout: c.opts.ReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", c.opts.Port, err)
	}
	c.port = port

	c.wg.Add(1)
	go c.readLoop()

	if err := c.send(clsSystem, methodSystemReset, nil); err != nil {
		return fmt.Errorf("failed to reset controller: %w", err)
	}
	return nil
}

// Stop closes the port and the event stream. Pending events already
// decoded are still delivered before the channel closes.
func (c *SerialConnector) Stop() error {
	close(c.stop)
	err := c.port.Close()
	c.wg.Wait()
	close(c.events)
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// Events returns the decoded event stream.
func (c *SerialConnector) Events() <-chan Event {
	return c.events
}

func (c *SerialConnector) send(class, method uint8, payload []byte) error {
	if len(payload) > 0xFF {
		return fmt.Errorf("payload too large: %d bytes", len(payload))
	}
	frame := make([]byte, 0, frameHeaderLen+len(payload))
	frame = append(frame, msgTypeCommand, uint8(len(payload)), class, method)
	frame = append(frame, payload...)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.port.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// readLoop reassembles frames from the serial byte stream. Partial
// frames stay buffered until the rest arrives.
func (c *SerialConnector) readLoop() {
	defer c.wg.Done()

	rx := ringbuffer.New(rxBufferSize)
	chunk := make([]byte, 256)
	var hdr [frameHeaderLen]byte
	pendingHdr := false

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		n, err := c.port.Read(chunk)
		if err != nil && err != io.EOF {
			select {
			case <-c.stop:
			default:
				c.logger.WithField("error", err).Error("Serial read failed")
			}
			return
		}
		if n > 0 {
			if _, werr := rx.Write(chunk[:n]); werr != nil {
				c.logger.WithField("error", werr).Error("Receive buffer overflow")
				return
			}
		}

		for {
			if !pendingHdr {
				if rx.Length() < frameHeaderLen {
					break
				}
				if _, err := rx.Read(hdr[:]); err != nil {
					break
				}
				pendingHdr = true
			}
			payloadLen := int(hdr[1])
			if rx.Length() < payloadLen {
				break
			}
			payload := make([]byte, payloadLen)
			if payloadLen > 0 {
				if _, err := rx.Read(payload); err != nil {
					break
				}
			}
			pendingHdr = false

			if hdr[0] != msgTypeEvent {
				continue
			}
			if evt := decodeEvent(hdr[2], hdr[3], payload); evt != nil {
				select {
				case c.events <- evt:
				case <-c.stop:
					return
				}
			}
		}
	}
}

// decodeEvent maps a raw frame onto its typed event. Unknown frames
// return nil and are dropped.
func decodeEvent(class, method uint8, p []byte) Event {
	switch class {
	case clsSystem:
		if method == evtSystemBoot {
			return BootEvent{}
		}
	case clsScan:
		if method == evtScanReport && len(p) >= 7 {
			return ScanReportEvent{
				Address: decodeAddress(p[0:6]),
				RSSI:    int(int8(p[6])),
				Data:    append([]byte(nil), p[7:]...),
			}
		}
	case clsConnection:
		switch method {
		case evtConnOpened:
			if len(p) >= 7 {
				return ConnectionOpenedEvent{
					Address:    decodeAddress(p[0:6]),
					Connection: p[6],
				}
			}
		case evtConnClosed:
			if len(p) >= 3 {
				return ConnectionClosedEvent{
					Connection: p[0],
					Reason:     binary.LittleEndian.Uint16(p[1:3]),
				}
			}
		}
	case clsGatt:
		switch method {
		case evtGattService:
			if len(p) >= 5 {
				return GattServiceEvent{
					Connection: p[0],
					Service:    binary.LittleEndian.Uint32(p[1:5]),
					UUID:       append([]byte(nil), p[5:]...),
				}
			}
		case evtGattChar:
			if len(p) >= 5 {
				return GattCharacteristicEvent{
					Connection:     p[0],
					Characteristic: binary.LittleEndian.Uint16(p[1:3]),
					Properties:     binary.LittleEndian.Uint16(p[3:5]),
					UUID:           append([]byte(nil), p[5:]...),
				}
			}
		case evtGattDesc:
			if len(p) >= 3 {
				return GattDescriptorEvent{
					Connection: p[0],
					Descriptor: binary.LittleEndian.Uint16(p[1:3]),
					UUID:       append([]byte(nil), p[3:]...),
				}
			}
		case evtGattCompleted:
			if len(p) >= 3 {
				return GattProcedureCompletedEvent{
					Connection: p[0],
					Result:     binary.LittleEndian.Uint16(p[1:3]),
				}
			}
		case evtGattCharValue:
			if len(p) >= 4 {
				return GattCharacteristicValueEvent{
					Connection:     p[0],
					Characteristic: binary.LittleEndian.Uint16(p[1:3]),
					AttOpcode:      p[3],
					Value:          append([]byte(nil), p[4:]...),
				}
			}
		}
	}
	return nil
}

// decodeAddress renders a six byte reversed MAC as aa:bb:cc:dd:ee:ff.
func decodeAddress(b []byte) string {
	parts := make([]string, 6)
	for i := 0; i < 6; i++ {
		parts[i] = hex.EncodeToString([]byte{b[5-i]})
	}
	return strings.Join(parts, ":")
}

// encodeAddress parses aa:bb:cc:dd:ee:ff into six reversed wire bytes.
func encodeAddress(address string) ([]byte, error) {
	raw := strings.ReplaceAll(ap.NormalizeAddress(address), ":", "")
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != 6 {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	out := make([]byte, 6)
	for i := 0; i < 6; i++ {
		out[i] = b[5-i]
	}
	return out, nil
}

func (c *SerialConnector) OpenConnection(address string) error {
	addr, err := encodeAddress(address)
	if err != nil {
		return err
	}
	return c.send(clsConnection, methodConnOpen, addr)
}

func (c *SerialConnector) CloseConnection(conn uint8) error {
	return c.send(clsConnection, methodConnClose, []byte{conn})
}

func (c *SerialConnector) DiscoverPrimaryServices(conn uint8) error {
	return c.send(clsGatt, methodGattDiscServices, []byte{conn})
}

func (c *SerialConnector) DiscoverCharacteristics(conn uint8, service uint32) error {
	p := make([]byte, 5)
	p[0] = conn
	binary.LittleEndian.PutUint32(p[1:], service)
	return c.send(clsGatt, methodGattDiscChars, p)
}

func (c *SerialConnector) DiscoverDescriptors(conn uint8, characteristic uint16) error {
	p := make([]byte, 3)
	p[0] = conn
	binary.LittleEndian.PutUint16(p[1:], characteristic)
	return c.send(clsGatt, methodGattDiscDescs, p)
}

func (c *SerialConnector) ReadCharacteristic(conn uint8, characteristic uint16) error {
	p := make([]byte, 3)
	p[0] = conn
	binary.LittleEndian.PutUint16(p[1:], characteristic)
	return c.send(clsGatt, methodGattRead, p)
}

func (c *SerialConnector) WriteCharacteristic(conn uint8, characteristic uint16, value []byte) error {
	p := make([]byte, 3, 3+len(value))
	p[0] = conn
	binary.LittleEndian.PutUint16(p[1:], characteristic)
	p = append(p, value...)
	return c.send(clsGatt, methodGattWrite, p)
}

func (c *SerialConnector) SetNotification(conn uint8, characteristic uint16, mode NotificationMode) error {
	p := make([]byte, 4)
	p[0] = conn
	binary.LittleEndian.PutUint16(p[1:], characteristic)
	p[3] = uint8(mode)
	return c.send(clsGatt, methodGattSetNotify, p)
}

func (c *SerialConnector) StartScan() error {
	return c.send(clsScan, methodScanStart, nil)
}

func (c *SerialConnector) StopScan() error {
	return c.send(clsScan, methodScanStop, nil)
}
