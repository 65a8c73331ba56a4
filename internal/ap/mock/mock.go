// Package mock implements an in-process access point for development
// and testing. It keeps the full contract semantics (registry, status
// publishes, subscription forwarding) without any radio underneath.
package mock

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blegw/internal/ap"
	"github.com/srg/blegw/internal/publish"
)

// Options tunes the synthetic traffic rates.
type Options struct {
	// AdvertisementInterval is the delay between replayed advertisements
	// while scanning.
	AdvertisementInterval time.Duration `default:"1s"`

	// NotificationInterval is the delay between synthetic notification
	// values on a subscription.
	NotificationInterval time.Duration `default:"1s"`
}

// DefaultOptions returns Options with defaults applied.
func DefaultOptions() *Options {
	opts := new(Options)
	defaults.SetDefaults(opts)
	return opts
}

type subscription struct {
	address string
	stop    chan struct{}
	done    chan struct{}
}

// AccessPoint is the mock backend. Capacity is unlimited and every
// connection uses handle 0.
type AccessPoint struct {
	publisher publish.Publisher
	logger    *logrus.Logger
	registry  *ap.Registry
	opts      Options

	mu     sync.Mutex
	subs   map[string]*subscription
	values map[string][]byte

	scanMu   sync.Mutex
	scanStop chan struct{}
	scanDone chan struct{}
}

var _ ap.AccessPoint = (*AccessPoint)(nil)

// New creates a mock access point.
func New(publisher publish.Publisher, logger *logrus.Logger, opts *Options) *AccessPoint {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &AccessPoint{
		publisher: publisher,
		logger:    logger,
		registry:  ap.NewRegistry(),
		opts:      *opts,
		subs:      make(map[string]*subscription),
		values:    make(map[string][]byte),
	}
}

func valueKey(address, serviceID, charID string) string {
	return ap.NormalizeAddress(address) + "|" + ap.NormalizeUUID(serviceID) + "|" + ap.NormalizeUUID(charID)
}

// Start reports readiness immediately.
func (m *AccessPoint) Start() error {
	m.logger.Info("System booted")
	return nil
}

// Stop ends scanning and closes all connections.
func (m *AccessPoint) Stop() error {
	_ = m.StopScan()
	for _, address := range m.registry.Addresses() {
		if err := m.Disconnect(address); err != nil {
			m.logger.WithFields(logrus.Fields{
				"address": address,
				"error":   err,
			}).Warn("Failed to disconnect during stop")
		}
	}
	return nil
}

// Connectable always reports capacity.
func (m *AccessPoint) Connectable() bool {
	return true
}

// StartScan launches the advertisement replay loop.
func (m *AccessPoint) StartScan() error {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()
	if m.scanStop != nil {
		return nil
	}
	m.scanStop = make(chan struct{})
	m.scanDone = make(chan struct{})
	go m.scanLoop(m.scanStop, m.scanDone)
	return nil
}

// StopScan ends the replay loop and waits for it to exit.
func (m *AccessPoint) StopScan() error {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()
	if m.scanStop == nil {
		return nil
	}
	close(m.scanStop)
	<-m.scanDone
	m.scanStop = nil
	m.scanDone = nil
	return nil
}

func (m *AccessPoint) scanLoop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.opts.AdvertisementInterval)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			adv := mockAdvertisements[i%len(mockAdvertisements)]
			data, err := hex.DecodeString(adv)
			if err != nil {
				continue
			}
			address := fmt.Sprintf("C1:5C:00:00:00:%02d", i%len(mockAdvertisements))
			m.publisher.PublishAdvertisement(address, -30+rand.IntN(11), data)
			i++
		}
	}
}

// Connect registers the peer and publishes a connected status.
func (m *AccessPoint) Connect(address string, _ *ap.ConnectOptions, _ int) error {
	if _, ok := m.registry.Get(address); ok {
		return ap.NewConnectionError("already connected")
	}
	m.registry.Put(ap.NewConnection(address, 0))
	m.publisher.PublishConnectionStatus(address, true, 0)
	return nil
}

// Discover returns the fixed heart-rate-shaped service table.
func (m *AccessPoint) Discover(address string, opts *ap.ConnectOptions, _ int) (*ap.DiscoverResult, error) {
	conn, ok := m.registry.Get(address)
	if !ok {
		return nil, ap.NewDiscoveryError("not connected")
	}

	notifyChar := ap.NewCharacteristic("2a37", 1, ap.PropNotify)
	notifyChar.Descriptors.Set("2902", &ap.Descriptor{ID: "2902", Handle: 1})
	readChar := ap.NewCharacteristic("2a38", 2, ap.PropRead)
	writeChar := ap.NewCharacteristic("2a39", 3, ap.PropWrite)

	service := ap.NewService("180d", 1)
	service.Characteristics.Set(notifyChar.ID, notifyChar)
	service.Characteristics.Set(readChar.ID, readChar)
	service.Characteristics.Set(writeChar.ID, writeChar)

	conn.Services = orderedmap.New[string, *ap.Service]()
	conn.Services.Set(service.ID, service)

	var requested []string
	if opts != nil {
		requested = opts.Services
	}
	return &ap.DiscoverResult{
		Address:  conn.Address,
		Services: ap.FilterServices(conn.Services, requested),
	}, nil
}

// Read echoes a previously written value for the key; without one, only
// 180d/2a38 answers with a fixed payload.
func (m *AccessPoint) Read(address, serviceID, charID string) (*ap.ReadResult, error) {
	conn, ok := m.registry.Get(address)
	if !ok {
		return nil, ap.NewReadError("not connected")
	}

	m.mu.Lock()
	value, written := m.values[valueKey(address, serviceID, charID)]
	m.mu.Unlock()

	if !written {
		if ap.NormalizeUUID(serviceID) != "180d" || ap.NormalizeUUID(charID) != "2a38" {
			return nil, ap.NewReadError("invalid service or characteristic uuid")
		}
		value = []byte("test")
	}

	return &ap.ReadResult{
		Address:   conn.Address,
		ServiceID: serviceID,
		CharID:    charID,
		Value:     value,
	}, nil
}

// Write accepts any key while connected and records the value for a
// later Read.
func (m *AccessPoint) Write(address, serviceID, charID string, value []byte) (*ap.WriteResult, error) {
	conn, ok := m.registry.Get(address)
	if !ok {
		return nil, ap.NewWriteError("not connected")
	}

	m.mu.Lock()
	m.values[valueKey(address, serviceID, charID)] = append([]byte(nil), value...)
	m.mu.Unlock()

	return &ap.WriteResult{
		Address:   conn.Address,
		ServiceID: serviceID,
		CharID:    charID,
		Value:     value,
		Success:   true,
	}, nil
}

// Subscribe starts a goroutine publishing synthetic values for the key.
func (m *AccessPoint) Subscribe(address, serviceID, charID string) (*ap.SubscribeResult, error) {
	conn, ok := m.registry.Get(address)
	if !ok {
		return nil, ap.NewSubscribeError("not connected")
	}

	key := valueKey(address, serviceID, charID)
	m.mu.Lock()
	if _, exists := m.subs[key]; exists {
		m.mu.Unlock()
		return nil, ap.NewSubscribeError("already subscribed")
	}
	sub := &subscription{
		address: ap.NormalizeAddress(address),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	m.subs[key] = sub
	m.mu.Unlock()

	go m.notifyLoop(sub, conn.Address, ap.NormalizeUUID(serviceID), ap.NormalizeUUID(charID))

	return &ap.SubscribeResult{
		Address:    conn.Address,
		ServiceID:  serviceID,
		CharID:     charID,
		Subscribed: true,
	}, nil
}

func (m *AccessPoint) notifyLoop(sub *subscription, address, serviceID, charID string) {
	defer close(sub.done)
	ticker := time.NewTicker(m.opts.NotificationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
			value := make([]byte, 4)
			binary.BigEndian.PutUint32(value, 0xFFFF0000+uint32(rand.IntN(0x10000)))
			m.publisher.PublishNotification(address, serviceID, charID, value)
		}
	}
}

// Unsubscribe stops the key's goroutine and joins it, so no value is
// published after return.
func (m *AccessPoint) Unsubscribe(address, serviceID, charID string) (*ap.UnsubscribeResult, error) {
	conn, ok := m.registry.Get(address)
	if !ok {
		return nil, ap.NewUnsubscribeError("not connected")
	}

	key := valueKey(address, serviceID, charID)
	m.mu.Lock()
	sub, exists := m.subs[key]
	if !exists {
		m.mu.Unlock()
		return nil, ap.NewUnsubscribeError("not subscribed")
	}
	delete(m.subs, key)
	m.mu.Unlock()

	close(sub.stop)
	<-sub.done

	return &ap.UnsubscribeResult{
		Address:      conn.Address,
		ServiceID:    serviceID,
		CharID:       charID,
		Unsubscribed: true,
	}, nil
}

// Disconnect removes the peer, retires its subscriptions and publishes
// the disconnected status once.
func (m *AccessPoint) Disconnect(address string) error {
	conn, ok := m.registry.Remove(address)
	if !ok {
		return ap.NewDisconnectError("not connected")
	}
	m.teardown(conn, 1)
	return nil
}

// SimulateLinkLoss drops the link the way a peer-initiated disconnect
// would, publishing the status with an HCI connection timeout reason.
// The registry removal decides the publisher, so racing an explicit
// Disconnect still yields exactly one status event.
func (m *AccessPoint) SimulateLinkLoss(address string) bool {
	conn, ok := m.registry.Remove(address)
	if !ok {
		return false
	}
	m.teardown(conn, 0x08)
	return true
}

func (m *AccessPoint) teardown(conn *ap.Connection, reason int) {
	normalized := ap.NormalizeAddress(conn.Address)

	m.mu.Lock()
	var retired []*subscription
	for key, sub := range m.subs {
		if sub.address == normalized {
			retired = append(retired, sub)
			delete(m.subs, key)
		}
	}
	for key := range m.values {
		if strings.HasPrefix(key, normalized+"|") {
			delete(m.values, key)
		}
	}
	m.mu.Unlock()

	for _, sub := range retired {
		close(sub.stop)
		<-sub.done
	}

	m.logger.WithFields(logrus.Fields{
		"address": conn.Address,
		"reason":  reason,
	}).Info("Connection closed")
	m.publisher.PublishConnectionStatus(conn.Address, false, reason)
}

// GetConnection returns the live connection for address, or nil.
func (m *AccessPoint) GetConnection(address string) *ap.Connection {
	conn, ok := m.registry.Get(address)
	if !ok {
		return nil
	}
	return conn
}
