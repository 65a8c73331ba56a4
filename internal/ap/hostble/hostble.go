// Package hostble implements the access point on top of the host's BLE
// stack via go-ble. Unlike the NCP backend there is no single event
// stream to dispatch: go-ble already exposes synchronous calls, so this
// backend's job is the registry bookkeeping, the explicit three-phase
// discovery walk and the teardown funnel shared between explicit
// disconnects and stack-reported link drops.
package hostble

import (
	"context"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blegw/internal/ap"
	"github.com/srg/blegw/internal/publish"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests).
var DeviceFactory = newDevice

// Options tunes the host-stack access point.
type Options struct {
	// ConnectTimeout bounds each dial attempt.
	ConnectTimeout time.Duration `default:"10s"`

	// OperationTimeout bounds GATT procedures.
	OperationTimeout time.Duration `default:"5s"`
}

// DefaultOptions returns Options with defaults applied.
func DefaultOptions() *Options {
	opts := new(Options)
	defaults.SetDefaults(opts)
	return opts
}

// peer holds the per-connection go-ble state next to the shared
// ap.Connection: the live client, the characteristic handles resolved
// during discovery and the active subscription keys.
type peer struct {
	client ble.Client

	mu    sync.Mutex
	chars map[string]*ble.Characteristic
	subs  mapset.Set[string]
}

func charKey(serviceID, charID string) string {
	return ap.NormalizeUUID(serviceID) + "|" + ap.NormalizeUUID(charID)
}

// AccessPoint is the host-stack backend.
type AccessPoint struct {
	publisher publish.Publisher
	logger    *logrus.Logger
	registry  *ap.Registry
	opts      Options

	mu    sync.Mutex
	peers map[string]*peer

	device ble.Device

	scanMu     sync.Mutex
	scanCancel context.CancelFunc
	scanDone   chan struct{}
}

var _ ap.AccessPoint = (*AccessPoint)(nil)

// New creates a host-stack access point.
func New(publisher publish.Publisher, logger *logrus.Logger, opts *Options) *AccessPoint {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &AccessPoint{
		publisher: publisher,
		logger:    logger,
		registry:  ap.NewRegistry(),
		opts:      *opts,
		peers:     make(map[string]*peer),
	}
}

// Start initializes the host BLE device.
func (h *AccessPoint) Start() error {
	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)
	h.device = dev
	h.logger.Info("Host BLE stack ready")
	return nil
}

// Stop ends scanning, closes all connections and releases the device.
func (h *AccessPoint) Stop() error {
	_ = h.StopScan()
	for _, address := range h.registry.Addresses() {
		if err := h.Disconnect(address); err != nil {
			h.logger.WithFields(logrus.Fields{
				"address": address,
				"error":   err,
			}).Warn("Failed to disconnect during stop")
		}
	}
	if h.device != nil {
		if err := h.device.Stop(); err != nil {
			return fmt.Errorf("failed to stop BLE device: %w", err)
		}
	}
	return nil
}

// Connectable always reports capacity; the host stack imposes no fixed
// connection limit this backend can observe.
func (h *AccessPoint) Connectable() bool {
	return true
}

// StartScan begins scanning; each advertisement is forwarded to the
// publisher as it arrives.
func (h *AccessPoint) StartScan() error {
	h.scanMu.Lock()
	defer h.scanMu.Unlock()
	if h.scanCancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.scanCancel = cancel
	h.scanDone = done

	go func() {
		defer close(done)
		err := ble.Scan(ctx, true, func(adv ble.Advertisement) {
			h.publisher.PublishAdvertisement(adv.Addr().String(), adv.RSSI(), advPayload(adv))
		}, nil)
		if err != nil && ctx.Err() == nil {
			h.logger.WithField("error", err).Error("Scan failed")
		}
	}()
	return nil
}

// advPayload extracts the raw advertising payload so the published data
// matches what the other backends report. The Advertisement interface
// does not carry the raw bytes; the HCI-level implementations do.
func advPayload(adv ble.Advertisement) []byte {
	if raw, ok := adv.(interface{ Data() []byte }); ok {
		return raw.Data()
	}
	return adv.ManufacturerData()
}

// StopScan cancels the scan context and waits for the scan goroutine.
func (h *AccessPoint) StopScan() error {
	h.scanMu.Lock()
	defer h.scanMu.Unlock()
	if h.scanCancel == nil {
		return nil
	}
	h.scanCancel()
	<-h.scanDone
	h.scanCancel = nil
	h.scanDone = nil
	return nil
}

// Connect dials the peer with a bounded timeout and starts the
// disconnect watcher.
func (h *AccessPoint) Connect(address string, _ *ap.ConnectOptions, retries int) error {
	if _, ok := h.registry.Get(address); ok {
		return ap.NewConnectionError("already connected")
	}

	var client ble.Client
	var err error
	attempts := retries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			h.logger.WithField("address", address).Info("Retrying connection...")
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.ConnectTimeout)
		client, err = ble.Dial(ctx, ble.NewAddr(address))
		cancel()
		if err == nil {
			break
		}
	}
	if err != nil {
		return ap.NewConnectionError("failed to connect to %s: %v", address, err)
	}

	p := &peer{
		client: client,
		chars:  make(map[string]*ble.Characteristic),
		subs:   mapset.NewSet[string](),
	}
	h.mu.Lock()
	h.peers[ap.NormalizeAddress(address)] = p
	h.mu.Unlock()
	h.registry.Put(ap.NewConnection(address, 0))

	go h.watchDisconnect(address, client)

	h.publisher.PublishConnectionStatus(address, true, 0)
	return nil
}

// watchDisconnect funnels stack-reported link drops into the same
// teardown used by explicit disconnects, so the status event fires
// exactly once per link.
func (h *AccessPoint) watchDisconnect(address string, client ble.Client) {
	<-client.Disconnected()
	conn, ok := h.registry.Remove(address)
	if !ok {
		return
	}
	h.retirePeer(address)
	h.logger.WithField("address", conn.Address).Info("Connection closed")
	h.publisher.PublishConnectionStatus(conn.Address, false, 0)
}

func (h *AccessPoint) getPeer(address string) (*peer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.peers[ap.NormalizeAddress(address)]
	return p, ok
}

func (h *AccessPoint) retirePeer(address string) {
	h.mu.Lock()
	delete(h.peers, ap.NormalizeAddress(address))
	h.mu.Unlock()
}

// Discover performs the explicit three-phase walk: services, then
// characteristics per service, then descriptors per characteristic. The
// first failing phase aborts the whole discovery.
func (h *AccessPoint) Discover(address string, opts *ap.ConnectOptions, _ int) (*ap.DiscoverResult, error) {
	conn, ok := h.registry.Get(address)
	if !ok {
		return nil, ap.NewDiscoveryError("not connected")
	}
	p, ok := h.getPeer(address)
	if !ok {
		return nil, ap.NewDiscoveryError("not connected")
	}

	var requested []string
	if opts != nil {
		requested = opts.Services
	}
	if opts != nil && opts.Cached && conn.Services.Len() > 0 && conn.CacheFresh(opts.CacheIdlePurge) {
		return &ap.DiscoverResult{
			Address:  conn.Address,
			Services: ap.FilterServices(conn.Services, requested),
		}, nil
	}

	bleServices, err := p.client.DiscoverServices(nil)
	if err != nil {
		return nil, ap.NewDiscoveryError("failed to discover services: %v", err)
	}

	services := orderedmap.New[string, *ap.Service]()
	chars := make(map[string]*ble.Characteristic)

	for _, bleSvc := range bleServices {
		svc := ap.NewService(bleSvc.UUID.String(), uint32(bleSvc.Handle))
		services.Set(svc.ID, svc)

		bleChars, err := p.client.DiscoverCharacteristics(nil, bleSvc)
		if err != nil {
			return nil, ap.NewDiscoveryError("failed to discover characteristics: %v", err)
		}
		for _, bleChar := range bleChars {
			char := ap.NewCharacteristic(bleChar.UUID.String(), bleChar.Handle, int(bleChar.Property))
			svc.Characteristics.Set(char.ID, char)
			chars[charKey(svc.ID, char.ID)] = bleChar

			bleDescs, err := p.client.DiscoverDescriptors(nil, bleChar)
			if err != nil {
				return nil, ap.NewDiscoveryError("failed to discover descriptors: %v", err)
			}
			for _, bleDesc := range bleDescs {
				id := ap.NormalizeUUID(bleDesc.UUID.String())
				char.Descriptors.Set(id, &ap.Descriptor{ID: id, Handle: bleDesc.Handle})
			}
		}
	}

	conn.Services = services
	conn.DiscoveredAt = time.Now()
	p.mu.Lock()
	p.chars = chars
	p.mu.Unlock()

	return &ap.DiscoverResult{
		Address:  conn.Address,
		Services: ap.FilterServices(services, requested),
	}, nil
}

// resolve maps a (service, characteristic) pair onto the live go-ble
// characteristic captured during discovery.
func (p *peer) resolve(serviceID, charID string) (*ble.Characteristic, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.chars[charKey(serviceID, charID)]
	return c, ok
}

// Read returns the raw value of a characteristic.
func (h *AccessPoint) Read(address, serviceID, charID string) (*ap.ReadResult, error) {
	conn, ok := h.registry.Get(address)
	if !ok {
		return nil, ap.NewReadError("not connected")
	}
	p, ok := h.getPeer(address)
	if !ok {
		return nil, ap.NewReadError("not connected")
	}
	bleChar, ok := p.resolve(serviceID, charID)
	if !ok {
		return nil, ap.NewReadError("invalid service or characteristic uuid")
	}

	value, err := p.client.ReadCharacteristic(bleChar)
	if err != nil {
		return nil, ap.NewReadError("failed to read characteristic: %v", err)
	}

	return &ap.ReadResult{
		Address:   conn.Address,
		ServiceID: serviceID,
		CharID:    charID,
		Value:     value,
	}, nil
}

// Write writes an opaque byte buffer to a characteristic.
func (h *AccessPoint) Write(address, serviceID, charID string, value []byte) (*ap.WriteResult, error) {
	conn, ok := h.registry.Get(address)
	if !ok {
		return nil, ap.NewWriteError("not connected")
	}
	p, ok := h.getPeer(address)
	if !ok {
		return nil, ap.NewWriteError("not connected")
	}
	bleChar, ok := p.resolve(serviceID, charID)
	if !ok {
		return nil, ap.NewWriteError("invalid service or characteristic uuid")
	}

	if err := p.client.WriteCharacteristic(bleChar, value, false); err != nil {
		return nil, ap.NewWriteError("failed to write characteristic: %v", err)
	}

	return &ap.WriteResult{
		Address:   conn.Address,
		ServiceID: serviceID,
		CharID:    charID,
		Value:     value,
		Success:   true,
	}, nil
}

// Subscribe enables notifications. The handler checks subscription
// membership before publishing, so a value racing Unsubscribe is
// dropped rather than forwarded late.
func (h *AccessPoint) Subscribe(address, serviceID, charID string) (*ap.SubscribeResult, error) {
	conn, ok := h.registry.Get(address)
	if !ok {
		return nil, ap.NewSubscribeError("not connected")
	}
	p, ok := h.getPeer(address)
	if !ok {
		return nil, ap.NewSubscribeError("not connected")
	}
	bleChar, ok := p.resolve(serviceID, charID)
	if !ok {
		return nil, ap.NewSubscribeError("invalid service or characteristic uuid")
	}

	key := charKey(serviceID, charID)
	if !p.subs.Add(key) {
		return nil, ap.NewSubscribeError("already subscribed")
	}

	indicate := bleChar.Property&ble.CharNotify == 0 && bleChar.Property&ble.CharIndicate != 0
	normalizedSvc := ap.NormalizeUUID(serviceID)
	normalizedChar := ap.NormalizeUUID(charID)
	err := p.client.Subscribe(bleChar, indicate, func(data []byte) {
		if !p.subs.Contains(key) {
			return
		}
		value := append([]byte(nil), data...)
		h.publisher.PublishNotification(conn.Address, normalizedSvc, normalizedChar, value)
	})
	if err != nil {
		p.subs.Remove(key)
		return nil, ap.NewSubscribeError("failed to subscribe: %v", err)
	}

	return &ap.SubscribeResult{
		Address:    conn.Address,
		ServiceID:  serviceID,
		CharID:     charID,
		Subscribed: true,
	}, nil
}

// Unsubscribe removes the key before issuing the stack unsubscribe, so
// no notification is published after return.
func (h *AccessPoint) Unsubscribe(address, serviceID, charID string) (*ap.UnsubscribeResult, error) {
	conn, ok := h.registry.Get(address)
	if !ok {
		return nil, ap.NewUnsubscribeError("not connected")
	}
	p, ok := h.getPeer(address)
	if !ok {
		return nil, ap.NewUnsubscribeError("not connected")
	}

	key := charKey(serviceID, charID)
	if !p.subs.Contains(key) {
		return nil, ap.NewUnsubscribeError("not subscribed")
	}
	p.subs.Remove(key)

	bleChar, ok := p.resolve(serviceID, charID)
	if !ok {
		return nil, ap.NewUnsubscribeError("invalid service or characteristic uuid")
	}

	indicate := bleChar.Property&ble.CharNotify == 0 && bleChar.Property&ble.CharIndicate != 0
	if err := p.client.Unsubscribe(bleChar, indicate); err != nil {
		return nil, ap.NewUnsubscribeError("failed to unsubscribe: %v", err)
	}

	return &ap.UnsubscribeResult{
		Address:      conn.Address,
		ServiceID:    serviceID,
		CharID:       charID,
		Unsubscribed: true,
	}, nil
}

// Disconnect cancels the link. The registry removal decides whether
// this call or the disconnect watcher publishes the status; only one
// side wins.
func (h *AccessPoint) Disconnect(address string) error {
	conn, ok := h.registry.Remove(address)
	if !ok {
		return ap.NewDisconnectError("not connected")
	}
	p, hadPeer := h.getPeer(address)
	h.retirePeer(address)

	if hadPeer {
		p.subs.Clear()
		if err := p.client.CancelConnection(); err != nil {
			h.logger.WithFields(logrus.Fields{
				"address": conn.Address,
				"error":   err,
			}).Warn("Failed to cancel connection")
		}
	}

	h.logger.WithField("address", conn.Address).Info("Connection closed")
	h.publisher.PublishConnectionStatus(conn.Address, false, 0)
	return nil
}

// GetConnection returns the live connection for address, or nil.
func (h *AccessPoint) GetConnection(address string) *ap.Connection {
	conn, ok := h.registry.Get(address)
	if !ok {
		return nil
	}
	return conn
}
