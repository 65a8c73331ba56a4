package silabs

import (
	"fmt"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/blegw/internal/ap"
	"github.com/srg/blegw/internal/publish"
)

// Options tunes the NCP access point.
type Options struct {
	// MaxConnections is the controller's simultaneous connection limit.
	MaxConnections int `default:"4"`

	// BootTimeout bounds the wait for the boot event during Start.
	BootTimeout time.Duration `default:"10s"`

	// ConnectTimeout bounds each connect attempt.
	ConnectTimeout time.Duration `default:"10s"`

	// OperationTimeout bounds every other wait on a controller event.
	OperationTimeout time.Duration `default:"5s"`
}

// DefaultOptions returns Options with defaults applied.
func DefaultOptions() *Options {
	opts := new(Options)
	defaults.SetDefaults(opts)
	return opts
}

// AccessPoint drives an NCP controller. One dispatcher goroutine drains
// the controller's event stream and resolves the blocking operations
// issued by caller goroutines; events are processed strictly one at a
// time in delivery order.
type AccessPoint struct {
	connector Connector
	publisher publish.Publisher
	logger    *logrus.Logger
	registry  *ap.Registry
	opts      Options

	opsMu sync.Mutex
	ops   []operation

	subsMu sync.Mutex
	subs   map[string]*subscribeOperation

	scanMu sync.Mutex
	scan   *scanOperation

	ready     chan struct{}
	readyOnce sync.Once
	wg        sync.WaitGroup
}

var _ ap.AccessPoint = (*AccessPoint)(nil)

// New creates an NCP access point. The connector is not started until
// Start is called.
func New(connector Connector, publisher publish.Publisher, logger *logrus.Logger, opts *Options) *AccessPoint {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &AccessPoint{
		connector: connector,
		publisher: publisher,
		logger:    logger,
		registry:  ap.NewRegistry(),
		opts:      *opts,
		subs:      make(map[string]*subscribeOperation),
		ready:     make(chan struct{}),
	}
}

func subKey(address, serviceID, charID string) string {
	return ap.NormalizeAddress(address) + "|" + ap.NormalizeUUID(serviceID) + "|" + ap.NormalizeUUID(charID)
}

// Start brings the controller online and blocks until it reports boot.
func (s *AccessPoint) Start() error {
	if err := s.connector.Start(); err != nil {
		return fmt.Errorf("failed to start connector: %w", err)
	}

	s.wg.Add(1)
	go s.run()

	timer := time.NewTimer(s.opts.BootTimeout)
	defer timer.Stop()
	select {
	case <-s.ready:
		return nil
	case <-timer.C:
		return fmt.Errorf("timed out waiting for controller boot")
	}
}

// Stop ends scanning, closes every open connection, releases any still
// blocked caller and joins the dispatcher.
func (s *AccessPoint) Stop() error {
	_ = s.StopScan()

	for _, address := range s.registry.Addresses() {
		if err := s.Disconnect(address); err != nil {
			s.logger.WithFields(logrus.Fields{
				"address": address,
				"error":   err,
			}).Warn("Failed to disconnect during stop")
		}
	}

	s.opsMu.Lock()
	for _, op := range s.ops {
		op.abort()
	}
	s.ops = nil
	s.opsMu.Unlock()

	if err := s.connector.Stop(); err != nil {
		return fmt.Errorf("failed to stop connector: %w", err)
	}
	s.wg.Wait()
	return nil
}

// run is the event dispatcher. It exits when the connector closes its
// event stream.
func (s *AccessPoint) run() {
	defer s.wg.Done()
	for evt := range s.connector.Events() {
		s.dispatch(evt)
	}
}

// dispatch offers one event to every pending operation, prunes completed
// operations, then runs the access-point-level handlers. Handler work
// for an event finishes before the next event is taken.
func (s *AccessPoint) dispatch(evt Event) {
	s.opsMu.Lock()
	pending := make([]operation, len(s.ops))
	copy(pending, s.ops)
	s.opsMu.Unlock()

	for _, op := range pending {
		if !op.done() {
			op.handleEvent(evt)
		}
	}

	s.opsMu.Lock()
	remaining := s.ops[:0]
	for _, op := range s.ops {
		if !op.done() {
			remaining = append(remaining, op)
		}
	}
	s.ops = remaining
	s.opsMu.Unlock()

	switch e := evt.(type) {
	case BootEvent:
		s.logger.Info("Controller booted")
		s.readyOnce.Do(func() { close(s.ready) })
	case ConnectionClosedEvent:
		s.handleConnectionClosed(e)
	}
}

// handleConnectionClosed is the single teardown funnel. Both explicit
// disconnects and controller-initiated link drops arrive here; the
// registry removal decides which caller publishes, so the status event
// fires exactly once per link.
func (s *AccessPoint) handleConnectionClosed(e ConnectionClosedEvent) {
	conn, ok := s.registry.RemoveByHandle(int(e.Connection))
	if !ok {
		return
	}

	s.subsMu.Lock()
	for key, sub := range s.subs {
		if sub.handle == e.Connection {
			sub.markDone()
			delete(s.subs, key)
		}
	}
	s.subsMu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"address": conn.Address,
		"reason":  e.Reason,
	}).Info("Connection closed")
	s.publisher.PublishConnectionStatus(conn.Address, false, int(e.Reason))
}

func (s *AccessPoint) addOperation(op operation) {
	s.opsMu.Lock()
	s.ops = append(s.ops, op)
	s.opsMu.Unlock()
}

// Connectable reports whether the controller has capacity for another
// link.
func (s *AccessPoint) Connectable() bool {
	return s.registry.Len() < s.opts.MaxConnections
}

// StartScan begins scanning; a scan already running is left as is.
func (s *AccessPoint) StartScan() error {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if s.scan != nil {
		return nil
	}

	op := newScanOperation(s.connector, s.logger, s.publisher)
	s.addOperation(op)
	if err := op.run(); err != nil {
		op.markDone()
		return fmt.Errorf("failed to start scan: %w", err)
	}
	s.scan = op
	return nil
}

// StopScan ends a running scan; a no-op when none is active.
func (s *AccessPoint) StopScan() error {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if s.scan == nil {
		return nil
	}
	err := s.scan.stop()
	s.scan = nil
	if err != nil {
		return fmt.Errorf("failed to stop scan: %w", err)
	}
	return nil
}

// Connect opens a link and registers the connection.
func (s *AccessPoint) Connect(address string, opts *ap.ConnectOptions, retries int) error {
	if !s.Connectable() {
		return ap.NewConnectionError("max connections")
	}
	if _, ok := s.registry.Get(address); ok {
		return ap.NewConnectionError("already connected")
	}

	op := newConnectOperation(s.connector, s.logger, address)
	s.addOperation(op)
	if err := op.run(retries, s.opts.ConnectTimeout); err != nil {
		return ap.NewConnectionError("%v", err)
	}

	s.registry.Put(ap.NewConnection(address, int(op.handle)))
	s.publisher.PublishConnectionStatus(address, true, 0)
	return nil
}

// Discover runs the three-phase GATT walk. The connection's cached
// service map always reflects the full walk; the result honors the
// request's service filter.
func (s *AccessPoint) Discover(address string, opts *ap.ConnectOptions, retries int) (*ap.DiscoverResult, error) {
	conn, ok := s.registry.Get(address)
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

	op := newDiscoverOperation(s.connector, s.logger, uint8(conn.Handle))
	s.addOperation(op)
	if err := op.run(s.opts.OperationTimeout); err != nil {
		return nil, ap.NewDiscoveryError("%v", err)
	}

	// Replace the cached snapshot wholesale.
	conn.Services = op.services
	conn.DiscoveredAt = time.Now()

	return &ap.DiscoverResult{
		Address:  conn.Address,
		Services: ap.FilterServices(op.services, requested),
	}, nil
}

// resolveCharacteristic maps (service, characteristic) UUIDs onto the
// cached controller handles.
func (s *AccessPoint) resolveCharacteristic(address, serviceID, charID string) (*ap.Connection, *ap.Characteristic, bool) {
	conn, ok := s.registry.Get(address)
	if !ok {
		return nil, nil, false
	}
	char, ok := conn.Characteristic(serviceID, charID)
	if !ok {
		return conn, nil, true
	}
	return conn, char, true
}

// Read returns the raw value of a characteristic.
func (s *AccessPoint) Read(address, serviceID, charID string) (*ap.ReadResult, error) {
	conn, char, connected := s.resolveCharacteristic(address, serviceID, charID)
	if !connected {
		return nil, ap.NewReadError("not connected")
	}
	if char == nil {
		return nil, ap.NewReadError("invalid service or characteristic uuid")
	}

	op := newReadOperation(s.connector, s.logger, uint8(conn.Handle), char.Handle)
	s.addOperation(op)
	if err := op.run(s.opts.OperationTimeout); err != nil {
		return nil, ap.NewReadError("%v", err)
	}

	return &ap.ReadResult{
		Address:   conn.Address,
		ServiceID: serviceID,
		CharID:    charID,
		Value:     op.value,
	}, nil
}

// Write writes an opaque byte buffer to a characteristic.
func (s *AccessPoint) Write(address, serviceID, charID string, value []byte) (*ap.WriteResult, error) {
	conn, char, connected := s.resolveCharacteristic(address, serviceID, charID)
	if !connected {
		return nil, ap.NewWriteError("not connected")
	}
	if char == nil {
		return nil, ap.NewWriteError("invalid service or characteristic uuid")
	}

	op := newWriteOperation(s.connector, s.logger, uint8(conn.Handle), char.Handle, value)
	s.addOperation(op)
	if err := op.run(s.opts.OperationTimeout); err != nil {
		return nil, ap.NewWriteError("%v", err)
	}

	return &ap.WriteResult{
		Address:   conn.Address,
		ServiceID: serviceID,
		CharID:    charID,
		Value:     value,
		Success:   true,
	}, nil
}

// Subscribe enables notify/indicate and registers the forwarding path.
func (s *AccessPoint) Subscribe(address, serviceID, charID string) (*ap.SubscribeResult, error) {
	conn, char, connected := s.resolveCharacteristic(address, serviceID, charID)
	if !connected {
		return nil, ap.NewSubscribeError("not connected")
	}
	if char == nil {
		return nil, ap.NewSubscribeError("invalid service or characteristic uuid")
	}

	key := subKey(address, serviceID, charID)
	s.subsMu.Lock()
	if _, exists := s.subs[key]; exists {
		s.subsMu.Unlock()
		return nil, ap.NewSubscribeError("already subscribed")
	}
	s.subsMu.Unlock()

	mode := gattNotification
	for _, p := range char.Properties {
		if p == "indicate" {
			mode = gattIndication
		}
		if p == "notify" {
			mode = gattNotification
			break
		}
	}

	op := newSubscribeOperation(s.connector, s.logger, s.publisher,
		conn.Address, ap.NormalizeUUID(serviceID), ap.NormalizeUUID(charID),
		uint8(conn.Handle), char.Handle, mode)
	s.addOperation(op)
	if err := op.run(s.opts.OperationTimeout); err != nil {
		op.markDone()
		return nil, ap.NewSubscribeError("%v", err)
	}

	s.subsMu.Lock()
	s.subs[key] = op
	s.subsMu.Unlock()

	return &ap.SubscribeResult{
		Address:    conn.Address,
		ServiceID:  serviceID,
		CharID:     charID,
		Subscribed: true,
	}, nil
}

// Unsubscribe stops the notification for an exact subscription key and
// blocks until no further value is forwarded.
func (s *AccessPoint) Unsubscribe(address, serviceID, charID string) (*ap.UnsubscribeResult, error) {
	conn, ok := s.registry.Get(address)
	if !ok {
		return nil, ap.NewUnsubscribeError("not connected")
	}

	key := subKey(address, serviceID, charID)
	s.subsMu.Lock()
	op, exists := s.subs[key]
	if !exists {
		s.subsMu.Unlock()
		return nil, ap.NewUnsubscribeError("not subscribed")
	}
	delete(s.subs, key)
	s.subsMu.Unlock()

	if err := op.disable(s.opts.OperationTimeout); err != nil {
		return nil, ap.NewUnsubscribeError("%v", err)
	}

	return &ap.UnsubscribeResult{
		Address:      conn.Address,
		ServiceID:    serviceID,
		CharID:       charID,
		Unsubscribed: true,
	}, nil
}

// Disconnect closes the link. It does not wait for operations already in
// flight on the same connection; one whose completion event is lost to
// the teardown finishes through its own bounded timeout. Cleanup and the
// status publish happen in the connection-closed handler, exactly once.
func (s *AccessPoint) Disconnect(address string) error {
	conn, ok := s.registry.Get(address)
	if !ok {
		return ap.NewDisconnectError("not connected")
	}

	op := newDisconnectOperation(s.connector, s.logger, uint8(conn.Handle))
	s.addOperation(op)
	if err := op.run(s.opts.OperationTimeout); err != nil {
		return ap.NewDisconnectError("disconnect operation failed: %v", err)
	}
	return nil
}

// GetConnection returns the live connection for address, or nil.
func (s *AccessPoint) GetConnection(address string) *ap.Connection {
	conn, ok := s.registry.Get(address)
	if !ok {
		return nil
	}
	return conn
}
