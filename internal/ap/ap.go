// Package ap defines the access-point contract shared by all BLE
// backends, the per-gateway connection registry and the GATT data model.
//
// An AccessPoint turns the backend's asynchronous event stream into
// synchronous request/response semantics: every operation blocks its
// caller until the backend confirms completion or a bounded timeout
// elapses. Asynchronous traffic (notifications, advertisements,
// connection changes) is forwarded to a publish.Publisher collaborator.
package ap

import (
	"time"

	"github.com/mcuadros/go-defaults"
)

// ConnectOptions carries per-connect tuning and the optional service
// filter applied to discover responses.
type ConnectOptions struct {
	// Services restricts which services a Discover response reports.
	// The filter only shapes the returned payload; a walk, when one
	// runs, is always complete.
	Services []string

	// Cached requests reuse of a previously discovered service map.
	Cached bool `default:"false"`

	// CacheIdlePurge bounds the age of a cached service map served by a
	// Cached discover; an older map forces a new walk. Zero disables the
	// bound.
	CacheIdlePurge time.Duration `default:"3600s"`
}

// DefaultConnectOptions returns options with defaults applied.
func DefaultConnectOptions() *ConnectOptions {
	opts := new(ConnectOptions)
	defaults.SetDefaults(opts)
	return opts
}

// DiscoverResult is the success payload of Discover. Services honors the
// request's service filter; the connection's cached map always holds the
// full walk result.
type DiscoverResult struct {
	Address  string
	Services []*Service
}

// ReadResult is the success payload of Read.
type ReadResult struct {
	Address   string
	ServiceID string
	CharID    string
	Value     []byte
}

// WriteResult is the success payload of Write. Success means the backend
// acknowledged the GATT write procedure, not merely command issuance.
type WriteResult struct {
	Address   string
	ServiceID string
	CharID    string
	Value     []byte
	Success   bool
}

// SubscribeResult is the success payload of Subscribe.
type SubscribeResult struct {
	Address    string
	ServiceID  string
	CharID     string
	Subscribed bool
}

// UnsubscribeResult is the success payload of Unsubscribe.
type UnsubscribeResult struct {
	Address      string
	ServiceID    string
	CharID       string
	Unsubscribed bool
}

// AccessPoint is the contract every backend implements. All operations
// are synchronous from the caller's view; preconditions (not connected,
// already connected, already subscribed, over capacity) fail immediately
// without issuing a backend command.
type AccessPoint interface {
	// Start brings the backend online. It returns once the backend has
	// signaled readiness; all other operations are safe only after that.
	Start() error

	// Stop ends any active scan, closes every open connection and joins
	// the backend worker. No operation is left pending afterwards.
	Stop() error

	// Connectable reports whether a new connection can be established
	// under the backend's capacity limit.
	Connectable() bool

	// StartScan begins scanning. Each advertisement is forwarded to the
	// publisher immediately, independent of any connection's lifecycle.
	StartScan() error

	// StopScan ends a running scan.
	StopScan() error

	// Connect establishes a link and registers the connection. Publishes
	// a connected status event on success.
	Connect(address string, opts *ConnectOptions, retries int) error

	// Discover walks services, then characteristics, then descriptors,
	// strictly in that order, aborting at the first failing phase. The
	// full result replaces the connection's cached service map.
	Discover(address string, opts *ConnectOptions, retries int) (*DiscoverResult, error)

	// Read returns the raw value of a characteristic.
	Read(address, serviceID, charID string) (*ReadResult, error)

	// Write writes an opaque byte buffer to a characteristic.
	Write(address, serviceID, charID string, value []byte) (*WriteResult, error)

	// Subscribe enables notify/indicate and forwards every subsequent
	// value change to the publisher until unsubscribed. At most one
	// subscription per (address, service, characteristic) key.
	Subscribe(address, serviceID, charID string) (*SubscribeResult, error)

	// Unsubscribe stops the notification and blocks until the forwarding
	// path has fully stopped: no notification is delivered after return.
	Unsubscribe(address, serviceID, charID string) (*UnsubscribeResult, error)

	// Disconnect tears the link down. Registry removal and the
	// disconnected status publish happen exactly once whether teardown
	// was caller-initiated or backend-initiated.
	Disconnect(address string) error

	// GetConnection returns the live connection for address, or nil.
	GetConnection(address string) *Connection
}
