// Package testutils provides shared helpers for backend tests.
package testutils

import (
	"sync"

	"github.com/srg/blegw/internal/publish"
)

// Notification is one captured PublishNotification call.
type Notification struct {
	Address   string
	ServiceID string
	CharID    string
	Value     []byte
}

// Advertisement is one captured PublishAdvertisement call.
type Advertisement struct {
	Address string
	RSSI    int
	Data    []byte
}

// ConnectionStatus is one captured PublishConnectionStatus call.
type ConnectionStatus struct {
	Address   string
	Connected bool
	Reason    int
}

// RecordingPublisher captures every publish for later assertions.
// Safe for concurrent use.
type RecordingPublisher struct {
	mu            sync.Mutex
	notifications []Notification
	adverts       []Advertisement
	statuses      []ConnectionStatus
}

var _ publish.Publisher = (*RecordingPublisher)(nil)

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (r *RecordingPublisher) PublishNotification(address, serviceID, charID string, value []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, Notification{
		Address:   address,
		ServiceID: serviceID,
		CharID:    charID,
		Value:     append([]byte(nil), value...),
	})
}

func (r *RecordingPublisher) PublishAdvertisement(address string, rssi int, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adverts = append(r.adverts, Advertisement{
		Address: address,
		RSSI:    rssi,
		Data:    append([]byte(nil), data...),
	})
}

func (r *RecordingPublisher) PublishConnectionStatus(address string, connected bool, reason int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, ConnectionStatus{
		Address:   address,
		Connected: connected,
		Reason:    reason,
	})
}

// Notifications returns a snapshot of the captured notifications.
func (r *RecordingPublisher) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...)
}

// Advertisements returns a snapshot of the captured advertisements.
func (r *RecordingPublisher) Advertisements() []Advertisement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Advertisement(nil), r.adverts...)
}

// Statuses returns a snapshot of the captured connection statuses.
func (r *RecordingPublisher) Statuses() []ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionStatus(nil), r.statuses...)
}
