package silabs

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blegw/internal/publish"
)

// subscribeOperation enables notify/indicate on a characteristic and
// stays registered with the dispatcher, forwarding every value event to
// the publisher until disabled. It only completes on unsubscribe (or
// link teardown), unlike the one-shot operations.
type subscribeOperation struct {
	baseOperation
	conn      Connector
	logger    *logrus.Logger
	publisher publish.Publisher

	address    string
	serviceID  string
	charID     string
	handle     uint8
	charHandle uint16
	mode       NotificationMode

	// awaiting gates the completion signal: procedure-completed events
	// for unrelated operations on the same connection must not leave a
	// stale token in the signal.
	awaiting atomic.Bool
	result   uint16
}

func newSubscribeOperation(conn Connector, logger *logrus.Logger, publisher publish.Publisher,
	address, serviceID, charID string, handle uint8, charHandle uint16, mode NotificationMode) *subscribeOperation {
	return &subscribeOperation{
		baseOperation: newBaseOperation(),
		conn:          conn,
		logger:        logger,
		publisher:     publisher,
		address:       address,
		serviceID:     serviceID,
		charID:        charID,
		handle:        handle,
		charHandle:    charHandle,
		mode:          mode,
	}
}

// setNotification writes the configuration and waits for the procedure
// to complete.
func (o *subscribeOperation) setNotification(mode NotificationMode, timeout time.Duration) error {
	o.awaiting.Store(true)
	defer o.awaiting.Store(false)

	if err := o.conn.SetNotification(o.handle, o.charHandle, mode); err != nil {
		return err
	}
	if err := o.await(timeout); err != nil {
		return err
	}
	if o.result != 0 {
		return fmt.Errorf("notification configuration failed: result 0x%04x", o.result)
	}
	return nil
}

func (o *subscribeOperation) run(timeout time.Duration) error {
	return o.setNotification(o.mode, timeout)
}

// disable stops the notification and retires the operation. After it
// returns no further value is forwarded: the done flag is set before
// returning and the event handler drops values once done.
func (o *subscribeOperation) disable(timeout time.Duration) error {
	err := o.setNotification(gattDisable, timeout)
	o.markDone()
	return err
}

func (o *subscribeOperation) handleEvent(evt Event) {
	switch e := evt.(type) {
	case GattCharacteristicValueEvent:
		if o.done() || e.Connection != o.handle || e.Characteristic != o.charHandle {
			return
		}
		if e.AttOpcode != attOpcodeNotification && e.AttOpcode != attOpcodeIndication {
			return
		}
		o.publisher.PublishNotification(o.address, o.serviceID, o.charID, append([]byte(nil), e.Value...))

	case GattProcedureCompletedEvent:
		if e.Connection != o.handle || !o.awaiting.Load() {
			return
		}
		o.result = e.Result
		o.sig.set()
	}
}
