package silabs

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// writeOperation writes one characteristic value. Success means the
// controller acknowledged the GATT write procedure, not merely that the
// command was issued.
type writeOperation struct {
	baseOperation
	conn       Connector
	logger     *logrus.Logger
	handle     uint8
	charHandle uint16
	value      []byte

	result    uint16
	completed bool
}

func newWriteOperation(conn Connector, logger *logrus.Logger, handle uint8, charHandle uint16, value []byte) *writeOperation {
	return &writeOperation{
		baseOperation: newBaseOperation(),
		conn:          conn,
		logger:        logger,
		handle:        handle,
		charHandle:    charHandle,
		value:         value,
	}
}

func (o *writeOperation) run(timeout time.Duration) error {
	defer o.markDone()

	o.logger.WithFields(logrus.Fields{
		"connection":     o.handle,
		"characteristic": o.charHandle,
		"bytes":          len(o.value),
	}).Info("Writing characteristic")

	if err := o.conn.WriteCharacteristic(o.handle, o.charHandle, o.value); err != nil {
		return err
	}
	if err := o.await(timeout); err != nil {
		return err
	}
	if !o.completed || o.result != 0 {
		return fmt.Errorf("write failed: result 0x%04x", o.result)
	}
	return nil
}

func (o *writeOperation) handleEvent(evt Event) {
	e, ok := evt.(GattProcedureCompletedEvent)
	if !ok || e.Connection != o.handle {
		return
	}
	o.result = e.Result
	o.completed = true
	o.markDone()
	o.sig.set()
}
