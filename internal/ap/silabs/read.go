package silabs

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// readOperation reads one characteristic value. The value arrives on a
// dedicated event before the procedure completion; any completion
// releases the waiter, with or without a value.
type readOperation struct {
	baseOperation
	conn       Connector
	logger     *logrus.Logger
	handle     uint8
	charHandle uint16

	value    []byte
	gotValue bool
	result   uint16
}

func newReadOperation(conn Connector, logger *logrus.Logger, handle uint8, charHandle uint16) *readOperation {
	return &readOperation{
		baseOperation: newBaseOperation(),
		conn:          conn,
		logger:        logger,
		handle:        handle,
		charHandle:    charHandle,
	}
}

func (o *readOperation) run(timeout time.Duration) error {
	defer o.markDone()

	o.logger.WithFields(logrus.Fields{
		"connection":     o.handle,
		"characteristic": o.charHandle,
	}).Info("Reading characteristic")

	if err := o.conn.ReadCharacteristic(o.handle, o.charHandle); err != nil {
		return err
	}
	if err := o.await(timeout); err != nil {
		return err
	}
	if !o.gotValue {
		return fmt.Errorf("read failed: result 0x%04x", o.result)
	}
	return nil
}

func (o *readOperation) handleEvent(evt Event) {
	switch e := evt.(type) {
	case GattCharacteristicValueEvent:
		if e.Connection != o.handle || e.Characteristic != o.charHandle || e.AttOpcode != attOpcodeReadResponse {
			return
		}
		o.value = append([]byte(nil), e.Value...)
		o.gotValue = true
		o.sig.set()

	case GattProcedureCompletedEvent:
		if e.Connection != o.handle {
			return
		}
		o.markDone()
		o.result = e.Result
		// Release the waiter even on a clean completion; the value may
		// never have arrived.
		o.sig.set()
	}
}
