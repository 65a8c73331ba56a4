package silabs

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// disconnectOperation closes a link and waits for the connection-closed
// event. Registry cleanup and the status publish are not done here: the
// access point's connection-closed handler performs them, so that
// caller-initiated and controller-initiated teardown share one path.
type disconnectOperation struct {
	baseOperation
	conn   Connector
	logger *logrus.Logger
	handle uint8

	closed bool
}

func newDisconnectOperation(conn Connector, logger *logrus.Logger, handle uint8) *disconnectOperation {
	return &disconnectOperation{
		baseOperation: newBaseOperation(),
		conn:          conn,
		logger:        logger,
		handle:        handle,
	}
}

func (o *disconnectOperation) run(timeout time.Duration) error {
	defer o.markDone()

	if err := o.conn.CloseConnection(o.handle); err != nil {
		return err
	}
	if err := o.await(timeout); err != nil {
		return err
	}
	if !o.closed {
		return fmt.Errorf("disconnect operation failed")
	}
	return nil
}

func (o *disconnectOperation) handleEvent(evt Event) {
	e, ok := evt.(ConnectionClosedEvent)
	if !ok || e.Connection != o.handle {
		return
	}
	o.closed = true
	o.markDone()
	o.sig.set()
}
