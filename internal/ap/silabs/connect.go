package silabs

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// connectOperation opens a link and waits for the connection-opened
// event. A connect the controller never confirms is treated as a failed
// attempt and retried up to the caller's retry count.
type connectOperation struct {
	baseOperation
	conn    Connector
	logger  *logrus.Logger
	address string

	handle uint8
	opened bool
}

func newConnectOperation(conn Connector, logger *logrus.Logger, address string) *connectOperation {
	return &connectOperation{
		baseOperation: newBaseOperation(),
		conn:          conn,
		logger:        logger,
		address:       address,
	}
}

func (o *connectOperation) run(retries int, timeout time.Duration) error {
	attempts := retries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			o.logger.WithFields(logrus.Fields{
				"address": o.address,
				"attempt": attempt,
			}).Info("Retrying connection...")
		}
		if err := o.conn.OpenConnection(o.address); err != nil {
			lastErr = err
			continue
		}
		err := o.await(timeout)
		if err == nil && o.opened {
			return nil
		}
		if err == errAborted {
			return err
		}
		lastErr = err
	}

	o.markDone()
	if lastErr != nil {
		return fmt.Errorf("connection operation failed: %w", lastErr)
	}
	return fmt.Errorf("connection operation failed")
}

func (o *connectOperation) handleEvent(evt Event) {
	e, ok := evt.(ConnectionOpenedEvent)
	if !ok || !strings.EqualFold(e.Address, o.address) {
		return
	}
	o.handle = e.Connection
	o.opened = true
	o.markDone()
	o.sig.set()
}
