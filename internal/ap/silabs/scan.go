package silabs

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/blegw/internal/publish"
)

// scanOperation forwards every scan report to the publisher as it
// arrives, without buffering. Scanning is a background activity
// independent of any connection; the operation stays pending until the
// scan is stopped.
type scanOperation struct {
	baseOperation
	conn      Connector
	logger    *logrus.Logger
	publisher publish.Publisher
}

func newScanOperation(conn Connector, logger *logrus.Logger, publisher publish.Publisher) *scanOperation {
	return &scanOperation{
		baseOperation: newBaseOperation(),
		conn:          conn,
		logger:        logger,
		publisher:     publisher,
	}
}

func (o *scanOperation) run() error {
	o.logger.Info("Starting scan")
	return o.conn.StartScan()
}

func (o *scanOperation) stop() error {
	defer o.markDone()
	o.logger.Info("Stopping scan")
	return o.conn.StopScan()
}

func (o *scanOperation) handleEvent(evt Event) {
	e, ok := evt.(ScanReportEvent)
	if !ok || o.done() {
		return
	}
	o.publisher.PublishAdvertisement(e.Address, e.RSSI, append([]byte(nil), e.Data...))
}
