package silabs

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blegw/internal/ap"
)

// discoverOperation performs the three-phase GATT walk: all primary
// services, then each service's characteristics, then each
// characteristic's descriptors. Phases are strictly sequential; the
// first phase the controller reports as failed aborts the rest.
type discoverOperation struct {
	baseOperation
	conn   Connector
	logger *logrus.Logger
	handle uint8

	services    *orderedmap.OrderedMap[string, *ap.Service]
	currentSvc  *ap.Service
	currentChar *ap.Characteristic
	result      uint16
}

func newDiscoverOperation(conn Connector, logger *logrus.Logger, handle uint8) *discoverOperation {
	return &discoverOperation{
		baseOperation: newBaseOperation(),
		conn:          conn,
		logger:        logger,
		handle:        handle,
		services:      orderedmap.New[string, *ap.Service](),
	}
}

// phase issues one discovery command and waits for its procedure
// completion. The event handler records intermediate finds in between.
func (o *discoverOperation) phase(name string, cmd func() error, timeout time.Duration) error {
	if err := cmd(); err != nil {
		return fmt.Errorf("failed to discover %s: %w", name, err)
	}
	if err := o.await(timeout); err != nil {
		return fmt.Errorf("failed to discover %s: %w", name, err)
	}
	if o.result != 0 {
		return fmt.Errorf("failed to discover %s: result 0x%04x", name, o.result)
	}
	return nil
}

func (o *discoverOperation) run(timeout time.Duration) error {
	defer o.markDone()

	err := o.phase("services", func() error {
		return o.conn.DiscoverPrimaryServices(o.handle)
	}, timeout)
	if err != nil {
		return err
	}

	for pair := o.services.Oldest(); pair != nil; pair = pair.Next() {
		svc := pair.Value
		o.currentSvc = svc

		err := o.phase("characteristics", func() error {
			return o.conn.DiscoverCharacteristics(o.handle, svc.Handle)
		}, timeout)
		if err != nil {
			return err
		}

		for cp := svc.Characteristics.Oldest(); cp != nil; cp = cp.Next() {
			char := cp.Value
			o.currentChar = char

			err := o.phase("descriptors", func() error {
				return o.conn.DiscoverDescriptors(o.handle, char.Handle)
			}, timeout)
			if err != nil {
				return err
			}
		}
	}

	o.logger.WithFields(logrus.Fields{
		"connection": o.handle,
		"services":   o.services.Len(),
	}).Debug("GATT walk complete")
	return nil
}

func (o *discoverOperation) handleEvent(evt Event) {
	switch e := evt.(type) {
	case GattServiceEvent:
		if e.Connection != o.handle {
			return
		}
		id := uuidString(e.UUID)
		o.services.Set(id, ap.NewService(id, e.Service))

	case GattCharacteristicEvent:
		if e.Connection != o.handle || o.currentSvc == nil {
			return
		}
		id := uuidString(e.UUID)
		o.currentSvc.Characteristics.Set(id, ap.NewCharacteristic(id, e.Characteristic, int(e.Properties)))

	case GattDescriptorEvent:
		if e.Connection != o.handle || o.currentChar == nil {
			return
		}
		id := uuidString(e.UUID)
		o.currentChar.Descriptors.Set(id, &ap.Descriptor{ID: id, Handle: e.Descriptor})

	case GattProcedureCompletedEvent:
		if e.Connection != o.handle {
			return
		}
		o.result = e.Result
		o.sig.set()
	}
}
