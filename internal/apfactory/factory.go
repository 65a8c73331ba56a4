// Package apfactory selects an access-point backend by name.
package apfactory

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/blegw/internal/ap"
	"github.com/srg/blegw/internal/ap/hostble"
	"github.com/srg/blegw/internal/ap/mock"
	"github.com/srg/blegw/internal/ap/silabs"
	"github.com/srg/blegw/internal/config"
	"github.com/srg/blegw/internal/publish"
)

// New builds the access point named by cfg.Backend.
func New(cfg *config.Config, publisher publish.Publisher, logger *logrus.Logger) (ap.AccessPoint, error) {
	switch cfg.Backend {
	case "mock":
		return mock.New(publisher, logger, &mock.Options{
			AdvertisementInterval: cfg.Mock.AdvertisementInterval,
			NotificationInterval:  cfg.Mock.NotificationInterval,
		}), nil
	case "silabs":
		connector := silabs.NewSerialConnector(silabs.SerialOptions{
			Port: cfg.Silabs.Port,
			Baud: cfg.Silabs.Baud,
		}, logger)
		return silabs.New(connector, publisher, logger, &silabs.Options{
			MaxConnections:   cfg.Silabs.MaxConnections,
			BootTimeout:      cfg.Timeouts.Boot,
			ConnectTimeout:   cfg.Timeouts.Connect,
			OperationTimeout: cfg.Timeouts.Operation,
		}), nil
	case "hostble":
		return hostble.New(publisher, logger, &hostble.Options{
			ConnectTimeout:   cfg.Timeouts.Connect,
			OperationTimeout: cfg.Timeouts.Operation,
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
