package apfactory

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blegw/internal/config"
	"github.com/srg/blegw/internal/testutils"
)

func TestNewBuildsEachBackend(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	publisher := testutils.NewRecordingPublisher()

	for _, backend := range []string{"mock", "silabs", "hostble"} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Backend = backend

			point, err := New(cfg, publisher, logger)
			require.NoError(t, err)
			assert.NotNil(t, point)
		})
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "zigbee"

	_, err := New(cfg, testutils.NewRecordingPublisher(), logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}
