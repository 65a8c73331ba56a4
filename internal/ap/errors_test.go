package ap

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	assert.EqualError(t, NewConnectionError("max connections"), "connection error: max connections")
	assert.EqualError(t, NewDiscoveryError("not connected"), "discovery error: not connected")
	assert.EqualError(t, NewReadError("timed out after %s", "5s"), "read error: timed out after 5s")
	assert.EqualError(t, NewWriteError("result 0x%04x", 0x0185), "write error: result 0x0185")
	assert.EqualError(t, NewSubscribeError("already subscribed"), "subscribe error: already subscribed")
	assert.EqualError(t, NewUnsubscribeError("not subscribed"), "unsubscribe error: not subscribed")
	assert.EqualError(t, NewDisconnectError("not connected"), "disconnect error: not connected")
}

func TestErrorsSurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("operation failed: %w", NewReadError("not connected"))

	var readErr *ReadError
	require.True(t, errors.As(wrapped, &readErr))
	assert.Equal(t, "not connected", readErr.Reason)

	var connErr *ConnectionError
	assert.False(t, errors.As(wrapped, &connErr))
}
