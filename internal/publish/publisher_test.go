package publish

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeNotification(t *testing.T) {
	payload, err := EncodeNotification("180d", "2a37", []byte{0x01, 0x48})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, cbor.Unmarshal(payload, &decoded))

	assert.Equal(t, []byte{0x01, 0x48}, decoded["data"])
	assert.Contains(t, decoded, "timestamp")

	sub, ok := decoded["bleSubscription"].(map[interface{}]interface{})
	require.True(t, ok)
	assert.Equal(t, "180d", sub["serviceID"])
	assert.Equal(t, "2a37", sub["characteristicID"])
}

func TestEncodeAdvertisement(t *testing.T) {
	payload, err := EncodeAdvertisement("aa:bb:cc:dd:ee:ff", -42, []byte{0x02, 0x01, 0x06})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, cbor.Unmarshal(payload, &decoded))

	assert.Equal(t, []byte{0x02, 0x01, 0x06}, decoded["data"])

	adv, ok := decoded["bleAdvertisement"].(map[interface{}]interface{})
	require.True(t, ok)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", adv["macAddress"])
	assert.EqualValues(t, -42, adv["rssi"])
}

func TestEncodeConnectionStatus(t *testing.T) {
	payload, err := EncodeConnectionStatus("aa:bb:cc:dd:ee:ff", false, 0x08)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, cbor.Unmarshal(payload, &decoded))

	status, ok := decoded["bleConnectionStatus"].(map[interface{}]interface{})
	require.True(t, ok)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", status["macAddress"])
	assert.Equal(t, false, status["connected"])
	assert.EqualValues(t, 0x08, status["reason"])
}

func TestRingChannelDropsOldestUnderPressure(t *testing.T) {
	rc := NewRingChannel[int](2)
	rc.Send(1)
	rc.Send(2)
	rc.Send(3) // evicts 1

	assert.Equal(t, 2, <-rc.C())
	assert.Equal(t, 3, <-rc.C())

	rc.Close()
	_, open := <-rc.C()
	assert.False(t, open)
}

func TestRingChannelSendNeverBlocks(t *testing.T) {
	rc := NewRingChannel[int](1)
	for i := 0; i < 100; i++ {
		rc.Send(i)
	}
	assert.Equal(t, 99, <-rc.C())
}
