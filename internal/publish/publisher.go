// Package publish carries asynchronous BLE traffic out of the gateway:
// GATT notifications, scan advertisements and connection status changes
// are normalized into CBOR envelopes and forwarded to an MQTT broker.
//
// Publishing is fire-and-forget from the access point's perspective; a
// publisher failure is logged, never surfaced into the BLE error
// taxonomy.
package publish

import (
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Publisher is the outbound collaborator the access points call.
type Publisher interface {
	PublishNotification(address, serviceID, charID string, value []byte)
	PublishAdvertisement(address string, rssi int, data []byte)
	PublishConnectionStatus(address string, connected bool, reason int)
}

// Envelope field names follow the gateway's existing data plane so
// downstream consumers keep decoding without changes.

type subscriptionInfo struct {
	ServiceID        string `cbor:"serviceID"`
	CharacteristicID string `cbor:"characteristicID"`
}

type notificationEnvelope struct {
	Data         []byte           `cbor:"data"`
	Timestamp    float64          `cbor:"timestamp"`
	Subscription subscriptionInfo `cbor:"bleSubscription"`
}

type advertisementInfo struct {
	RSSI       int    `cbor:"rssi"`
	MacAddress string `cbor:"macAddress"`
}

type advertisementEnvelope struct {
	Data          []byte            `cbor:"data"`
	Advertisement advertisementInfo `cbor:"bleAdvertisement"`
}

type connectionStatusInfo struct {
	MacAddress string `cbor:"macAddress"`
	Connected  bool   `cbor:"connected"`
	Reason     int    `cbor:"reason"`
}

type connectionStatusEnvelope struct {
	Status connectionStatusInfo `cbor:"bleConnectionStatus"`
}

// EncodeNotification builds the CBOR payload for a GATT notification.
func EncodeNotification(serviceID, charID string, value []byte) ([]byte, error) {
	return cbor.Marshal(&notificationEnvelope{
		Data:      value,
		Timestamp: float64(time.Now().UnixMicro()) / 1e6,
		Subscription: subscriptionInfo{
			ServiceID:        serviceID,
			CharacteristicID: charID,
		},
	})
}

// EncodeAdvertisement builds the CBOR payload for a scan advertisement.
func EncodeAdvertisement(address string, rssi int, data []byte) ([]byte, error) {
	return cbor.Marshal(&advertisementEnvelope{
		Data: data,
		Advertisement: advertisementInfo{
			RSSI:       rssi,
			MacAddress: address,
		},
	})
}

// EncodeConnectionStatus builds the CBOR payload for a connection change.
func EncodeConnectionStatus(address string, connected bool, reason int) ([]byte, error) {
	return cbor.Marshal(&connectionStatusEnvelope{
		Status: connectionStatusInfo{
			MacAddress: address,
			Connected:  connected,
			Reason:     reason,
		},
	})
}
