package publish

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MQTTOptions configures the MQTT publisher.
type MQTTOptions struct {
	BrokerURL   string // e.g. "tcp://localhost:1883"
	ClientID    string // generated when empty
	Username    string
	Password    string
	TopicPrefix string // e.g. "blegw"
	QueueSize   int    // outbound ring capacity, defaults to 256
}

type outbound struct {
	topic   string
	payload []byte
}

// MQTTPublisher forwards gateway events to an MQTT broker. All publishes
// go through a single worker goroutine fed by an overwrite-oldest ring,
// so callers never block and ordering is preserved per publisher.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	logger *logrus.Logger

	queue *RingChannel[outbound]
	wg    sync.WaitGroup
	once  sync.Once
}

// NewMQTTPublisher connects to the broker and starts the publish worker.
func NewMQTTPublisher(opts MQTTOptions, logger *logrus.Logger) (*MQTTPublisher, error) {
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "blegw-" + uuid.NewString()[:8]
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(clientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetConnectRetryInterval(2 * time.Second)

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %q: %w", opts.BrokerURL, token.Error())
	}

	p := &MQTTPublisher{
		client: client,
		prefix: opts.TopicPrefix,
		logger: logger,
		queue:  NewRingChannel[outbound](queueSize),
	}

	p.wg.Add(1)
	go p.run()

	logger.WithFields(logrus.Fields{
		"broker":    opts.BrokerURL,
		"client_id": clientID,
	}).Info("MQTT publisher connected")

	return p, nil
}

func (p *MQTTPublisher) run() {
	defer p.wg.Done()
	for msg := range p.queue.C() {
		token := p.client.Publish(msg.topic, 0, false, msg.payload)
		if token.Wait() && token.Error() != nil {
			p.logger.WithFields(logrus.Fields{
				"topic": msg.topic,
				"error": token.Error(),
			}).Warn("MQTT publish failed")
		}
	}
}

func (p *MQTTPublisher) enqueue(topic string, payload []byte, err error) {
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"topic": topic,
			"error": err,
		}).Warn("Failed to encode event envelope")
		return
	}
	p.queue.Send(outbound{topic: topic, payload: payload})
}

// PublishNotification forwards a GATT notification value.
func (p *MQTTPublisher) PublishNotification(address, serviceID, charID string, value []byte) {
	payload, err := EncodeNotification(serviceID, charID, value)
	topic := fmt.Sprintf("%s/%s/notification/%s/%s", p.prefix, address, serviceID, charID)
	p.enqueue(topic, payload, err)
}

// PublishAdvertisement forwards a scan advertisement.
func (p *MQTTPublisher) PublishAdvertisement(address string, rssi int, data []byte) {
	payload, err := EncodeAdvertisement(address, rssi, data)
	topic := fmt.Sprintf("%s/%s/advertisement", p.prefix, address)
	p.enqueue(topic, payload, err)
}

// PublishConnectionStatus forwards a connection change.
func (p *MQTTPublisher) PublishConnectionStatus(address string, connected bool, reason int) {
	payload, err := EncodeConnectionStatus(address, connected, reason)
	topic := fmt.Sprintf("%s/%s/connection", p.prefix, address)
	p.enqueue(topic, payload, err)
}

// Close drains the worker and disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.once.Do(func() {
		p.queue.Close()
		p.wg.Wait()
		p.client.Disconnect(250)
	})
}
