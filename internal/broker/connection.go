package broker

import (
	"fmt"

	"example.com/iotmon/services/telemetry/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// atLeastOnce is the delivery quality used for all device subscriptions
const atLeastOnce byte = 1

// ErrNotConnected is returned when a subscription operation is attempted
// while the broker connection is down
var ErrNotConnected = errors.New("broker connection not established")

// MessageHandler receives one inbound broker message. Implementations
// must not panic; the connection wraps them so a failing handler cannot
// take down the receive loop.
type MessageHandler func(topic string, payload []byte)

// Client is the subset of connection behavior the subscription registry
// and pipeline depend on
type Client interface {
	Subscribe(topic string, handler MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Conn holds the single process-lifetime connection to the MQTT broker.
// Reconnects after the initial connect are automatic and silent to
// callers; only state transitions are logged.
type Conn struct {
	client mqtt.Client
	log    *logrus.Logger
}

// Connect dials the broker and blocks until the initial connect succeeds
// or the configured timeout elapses. A timeout or terminal failure here
// is returned to the caller; the serve command treats it as fatal.
// onConnect runs on every (re)connect and is where the registry re-issues
// its subscriptions.
func Connect(cfg config.MQTTConfig, log *logrus.Logger, onConnect func()) (*Conn, error) {
	clientID := fmt.Sprintf("%s-%s", cfg.ClientIDPrefix, uuid.New().String()[:8])

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(cfg.CleanSession).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(cfg.ReconnectInterval)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.WithField("broker", cfg.BrokerURL).Info("Connected to MQTT broker")
		if onConnect != nil {
			onConnect()
		}
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.WithError(err).Warn("Lost MQTT broker connection, reconnecting")
	})
	opts.SetReconnectingHandler(func(c mqtt.Client, o *mqtt.ClientOptions) {
		log.WithField("broker", cfg.BrokerURL).Debug("Attempting MQTT reconnect")
	})

	client := mqtt.NewClient(opts)

	log.WithFields(logrus.Fields{
		"broker":    cfg.BrokerURL,
		"client_id": clientID,
	}).Info("Connecting to MQTT broker...")

	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, errors.Errorf("broker connect timed out after %s", cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, "broker connect failed")
	}

	return &Conn{client: client, log: log}, nil
}

// Subscribe registers the handler for the topic at QoS 1
func (c *Conn) Subscribe(topic string, handler MessageHandler) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, atLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log.WithFields(logrus.Fields{
					"topic": msg.Topic(),
					"panic": r,
				}).Error("Message handler panicked, message dropped")
			}
		}()
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "subscribe %s", topic)
	}

	return nil
}

// Unsubscribe removes the broker-side subscription for the topic
func (c *Conn) Unsubscribe(topic string) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Unsubscribe(topic)
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "unsubscribe %s", topic)
	}

	return nil
}

// IsConnected reports whether the underlying client currently holds a
// live connection
func (c *Conn) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect closes the connection, waiting briefly for in-flight work.
// Broker-side subscription state is dropped as part of disconnect
// cleanup; no explicit unsubscribe-all is issued.
func (c *Conn) Disconnect() {
	c.client.Disconnect(250)
	c.log.Info("Disconnected from MQTT broker")
}
