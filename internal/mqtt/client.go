package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"LinkMonitorAPI/internal/config"
	"LinkMonitorAPI/internal/logger"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const operationTimeout = 5 * time.Second

// newPahoClient is swapped in tests.
var newPahoClient = mqtt.NewClient

type Client struct {
	client   mqtt.Client
	cfg      *config.MQTTConfig
	log      *logger.Logger
	handlers map[string]MessageHandler
	mu       sync.RWMutex

	connected      bool
	lastConnected  time.Time
	lastDisconnect time.Time
}

type MessageHandler func(topic string, payload []byte) error

type ClientConfig struct {
	MQTT   *config.MQTTConfig
	Logger *logger.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.MQTT == nil {
		return nil, fmt.Errorf("mqtt config cannot be nil")
	}

	c := &Client{
		cfg:      cfg.MQTT,
		log:      cfg.Logger,
		handlers: make(map[string]MessageHandler),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.BrokerURL())
	opts.SetClientID(cfg.MQTT.ClientID)
	opts.SetKeepAlive(cfg.MQTT.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(cfg.MQTT.ConnectTimeout)
	opts.SetAutoReconnect(cfg.MQTT.AutoReconnect)
	opts.SetCleanSession(true)

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = newPahoClient(opts)

	return c, nil
}

func (c *Client) Connect() error {
	c.log.Info("Connecting to MQTT broker: %s:%d", c.cfg.Broker, c.cfg.Port)

	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("connection timeout after %v", c.cfg.ConnectTimeout)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	c.setConnected(true)

	c.log.Info("Successfully connected to MQTT broker")
	return nil
}

func (c *Client) Disconnect() error {
	c.log.Info("Disconnecting from MQTT broker")

	c.setConnected(false)
	c.client.Disconnect(250)

	c.log.Info("Disconnected from MQTT broker")
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
	if connected {
		c.lastConnected = time.Now()
	} else {
		c.lastDisconnect = time.Now()
	}
}

// Subscribe routes messages on topic to handler. Subscriptions are restored
// after every reconnect.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if !c.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}

	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()

	c.log.Debug("Subscribing to topic: %s (QoS: %d)", topic, c.cfg.QoS)

	if err := wait(c.client.Subscribe(topic, c.cfg.QoS, c.onMessage), "subscribe", topic); err != nil {
		c.mu.Lock()
		delete(c.handlers, topic)
		c.mu.Unlock()
		return err
	}

	c.log.Info("Successfully subscribed to topic: %s", topic)
	return nil
}

func (c *Client) Publish(topic string, payload []byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}

	c.log.Debug("Publishing to topic: %s (size: %d bytes)", topic, len(payload))

	return wait(c.client.Publish(topic, c.cfg.QoS, c.cfg.RetainMessages, payload), "publish", topic)
}

func (c *Client) PublishJSON(topic string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return c.Publish(topic, payload)
}

func wait(token mqtt.Token, op, topic string) error {
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%s timeout for topic: %s", op, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s failed for topic %s: %w", op, topic, err)
	}
	return nil
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	c.handleMessage(msg.Topic(), msg.Payload())
}

func (c *Client) handleMessage(topic string, payload []byte) {
	log := c.log.With("topic", topic)
	log.Debug("Received message (size: %d bytes)", len(payload))

	handler := c.lookup(topic)
	if handler == nil {
		log.Warn("No handler found")
		return
	}

	if err := handler(topic, payload); err != nil {
		log.Error("Handler error: %v", err)
	}
}

func (c *Client) lookup(topic string) MessageHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if h, ok := c.handlers[topic]; ok {
		return h
	}
	for pattern, h := range c.handlers {
		if matchTopic(pattern, topic) {
			return h
		}
	}
	return nil
}

func (c *Client) onConnect(client mqtt.Client) {
	c.setConnected(true)
	c.log.Info("MQTT connection established")

	c.mu.RLock()
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	c.mu.RUnlock()

	for _, topic := range topics {
		c.log.Debug("Re-subscribing to topic: %s", topic)
		if err := wait(client.Subscribe(topic, c.cfg.QoS, c.onMessage), "subscribe", topic); err != nil {
			c.log.Error("Failed to re-subscribe to %s: %v", topic, err)
		}
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.setConnected(false)
	c.log.Error("MQTT connection lost: %v", err)
}

func (c *Client) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	c.log.Warn("Attempting to reconnect to MQTT broker...")
}

// matchTopic reports whether topic matches an MQTT subscription pattern
// with + and # wildcards.
func matchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patternParts := strings.Split(pattern, "/")
	topicParts := strings.Split(topic, "/")

	for i, part := range patternParts {
		if part == "#" {
			return i == len(patternParts)-1
		}
		if i >= len(topicParts) {
			return false
		}
		if part != "+" && part != topicParts[i] {
			return false
		}
	}

	return len(patternParts) == len(topicParts)
}
