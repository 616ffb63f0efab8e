// Package broker adapts the paho MQTT client to the station: mutual-TLS
// connection to the cloud broker, at-least-once publish and subscribe, and a
// channel of connection lifecycle events.
package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/msolberg/weather-station/internal/config"
)

// QoS is the delivery level for every publish and subscribe: at least once.
const QoS byte = 1

const (
	defaultPort             = "8883"
	defaultKeepAlive        = 30 * time.Second
	defaultRetryInterval    = 5 * time.Second
	defaultMaxReconnect     = 60 * time.Second
	defaultOperationTimeout = 5 * time.Second
	eventBuffer             = 32

	// subackFailure is the SUBACK return code for a refused subscription.
	subackFailure byte = 0x80
)

var (
	ErrStopped      = errors.New("broker client stopped")
	ErrNotConnected = errors.New("mqtt client not connected")
)

// RejectedError reports a subscription the broker refused to grant.
type RejectedError struct {
	Topic string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("broker rejected subscription to topic %q", e.Topic)
}

// MessageHandler receives the payload of every message on a subscribed topic.
// It may be called concurrently from several paho goroutines.
type MessageHandler func(topic string, payload []byte)

type Options struct {
	Broker               string // e.g. ssl://example-ats.iot.us-east-1.amazonaws.com:8883
	ClientID             string
	TLS                  *tls.Config
	KeepAlive            time.Duration
	ConnectRetryInterval time.Duration
	MaxReconnectInterval time.Duration
	OperationTimeout     time.Duration
}

func (o *Options) setDefaults() {
	if o.KeepAlive <= 0 {
		o.KeepAlive = defaultKeepAlive
	}
	if o.ConnectRetryInterval <= 0 {
		o.ConnectRetryInterval = defaultRetryInterval
	}
	if o.MaxReconnectInterval <= 0 {
		o.MaxReconnectInterval = defaultMaxReconnect
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = defaultOperationTimeout
	}
}

// OptionsFromConfig derives client options from the AWS section of the
// station file. Certificates are loaded only for TLS broker URLs.
func OptionsFromConfig(aws config.AWS) (Options, error) {
	opts := Options{
		Broker:   BrokerURL(aws.Endpoint),
		ClientID: aws.ClientID,
	}

	u, err := url.Parse(opts.Broker)
	if err != nil {
		return Options{}, fmt.Errorf("parse broker url %q: %w", opts.Broker, err)
	}
	switch u.Scheme {
	case "ssl", "tls", "tcps", "mqtts", "wss":
		tlsCfg, err := NewTLSConfig(aws.CAFilepath, aws.CertFilepath, aws.PriKeyFilepath)
		if err != nil {
			return Options{}, err
		}
		opts.TLS = tlsCfg
	}
	return opts, nil
}

// BrokerURL turns an endpoint into a paho broker URL. A bare host gets the
// ssl scheme and port 8883; an endpoint with a scheme is returned unchanged.
func BrokerURL(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if _, _, err := net.SplitHostPort(endpoint); err == nil {
		return "ssl://" + endpoint
	}
	return "ssl://" + net.JoinHostPort(endpoint, defaultPort)
}

type Client struct {
	client mqtt.Client
	opts   Options
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
	connects  int

	subMu sync.Mutex
	subs  map[string]MessageHandler

	events chan Event

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	opts.setDefaults()
	c := &Client{
		opts:   opts,
		logger: logger,
		subs:   make(map[string]MessageHandler),
		events: make(chan Event, eventBuffer),
		stopCh: make(chan struct{}),
	}

	po := mqtt.NewClientOptions()
	po.AddBroker(opts.Broker)
	po.SetClientID(opts.ClientID)
	if opts.TLS != nil {
		po.SetTLSConfig(opts.TLS)
	}

	// Persistent session: the broker keeps subscriptions and queues QoS 1
	// messages while we are away.
	po.SetCleanSession(false)
	po.SetOrderMatters(false)

	po.SetAutoReconnect(true)
	po.SetConnectRetry(true)
	po.SetConnectRetryInterval(opts.ConnectRetryInterval)
	po.SetMaxReconnectInterval(opts.MaxReconnectInterval)

	po.SetKeepAlive(opts.KeepAlive)
	po.SetPingTimeout(10 * time.Second)

	po.SetOnConnectHandler(c.onConnect)
	po.SetConnectionLostHandler(c.onConnectionLost)
	po.SetConnectionNotificationHandler(c.onNotification)

	c.client = mqtt.NewClient(po)
	return c
}

// Events returns the lifecycle event stream. Events are dropped, with a
// warning, when nobody drains the channel.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect waits for the initial connection, respecting ctx and Disconnect.
// Failed attempts are retried by paho and reported as ConnectFailed events.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			break
		}

		select {
		case <-ctx.Done():
			c.client.Disconnect(0)
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}

	var sessionPresent bool
	if ct, ok := token.(*mqtt.ConnectToken); ok {
		sessionPresent = ct.SessionPresent()
	}
	c.setConnected(true)
	c.logger.Info("mqtt connected", "broker", c.opts.Broker, "client_id", c.opts.ClientID, "session_present", sessionPresent)
	c.emit(Event{Kind: ConnectSucceeded, SessionPresent: sessionPresent})
	return nil
}

// Publish sends payload to topic at QoS 1 and waits for the broker's PUBACK.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, QoS, false, payload)
	if !token.WaitTimeout(c.opts.OperationTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	c.logger.Debug("published message", "topic", topic, "size", len(payload))
	return nil
}

// Subscribe registers handler for topic at QoS 1. The subscription is
// remembered and re-issued by Resubscribe.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if err := c.subscribe(topic, handler); err != nil {
		return err
	}

	c.subMu.Lock()
	c.subs[topic] = handler
	c.subMu.Unlock()
	return nil
}

// Resubscribe re-issues every remembered subscription. It is used after a
// reconnect that did not resume the broker-side session, and returns a
// *RejectedError for the first topic the broker refuses.
func (c *Client) Resubscribe(ctx context.Context) error {
	c.subMu.Lock()
	subs := make(map[string]MessageHandler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.subMu.Unlock()

	for topic, handler := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.subscribe(topic, handler); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) subscribe(topic string, handler MessageHandler) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, QoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.opts.OperationTimeout) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	granted := QoS
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		if qos, found := st.Result()[topic]; found {
			granted = qos
		}
	}
	if granted == subackFailure {
		return &RejectedError{Topic: topic}
	}

	c.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", granted)
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the MQTT connection. Subscriptions
// stay registered in the broker-side session. Idempotent; after Disconnect,
// Connect returns ErrStopped.
func (c *Client) Disconnect() {
	first := false
	c.stopOnce.Do(func() {
		close(c.stopCh)
		first = true
	})
	if !first {
		return
	}

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
	c.emit(Event{Kind: Closed})
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.mu.Lock()
	c.connected = true
	c.connects++
	reconnect := c.connects > 1
	c.mu.Unlock()

	if !reconnect {
		return
	}
	// paho does not expose the CONNACK session-present flag of an automatic
	// reconnect, so a resumed connection is treated as a fresh session.
	c.logger.Info("mqtt connection resumed", "broker", c.opts.Broker)
	c.emit(Event{Kind: Resumed, SessionPresent: false})
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.setConnected(false)
	c.logger.Warn("mqtt connection interrupted", "error", err)
	c.emit(Event{Kind: Interrupted, Err: err})
}

func (c *Client) onNotification(_ mqtt.Client, n mqtt.ConnectionNotification) {
	if f, ok := n.(mqtt.ConnectionNotificationFailed); ok {
		c.logger.Warn("mqtt connection attempt failed", "broker", c.opts.Broker, "error", f.Reason)
		c.emit(Event{Kind: ConnectFailed, Err: f.Reason})
	}
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.logger.Warn("lifecycle event dropped", "event", e.Kind.String())
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
