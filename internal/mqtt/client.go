package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultKeepAlive          = 60 * time.Second
	defaultConnectTimeout     = 15 * time.Second
	defaultPublishTimeout     = 5 * time.Second
	defaultMessageBufferDepth = 64
	disconnectQuiesceMillis   = 250
)

var (
	// ErrNotConnected is returned when an operation needs an open session.
	ErrNotConnected = errors.New("mqtt: not connected")
	// ErrTimeout is returned when the broker does not complete an operation in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)

// Config holds connection parameters for the MQTT broker.
type Config struct {
	BrokerHost string
	BrokerPort int
	Username   string
	Password   string
	ClientID   string

	// TLSServerName is the hostname verified against the broker certificate.
	// Defaults to BrokerHost.
	TLSServerName      string
	CAFile             string
	InsecureSkipVerify bool
	DisableTLS         bool

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// BrokerURL returns the paho broker URL for the configured endpoint.
func (c Config) BrokerURL() string {
	scheme := "tls"
	if c.DisableTLS {
		scheme = "tcp"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BrokerHost, c.BrokerPort)
}

// TLSConfig builds the client TLS configuration. It returns nil when TLS is disabled.
func (c Config) TLSConfig() (*tls.Config, error) {
	if c.DisableTLS {
		return nil, nil
	}

	serverName := strings.TrimSpace(c.TLSServerName)
	if serverName == "" {
		serverName = c.BrokerHost
	}

	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         serverName,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // opt-in for lab brokers
	}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("mqtt: no certificates found in %s", c.CAFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

func (c *Config) normalise() {
	if c.KeepAlive == 0 {
		c.KeepAlive = defaultKeepAlive
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.BrokerHost) == "" {
		return errors.New("mqtt: broker host must be provided")
	}
	if c.BrokerPort <= 0 {
		return errors.New("mqtt: broker port must be positive")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("mqtt: client id must be provided")
	}
	return nil
}

// Message represents a received MQTT message.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
	Time     time.Time
}

// Handler receives inbound messages from Poll.
type Handler func(Message)

// Client is a single-session MQTT client. Inbound messages are buffered by the
// paho callback and only handed to the registered Handler from Poll, so the
// caller controls when dispatch happens.
type Client struct {
	cfg       Config
	client    mqtt.Client
	messages  chan Message
	errs      chan error
	handler   Handler
	connected atomic.Bool
	closeOnce sync.Once

	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewClient creates a Client with the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.normalise()

	return &Client{
		cfg:      cfg,
		messages:  make(chan Message, defaultMessageBufferDepth),
		errs:      make(chan error, 4),
		newClient: mqtt.NewClient,
	}, nil
}

// SetInboundHandler registers the function Poll dispatches messages to.
func (c *Client) SetInboundHandler(h Handler) {
	c.handler = h
}

// Connect opens the broker session. It does not retry and never reconnects on
// its own; a lost session is reported by Poll.
func (c *Client) Connect(ctx context.Context) error {
	tlsCfg, err := c.cfg.TLSConfig()
	if err != nil {
		return err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL())
	opts.SetClientID(c.cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetWriteTimeout(c.cfg.PublishTimeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		c.enqueue(Message{
			Topic:    msg.Topic(),
			Payload:  append([]byte(nil), msg.Payload()...),
			QoS:      msg.Qos(),
			Retained: msg.Retained(),
			Time:     time.Now(),
		})
	})

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.connected.Store(false)
		c.publishErr(fmt.Errorf("mqtt: connection lost: %w", err))
	}

	client := c.newClient(opts)
	if err := c.wait(ctx, client.Connect(), c.cfg.ConnectTimeout); err != nil {
		// Stops the goroutines of an attempt that is still dialling or timed out.
		client.Disconnect(0)
		return fmt.Errorf("mqtt: connect failed: %w", err)
	}

	c.client = client
	c.connected.Store(true)
	return nil
}

// Subscribe subscribes to topic at QoS 0.
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.wait(ctx, c.client.Subscribe(topic, 0, nil), c.cfg.PublishTimeout); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", topic, err)
	}
	return nil
}

// Publish sends payload with QoS 0 and no retain flag. Only the local write is
// awaited; the broker sends no acknowledgement at this QoS.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.wait(ctx, c.client.Publish(topic, 0, false, payload), c.cfg.PublishTimeout); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

// Poll dispatches buffered inbound messages to the handler, then reports a
// lost session if one occurred.
func (c *Client) Poll(ctx context.Context) error {
	for drained := false; !drained; {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case msg := <-c.messages:
			if c.handler != nil {
				c.handler(msg)
			}
		default:
			drained = true
		}
	}

	select {
	case err := <-c.errs:
		return err
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the session is open.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Close terminates the MQTT session.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		if c.client != nil && c.client.IsConnected() {
			c.client.Disconnect(disconnectQuiesceMillis)
		}
	})
}

func (c *Client) wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}

func (c *Client) enqueue(msg Message) {
	select {
	case c.messages <- msg:
	default:
		log.Printf("mqtt: dropping message, buffer full (topic=%s)", msg.Topic)
	}
}

func (c *Client) publishErr(err error) {
	if err == nil {
		return
	}
	select {
	case c.errs <- err:
	default:
		log.Printf("mqtt: dropping error: %v", err)
	}
}
