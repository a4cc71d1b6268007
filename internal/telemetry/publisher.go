package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aminovpavel/thermopipe-go/internal/mqtt"
	"github.com/aminovpavel/thermopipe-go/internal/observability"
)

// Transport abstracts the pub/sub client behaviour required by the publisher.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, payload []byte) error
	SetInboundHandler(h mqtt.Handler)
	Poll(ctx context.Context) error
	Close()
}

// Config names the device and the topics it publishes on.
type Config struct {
	DeviceID       string
	TelemetryTopic string
	ErrorsTopic    string
	// StatusEcho republishes the last telemetry message on a "status" request.
	StatusEcho bool
}

func (c Config) validate() error {
	if strings.TrimSpace(c.DeviceID) == "" {
		return errors.New("telemetry: device id must be provided")
	}
	if strings.TrimSpace(c.TelemetryTopic) == "" {
		return errors.New("telemetry: telemetry topic must be provided")
	}
	if strings.TrimSpace(c.ErrorsTopic) == "" {
		return errors.New("telemetry: errors topic must be provided")
	}
	return nil
}

// Publisher owns the broker session for one boot cycle.
type Publisher struct {
	cfg       Config
	transport Transport
	logger    *slog.Logger
	metrics   *observability.Metrics
	now       func() time.Time

	connected bool
	last      *Message
	pollCtx   context.Context
}

// Option configures the publisher.
type Option func(*Publisher)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics attaches metrics instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Publisher) {
		if metrics != nil {
			p.metrics = metrics
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPublisher constructs a publisher over the given transport.
func NewPublisher(cfg Config, transport Transport, opts ...Option) (*Publisher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, errors.New("telemetry: transport is nil")
	}

	p := &Publisher{
		cfg:       cfg,
		transport: transport,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Connect opens the session, registers the inbound handler and subscribes to
// the telemetry topic for control requests. It does not retry.
func (p *Publisher) Connect(ctx context.Context) error {
	p.transport.SetInboundHandler(p.handleInbound)

	if err := p.transport.Connect(ctx); err != nil {
		return &ConnectError{Err: err}
	}
	if err := p.transport.Subscribe(ctx, p.cfg.TelemetryTopic); err != nil {
		p.transport.Close()
		return &ConnectError{Err: err}
	}

	p.connected = true
	p.metrics.SetBrokerConnected(true)
	p.logger.Info("connected to broker and subscribed",
		slog.String("topic", p.cfg.TelemetryTopic))
	return nil
}

// Connected reports whether Connect succeeded and no session failure has been seen since.
func (p *Publisher) Connected() bool {
	return p.connected
}

// PublishTelemetry publishes reading as a fresh telemetry message and returns
// what was sent.
func (p *Publisher) PublishTelemetry(ctx context.Context, reading Reading) (Message, error) {
	msg := NewMessage(p.cfg.DeviceID, reading, p.now())
	if err := p.publishMessage(ctx, msg); err != nil {
		return Message{}, err
	}
	p.last = &msg
	return msg, nil
}

func (p *Publisher) publishMessage(ctx context.Context, msg Message) error {
	if !p.connected {
		return &PublishError{Topic: p.cfg.TelemetryTopic, Err: ErrNotConnected}
	}

	payload, err := EncodeMessage(msg)
	if err != nil {
		return &PublishError{Topic: p.cfg.TelemetryTopic, Err: err}
	}

	if err := p.transport.Publish(ctx, p.cfg.TelemetryTopic, payload); err != nil {
		p.metrics.IncPublishErrors()
		return &PublishError{Topic: p.cfg.TelemetryTopic, Err: err}
	}

	p.metrics.IncTelemetryPublished()
	p.logger.Info("telemetry sent", slog.String("payload", string(payload)))
	return nil
}

// ReportError publishes report on the errors topic. Failures are logged and
// never returned so reporting cannot mask the fault being reported. It reports
// whether the report reached the transport.
//
// The publish is attempted even after Poll saw the session drop; the transport
// decides whether the write can still go out.
func (p *Publisher) ReportError(ctx context.Context, report ErrorReport) bool {
	payload, err := EncodeErrorReport(report)
	if err == nil {
		err = p.transport.Publish(ctx, p.cfg.ErrorsTopic, payload)
	}
	if err != nil {
		p.metrics.IncErrorReportFailures()
		p.logger.Warn("error report failed", slog.Any("error", err))
		return false
	}

	p.metrics.IncErrorReports()
	return true
}

// Poll services the session and dispatches inbound messages synchronously.
func (p *Publisher) Poll(ctx context.Context) error {
	if !p.connected {
		return &PublishError{Err: ErrNotConnected}
	}
	p.pollCtx = ctx
	defer func() { p.pollCtx = nil }()

	if err := p.transport.Poll(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		p.connected = false
		p.metrics.SetBrokerConnected(false)
		return &PublishError{Err: err}
	}
	return nil
}

// Last returns the most recently published telemetry message.
func (p *Publisher) Last() (Message, bool) {
	if p.last == nil {
		return Message{}, false
	}
	return *p.last, true
}

// Close ends the session.
func (p *Publisher) Close() {
	p.transport.Close()
	p.connected = false
	p.metrics.SetBrokerConnected(false)
}

func (p *Publisher) handleInbound(msg mqtt.Message) {
	req, err := DecodeControlRequest(msg.Payload)
	if err != nil {
		p.logger.Debug("ignoring inbound message",
			slog.String("topic", msg.Topic),
			slog.String("payload", string(msg.Payload)))
		return
	}

	p.metrics.IncControlRequests(req.Type)
	p.logger.Info("control request received",
		slog.String("topic", msg.Topic),
		slog.String("type", req.Type))

	if req.Type != ControlStatus || !p.cfg.StatusEcho {
		return
	}
	if p.last == nil {
		p.logger.Info("status requested before first telemetry, nothing to echo")
		return
	}
	ctx := p.pollCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := p.publishMessage(ctx, *p.last); err != nil {
		p.logger.Warn("status echo failed", slog.Any("error", err))
	}
}
