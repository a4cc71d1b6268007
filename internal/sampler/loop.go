package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aminovpavel/thermopipe-go/internal/clock"
	"github.com/aminovpavel/thermopipe-go/internal/connectivity"
	"github.com/aminovpavel/thermopipe-go/internal/journal"
	"github.com/aminovpavel/thermopipe-go/internal/observability"
	"github.com/aminovpavel/thermopipe-go/internal/sensor"
	"github.com/aminovpavel/thermopipe-go/internal/telemetry"
)

const (
	defaultInterval      = 5 * time.Second
	defaultErrorCooldown = 10 * time.Second
	reportTimeout        = 5 * time.Second
)

// Reset kinds, used for logs, metrics and the journal.
const (
	KindConnectivity     = "connectivity"
	KindPublisherConnect = "publisher_connect"
	KindPublish          = "publish"
	KindInterrupt        = "interrupt"
	KindInternal         = "internal"
)

// Network joins the network before any telemetry activity.
type Network interface {
	EnsureConnected(ctx context.Context, ssid, password string, attempts int) (string, error)
}

// Publisher is the broker session used by the loop.
type Publisher interface {
	Connect(ctx context.Context) error
	PublishTelemetry(ctx context.Context, reading telemetry.Reading) (telemetry.Message, error)
	ReportError(ctx context.Context, report telemetry.ErrorReport) bool
	Poll(ctx context.Context) error
	Close()
}

// Reader acquires one reading per cycle.
type Reader interface {
	Read(ctx context.Context) (telemetry.Reading, error)
}

// Config holds the loop policy.
type Config struct {
	DeviceID        string
	SSID            string
	Password        string
	ConnectAttempts int
	Interval        time.Duration
	ErrorCooldown   time.Duration
}

// State is the loop state for the current boot cycle.
type State int

const (
	StateBooting State = iota
	StateRunning
	StateResetting
)

func (s State) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateRunning:
		return "running"
	case StateResetting:
		return "resetting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Loop drives one boot cycle: join the network, open the broker session,
// then sample and publish until a fatal error, which always ends in a reset.
type Loop struct {
	cfg       Config
	network   Network
	publisher Publisher
	reader    Reader
	resetter  Resetter
	journal   journal.Journal

	sleep   clock.SleepFunc
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Metrics

	state         State
	lastPublished *telemetry.Reading
}

// Option configures the loop.
type Option func(*Loop)

// WithJournal records boots, telemetry, error reports and resets.
func WithJournal(j journal.Journal) Option {
	return func(l *Loop) {
		if j != nil {
			l.journal = j
		}
	}
}

// WithSleep replaces the sleep used for the interval and cooldown.
func WithSleep(sleep clock.SleepFunc) Option {
	return func(l *Loop) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// WithClock overrides the timestamp source for error reports.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics attaches metrics instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(l *Loop) {
		if metrics != nil {
			l.metrics = metrics
		}
	}
}

// New wires the loop over its collaborators.
func New(cfg Config, network Network, publisher Publisher, reader Reader, resetter Resetter, opts ...Option) (*Loop, error) {
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return nil, errors.New("sampler: device id must be provided")
	}
	if network == nil {
		return nil, errors.New("sampler: network is nil")
	}
	if publisher == nil {
		return nil, errors.New("sampler: publisher is nil")
	}
	if reader == nil {
		return nil, errors.New("sampler: reader is nil")
	}
	if resetter == nil {
		return nil, errors.New("sampler: resetter is nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ErrorCooldown <= 0 {
		cfg.ErrorCooldown = defaultErrorCooldown
	}

	l := &Loop{
		cfg:       cfg,
		network:   network,
		publisher: publisher,
		reader:    reader,
		resetter:  resetter,
		journal:   journal.Nop{},
		sleep:     clock.Sleep,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// State returns the current state.
func (l *Loop) State() State {
	return l.state
}

// LastPublished returns the reading most recently published successfully.
func (l *Loop) LastPublished() (telemetry.Reading, bool) {
	if l.lastPublished == nil {
		return telemetry.Reading{}, false
	}
	return *l.lastPublished, true
}

// Run executes the boot sequence and the sampling loop. It returns only after
// the resetter has been invoked exactly once, with the error that caused it.
func (l *Loop) Run(ctx context.Context) error {
	l.state = StateBooting

	if err := l.boot(ctx); err != nil {
		l.reset(ctx, err)
		return err
	}

	l.state = StateRunning
	for {
		if err := l.cycle(ctx); err != nil {
			l.fail(ctx, err)
			return err
		}
		if err := l.sleep(ctx, l.cfg.Interval); err != nil {
			l.reset(ctx, err)
			return err
		}
	}
}

func (l *Loop) boot(ctx context.Context) error {
	addr, err := l.network.EnsureConnected(ctx, l.cfg.SSID, l.cfg.Password, l.cfg.ConnectAttempts)
	if err != nil {
		return err
	}
	l.record(l.journal.RecordBoot(ctx, addr))

	if err := l.publisher.Connect(ctx); err != nil {
		return err
	}
	return nil
}

// cycle runs one poll, read, compare, publish pass. Sensor failures are
// contained here; every returned error is fatal.
func (l *Loop) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sampler: panic in cycle: %v", r)
		}
	}()

	if err := l.publisher.Poll(ctx); err != nil {
		return err
	}

	reading, err := l.reader.Read(ctx)
	if err != nil {
		var readErr *sensor.ReadError
		if errors.As(err, &readErr) {
			l.metrics.IncSensorCyclesSkipped()
			l.logger.Warn("no reading this cycle", slog.Any("error", err))
			return nil
		}
		return err
	}

	if l.lastPublished != nil && *l.lastPublished == reading {
		l.metrics.IncDuplicatesSkipped()
		l.logger.Debug("reading unchanged, not publishing",
			slog.Float64("temp", reading.Temperature),
			slog.Float64("humidity", reading.Humidity))
		return nil
	}

	msg, err := l.publisher.PublishTelemetry(ctx, reading)
	if err != nil {
		return err
	}
	l.lastPublished = &reading
	l.record(l.journal.RecordTelemetry(ctx, msg))
	return nil
}

// fail handles a fatal error from the running state: one best-effort error
// report, the cooldown, then the reset.
func (l *Loop) fail(ctx context.Context, fault error) {
	if isInterrupt(fault) {
		l.reset(ctx, fault)
		return
	}

	l.logger.Error("critical error", slog.Any("error", fault))

	report := telemetry.NewErrorReport(l.cfg.DeviceID, fault, l.now())
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	delivered := l.publisher.ReportError(reportCtx, report)
	cancel()
	l.record(l.journal.RecordErrorReport(context.WithoutCancel(ctx), report, delivered))

	if err := l.sleep(ctx, l.cfg.ErrorCooldown); err != nil {
		l.logger.Warn("cooldown interrupted", slog.Any("error", err))
	}
	l.reset(ctx, fault)
}

func (l *Loop) reset(ctx context.Context, reason error) {
	l.state = StateResetting
	kind := Classify(reason)

	l.metrics.IncResets(kind)
	l.record(l.journal.RecordReset(context.WithoutCancel(ctx), kind, reason))
	l.logger.Warn("resetting", slog.String("kind", kind), slog.Any("reason", reason))

	l.publisher.Close()
	l.resetter.Reset(reason)
}

func (l *Loop) record(err error) {
	if err != nil {
		l.logger.Warn("journal write failed", slog.Any("error", err))
	}
}

// Classify names the failure kind behind a reset.
func Classify(err error) string {
	var (
		connErr    *connectivity.Error
		connectErr *telemetry.ConnectError
		publishErr *telemetry.PublishError
	)
	switch {
	case isInterrupt(err):
		return KindInterrupt
	case errors.As(err, &connErr):
		return KindConnectivity
	case errors.As(err, &connectErr):
		return KindPublisherConnect
	case errors.As(err, &publishErr):
		return KindPublish
	default:
		return KindInternal
	}
}

func isInterrupt(err error) bool {
	return errors.Is(err, context.Canceled)
}
