// Package connectivity makes sure the host network is reachable before the
// agent opens a broker session.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aminovpavel/thermopipe-go/internal/clock"
	"github.com/aminovpavel/thermopipe-go/internal/observability"
)

const (
	defaultAttempts     = 15
	defaultPollInterval = time.Second
)

// ErrTimeout is wrapped by Error when the station never reports connected.
var ErrTimeout = errors.New("connectivity: station did not connect in time")

// Station is a network interface that can join a network.
type Station interface {
	Activate() error
	Connect(ssid, password string) error
	IsConnected() bool
	LocalAddress() string
}

// Error reports that the network could not be reached. It is fatal for the
// current boot cycle.
type Error struct {
	SSID     string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("connectivity: join %q after %d attempts: %v", e.SSID, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Manager owns the station for the process.
type Manager struct {
	station      Station
	pollInterval time.Duration
	sleep        clock.SleepFunc
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// Option configures the manager.
type Option func(*Manager)

// WithPollInterval overrides the wait between readiness checks.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithSleep replaces the sleep used between readiness checks.
func WithSleep(sleep clock.SleepFunc) Option {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics attaches metrics instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// NewManager wraps station.
func NewManager(station Station, opts ...Option) (*Manager, error) {
	if station == nil {
		return nil, errors.New("connectivity: station is nil")
	}
	m := &Manager{
		station:      station,
		pollInterval: defaultPollInterval,
		sleep:        clock.Sleep,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// EnsureConnected returns the station address, joining ssid first if needed.
// Readiness is checked once per poll interval for up to attempts checks
// (15 when attempts <= 0). It is idempotent.
func (m *Manager) EnsureConnected(ctx context.Context, ssid, password string, attempts int) (string, error) {
	if attempts <= 0 {
		attempts = defaultAttempts
	}

	if err := m.station.Activate(); err != nil {
		return "", &Error{SSID: ssid, Err: fmt.Errorf("activate: %w", err)}
	}

	if m.station.IsConnected() {
		return m.connected(), nil
	}

	m.logger.Info("connecting to network", slog.String("ssid", ssid))
	if err := m.station.Connect(ssid, password); err != nil {
		return "", &Error{SSID: ssid, Err: err}
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if m.station.IsConnected() {
			return m.connected(), nil
		}
		m.logger.Debug("network not ready",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts))
		if err := m.sleep(ctx, m.pollInterval); err != nil {
			return "", err
		}
	}

	if m.station.IsConnected() {
		return m.connected(), nil
	}

	m.metrics.SetNetworkConnected(false)
	return "", &Error{SSID: ssid, Attempts: attempts, Err: ErrTimeout}
}

func (m *Manager) connected() string {
	addr := m.station.LocalAddress()
	m.metrics.SetNetworkConnected(true)
	m.logger.Info("network connected", slog.String("address", addr))
	return addr
}
