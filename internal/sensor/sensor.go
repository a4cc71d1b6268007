package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aminovpavel/thermopipe-go/internal/clock"
	"github.com/aminovpavel/thermopipe-go/internal/observability"
	"github.com/aminovpavel/thermopipe-go/internal/telemetry"
)

const (
	defaultAttempts = 3
	defaultBackoff  = time.Second
)

// Probe is a temperature and humidity probe. Measure triggers a sample and
// may fail transiently; the accessors return the values of the last
// successful Measure.
type Probe interface {
	Measure(ctx context.Context) error
	Temperature() float64
	Humidity() float64
}

// ReadError reports that every measurement attempt in a cycle failed.
type ReadError struct {
	Attempts int
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("sensor: read failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Reader acquires readings from a Probe with bounded local retry.
type Reader struct {
	probe    Probe
	attempts int
	backoff  time.Duration
	sleep    clock.SleepFunc
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// Option configures the reader.
type Option func(*Reader)

// WithAttempts overrides the number of measurement attempts per read.
func WithAttempts(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithBackoff overrides the fixed delay between attempts.
func WithBackoff(d time.Duration) Option {
	return func(r *Reader) {
		if d >= 0 {
			r.backoff = d
		}
	}
}

// WithSleep replaces the sleep used between attempts.
func WithSleep(sleep clock.SleepFunc) Option {
	return func(r *Reader) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics attaches metrics instrumentation.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Reader) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// NewReader wraps probe.
func NewReader(probe Probe, opts ...Option) (*Reader, error) {
	if probe == nil {
		return nil, errors.New("sensor: probe is nil")
	}
	r := &Reader{
		probe:    probe,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		sleep:    clock.Sleep,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Read returns one reading, trying up to the configured number of attempts
// with a fixed backoff between them. It returns *ReadError when every attempt
// fails, or the context error if cancelled while waiting.
func (r *Reader) Read(ctx context.Context) (telemetry.Reading, error) {
	r.metrics.SetSensorReading(true)
	defer r.metrics.SetSensorReading(false)

	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err := r.probe.Measure(ctx)
		if err == nil {
			reading := telemetry.Reading{
				Temperature: r.probe.Temperature(),
				Humidity:    r.probe.Humidity(),
			}
			r.metrics.ObserveReading(reading.Temperature, reading.Humidity)
			return reading, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return telemetry.Reading{}, ctxErr
		}

		lastErr = err
		r.metrics.IncSensorReadFailures()
		r.logger.Warn("sensor measurement failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.attempts),
			slog.Any("error", err))

		if attempt < r.attempts {
			if err := r.sleep(ctx, r.backoff); err != nil {
				return telemetry.Reading{}, err
			}
		}
	}
	return telemetry.Reading{}, &ReadError{Attempts: r.attempts, Err: lastErr}
}
