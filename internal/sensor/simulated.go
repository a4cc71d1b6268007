package sensor

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
)

// ErrSimulatedFailure is returned by SimulatedProbe when a failure is injected.
var ErrSimulatedFailure = errors.New("sensor: simulated measurement failure")

// SimulatedConfig controls the synthetic signal.
type SimulatedConfig struct {
	Seed            int64
	BaseTemperature float64
	BaseHumidity    float64
	// Step is the largest change applied to either channel per Measure.
	Step float64
	// FailureRate is the probability in [0,1] that Measure fails.
	FailureRate float64
}

// SimulatedProbe produces a bounded random walk rounded to 0.1, the
// resolution of a DHT22, so an idle environment yields repeated readings.
type SimulatedProbe struct {
	cfg SimulatedConfig

	mu          sync.Mutex
	rnd         *rand.Rand
	temperature float64
	humidity    float64
}

// NewSimulatedProbe constructs a probe starting at the configured base values.
func NewSimulatedProbe(cfg SimulatedConfig) *SimulatedProbe {
	if cfg.BaseTemperature == 0 && cfg.BaseHumidity == 0 {
		cfg.BaseTemperature = 22
		cfg.BaseHumidity = 45
	}
	return &SimulatedProbe{
		cfg:         cfg,
		rnd:         rand.New(rand.NewSource(cfg.Seed)),
		temperature: round1(cfg.BaseTemperature),
		humidity:    round1(cfg.BaseHumidity),
	}
}

// Measure advances the walk or fails with ErrSimulatedFailure.
func (p *SimulatedProbe) Measure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.FailureRate > 0 && p.rnd.Float64() < p.cfg.FailureRate {
		return ErrSimulatedFailure
	}
	if p.cfg.Step > 0 {
		p.temperature = clamp(round1(p.temperature+p.delta()), minTemperature, maxTemperature)
		p.humidity = clamp(round1(p.humidity+p.delta()), 0, 100)
	}
	return nil
}

// Temperature returns the current simulated temperature.
func (p *SimulatedProbe) Temperature() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.temperature
}

// Humidity returns the current simulated humidity.
func (p *SimulatedProbe) Humidity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.humidity
}

func (p *SimulatedProbe) delta() float64 {
	return (p.rnd.Float64()*2 - 1) * p.cfg.Step
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
