package sampler_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aminovpavel/thermopipe-go/internal/clock"
	"github.com/aminovpavel/thermopipe-go/internal/observability"
	"github.com/aminovpavel/thermopipe-go/internal/sampler"
	"github.com/aminovpavel/thermopipe-go/internal/telemetry"
)

type harness struct {
	t         *testing.T
	ctx       context.Context
	cancel    context.CancelFunc
	loop      *sampler.Loop
	network   *fakeNetwork
	publisher *fakePublisher
	reader    *fakeReader
	journal   *fakeJournal
	sleeps    *clock.Recorder
	resets    []error
}

func newHarness(t *testing.T, script []readResult) *harness {
	t.Helper()
	reader := &fakeReader{script: script}
	h := newHarnessWithReader(t, reader, &clock.Recorder{})
	h.reader = reader
	reader.onExhausted = h.cancel
	return h
}

func newHarnessWithReader(t *testing.T, reader sampler.Reader, sleeps *clock.Recorder) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &harness{
		t:         t,
		ctx:       ctx,
		cancel:    cancel,
		network:   &fakeNetwork{addr: "192.168.1.20"},
		publisher: &fakePublisher{},
		reader:    &fakeReader{},
		journal:   &fakeJournal{},
		sleeps:    sleeps,
	}

	loop, err := sampler.New(
		sampler.Config{DeviceID: "Id01", SSID: "Wokwi-GUEST", ConnectAttempts: 15},
		h.network,
		h.publisher,
		reader,
		sampler.ResetFunc(func(reason error) { h.resets = append(h.resets, reason) }),
		sampler.WithSleep(sleeps.Sleep),
		sampler.WithJournal(h.journal),
		sampler.WithLogger(observability.NoOpLogger()),
	)
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	h.loop = loop
	return h
}

func (h *harness) run() error {
	return h.loop.Run(h.ctx)
}

type fakeNetwork struct {
	addr  string
	err   error
	calls int
}

func (n *fakeNetwork) EnsureConnected(context.Context, string, string, int) (string, error) {
	n.calls++
	if n.err != nil {
		return "", n.err
	}
	return n.addr, nil
}

type fakePublisher struct {
	connectErr  error
	publishErr  error
	pollErr     error
	reportFails bool

	connects     int
	polls        int
	publishCalls int
	published    []telemetry.Reading
	reports      int
	lastReport   telemetry.ErrorReport
	closed       bool
}

func (p *fakePublisher) Connect(context.Context) error {
	p.connects++
	return p.connectErr
}

func (p *fakePublisher) PublishTelemetry(_ context.Context, reading telemetry.Reading) (telemetry.Message, error) {
	p.publishCalls++
	if p.publishErr != nil {
		return telemetry.Message{}, p.publishErr
	}
	p.published = append(p.published, reading)
	return telemetry.Message{DeviceID: "Id01", Timestamp: 1_700_000_000, Reading: reading}, nil
}

func (p *fakePublisher) ReportError(_ context.Context, report telemetry.ErrorReport) bool {
	p.reports++
	p.lastReport = report
	return !p.reportFails
}

func (p *fakePublisher) Poll(context.Context) error {
	p.polls++
	return p.pollErr
}

func (p *fakePublisher) Close() {
	p.closed = true
}

type readResult struct {
	reading telemetry.Reading
	err     error
	panic   bool
}

// fakeReader replays script and cancels the run once it runs out.
type fakeReader struct {
	script      []readResult
	calls       int
	onExhausted func()
}

func (r *fakeReader) Read(ctx context.Context) (telemetry.Reading, error) {
	r.calls++
	if len(r.script) == 0 {
		if r.onExhausted != nil {
			r.onExhausted()
		}
		return telemetry.Reading{}, ctx.Err()
	}
	next := r.script[0]
	r.script = r.script[1:]
	if next.panic {
		panic("sensor driver crashed")
	}
	return next.reading, next.err
}

type probeResult struct {
	temp float64
	hum  float64
	err  error
}

type scriptedProbe struct {
	results     []probeResult
	current     probeResult
	onExhausted func()
}

func (p *scriptedProbe) Measure(context.Context) error {
	if len(p.results) == 0 {
		if p.onExhausted != nil {
			p.onExhausted()
		}
		return errors.New("probe script exhausted")
	}
	next := p.results[0]
	p.results = p.results[1:]
	if next.err != nil {
		return next.err
	}
	p.current = next
	return nil
}

func (p *scriptedProbe) Temperature() float64 { return p.current.temp }
func (p *scriptedProbe) Humidity() float64    { return p.current.hum }

type fakeJournal struct {
	events    []string
	delivered *bool
}

func (j *fakeJournal) RecordBoot(context.Context, string) error {
	j.events = append(j.events, "boot")
	return nil
}

func (j *fakeJournal) RecordTelemetry(context.Context, telemetry.Message) error {
	j.events = append(j.events, "telemetry")
	return nil
}

func (j *fakeJournal) RecordErrorReport(_ context.Context, _ telemetry.ErrorReport, delivered bool) error {
	j.events = append(j.events, "error_report")
	j.delivered = &delivered
	return nil
}

func (j *fakeJournal) RecordReset(context.Context, string, error) error {
	j.events = append(j.events, "reset")
	return nil
}

func (j *fakeJournal) kinds() string {
	return strings.Join(j.events, ",")
}
