package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aminovpavel/thermopipe-go/internal/config"
	"github.com/aminovpavel/thermopipe-go/internal/journal"
	"github.com/aminovpavel/thermopipe-go/internal/observability"
	"github.com/aminovpavel/thermopipe-go/internal/sampler"
)

func TestRunReturnsStartupFailures(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*config.App)
	}{
		{name: "unknown sensor", mutate: func(c *config.App) { c.SensorKind = "bogus" }},
		{name: "missing iio device", mutate: func(c *config.App) {
			c.SensorKind = config.SensorIIO
			c.SensorIIODevice = filepath.Join(t.TempDir(), "missing")
		}},
		{name: "journal directory unusable", mutate: func(c *config.App) {
			c.JournalFile = filepath.Join(blocker, "journal.db")
		}},
		{name: "no broker", mutate: func(c *config.App) { c.MQTTBrokerAddress = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)

			var resets []error
			a := testAgent(cfg, sampler.ResetFunc(func(reason error) { resets = append(resets, reason) }))

			if err := a.run(context.Background()); err == nil {
				t.Fatalf("expected startup error")
			}
			if len(resets) != 0 {
				t.Fatalf("startup failures are reported by run, got resets %v", resets)
			}
		})
	}
}

func TestStartupFailureExitsNonZero(t *testing.T) {
	code := -1
	exit := sampler.ExitResetter{Exit: func(c int) { code = c }}

	exit.Reset(errors.New("init sensor probe: sensor: stat iio device: no such file or directory"))

	if code != 1 {
		t.Fatalf("expected exit status 1 for a startup failure, got %d", code)
	}
}

func TestRunResetsWhenBrokerUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.MQTTBrokerAddress = "127.0.0.1"
	cfg.MQTTPort = closedPort(t)
	cfg.MQTTDisableTLS = true
	cfg.JournalFile = filepath.Join(t.TempDir(), "journal.db")

	var resets []error
	a := testAgent(cfg, sampler.ResetFunc(func(reason error) { resets = append(resets, reason) }))

	if err := a.run(context.Background()); err != nil {
		t.Fatalf("unexpected startup error: %v", err)
	}
	if len(resets) != 1 {
		t.Fatalf("expected exactly one reset, got %v", resets)
	}
	if kind := sampler.Classify(resets[0]); kind != sampler.KindPublisherConnect {
		t.Fatalf("expected publisher connect reset, got %s (%v)", kind, resets[0])
	}

	entries, err := journal.ReadSQLite(context.Background(), cfg.JournalFile, journal.Options{})
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if len(entries) != 2 || entries[0].Kind != journal.KindBoot || entries[1].Kind != journal.KindReset {
		t.Fatalf("expected boot then reset in the journal, got %+v", entries)
	}
	if entries[0].BootID != "boot-test" {
		t.Fatalf("expected events stamped with the boot id, got %q", entries[0].BootID)
	}
}

func testConfig(t *testing.T) *config.App {
	t.Helper()
	chdir(t, t.TempDir())
	t.Setenv("THERMOPIPE_CONFIG_FILE", "")

	cfg, err := config.New("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.ObservabilityAddress = ""
	return cfg
}

func testAgent(cfg *config.App, resetter sampler.Resetter) agent {
	return agent{
		cfg:      cfg,
		bootID:   "boot-test",
		logger:   observability.NoOpLogger(),
		metrics:  observability.NewMetrics(observability.WithRegistry(prometheus.NewRegistry())),
		resetter: resetter,
	}
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}
	return port
}
