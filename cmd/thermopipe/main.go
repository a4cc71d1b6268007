package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/aminovpavel/thermopipe-go/internal/app"
	"github.com/aminovpavel/thermopipe-go/internal/config"
	"github.com/aminovpavel/thermopipe-go/internal/connectivity"
	"github.com/aminovpavel/thermopipe-go/internal/journal"
	"github.com/aminovpavel/thermopipe-go/internal/mqtt"
	"github.com/aminovpavel/thermopipe-go/internal/observability"
	"github.com/aminovpavel/thermopipe-go/internal/sampler"
	"github.com/aminovpavel/thermopipe-go/internal/sensor"
	"github.com/aminovpavel/thermopipe-go/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.New("")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	bootID := uuid.NewString()
	logger := observability.NewLogger(cfg.LogLevel, observability.WithFormat(cfg.LogFormat)).
		With(slog.String("device", cfg.DeviceID), slog.String("boot_id", bootID))
	slog.SetDefault(logger)

	exit := sampler.ExitResetter{Logger: logger}
	agent := agent{
		cfg:      cfg,
		bootID:   bootID,
		logger:   logger,
		metrics:  observability.NewMetrics(),
		resetter: exit,
	}

	// Startup failures exit non-zero so the supervisor restarts us.
	if err := agent.run(ctx); err != nil {
		logger.Error("thermopipe failed to start", slog.Any("error", err))
		exit.Reset(err)
	}
}

type agent struct {
	cfg      *config.App
	bootID   string
	logger   *slog.Logger
	metrics  *observability.Metrics
	resetter sampler.Resetter
}

// run builds every component and drives the sampling loop. It returns an
// error only when a component cannot be constructed; once the loop runs,
// every exit goes through the resetter.
func (a agent) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, logger, metrics := a.cfg, a.logger, a.metrics

	if cfg.ObservabilityAddress != "" {
		obsServer := observability.NewServer(observability.ServerConfig{
			Address: cfg.ObservabilityAddress,
			Logger:  observability.Component(logger, "observability"),
			Metrics: metrics,
		})
		go obsServer.Run(ctx)
	}

	station, err := app.BuildStation(cfg)
	if err != nil {
		return fmt.Errorf("init network station: %w", err)
	}
	network, err := connectivity.NewManager(
		station,
		connectivity.WithLogger(observability.Component(logger, "connectivity")),
		connectivity.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("init connectivity manager: %w", err)
	}

	mqttCfg := app.BuildMQTTConfig(cfg)
	client, err := mqtt.NewClient(mqttCfg)
	if err != nil {
		return fmt.Errorf("init mqtt client: %w", err)
	}

	publisher, err := telemetry.NewPublisher(
		app.BuildPublisherConfig(cfg),
		client,
		telemetry.WithLogger(observability.Component(logger, "telemetry")),
		telemetry.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("init telemetry publisher: %w", err)
	}

	probe, err := app.BuildProbe(cfg)
	if err != nil {
		return fmt.Errorf("init sensor probe: %w", err)
	}
	reader, err := sensor.NewReader(probe, append(app.SensorOptions(cfg),
		sensor.WithLogger(observability.Component(logger, "sensor")),
		sensor.WithMetrics(metrics),
	)...)
	if err != nil {
		return fmt.Errorf("init sensor reader: %w", err)
	}

	var events journal.Journal = journal.Nop{}
	stopJournal := func() {}
	if cfg.JournalFile != "" {
		j, err := journal.NewSQLiteJournal(
			journal.SQLiteConfig{
				Path:      cfg.JournalFile,
				DeviceID:  cfg.DeviceID,
				BootID:    a.bootID,
				Retention: time.Duration(cfg.JournalRetentionHours) * time.Hour,
			},
			journal.WithLogger(observability.Component(logger, "journal")),
			journal.WithMetrics(metrics),
		)
		if err != nil {
			return fmt.Errorf("init journal: %w", err)
		}
		if err := j.Start(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
		events = j
		stopJournal = func() {
			if err := j.Stop(); err != nil {
				logger.Error("journal stop error", slog.Any("error", err))
			}
		}
	}
	defer stopJournal()

	// ExitResetter never returns, so the journal is flushed first. Stop is
	// idempotent, which keeps the deferred call safe.
	resetter := sampler.ResetFunc(func(reason error) {
		cancel()
		stopJournal()
		a.resetter.Reset(reason)
	})

	loop, err := sampler.New(
		app.BuildLoopConfig(cfg),
		network,
		publisher,
		reader,
		resetter,
		sampler.WithJournal(events),
		sampler.WithLogger(observability.Component(logger, "sampler")),
		sampler.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("init sampling loop: %w", err)
	}

	logger.Info("thermopipe starting",
		slog.String("broker_url", mqttCfg.BrokerURL()),
		slog.String("sensor", cfg.SensorKind),
		slog.String("observability_address", cfg.ObservabilityAddress),
	)

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sampling loop stopped with error", slog.Any("error", err))
	}

	logger.Info("thermopipe stopped")
	return nil
}
