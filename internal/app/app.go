package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/aminovpavel/thermopipe-go/internal/config"
	"github.com/aminovpavel/thermopipe-go/internal/connectivity"
	"github.com/aminovpavel/thermopipe-go/internal/mqtt"
	"github.com/aminovpavel/thermopipe-go/internal/sampler"
	"github.com/aminovpavel/thermopipe-go/internal/sensor"
	"github.com/aminovpavel/thermopipe-go/internal/telemetry"
)

// BuildMQTTConfig translates the application configuration into an MQTT client config.
// The device id doubles as the MQTT client id.
func BuildMQTTConfig(cfg *config.App) mqtt.Config {
	if cfg == nil {
		return mqtt.Config{}
	}

	return mqtt.Config{
		BrokerHost:         strings.TrimSpace(cfg.MQTTBrokerAddress),
		BrokerPort:         cfg.MQTTPort,
		Username:           strings.TrimSpace(cfg.MQTTUsername),
		Password:           strings.TrimSpace(cfg.MQTTPassword),
		ClientID:           strings.TrimSpace(cfg.DeviceID),
		TLSServerName:      strings.TrimSpace(cfg.MQTTTLSServerName),
		CAFile:             strings.TrimSpace(cfg.MQTTCAFile),
		InsecureSkipVerify: cfg.MQTTInsecureTLS,
		DisableTLS:         cfg.MQTTDisableTLS,
		KeepAlive:          seconds(cfg.MQTTKeepAliveSeconds),
	}
}

// BuildPublisherConfig selects the topics and echo behaviour.
func BuildPublisherConfig(cfg *config.App) telemetry.Config {
	return telemetry.Config{
		DeviceID:       strings.TrimSpace(cfg.DeviceID),
		TelemetryTopic: strings.TrimSpace(cfg.MQTTTopicTelemetry),
		ErrorsTopic:    strings.TrimSpace(cfg.MQTTTopicErrors),
		StatusEcho:     cfg.StatusEcho,
	}
}

// BuildLoopConfig selects the sampling policy.
func BuildLoopConfig(cfg *config.App) sampler.Config {
	return sampler.Config{
		DeviceID:        strings.TrimSpace(cfg.DeviceID),
		SSID:            cfg.WiFiSSID,
		Password:        cfg.WiFiPassword,
		ConnectAttempts: cfg.ConnectAttempts,
		Interval:        seconds(cfg.SampleIntervalSeconds),
		ErrorCooldown:   seconds(cfg.ErrorCooldownSeconds),
	}
}

// BuildStation returns the host interface station, or an always-connected
// station when no interface is configured.
func BuildStation(cfg *config.App) (connectivity.Station, error) {
	name := strings.TrimSpace(cfg.NetworkInterface)
	if name == "" {
		return connectivity.StaticStation{}, nil
	}
	return connectivity.NewLinkStation(name)
}

// BuildProbe constructs the configured sensor probe.
func BuildProbe(cfg *config.App) (sensor.Probe, error) {
	switch strings.ToLower(cfg.SensorKind) {
	case config.SensorIIO:
		return sensor.NewIIOProbe(cfg.SensorIIODevice)
	case config.SensorSimulated:
		return sensor.NewSimulatedProbe(sensor.SimulatedConfig{
			Seed:        time.Now().UnixNano(),
			Step:        cfg.SimulatedStep,
			FailureRate: cfg.SimulatedFailureRate,
		}), nil
	default:
		return nil, fmt.Errorf("app: unknown sensor kind %q", cfg.SensorKind)
	}
}

// SensorOptions returns the reader retry policy.
func SensorOptions(cfg *config.App) []sensor.Option {
	return []sensor.Option{
		sensor.WithAttempts(cfg.SensorAttempts),
		sensor.WithBackoff(seconds(cfg.SensorBackoffSeconds)),
	}
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
