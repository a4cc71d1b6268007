package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/aminovpavel/thermopipe-go/internal/app"
	"github.com/aminovpavel/thermopipe-go/internal/config"
	"github.com/aminovpavel/thermopipe-go/internal/mqtt"
	"github.com/aminovpavel/thermopipe-go/internal/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to config.yaml (defaults to config.yaml in cwd)")
		interval   = flag.Duration("poll", 200*time.Millisecond, "How often buffered messages are dispatched")
		status     = flag.Bool("status", false, "Send a status request on the telemetry topic after subscribing")
	)
	flag.Parse()

	cfg, err := config.New(*configPath)
	if err != nil {
		log.Fatalf("thermopipe-watch: load config: %v", err)
	}

	mqttCfg := app.BuildMQTTConfig(cfg)
	mqttCfg.ClientID = fmt.Sprintf("thermopipe-watch-%d", time.Now().UnixNano())

	client, err := mqtt.NewClient(mqttCfg)
	if err != nil {
		log.Fatalf("thermopipe-watch: create client: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client.SetInboundHandler(func(msg mqtt.Message) {
		printMessage(cfg, msg)
	})

	if err := client.Connect(ctx); err != nil {
		log.Fatalf("thermopipe-watch: connect: %v", err)
	}
	defer client.Close()

	for _, topic := range []string{cfg.MQTTTopicTelemetry, cfg.MQTTTopicErrors} {
		if err := client.Subscribe(ctx, topic); err != nil {
			log.Fatalf("thermopipe-watch: subscribe %s: %v", topic, err)
		}
	}
	log.Printf("connected to %s, watching %s and %s", mqttCfg.BrokerURL(), cfg.MQTTTopicTelemetry, cfg.MQTTTopicErrors)

	if *status {
		if err := client.Publish(ctx, cfg.MQTTTopicTelemetry, []byte(`{"type":"status"}`)); err != nil {
			log.Printf("thermopipe-watch: status request: %v", err)
		}
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("context cancelled, exiting")
			return
		case <-ticker.C:
			if err := client.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Fatalf("thermopipe-watch: %v", err)
			}
		}
	}
}

func printMessage(cfg *config.App, msg mqtt.Message) {
	switch msg.Topic {
	case cfg.MQTTTopicErrors:
		report, err := telemetry.DecodeErrorReport(msg.Payload)
		if err != nil {
			log.Printf("ERR topic=%s undecodable payload (%d bytes): %v", msg.Topic, len(msg.Payload), err)
			return
		}
		log.Printf("ERROR device=%s at=%s %s", report.DeviceID, time.Unix(report.Timestamp, 0).UTC().Format(time.RFC3339), report.Message)
	default:
		if req, err := telemetry.DecodeControlRequest(msg.Payload); err == nil {
			log.Printf("CONTROL type=%s", req.Type)
			return
		}
		m, err := telemetry.DecodeMessage(msg.Payload)
		if err != nil {
			log.Printf("MSG topic=%s undecodable payload (%d bytes): %v", msg.Topic, len(msg.Payload), err)
			return
		}
		log.Printf("TELEMETRY device=%s at=%s temp=%.1f humidity=%.1f",
			m.DeviceID, time.Unix(m.Timestamp, 0).UTC().Format(time.RFC3339), m.Reading.Temperature, m.Reading.Humidity)
	}
}
