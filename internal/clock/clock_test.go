package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep did not return promptly after cancellation")
	}
}

func TestSleepWaits(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("sleep returned early")
	}
}

func TestRecorder(t *testing.T) {
	var rec Recorder
	_ = rec.Sleep(context.Background(), time.Second)
	_ = rec.Sleep(context.Background(), 5*time.Second)

	if len(rec.Durations) != 2 || rec.Total() != 6*time.Second {
		t.Fatalf("unexpected recorder state: %v", rec.Durations)
	}
}
