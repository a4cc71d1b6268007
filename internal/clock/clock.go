// Package clock holds the context-aware sleep used by every blocking wait in
// the agent, so tests can replace waiting with bookkeeping.
package clock

import (
	"context"
	"time"
)

// SleepFunc blocks for d or until ctx is done, returning ctx.Err() in the latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Recorder is a SleepFunc that returns immediately and remembers each requested duration.
type Recorder struct {
	Durations []time.Duration
}

// Sleep records d and honours cancellation without waiting.
func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	r.Durations = append(r.Durations, d)
	return ctx.Err()
}

// Total returns the sum of all recorded sleeps.
func (r *Recorder) Total() time.Duration {
	var total time.Duration
	for _, d := range r.Durations {
		total += d
	}
	return total
}
