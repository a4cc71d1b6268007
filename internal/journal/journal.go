package journal

import (
	"context"

	"github.com/aminovpavel/thermopipe-go/internal/telemetry"
)

// Event kinds recorded in the journal.
const (
	KindBoot        = "boot"
	KindTelemetry   = "telemetry"
	KindErrorReport = "error_report"
	KindReset       = "reset"
)

// Journal records what one boot cycle did. It is write-only from the agent's
// point of view: nothing is read back to restore state after a reset.
type Journal interface {
	RecordBoot(ctx context.Context, address string) error
	RecordTelemetry(ctx context.Context, msg telemetry.Message) error
	RecordErrorReport(ctx context.Context, report telemetry.ErrorReport, delivered bool) error
	RecordReset(ctx context.Context, kind string, reason error) error
}

// Nop drops every event (used when no journal path is configured).
type Nop struct{}

// RecordBoot implements Journal by doing nothing.
func (Nop) RecordBoot(context.Context, string) error { return nil }

// RecordTelemetry implements Journal by doing nothing.
func (Nop) RecordTelemetry(context.Context, telemetry.Message) error { return nil }

// RecordErrorReport implements Journal by doing nothing.
func (Nop) RecordErrorReport(context.Context, telemetry.ErrorReport, bool) error { return nil }

// RecordReset implements Journal by doing nothing.
func (Nop) RecordReset(context.Context, string, error) error { return nil }
