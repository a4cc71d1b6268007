package sampler

import (
	"log/slog"
	"os"
)

// Resetter restarts the agent. On a device this is a hardware reset; on a
// host it hands control back to the process supervisor.
type Resetter interface {
	Reset(reason error)
}

// ExitResetter ends the process so the supervisor (systemd Restart=always,
// a container restart policy) starts a fresh boot cycle. Faults exit with
// status 1 and interrupts with status 0.
type ExitResetter struct {
	Logger *slog.Logger
	// Exit defaults to os.Exit.
	Exit func(code int)
}

// Reset implements Resetter.
func (r ExitResetter) Reset(reason error) {
	exit := r.Exit
	if exit == nil {
		exit = os.Exit
	}
	code := 1
	if Classify(reason) == KindInterrupt {
		code = 0
	}
	if r.Logger != nil {
		r.Logger.Info("exiting for supervisor restart", slog.Int("code", code))
	}
	exit(code)
}

// ResetFunc adapts a function to Resetter.
type ResetFunc func(reason error)

// Reset implements Resetter.
func (f ResetFunc) Reset(reason error) { f(reason) }
