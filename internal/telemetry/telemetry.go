// Package telemetry brackets an operation with a bus-simulation measurement
// session. Telemetry is best effort: its failures become warnings and never
// change the outcome of the bracketed operation.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cochaviz/ecuflash/internal/logging"
)

const (
	DefaultStartTimeout = 10 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// ErrTimeout reports a bus tool call that did not return in time.
var ErrTimeout = errors.New("telemetry call timed out")

// BusTool is the bus-simulation tool that records telemetry.
type BusTool interface {
	OpenConfiguration(ctx context.Context, path string) error
	StartMeasurement(ctx context.Context) error
	StopMeasurement(ctx context.Context) error
	CloseConfiguration(ctx context.Context) error
}

// Warning records a telemetry step that failed.
type Warning struct {
	Op  string
	Err error
}

func (w Warning) Error() string {
	return fmt.Sprintf("telemetry %s: %v", w.Op, w.Err)
}

func (w Warning) Unwrap() error {
	return w.Err
}

// Report summarises what the bracket managed to do.
type Report struct {
	Requested bool
	Started   bool
	Captured  bool // started and stopped cleanly
	Warnings  []Warning
}

// Bracket wraps an operation with start/stop of a measurement. Start and
// stop are each bounded by their own timeout, independent of the body.
type Bracket struct {
	Tool         BusTool
	StartTimeout time.Duration
	StopTimeout  time.Duration
	Logger       *slog.Logger
}

// NewBracket returns a bracket on tool with the default timeouts.
func NewBracket(tool BusTool, logger *slog.Logger) *Bracket {
	return &Bracket{
		Tool:         tool,
		StartTimeout: DefaultStartTimeout,
		StopTimeout:  DefaultStopTimeout,
		Logger:       logger,
	}
}

// With runs body. When requested, the configuration at configPath is opened
// and measurement started first; afterwards measurement is stopped and the
// configuration closed whatever body returned. The error from body is
// returned unchanged.
func (b *Bracket) With(ctx context.Context, configPath string, requested bool, body func(context.Context) error) (Report, error) {
	report := Report{Requested: requested}
	if !requested {
		return report, body(ctx)
	}

	logger := logging.Ensure(b.Logger).With("component", "telemetry")
	warn := func(op string, err error) {
		w := Warning{Op: op, Err: err}
		report.Warnings = append(report.Warnings, w)
		logger.Warn("telemetry step failed", "op", op, "error", err)
	}

	if b.Tool == nil {
		warn("open configuration", errors.New("no bus tool configured"))
		return report, body(ctx)
	}

	opened := false
	if err := bounded(ctx, b.startTimeout(), func(ctx context.Context) error {
		return b.Tool.OpenConfiguration(ctx, configPath)
	}); err != nil {
		warn("open configuration", err)
	} else {
		opened = true
		if err := bounded(ctx, b.startTimeout(), b.Tool.StartMeasurement); err != nil {
			warn("start measurement", err)
		} else {
			report.Started = true
			logger.Info("measurement started", "config", configPath)
		}
	}

	bodyErr := body(ctx)

	// Teardown must run even when the run context is already cancelled.
	teardown := context.WithoutCancel(ctx)
	if report.Started {
		if err := bounded(teardown, b.stopTimeout(), b.Tool.StopMeasurement); err != nil {
			warn("stop measurement", err)
		} else {
			report.Captured = true
			logger.Info("measurement stopped")
		}
	}
	if opened {
		if err := bounded(teardown, b.stopTimeout(), b.Tool.CloseConfiguration); err != nil {
			warn("close configuration", err)
		}
	}

	return report, bodyErr
}

func (b *Bracket) startTimeout() time.Duration {
	if b.StartTimeout > 0 {
		return b.StartTimeout
	}
	return DefaultStartTimeout
}

func (b *Bracket) stopTimeout() time.Duration {
	if b.StopTimeout > 0 {
		return b.StopTimeout
	}
	return DefaultStopTimeout
}

// bounded runs fn under limit and stops waiting for it once the limit passes.
func bounded(ctx context.Context, limit time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, limit)
		}
		return ctx.Err()
	}
}
