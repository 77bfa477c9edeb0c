package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cochaviz/ecuflash/internal/logging"
)

const (
	closeTimeout = 30 * time.Second
	// DefaultPersistTimeout bounds Persist when no timeout is given.
	DefaultPersistTimeout = 30 * time.Second
)

// Session wraps one connection to the debug probe and enforces the
// Closed -> Opening -> Configured -> Downloaded -> Final lifecycle.
// A Session is owned by a single provisioning run and is not safe for
// concurrent use.
type Session struct {
	sdk       SDK
	workspace string
	logger    *slog.Logger

	state    State
	config   *TargetConfig
	program  string
	symbols  string
	attached bool
}

// NewSession prepares a session on sdk. An empty workspace selects the most
// recently used one.
func NewSession(sdk SDK, workspace string, logger *slog.Logger) *Session {
	return &Session{
		sdk:       sdk,
		workspace: workspace,
		logger:    logging.Ensure(logger).With("component", "probe"),
		state:     StateClosed,
	}
}

func (s *Session) State() State {
	return s.state
}

// Config returns the applied target config, if any.
func (s *Session) Config() (TargetConfig, bool) {
	if s.config == nil {
		return TargetConfig{}, false
	}
	return *s.config, true
}

// Open connects to the probe. On failure the session stays closed and
// nothing needs to be released.
func (s *Session) Open(ctx context.Context) error {
	if s.sdk == nil {
		return &ConnectionError{Op: "connect", Err: errors.New("probe sdk not initialized")}
	}
	if s.state != StateClosed {
		return &InvalidStateError{Op: "open", State: s.state}
	}
	if err := s.call(ctx, "connect", 0, func(ctx context.Context) error {
		return s.sdk.Connect(ctx, s.workspace)
	}); err != nil {
		return &ConnectionError{Op: "connect", Err: err}
	}
	s.state = StateOpening
	s.logger.Info("probe connected", "workspace", workspaceLabel(s.workspace))
	return nil
}

// ConfigureTarget applies cfg. Applying the same config again is a no-op;
// a different config after the first success fails with *ConfigConflictError.
func (s *Session) ConfigureTarget(ctx context.Context, cfg TargetConfig) error {
	cfg = cfg.WithDefaults()
	if s.config != nil && s.state >= StateConfigured && s.state != StateFinal {
		if *s.config == cfg {
			s.logger.Debug("target already configured with identical config")
			return nil
		}
		return &ConfigConflictError{Current: *s.config, Requested: cfg}
	}
	if s.state != StateOpening {
		return &InvalidStateError{Op: "configure target", State: s.state}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTargetConfig, err)
	}

	steps := []struct {
		op string
		fn func(context.Context) error
	}{
		{"configure emulator", func(ctx context.Context) error { return s.sdk.ConfigureEmulator(ctx, cfg.EmulatorType) }},
		{"configure transport", func(ctx context.Context) error { return s.sdk.ConfigureTransport(ctx, cfg.Transport) }},
		{"configure soc", func(ctx context.Context) error { return s.sdk.ConfigureSoC(ctx, cfg.SoC) }},
		{"register application", func(ctx context.Context) error { return s.sdk.RegisterApplication(ctx, cfg.Application) }},
		{"register memory space", func(ctx context.Context) error {
			return s.sdk.RegisterMemorySpace(ctx, cfg.MemorySpace, cfg.Core, cfg.Application)
		}},
		{"set demo mode", func(ctx context.Context) error { return s.sdk.SetDemoMode(ctx, cfg.Demo) }},
	}
	for _, step := range steps {
		if err := s.call(ctx, step.op, 0, step.fn); err != nil {
			return &ConnectionError{Op: step.op, Err: err}
		}
	}

	s.config = &cfg
	s.state = StateConfigured
	s.logger.Info("target configured",
		"emulator", cfg.EmulatorType,
		"transport", cfg.Transport.String(),
		"soc", cfg.SoC,
		"application", cfg.Application,
		"demo", cfg.Demo,
	)
	return nil
}

// AttachFirmware registers the symbol table and program image. Both paths
// are re-checked for readability since time has passed since discovery.
func (s *Session) AttachFirmware(ctx context.Context, programPath, symbolPath string) error {
	if s.state != StateConfigured {
		return &InvalidStateError{Op: "attach firmware", State: s.state}
	}
	for _, path := range []string{programPath, symbolPath} {
		if err := checkReadable(path); err != nil {
			return &ArtifactNotAccessibleError{Path: path, Err: err}
		}
	}

	cfg := *s.config
	if err := s.call(ctx, "register symbol file", 0, func(ctx context.Context) error {
		return s.sdk.RegisterSymbolFile(ctx, cfg.Application, symbolPath, cfg.SymbolFormat)
	}); err != nil {
		return &ConnectionError{Op: "register symbol file", Err: err}
	}
	if err := s.call(ctx, "register program file", 0, func(ctx context.Context) error {
		return s.sdk.RegisterProgramFile(ctx, programPath, cfg.ProgramFormat)
	}); err != nil {
		return &ConnectionError{Op: "register program file", Err: err}
	}

	s.program = programPath
	s.symbols = symbolPath
	s.attached = true
	s.logger.Info("firmware attached", "program", programPath, "symbols", symbolPath)
	return nil
}

// Download writes the attached image to the target, bounded by timeout when
// positive. No partial-download recovery is attempted.
func (s *Session) Download(ctx context.Context, timeout time.Duration) error {
	if s.state != StateConfigured || !s.attached {
		return &InvalidStateError{Op: "download", State: s.state}
	}
	s.logger.Info("downloading firmware", "program", s.program, "timeout", timeout)
	start := time.Now()
	if err := s.call(ctx, "download", timeout, s.sdk.Download); err != nil {
		return &DownloadFailedError{Err: err}
	}
	s.state = StateDownloaded
	s.logger.Info("download completed", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// ResetTarget resets the target after a download.
func (s *Session) ResetTarget(ctx context.Context, timeout time.Duration) error {
	if s.state != StateDownloaded {
		return &InvalidStateError{Op: "reset target", State: s.state}
	}
	if err := s.call(ctx, "reset", timeout, s.sdk.ResetTarget); err != nil {
		return &TargetCommandFailedError{Command: "reset", Err: err}
	}
	s.logger.Info("target reset")
	return nil
}

// EraseTarget mass-erases the target. It is valid after a download, or from
// Configured as a pre-clean before one.
func (s *Session) EraseTarget(ctx context.Context, timeout time.Duration) error {
	if s.state != StateDownloaded && s.state != StateConfigured {
		return &InvalidStateError{Op: "erase target", State: s.state}
	}
	if err := s.call(ctx, "erase", timeout, s.sdk.EraseTarget); err != nil {
		return &TargetCommandFailedError{Command: "erase", Err: err}
	}
	s.logger.Info("target erased")
	return nil
}

// Persist saves the workspace, bounded by timeout or DefaultPersistTimeout
// when it is not positive. It remains callable after a failed step so the
// workspace can be inspected afterwards.
func (s *Session) Persist(ctx context.Context, timeout time.Duration) error {
	if s.state < StateConfigured || s.state == StateFinal {
		return &InvalidStateError{Op: "persist workspace", State: s.state}
	}
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	if err := s.call(ctx, "persist workspace", timeout, s.sdk.PersistWorkspace); err != nil {
		return fmt.Errorf("persist workspace: %w", err)
	}
	s.logger.Debug("workspace persisted")
	return nil
}

// Close releases the workspace. It is terminal: the session is final
// afterwards even when the SDK reports an error, and a second call fails
// with ErrSessionClosed.
func (s *Session) Close(ctx context.Context) error {
	switch s.state {
	case StateFinal:
		return ErrSessionClosed
	case StateClosed:
		return &InvalidStateError{Op: "close", State: s.state}
	}
	s.state = StateFinal
	// The workspace must be released even when the run context is already done.
	ctx = context.WithoutCancel(ctx)
	if err := s.call(ctx, "close workspace", closeTimeout, s.sdk.CloseWorkspace); err != nil {
		return fmt.Errorf("close workspace: %w", err)
	}
	s.logger.Info("probe session closed")
	return nil
}

// call runs fn under ctx, optionally bounded by timeout. If fn does not
// return once the context ends, call returns without waiting for it.
func (s *Session) call(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return contextCause(op, timeout, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() != nil {
			return contextCause(op, timeout, ctx.Err())
		}
		return err
	case <-ctx.Done():
		// fn may have finished just as the deadline fired.
		select {
		case err := <-done:
			if err == nil {
				return nil
			}
		default:
		}
		s.logger.Warn("probe call abandoned", "op", op, "error", ctx.Err())
		return contextCause(op, timeout, ctx.Err())
	}
}

func contextCause(op string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Limit: timeout}
	}
	return err
}

func checkReadable(path string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path %q is not absolute", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.New("path is a directory")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

func workspaceLabel(workspace string) string {
	if workspace == "" {
		return "<most recently used>"
	}
	return workspace
}
