// Package simulated provides an in-memory probe SDK for demo mode and dry
// runs. No hardware is touched.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cochaviz/ecuflash/internal/logging"
	"github.com/cochaviz/ecuflash/internal/probe"
)

var _ probe.SDK = (*SDK)(nil)

// SDK records every call and pretends to flash after DownloadDelay.
type SDK struct {
	Logger        *slog.Logger
	DownloadDelay time.Duration

	mu          sync.Mutex
	connected   bool
	application string
	program     string
	events      []string
}

// New returns a simulated SDK whose download takes delay.
func New(logger *slog.Logger, delay time.Duration) *SDK {
	return &SDK{Logger: logger, DownloadDelay: delay}
}

// Events returns the calls seen so far.
func (s *SDK) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *SDK) logger() *slog.Logger {
	return logging.Ensure(s.Logger).With("driver", "simulated")
}

func (s *SDK) event(format string, args ...any) {
	s.mu.Lock()
	s.events = append(s.events, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

func (s *SDK) requireConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errors.New("simulated probe not connected")
	}
	return nil
}

func (s *SDK) Connect(_ context.Context, workspace string) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.event("connect %s", workspace)
	s.logger().Info("simulated probe connected", "workspace", workspace)
	return nil
}

func (s *SDK) ConfigureEmulator(_ context.Context, emulatorType string) error {
	s.event("emulator %s", emulatorType)
	return s.requireConnected()
}

func (s *SDK) ConfigureTransport(_ context.Context, transport probe.Transport) error {
	s.event("transport %s", transport)
	return s.requireConnected()
}

func (s *SDK) ConfigureSoC(_ context.Context, model string) error {
	s.event("soc %s", model)
	return s.requireConnected()
}

func (s *SDK) RegisterApplication(_ context.Context, name string) error {
	s.event("application %s", name)
	s.mu.Lock()
	s.application = name
	s.mu.Unlock()
	return s.requireConnected()
}

func (s *SDK) RegisterSymbolFile(_ context.Context, application, path, format string) error {
	s.event("symbols %s %s %s", application, path, format)
	s.mu.Lock()
	known := s.application == application
	s.mu.Unlock()
	if !known {
		return fmt.Errorf("application %q is not registered", application)
	}
	return s.requireConnected()
}

func (s *SDK) RegisterProgramFile(_ context.Context, path, format string) error {
	s.event("program %s %s", path, format)
	s.mu.Lock()
	s.program = path
	s.mu.Unlock()
	return s.requireConnected()
}

func (s *SDK) RegisterMemorySpace(_ context.Context, name, core, application string) error {
	s.event("memory_space %s %s %s", name, core, application)
	return s.requireConnected()
}

func (s *SDK) SetDemoMode(_ context.Context, enabled bool) error {
	s.event("demo %t", enabled)
	if !enabled {
		s.logger().Warn("simulated probe always runs in demo mode")
	}
	return s.requireConnected()
}

func (s *SDK) Download(ctx context.Context) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	s.mu.Lock()
	program := s.program
	s.mu.Unlock()
	if program == "" {
		return errors.New("no program file registered")
	}

	s.event("download %s", program)
	if s.DownloadDelay > 0 {
		timer := time.NewTimer(s.DownloadDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.logger().Info("simulated download finished", "program", program)
	return nil
}

func (s *SDK) ResetTarget(context.Context) error {
	s.event("reset")
	return s.requireConnected()
}

func (s *SDK) EraseTarget(context.Context) error {
	s.event("erase")
	return s.requireConnected()
}

func (s *SDK) PersistWorkspace(context.Context) error {
	s.event("persist")
	return s.requireConnected()
}

func (s *SDK) CloseWorkspace(context.Context) error {
	s.event("close")
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}
