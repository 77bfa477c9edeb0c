// Package cmdline drives a debug probe through vendor command-line tools.
// Every SDK capability maps to a shell command template rendered with the
// session state accumulated so far.
package cmdline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cochaviz/ecuflash/internal/command"
	"github.com/cochaviz/ecuflash/internal/logging"
	"github.com/cochaviz/ecuflash/internal/probe"
)

var _ probe.SDK = (*SDK)(nil)

// Commands holds one template per capability. Connect and Download are
// required; any other blank template makes that capability a no-op.
type Commands struct {
	Connect            string `yaml:"connect" toml:"connect"`
	ConfigureEmulator  string `yaml:"configure_emulator,omitempty" toml:"configure_emulator"`
	ConfigureTransport string `yaml:"configure_transport,omitempty" toml:"configure_transport"`
	ConfigureSoC       string `yaml:"configure_soc,omitempty" toml:"configure_soc"`
	RegisterApp        string `yaml:"register_application,omitempty" toml:"register_application"`
	RegisterSymbols    string `yaml:"register_symbols,omitempty" toml:"register_symbols"`
	RegisterProgram    string `yaml:"register_program,omitempty" toml:"register_program"`
	RegisterMemory     string `yaml:"register_memory_space,omitempty" toml:"register_memory_space"`
	SetDemoMode        string `yaml:"set_demo_mode,omitempty" toml:"set_demo_mode"`
	Download           string `yaml:"download" toml:"download"`
	Reset              string `yaml:"reset,omitempty" toml:"reset"`
	Erase              string `yaml:"erase,omitempty" toml:"erase"`
	Persist            string `yaml:"persist,omitempty" toml:"persist"`
	Close              string `yaml:"close,omitempty" toml:"close"`
}

// Data is what templates are rendered against. Fields fill in as the
// session progresses, so a template may only rely on values registered by
// earlier steps.
type Data struct {
	Workspace     string
	Emulator      string
	Transport     string
	USBSerial     string
	Host          string
	Port          int
	SoC           string
	Application   string
	Core          string
	MemorySpace   string
	SymbolPath    string
	SymbolFormat  string
	ProgramPath   string
	ProgramFormat string
	Demo          bool
}

// SDK implements probe.SDK by running shell commands.
type SDK struct {
	runner    command.Runner
	logger    *slog.Logger
	templates map[string]*command.Template

	mu   sync.Mutex
	data Data
}

// New parses every template in cmds.
func New(cmds Commands, runner command.Runner, logger *slog.Logger) (*SDK, error) {
	if strings.TrimSpace(cmds.Connect) == "" {
		return nil, errors.New("cmdline probe: connect command is required")
	}
	if strings.TrimSpace(cmds.Download) == "" {
		return nil, errors.New("cmdline probe: download command is required")
	}

	sources := map[string]string{
		"connect":               cmds.Connect,
		"configure_emulator":    cmds.ConfigureEmulator,
		"configure_transport":   cmds.ConfigureTransport,
		"configure_soc":         cmds.ConfigureSoC,
		"register_application":  cmds.RegisterApp,
		"register_symbols":      cmds.RegisterSymbols,
		"register_program":      cmds.RegisterProgram,
		"register_memory_space": cmds.RegisterMemory,
		"set_demo_mode":         cmds.SetDemoMode,
		"download":              cmds.Download,
		"reset":                 cmds.Reset,
		"erase":                 cmds.Erase,
		"persist":               cmds.Persist,
		"close":                 cmds.Close,
	}
	templates := make(map[string]*command.Template, len(sources))
	for name, text := range sources {
		tmpl, err := command.Parse(name, text)
		if err != nil {
			return nil, err
		}
		templates[name] = tmpl
	}

	return &SDK{
		runner:    runner,
		logger:    logging.Ensure(logger).With("driver", "cmdline"),
		templates: templates,
	}, nil
}

func (s *SDK) update(fn func(*Data)) {
	s.mu.Lock()
	fn(&s.data)
	s.mu.Unlock()
}

func (s *SDK) snapshot() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *SDK) run(ctx context.Context, name string) error {
	tmpl := s.templates[name]
	if tmpl == nil {
		s.logger.Debug("probe command not configured, skipping", "step", name)
		return nil
	}
	rendered, err := tmpl.Render(s.snapshot())
	if err != nil {
		return err
	}
	s.logger.Debug("running probe command", "step", name, "command", rendered)
	result, err := s.runner.Run(ctx, rendered)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if out := strings.TrimSpace(result.Stdout); out != "" {
		s.logger.Debug("probe command output", "step", name, "stdout", out)
	}
	return nil
}

func (s *SDK) Connect(ctx context.Context, workspace string) error {
	s.update(func(d *Data) { d.Workspace = workspace })
	return s.run(ctx, "connect")
}

func (s *SDK) ConfigureEmulator(ctx context.Context, emulatorType string) error {
	s.update(func(d *Data) { d.Emulator = emulatorType })
	return s.run(ctx, "configure_emulator")
}

func (s *SDK) ConfigureTransport(ctx context.Context, transport probe.Transport) error {
	s.update(func(d *Data) {
		d.Transport = transport.String()
		d.USBSerial = transport.USBSerial
		d.Host = transport.Host
		d.Port = transport.Port
	})
	return s.run(ctx, "configure_transport")
}

func (s *SDK) ConfigureSoC(ctx context.Context, model string) error {
	s.update(func(d *Data) { d.SoC = model })
	return s.run(ctx, "configure_soc")
}

func (s *SDK) RegisterApplication(ctx context.Context, name string) error {
	s.update(func(d *Data) { d.Application = name })
	return s.run(ctx, "register_application")
}

func (s *SDK) RegisterSymbolFile(ctx context.Context, application, path, format string) error {
	s.update(func(d *Data) {
		d.Application = application
		d.SymbolPath = path
		d.SymbolFormat = format
	})
	return s.run(ctx, "register_symbols")
}

func (s *SDK) RegisterProgramFile(ctx context.Context, path, format string) error {
	s.update(func(d *Data) {
		d.ProgramPath = path
		d.ProgramFormat = format
	})
	return s.run(ctx, "register_program")
}

func (s *SDK) RegisterMemorySpace(ctx context.Context, name, core, application string) error {
	s.update(func(d *Data) {
		d.MemorySpace = name
		d.Core = core
		d.Application = application
	})
	return s.run(ctx, "register_memory_space")
}

func (s *SDK) SetDemoMode(ctx context.Context, enabled bool) error {
	s.update(func(d *Data) { d.Demo = enabled })
	return s.run(ctx, "set_demo_mode")
}

func (s *SDK) Download(ctx context.Context) error {
	if s.snapshot().ProgramPath == "" {
		return errors.New("download: no program file registered")
	}
	return s.run(ctx, "download")
}

func (s *SDK) ResetTarget(ctx context.Context) error {
	return s.run(ctx, "reset")
}

func (s *SDK) EraseTarget(ctx context.Context) error {
	return s.run(ctx, "erase")
}

func (s *SDK) PersistWorkspace(ctx context.Context) error {
	return s.run(ctx, "persist")
}

func (s *SDK) CloseWorkspace(ctx context.Context) error {
	return s.run(ctx, "close")
}
