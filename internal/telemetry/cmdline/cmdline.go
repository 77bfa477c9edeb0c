// Package cmdline implements a telemetry.BusTool on top of shell commands.
// Open, start, stop and close are one-shot commands; an optional capture
// command runs in the background while measurement is active.
package cmdline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/cochaviz/ecuflash/internal/command"
	"github.com/cochaviz/ecuflash/internal/logging"
	"github.com/cochaviz/ecuflash/internal/telemetry"
)

var _ telemetry.BusTool = (*BusTool)(nil)

// Commands configures the bus tool. At least one of Start or Capture must
// be set for measurement to mean anything.
type Commands struct {
	Open    string `yaml:"open,omitempty" toml:"open"`
	Start   string `yaml:"start,omitempty" toml:"start"`
	Stop    string `yaml:"stop,omitempty" toml:"stop"`
	Close   string `yaml:"close,omitempty" toml:"close"`
	Capture string `yaml:"capture,omitempty" toml:"capture"`
	// OutputDir receives capture logs. Capture output goes to stderr when empty.
	OutputDir string `yaml:"output_dir,omitempty" toml:"output_dir"`
}

// Data is what templates are rendered against.
type Data struct {
	ConfigPath string
	OutputDir  string
	StartedAt  string
}

// BusTool runs the configured commands.
type BusTool struct {
	runner    command.Runner
	logger    *slog.Logger
	outputDir string

	open, start, stop, close, capture *command.Template

	mu      sync.Mutex
	data    Data
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	logFile *os.File
}

// New parses cmds.
func New(cmds Commands, runner command.Runner, logger *slog.Logger) (*BusTool, error) {
	if strings.TrimSpace(cmds.Start) == "" && strings.TrimSpace(cmds.Capture) == "" {
		return nil, errors.New("cmdline bus tool: start or capture command is required")
	}
	tool := &BusTool{
		runner:    runner,
		logger:    logging.Ensure(logger).With("driver", "cmdline"),
		outputDir: strings.TrimSpace(cmds.OutputDir),
	}
	for _, item := range []struct {
		name string
		text string
		dst  **command.Template
	}{
		{"open", cmds.Open, &tool.open},
		{"start", cmds.Start, &tool.start},
		{"stop", cmds.Stop, &tool.stop},
		{"close", cmds.Close, &tool.close},
		{"capture", cmds.Capture, &tool.capture},
	} {
		tmpl, err := command.Parse(item.name, item.text)
		if err != nil {
			return nil, err
		}
		*item.dst = tmpl
	}
	return tool, nil
}

func (b *BusTool) snapshot() Data {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

func (b *BusTool) run(ctx context.Context, tmpl *command.Template) error {
	if tmpl == nil {
		return nil
	}
	rendered, err := tmpl.Render(b.snapshot())
	if err != nil {
		return err
	}
	b.logger.Debug("running bus tool command", "step", tmpl.Name(), "command", rendered)
	if _, err := b.runner.Run(ctx, rendered); err != nil {
		return fmt.Errorf("%s: %w", tmpl.Name(), err)
	}
	return nil
}

func (b *BusTool) OpenConfiguration(ctx context.Context, path string) error {
	b.mu.Lock()
	b.data = Data{ConfigPath: path, OutputDir: b.outputDir}
	b.mu.Unlock()
	return b.run(ctx, b.open)
}

// StartMeasurement runs the start command and then launches the capture
// process, if any.
func (b *BusTool) StartMeasurement(ctx context.Context) error {
	b.mu.Lock()
	b.data.StartedAt = time.Now().UTC().Format("20060102T150405Z")
	b.mu.Unlock()

	if err := b.run(ctx, b.start); err != nil {
		return err
	}
	if b.capture == nil {
		return nil
	}
	return b.startCapture()
}

// StopMeasurement terminates the capture process and runs the stop command.
// Both are attempted; the first failure is returned.
func (b *BusTool) StopMeasurement(ctx context.Context) error {
	captureErr := b.stopCapture(ctx)
	stopErr := b.run(ctx, b.stop)
	if captureErr != nil {
		return captureErr
	}
	return stopErr
}

func (b *BusTool) CloseConfiguration(ctx context.Context) error {
	return b.run(ctx, b.close)
}

func (b *BusTool) startCapture() error {
	rendered, err := b.capture.Render(b.snapshot())
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return errors.New("capture already running")
	}

	// The capture outlives the start call, so it gets its own context.
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "sh", "-c", rendered)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 5 * time.Second

	var logFile *os.File
	if b.outputDir != "" {
		if err := os.MkdirAll(b.outputDir, 0o755); err != nil {
			cancel()
			return fmt.Errorf("create capture output dir: %w", err)
		}
		label := labelFromCommand(rendered)
		if label == "" {
			label = "capture"
		}
		logPath := filepath.Join(b.outputDir, fmt.Sprintf("%s-%s.log", label, b.data.StartedAt))
		logFile, err = os.Create(logPath)
		if err != nil {
			cancel()
			return fmt.Errorf("create capture log file: %w", err)
		}
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	} else {
		cmd.Stdout = io.Discard
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		cancel()
		if logFile != nil {
			_ = logFile.Close()
		}
		return fmt.Errorf("start capture command: %w", err)
	}
	b.logger.Info("capture started", "command", rendered, "pid", cmd.Process.Pid)

	done := make(chan struct{})
	b.cancel = cancel
	b.done = done
	b.runErr = nil
	b.logFile = logFile
	go func() {
		err := cmd.Wait()
		b.mu.Lock()
		b.runErr = err
		b.mu.Unlock()
		close(done)
	}()
	return nil
}

func (b *BusTool) stopCapture(ctx context.Context) error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}

	// A capture that already exited on its own lost data.
	var exitedEarly error
	select {
	case <-done:
		exitedEarly = errors.New("capture process exited before measurement stopped")
	default:
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for capture process: %w", ctx.Err())
	}

	b.mu.Lock()
	runErr := b.runErr
	if b.logFile != nil {
		_ = b.logFile.Close()
		b.logFile = nil
	}
	b.cancel = nil
	b.done = nil
	b.mu.Unlock()

	if exitedEarly != nil {
		if runErr != nil {
			return fmt.Errorf("%w: %v", exitedEarly, runErr)
		}
		return exitedEarly
	}
	return nil
}

func labelFromCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	var builder strings.Builder
	for _, r := range filepath.Base(fields[0]) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			builder.WriteRune(r)
		case r == '.' || r == ':' || r == ' ':
			builder.WriteRune('-')
		}
	}
	return strings.Trim(builder.String(), "-_")
}
