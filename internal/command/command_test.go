package command

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseBlankIsNil(t *testing.T) {
	t.Parallel()

	tmpl, err := Parse("reset", "   ")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if tmpl != nil {
		t.Fatal("Parse() of blank text should return nil template")
	}
	if _, err := tmpl.Render(nil); err == nil {
		t.Fatal("Render() on nil template error = nil, want non-nil")
	}
}

func TestRenderMissingKeyFails(t *testing.T) {
	t.Parallel()

	tmpl, err := Parse("download", "flash --file {{ .ProgramPath }}")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, err := tmpl.Render(map[string]string{}); err == nil {
		t.Fatal("Render() with missing key error = nil, want non-nil")
	}
	got, err := tmpl.Render(map[string]string{"ProgramPath": "/sw/app.hex"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got != "flash --file /sw/app.hex" {
		t.Fatalf("Render() = %q", got)
	}
}

func TestRunnerCapturesOutput(t *testing.T) {
	t.Parallel()

	result, err := Runner{}.Run(context.Background(), "echo out; echo err 1>&2")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "out" || strings.TrimSpace(result.Stderr) != "err" {
		t.Fatalf("Run() result = %#v", result)
	}
}

func TestRunnerExitError(t *testing.T) {
	t.Parallel()

	_, err := Runner{}.Run(context.Background(), "echo nope 1>&2; exit 3")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Run() error = %v, want *ExitError", err)
	}
	if exitErr.ExitCode != 3 || !strings.Contains(exitErr.Error(), "nope") {
		t.Fatalf("ExitError = %v", exitErr)
	}
}

func TestRunnerHonoursDeadline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := Runner{}.Run(ctx, "sleep 5")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
}
