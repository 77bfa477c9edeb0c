package simulated

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cochaviz/ecuflash/internal/logging"
	"github.com/cochaviz/ecuflash/internal/probe"
)

func TestSimulatedSessionRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	program := filepath.Join(dir, "app.hex")
	symbols := filepath.Join(dir, "app.elf")
	for _, p := range []string{program, symbols} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	sdk := New(logging.Discard(), 0)
	session := probe.NewSession(sdk, "", logging.Discard())
	ctx := context.Background()

	if err := session.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	cfg := probe.TargetConfig{
		EmulatorType: "iC5700",
		Transport:    probe.Transport{Host: "127.0.0.1", Port: 5313},
		SoC:          "TC397",
		Application:  "App",
		MemorySpace:  "Core0",
		Demo:         true,
	}
	if err := session.ConfigureTarget(ctx, cfg); err != nil {
		t.Fatalf("ConfigureTarget() error = %v", err)
	}
	if err := session.AttachFirmware(ctx, program, symbols); err != nil {
		t.Fatalf("AttachFirmware() error = %v", err)
	}
	if err := session.Download(ctx, time.Second); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if err := session.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	events := sdk.Events()
	if events[len(events)-1] != "close" {
		t.Fatalf("last event = %q, want close", events[len(events)-1])
	}
}

func TestSimulatedDownloadRequiresProgram(t *testing.T) {
	t.Parallel()

	sdk := New(nil, 0)
	if err := sdk.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := sdk.Download(context.Background()); err == nil {
		t.Fatal("Download() without program error = nil, want non-nil")
	}
}

func TestSimulatedDownloadHonoursContext(t *testing.T) {
	t.Parallel()

	sdk := New(nil, time.Minute)
	ctx := context.Background()
	_ = sdk.Connect(ctx, "")
	_ = sdk.RegisterProgramFile(ctx, "/fw.hex", "HEX")

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := sdk.Download(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Download() error = %v, want deadline exceeded", err)
	}
}
