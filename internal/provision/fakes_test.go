package provision

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cochaviz/ecuflash/internal/logging"
	"github.com/cochaviz/ecuflash/internal/probe"
	"github.com/cochaviz/ecuflash/internal/telemetry"
	"github.com/cochaviz/ecuflash/internal/variants"
)

type fakeSDK struct {
	mu      sync.Mutex
	calls   []string
	failOn  map[string]error
	blockOn string

	workspace string
}

func (f *fakeSDK) record(ctx context.Context, name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	err := f.failOn[name]
	block := f.blockOn == name
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeSDK) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSDK) count(name string) int {
	n := 0
	for _, call := range f.Calls() {
		if call == name {
			n++
		}
	}
	return n
}

func (f *fakeSDK) Connect(ctx context.Context, workspace string) error {
	f.mu.Lock()
	f.workspace = workspace
	f.mu.Unlock()
	return f.record(ctx, "connect")
}
func (f *fakeSDK) ConfigureEmulator(ctx context.Context, _ string) error {
	return f.record(ctx, "emulator")
}
func (f *fakeSDK) ConfigureTransport(ctx context.Context, _ probe.Transport) error {
	return f.record(ctx, "transport")
}
func (f *fakeSDK) ConfigureSoC(ctx context.Context, _ string) error { return f.record(ctx, "soc") }
func (f *fakeSDK) RegisterApplication(ctx context.Context, _ string) error {
	return f.record(ctx, "application")
}
func (f *fakeSDK) RegisterSymbolFile(ctx context.Context, _, _, _ string) error {
	return f.record(ctx, "symbols")
}
func (f *fakeSDK) RegisterProgramFile(ctx context.Context, _, _ string) error {
	return f.record(ctx, "program")
}
func (f *fakeSDK) RegisterMemorySpace(ctx context.Context, _, _, _ string) error {
	return f.record(ctx, "memory_space")
}
func (f *fakeSDK) SetDemoMode(ctx context.Context, _ bool) error { return f.record(ctx, "demo") }
func (f *fakeSDK) Download(ctx context.Context) error            { return f.record(ctx, "download") }
func (f *fakeSDK) ResetTarget(ctx context.Context) error         { return f.record(ctx, "reset") }
func (f *fakeSDK) EraseTarget(ctx context.Context) error         { return f.record(ctx, "erase") }
func (f *fakeSDK) PersistWorkspace(ctx context.Context) error    { return f.record(ctx, "persist") }
func (f *fakeSDK) CloseWorkspace(ctx context.Context) error      { return f.record(ctx, "close") }

type fakeBusTool struct {
	mu      sync.Mutex
	calls   []string
	failOn  map[string]error
	blockOn string
}

func (f *fakeBusTool) record(ctx context.Context, name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	err := f.failOn[name]
	block := f.blockOn == name
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeBusTool) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBusTool) OpenConfiguration(ctx context.Context, _ string) error {
	return f.record(ctx, "open")
}
func (f *fakeBusTool) StartMeasurement(ctx context.Context) error   { return f.record(ctx, "start") }
func (f *fakeBusTool) StopMeasurement(ctx context.Context) error    { return f.record(ctx, "stop") }
func (f *fakeBusTool) CloseConfiguration(ctx context.Context) error { return f.record(ctx, "close") }

var testCoordinate = BuildCoordinate{Platform: "PF1", SoftwareFolder: "SW_22", ChannelType: "12CH"}

type fixture struct {
	root  string
	sdk   *fakeSDK
	bus   *fakeBusTool
	table []variants.Entry
}

// newFixture lays out a build tree with one firmware image and one symbol
// table under the directory testCoordinate resolves to.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	buildDir := filepath.Join(root, "PF1", "SW_22", "EXTERNAL", "12CH")
	require.NoError(t, os.MkdirAll(buildDir, 0o755))
	writeFile(t, filepath.Join(buildDir, "app_CRC.hex"))
	writeFile(t, filepath.Join(buildDir, "app_CRC.elf"))

	return &fixture{
		root: root,
		sdk:  &fakeSDK{},
		bus:  &fakeBusTool{},
		table: []variants.Entry{
			{Key: "PR1", Dataset: "DS_0001"},
			{Key: "PR2", Dataset: "DS_0002"},
		},
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	buildRoot := filepath.Join(f.root, "{{ .Platform }}", "{{ .SoftwareFolder }}", "EXTERNAL", "{{ .ChannelType }}")
	return &Orchestrator{
		Layout: Layout{
			FirmwareRoots:    []string{buildRoot},
			FirmwarePatterns: []string{"_CRC.hex"},
			SymbolRoots:      []string{buildRoot},
			SymbolPatterns:   []string{".elf"},
		},
		Sources: func(BuildCoordinate) ([]variants.Source, error) {
			return []variants.Source{variants.StaticSource{Label: "table1", Entries: f.table}}, nil
		},
		SDK: f.sdk,
		Target: probe.TargetConfig{
			EmulatorType: "iC5700",
			Transport:    probe.Transport{USBSerial: "12345"},
			SoC:          "TC397",
			Application:  "App",
			MemorySpace:  "Core0",
		},
		Telemetry: &telemetry.Bracket{
			Tool:         f.bus,
			StartTimeout: time.Second,
			StopTimeout:  time.Second,
			Logger:       logging.Discard(),
		},
		TelemetryConfig:      "/cfg/bench.cfg",
		DownloadTimeout:      time.Second,
		TargetCommandTimeout: time.Second,
		Logger:               logging.Discard(),
	}
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
}
