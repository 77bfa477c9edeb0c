package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cochaviz/ecuflash/internal/artifacts"
	"github.com/cochaviz/ecuflash/internal/probe"
	"github.com/cochaviz/ecuflash/internal/variants"
)

func TestRunSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	result, err := f.orchestrator().Run(context.Background(), Request{
		Coordinate: testCoordinate,
		VariantKey: "PR2",
		Reset:      true,
	})
	require.NoError(t, err)

	require.True(t, result.Succeeded())
	require.True(t, result.SessionOpened)
	require.Equal(t, "DS_0002", result.DatasetID)
	require.Equal(t, "table1", result.DatasetSource)
	require.Equal(t, "app_CRC.hex", filepath.Base(result.FirmwarePath))
	require.Equal(t, "app_CRC.elf", filepath.Base(result.SymbolPath))
	require.NotEmpty(t, result.RunID)
	require.Empty(t, result.Records)
	require.Equal(t, ExitOK, ExitCode(result))

	require.Equal(t, []string{
		"connect", "emulator", "transport", "soc", "application", "memory_space", "demo",
		"symbols", "program", "download", "reset", "persist", "close",
	}, f.sdk.Calls())
	require.Empty(t, f.bus.Calls(), "telemetry was not requested")
}

func TestRunSelectsSingleSymbolMatchAsFirmware(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	swDir := filepath.Join(root, "sw", "A")
	require.NoError(t, os.MkdirAll(swDir, 0o755))
	writeFile(t, filepath.Join(swDir, "x_CRC.elf"))

	f := newFixture(t)
	o := f.orchestrator()
	o.Layout = Layout{
		FirmwareRoots:    []string{swDir},
		FirmwarePatterns: []string{".elf"},
		SymbolRoots:      []string{swDir},
		SymbolPatterns:   []string{".elf"},
	}

	result, err := o.Run(context.Background(), Request{Coordinate: testCoordinate, VariantKey: "PR1"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(swDir, "x_CRC.elf"), result.FirmwarePath)
}

func TestRunWithoutArtifactsTouchesNoHardware(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	result, err := f.orchestrator().Run(context.Background(), Request{
		Coordinate: BuildCoordinate{Platform: "PF9", SoftwareFolder: "SW_22", ChannelType: "12CH"},
		VariantKey: "PR1",
		Telemetry:  true,
	})
	require.ErrorIs(t, err, artifacts.ErrNoArtifactsFound)

	fatal, ok := result.Fatal()
	require.True(t, ok)
	require.Equal(t, CodeNoArtifacts, fatal.Code)
	require.Equal(t, "locate firmware", fatal.Step)
	require.False(t, result.SessionOpened)
	require.Empty(t, f.sdk.Calls())
	require.Empty(t, f.bus.Calls())
	require.Equal(t, ExitNoArtifacts, ExitCode(result))
}

func TestRunDuplicateVariantKeyAcrossSources(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	o := f.orchestrator()
	o.Sources = func(BuildCoordinate) ([]variants.Source, error) {
		return []variants.Source{
			variants.StaticSource{Label: "source1", Entries: []variants.Entry{{Key: "PR1", Dataset: "DS_A"}}},
			variants.StaticSource{Label: "source2", Entries: []variants.Entry{{Key: "PR1", Dataset: "DS_B"}}},
		}, nil
	}

	result, err := o.Run(context.Background(), Request{Coordinate: testCoordinate, VariantKey: "PR1"})
	var dup *variants.DuplicateVariantKeyError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "PR1", dup.Key)
	require.Equal(t, []string{"source1", "source2"}, dup.Sources)

	fatal, _ := result.Fatal()
	require.Equal(t, CodeDuplicateVariant, fatal.Code)
	require.Empty(t, f.sdk.Calls())
	require.Equal(t, ExitMapping, ExitCode(result))
}

func TestRunUnknownVariant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	result, err := f.orchestrator().Run(context.Background(), Request{Coordinate: testCoordinate, VariantKey: "PR404"})
	require.ErrorIs(t, err, variants.ErrUnknownVariant)
	require.Empty(t, f.sdk.Calls())
	require.Equal(t, ExitUnknownVariant, ExitCode(result))
}

func TestRunMappingSourceUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	o := f.orchestrator()
	o.Sources = func(BuildCoordinate) ([]variants.Source, error) {
		return []variants.Source{variants.FileSource{Path: filepath.Join(f.root, "missing.xlsx")}}, nil
	}

	result, err := o.Run(context.Background(), Request{Coordinate: testCoordinate, VariantKey: "PR1"})
	require.ErrorIs(t, err, variants.ErrMappingSourceUnavailable)
	fatal, _ := result.Fatal()
	require.Equal(t, CodeSourceUnavailable, fatal.Code)
	require.Equal(t, ExitMapping, ExitCode(result))
}

func TestRunDownloadTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sdk.blockOn = "download"
	o := f.orchestrator()
	o.DownloadTimeout = 20 * time.Millisecond

	result, err := o.Run(context.Background(), Request{
		Coordinate: testCoordinate,
		VariantKey: "PR1",
		Reset:      true,
		Erase:      true,
	})
	require.ErrorIs(t, err, probe.ErrDownloadFailed)
	require.ErrorIs(t, err, probe.ErrTimeout)

	fatal, ok := result.Fatal()
	require.True(t, ok)
	require.Equal(t, CodeDownloadFailed, fatal.Code)
	require.Equal(t, CodeTimeout, fatal.Cause)
	require.False(t, result.DownloadSucceeded)

	require.Equal(t, 1, f.sdk.count("close"))
	require.Equal(t, 1, f.sdk.count("persist"))
	require.Zero(t, f.sdk.count("reset"))
	require.Zero(t, f.sdk.count("erase"))
	require.Equal(t, ExitDownloadFailed, ExitCode(result))
}

func TestRunTelemetryStartFailureIsWarning(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bus.failOn = map[string]error{"start": errors.New("measurement already running")}

	result, err := f.orchestrator().Run(context.Background(), Request{
		Coordinate: testCoordinate,
		VariantKey: "PR1",
		Telemetry:  true,
	})
	require.NoError(t, err)
	require.True(t, result.DownloadSucceeded)
	require.False(t, result.TelemetryCaptured)

	warnings := result.Warnings()
	require.Len(t, warnings, 1)
	require.Equal(t, CodeTelemetry, warnings[0].Code)
	require.Equal(t, SeverityWarning, warnings[0].Severity)
	require.Equal(t, 1, f.sdk.count("download"))
	require.Equal(t, ExitOK, ExitCode(result))
}

func TestRunTelemetryStopTimeoutRecordsCause(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.bus.blockOn = "stop"
	o := f.orchestrator()
	o.Telemetry.StopTimeout = 50 * time.Millisecond

	result, err := o.Run(context.Background(), Request{
		Coordinate: testCoordinate,
		VariantKey: "PR1",
		Telemetry:  true,
	})
	require.NoError(t, err)
	require.False(t, result.TelemetryCaptured)

	warnings := result.Warnings()
	require.Len(t, warnings, 1)
	require.Equal(t, CodeTelemetry, warnings[0].Code)
	require.Equal(t, CodeTimeout, warnings[0].Cause)
	require.Equal(t, []string{"open", "start", "stop", "close"}, f.bus.Calls())
}

func TestRunTelemetryBracketsDownload(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	result, err := f.orchestrator().Run(context.Background(), Request{
		Coordinate: testCoordinate,
		VariantKey: "PR1",
		Telemetry:  true,
	})
	require.NoError(t, err)
	require.True(t, result.TelemetryCaptured)
	require.Equal(t, []string{"open", "start", "stop", "close"}, f.bus.Calls())
}

func TestRunTelemetryStoppedAfterFailedDownload(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sdk.failOn = map[string]error{"download": errors.New("flash verify failed")}

	result, err := f.orchestrator().Run(context.Background(), Request{
		Coordinate: testCoordinate,
		VariantKey: "PR1",
		Telemetry:  true,
	})
	require.ErrorIs(t, err, probe.ErrDownloadFailed)
	require.True(t, result.TelemetryCaptured)
	require.Equal(t, []string{"open", "start", "stop", "close"}, f.bus.Calls())
	require.Equal(t, 1, f.sdk.count("close"))
}

func TestRunConnectionFailureAfterOpenClosesOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sdk.failOn = map[string]error{"soc": errors.New("target not powered")}

	result, err := f.orchestrator().Run(context.Background(), Request{Coordinate: testCoordinate, VariantKey: "PR1"})
	require.ErrorIs(t, err, probe.ErrConnection)
	require.True(t, result.SessionOpened)
	require.Equal(t, 1, f.sdk.count("close"))
	require.Zero(t, f.sdk.count("persist"), "session never reached configured")
	require.Zero(t, f.sdk.count("download"))
	require.Equal(t, ExitConnection, ExitCode(result))
}

func TestRunHungPersistStillCloses(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sdk.blockOn = "persist"
	o := f.orchestrator()
	o.PersistTimeout = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := o.Run(ctx, Request{Coordinate: testCoordinate, VariantKey: "PR1"})
		done <- outcome{result, err}
	}()

	var got outcome
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run() did not return; calls = %v", f.sdk.Calls())
	}

	require.NoError(t, got.err, "the download itself succeeded")
	require.Equal(t, 1, f.sdk.count("close"))
	warnings := got.result.Warnings()
	require.Len(t, warnings, 1)
	require.Equal(t, CodePersistFailed, warnings[0].Code)
	require.Equal(t, CodeTimeout, warnings[0].Cause)
}

func TestRunPersistAndCloseFailuresAreWarnings(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sdk.failOn = map[string]error{
		"persist": errors.New("workspace read-only"),
		"close":   errors.New("probe busy"),
	}

	result, err := f.orchestrator().Run(context.Background(), Request{Coordinate: testCoordinate, VariantKey: "PR1"})
	require.NoError(t, err)
	require.True(t, result.Succeeded())
	require.Equal(t, ExitOK, ExitCode(result))

	warnings := result.Warnings()
	require.Len(t, warnings, 2)
	require.Equal(t, CodePersistFailed, warnings[0].Code)
	require.Equal(t, "persist workspace", warnings[0].Step)
	require.Equal(t, CodeCloseFailed, warnings[1].Code)
	require.Equal(t, "close probe session", warnings[1].Step)
	require.Equal(t, 1, f.sdk.count("close"))
}

func TestRunRequestWorkspaceOverridesDefault(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	o := f.orchestrator()
	o.Workspace = "/ws/default.xjrf"

	_, err := o.Run(context.Background(), Request{Coordinate: testCoordinate, VariantKey: "PR1", Workspace: "/ws/6ch.xjrf"})
	require.NoError(t, err)
	require.Equal(t, "/ws/6ch.xjrf", f.sdk.workspace)

	f.sdk.calls = nil
	_, err = o.Run(context.Background(), Request{Coordinate: testCoordinate, VariantKey: "PR1"})
	require.NoError(t, err)
	require.Equal(t, "/ws/default.xjrf", f.sdk.workspace)
}

func TestRunOpenFailureSkipsClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sdk.failOn = map[string]error{"connect": errors.New("no probe on usb")}

	result, err := f.orchestrator().Run(context.Background(), Request{Coordinate: testCoordinate, VariantKey: "PR1"})
	require.ErrorIs(t, err, probe.ErrConnection)
	require.False(t, result.SessionOpened)
	require.Equal(t, []string{"connect"}, f.sdk.Calls())
	require.Equal(t, ExitConnection, ExitCode(result))
}

func TestRunResetFailureKeepsDownload(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sdk.failOn = map[string]error{"reset": errors.New("reset line stuck")}

	result, err := f.orchestrator().Run(context.Background(), Request{
		Coordinate: testCoordinate,
		VariantKey: "PR1",
		Reset:      true,
		Erase:      true,
	})
	require.NoError(t, err)
	require.True(t, result.DownloadSucceeded)

	_, fatal := result.Fatal()
	require.False(t, fatal)
	require.Len(t, result.Records, 1)
	require.Equal(t, CodeTargetCommandFailed, result.Records[0].Code)
	require.Equal(t, SeverityError, result.Records[0].Severity)
	require.Equal(t, 1, f.sdk.count("erase"), "erase still runs after a failed reset")
	require.Equal(t, ExitOK, ExitCode(result))
}

func TestRunPreEraseFailureSkipsDownload(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sdk.failOn = map[string]error{"erase": errors.New("flash locked")}

	result, err := f.orchestrator().Run(context.Background(), Request{
		Coordinate: testCoordinate,
		VariantKey: "PR1",
		PreErase:   true,
	})
	require.ErrorIs(t, err, probe.ErrTargetCommandFailed)
	require.Zero(t, f.sdk.count("download"))
	require.Equal(t, 1, f.sdk.count("persist"))
	require.Equal(t, 1, f.sdk.count("close"))
	require.Equal(t, ExitTargetCommand, ExitCode(result))
}

func TestRunErasesAfterFailedDownloadWhenAsked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sdk.failOn = map[string]error{"download": errors.New("verify failed")}

	_, err := f.orchestrator().Run(context.Background(), Request{
		Coordinate:              testCoordinate,
		VariantKey:              "PR1",
		Reset:                   true,
		Erase:                   true,
		TargetCommandsOnFailure: true,
	})
	require.ErrorIs(t, err, probe.ErrDownloadFailed)
	require.Equal(t, 1, f.sdk.count("erase"))
	require.Zero(t, f.sdk.count("reset"))
}

func TestRunSelectionIndexOutOfRange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	result, err := f.orchestrator().Run(context.Background(), Request{
		Coordinate:     testCoordinate,
		VariantKey:     "PR1",
		FirmwarePolicy: artifacts.Index(3),
	})
	require.Error(t, err)
	fatal, _ := result.Fatal()
	require.Equal(t, CodeAmbiguousSelection, fatal.Code)
	require.Empty(t, f.sdk.Calls())
}

func TestRunInvalidRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	result, err := f.orchestrator().Run(context.Background(), Request{
		Coordinate: BuildCoordinate{Platform: "PF1"},
		VariantKey: "PR1",
	})
	require.Error(t, err)
	fatal, _ := result.Fatal()
	require.Equal(t, CodeInvalidRequest, fatal.Code)
	require.Equal(t, ExitFailure, ExitCode(result))
}

func TestRunCancelledBeforeHardware(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.orchestrator().Run(ctx, Request{Coordinate: testCoordinate, VariantKey: "PR1"})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, f.sdk.Calls())
	require.Equal(t, ExitInterrupted, ExitCode(result))
}

func TestRunRecordsSkippedDirectories(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}

	f := newFixture(t)
	locked := filepath.Join(f.root, "PF1", "SW_22", "EXTERNAL", "12CH", "locked")
	require.NoError(t, os.Mkdir(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	result, err := f.orchestrator().Run(context.Background(), Request{Coordinate: testCoordinate, VariantKey: "PR1"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Warnings())
	require.Equal(t, CodeDirectorySkipped, result.Warnings()[0].Code)
}

func TestVariantsListsInTableOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	list, err := f.orchestrator().Variants(context.Background(), testCoordinate)
	require.NoError(t, err)
	require.Equal(t, []Variant{
		{Key: "PR1", Dataset: "DS_0001", Source: "table1"},
		{Key: "PR2", Dataset: "DS_0002", Source: "table1"},
	}, list)
}

func TestArtifactsListsBothKinds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	firmware, symbols, err := f.orchestrator().Artifacts(testCoordinate)
	require.NoError(t, err)
	require.Equal(t, 1, firmware.Len())
	require.Equal(t, 1, symbols.Len())
	require.Empty(t, f.sdk.Calls())
}
