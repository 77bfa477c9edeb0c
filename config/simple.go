package simple

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cochaviz/ecuflash/internal/artifacts"
	"github.com/cochaviz/ecuflash/internal/command"
	"github.com/cochaviz/ecuflash/internal/logging"
	"github.com/cochaviz/ecuflash/internal/probe"
	probecmd "github.com/cochaviz/ecuflash/internal/probe/cmdline"
	"github.com/cochaviz/ecuflash/internal/probe/simulated"
	"github.com/cochaviz/ecuflash/internal/profile"
	"github.com/cochaviz/ecuflash/internal/provision"
	"github.com/cochaviz/ecuflash/internal/runs"
	"github.com/cochaviz/ecuflash/internal/setup"
	"github.com/cochaviz/ecuflash/internal/telemetry"
	buscmd "github.com/cochaviz/ecuflash/internal/telemetry/cmdline"
)

// Options select the profile and override parts of it.
type Options struct {
	ProfilePath string
	RunsDir     string
	// Simulate swaps the configured probe for the in-memory one and forces
	// demo mode on the target.
	Simulate bool
}

// Environment is everything a command needs, wired from one profile.
type Environment struct {
	Profile      *profile.Profile
	Orchestrator *provision.Orchestrator
	Runs         *runs.LocalRunRepository
}

// Load reads the profile and wires the orchestrator, probe driver, bus tool
// and run repository.
func Load(opts Options, logger *slog.Logger) (*Environment, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")

	path := opts.ProfilePath
	if path == "" {
		path = setup.ProfilePath()
	}
	p, err := profile.Load(path)
	if err != nil {
		return nil, err
	}

	target := p.Probe.Target
	if opts.Simulate {
		target.Demo = true
	}
	sdk, err := newSDK(p, opts.Simulate, logger)
	if err != nil {
		return nil, err
	}

	var tool telemetry.BusTool
	if p.TelemetryEnabled() {
		busTool, err := buscmd.New(p.Telemetry.Commands, command.Runner{}, logger.With("tool", "bus"))
		if err != nil {
			return nil, err
		}
		tool = busTool
	}
	bracket := telemetry.NewBracket(tool, logger)
	if p.Telemetry.StartTimeout > 0 {
		bracket.StartTimeout = p.Telemetry.StartTimeout
	}
	if p.Telemetry.StopTimeout > 0 {
		bracket.StopTimeout = p.Telemetry.StopTimeout
	}

	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = p.RunsDirOr(setup.RunsDir())
	}

	logger.Debug("profile loaded", "path", path, "driver", driverName(p, opts.Simulate), "runs_dir", runsDir)

	return &Environment{
		Profile: p,
		Orchestrator: &provision.Orchestrator{
			Layout:               p.BuildLayout(),
			Sources:              p.SourceFactory(),
			SDK:                  sdk,
			Target:               target,
			Workspace:            p.Probe.Workspace,
			Telemetry:            bracket,
			TelemetryConfig:      p.Telemetry.Config,
			DownloadTimeout:      p.Probe.DownloadTimeout,
			TargetCommandTimeout: p.Probe.TargetCommandTimeout,
			PersistTimeout:       p.Probe.PersistTimeout,
			Logger:               logger,
		},
		Runs: &runs.LocalRunRepository{BaseDir: runsDir},
	}, nil
}

func newSDK(p *profile.Profile, simulate bool, logger *slog.Logger) (probe.SDK, error) {
	switch driverName(p, simulate) {
	case profile.DriverSimulated:
		return simulated.New(logger, p.Probe.SimulatedDelay), nil
	case profile.DriverCmdline:
		return probecmd.New(p.Probe.Commands, command.Runner{}, logger)
	default:
		return nil, fmt.Errorf("unknown probe driver %q", p.Probe.Driver)
	}
}

func driverName(p *profile.Profile, simulate bool) string {
	if simulate {
		return profile.DriverSimulated
	}
	return p.Probe.Driver
}

// Provision runs req and stores its result. A run record that cannot be
// saved is logged and does not change the outcome.
func Provision(ctx context.Context, env *Environment, req provision.Request, logger *slog.Logger) (provision.Result, error) {
	logger = logging.Ensure(logger)

	firmware, symbols := env.Profile.SelectionPolicies()
	if req.FirmwarePolicy == nil {
		req.FirmwarePolicy = firmware
	}
	if req.SymbolPolicy == nil {
		req.SymbolPolicy = symbols
	}

	result, err := env.Orchestrator.Run(ctx, req)
	if saveErr := env.Runs.Save(result); saveErr != nil {
		logger.Warn("failed to save run record", "run", result.RunID, "error", saveErr)
	} else {
		logger.Debug("run record saved", "run", result.RunID, "dir", env.Runs.BaseDir)
	}
	return result, err
}

// ListVariants returns the variants selectable for c.
func ListVariants(ctx context.Context, env *Environment, c provision.BuildCoordinate) ([]provision.Variant, error) {
	return env.Orchestrator.Variants(ctx, c)
}

// ListArtifacts returns the firmware and symbol files found for c.
func ListArtifacts(env *Environment, c provision.BuildCoordinate) (artifacts.Set, artifacts.Set, error) {
	return env.Orchestrator.Artifacts(c)
}

// ListRuns returns stored runs, newest first.
func ListRuns(env *Environment) ([]provision.Result, error) {
	return env.Runs.List()
}

// ShowRun returns one stored run by id or unique id prefix.
func ShowRun(env *Environment, runID string) (*provision.Result, error) {
	return env.Runs.Get(runID)
}
