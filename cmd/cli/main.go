package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	simple "github.com/cochaviz/ecuflash/config"
	"github.com/cochaviz/ecuflash/internal/artifacts"
	"github.com/cochaviz/ecuflash/internal/logging"
	"github.com/cochaviz/ecuflash/internal/profile"
	"github.com/cochaviz/ecuflash/internal/provision"
	"github.com/cochaviz/ecuflash/internal/setup"
)

const defaultLogLevel = "info"

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// app holds state shared by all commands. The logger is rebuilt once the
// persistent flags are parsed.
type app struct {
	logger   *slog.Logger
	levelVar *slog.LevelVar

	logLevel    string
	logFormat   string
	profilePath string
	runsDir     string
	output      string
	simulate    bool
}

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	a := &app{
		logger:   logging.NewText(os.Stderr, &levelVar),
		levelVar: &levelVar,
	}
	slog.SetDefault(a.logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(a)
	if err := root.ExecuteContext(ctx); err != nil {
		var exitErr *exitError
		switch {
		case errors.As(err, &exitErr):
			if exitErr.err != nil {
				a.logger.Error("command failed", "error", exitErr.err)
			}
			os.Exit(exitErr.code)
		case errors.Is(err, context.Canceled):
			a.logger.Warn("command interrupted", "error", err)
			os.Exit(provision.ExitInterrupted)
		default:
			a.logger.Error("command execution failed", "error", err)
			os.Exit(provision.ExitFailure)
		}
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ecuflash",
		Short:         "Provision ECUs with firmware from a build tree through a debug probe",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	flags.StringVar(&a.logFormat, "log-format", "text", "Log format (text, json)")
	flags.StringVar(&a.profilePath, "profile", "", "Provisioning profile (default "+setup.ProfilePath()+")")
	flags.StringVar(&a.runsDir, "runs-dir", "", "Directory for run records (overrides the profile)")
	flags.StringVarP(&a.output, "output", "o", "text", "Result output format (text, json)")
	flags.BoolVar(&a.simulate, "simulate", false, "Use the simulated probe instead of the configured one")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(a.logLevel)
		if err != nil {
			return err
		}
		mode, err := logging.ParseMode(a.logFormat)
		if err != nil {
			return err
		}
		switch a.output {
		case "text", "json":
		default:
			return fmt.Errorf("unknown output format %q", a.output)
		}
		a.levelVar.Set(level)
		a.logger = logging.New(mode, os.Stderr, a.levelVar)
		slog.SetDefault(a.logger)
		setup.SetLogger(a.logger.With("component", "setup"))
		return nil
	}

	root.AddCommand(
		newProvisionCommand(a),
		newVariantsCommand(a),
		newArtifactsCommand(a),
		newRunsCommand(a),
		newSetupCommand(a),
	)
	return root
}

func (a *app) environment() (*simple.Environment, error) {
	if a.profilePath == "" {
		if err := verifySetup(a.logger); err != nil {
			return nil, err
		}
	}
	return simple.Load(simple.Options{
		ProfilePath: a.profilePath,
		RunsDir:     a.runsDir,
		Simulate:    a.simulate,
	}, a.logger)
}

func verifySetup(logger *slog.Logger) error {
	if err := setup.Verify(); err != nil {
		logger.Error("setup verification failed", "error", err)
		logger.Info("run 'ecuflash setup' to write a default profile")
		return err
	}
	return nil
}

// coordinateFlags are shared by every command that works on one build.
type coordinateFlags struct {
	platform       string
	softwareFolder string
	channelType    string
}

func (f *coordinateFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.platform, "platform", "", "Platform of the build")
	cmd.Flags().StringVar(&f.softwareFolder, "software-folder", "", "Software folder of the build")
	cmd.Flags().StringVar(&f.channelType, "channel", "", "Channel type of the build")
}

// resolve fills missing values from the profile defaults, then by prompting
// when stdin is a terminal.
func (f *coordinateFlags) resolve(p *profile.Profile, prompt *prompter) (provision.BuildCoordinate, error) {
	values := []struct {
		label string
		value string
		def   string
	}{
		{"platform", f.platform, p.Defaults.Platform},
		{"software folder", f.softwareFolder, p.Defaults.SoftwareFolder},
		{"channel type", f.channelType, p.Defaults.ChannelType},
	}
	resolved := make([]string, len(values))
	for i, v := range values {
		value := strings.TrimSpace(v.value)
		if value == "" {
			value = v.def
		}
		if value == "" {
			var err error
			if value, err = prompt.ask(v.label); err != nil {
				return provision.BuildCoordinate{}, err
			}
		}
		resolved[i] = value
	}
	return provision.NewBuildCoordinate(resolved[0], resolved[1], resolved[2])
}

func newProvisionCommand(a *app) *cobra.Command {
	var (
		coord         coordinateFlags
		variant       string
		workspace     string
		telemetry     bool
		reset         bool
		erase         bool
		preErase      bool
		onFailure     bool
		firmwareIndex int
		pick          bool
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Flash the firmware of a build and resolve its calibration dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.environment()
			if err != nil {
				return err
			}
			prompt := newPrompter(os.Stdin, cmd.ErrOrStderr())

			coordinate, err := coord.resolve(env.Profile, prompt)
			if err != nil {
				return &exitError{code: provision.ExitFailure, err: err}
			}
			cmdLogger := a.logger.With("command", "provision", "coordinate", coordinate.String())

			if strings.TrimSpace(variant) == "" {
				variant, err = pickVariant(cmd.Context(), env, coordinate, prompt)
				if err != nil {
					return &exitError{code: exitCodeFor(err), err: err}
				}
			}

			selectedWorkspace, err := resolveWorkspace(workspace, env.Profile, prompt)
			if err != nil {
				return &exitError{code: provision.ExitFailure, err: err}
			}

			req := provision.Request{
				Coordinate:              coordinate,
				VariantKey:              variant,
				Workspace:               selectedWorkspace,
				Telemetry:               telemetry,
				Reset:                   reset,
				Erase:                   erase,
				PreErase:                preErase,
				TargetCommandsOnFailure: onFailure,
			}
			switch {
			case firmwareIndex >= 0:
				req.FirmwarePolicy = artifacts.Index(firmwareIndex)
			case pick:
				index, err := pickFirmware(env, coordinate, prompt)
				if err != nil {
					return &exitError{code: exitCodeFor(err), err: err}
				}
				req.FirmwarePolicy = artifacts.Index(index)
			}

			result, runErr := simple.Provision(cmd.Context(), env, req, cmdLogger)
			if err := renderResult(cmd.OutOrStdout(), a.output, result); err != nil {
				return err
			}
			if runErr != nil {
				// The result already names the failure.
				return &exitError{code: provision.ExitCode(result)}
			}
			return nil
		},
	}

	coord.register(cmd)
	cmd.Flags().StringVar(&variant, "variant", "", "Variant code to provision (prompted for when omitted)")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Probe workspace to open (chosen from probe.workspaces when omitted)")
	cmd.Flags().BoolVar(&telemetry, "telemetry", false, "Capture bus telemetry around the download")
	cmd.Flags().BoolVar(&reset, "reset", false, "Reset the target after a successful download")
	cmd.Flags().BoolVar(&erase, "erase", false, "Erase the target after the download (after reset)")
	cmd.Flags().BoolVar(&preErase, "pre-erase", false, "Erase the target before downloading")
	cmd.Flags().BoolVar(&onFailure, "erase-on-failure", false, "Run the erase even when the download failed (requires --erase)")
	cmd.Flags().IntVar(&firmwareIndex, "firmware-index", -1, "Select the n-th firmware match (0-based) instead of the first")
	cmd.Flags().BoolVar(&pick, "pick", false, "Choose interactively when several firmware images match")

	return cmd
}

// resolveWorkspace returns the flag value, the only configured workspace, or
// one picked from several. Without a terminal the profile's default
// workspace is used; an empty result opens the most recently used one.
func resolveWorkspace(flag string, p *profile.Profile, prompt *prompter) (string, error) {
	if workspace := strings.TrimSpace(flag); workspace != "" {
		return workspace, nil
	}
	choices := p.WorkspaceChoices()
	switch {
	case len(choices) == 0:
		return "", nil
	case len(choices) == 1:
		return choices[0], nil
	case !prompt.interactive && strings.TrimSpace(p.Probe.Workspace) != "":
		return strings.TrimSpace(p.Probe.Workspace), nil
	}
	index, err := prompt.choose("workspace", choices)
	if err != nil {
		return "", err
	}
	return choices[index], nil
}

func pickVariant(ctx context.Context, env *simple.Environment, c provision.BuildCoordinate, prompt *prompter) (string, error) {
	list, err := simple.ListVariants(ctx, env, c)
	if err != nil {
		return "", err
	}
	options := make([]string, len(list))
	for i, v := range list {
		options[i] = fmt.Sprintf("%s -> %s", v.Key, v.Dataset)
	}
	index, err := prompt.choose("variant", options)
	if err != nil {
		return "", err
	}
	return list[index].Key, nil
}

func pickFirmware(env *simple.Environment, c provision.BuildCoordinate, prompt *prompter) (int, error) {
	firmware, _, err := simple.ListArtifacts(env, c)
	if err != nil {
		return 0, err
	}
	if !firmware.Ambiguous() {
		return 0, nil
	}
	return prompt.choose("firmware", firmware.Matches)
}

func exitCodeFor(err error) int {
	code, cause := provision.Classify(err)
	return provision.ExitCode(provision.Result{Records: []provision.Record{{
		Code:     code,
		Cause:    cause,
		Severity: provision.SeverityFatal,
	}}})
}

func newVariantsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "variants",
		Short: "Inspect the variant mapping tables of a build",
	}

	var coord coordinateFlags
	list := &cobra.Command{
		Use:   "list",
		Short: "List variants in table order with their datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.environment()
			if err != nil {
				return err
			}
			coordinate, err := coord.resolve(env.Profile, newPrompter(os.Stdin, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			list, err := simple.ListVariants(cmd.Context(), env, coordinate)
			if err != nil {
				return &exitError{code: exitCodeFor(err), err: err}
			}
			return renderVariants(cmd.OutOrStdout(), a.output, list)
		},
	}
	coord.register(list)

	cmd.AddCommand(list)
	return cmd
}

func newArtifactsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "Inspect firmware and symbol files of a build",
	}

	var coord coordinateFlags
	list := &cobra.Command{
		Use:   "list",
		Short: "List firmware and symbol-table matches in selection order",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.environment()
			if err != nil {
				return err
			}
			coordinate, err := coord.resolve(env.Profile, newPrompter(os.Stdin, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			firmware, symbols, err := simple.ListArtifacts(env, coordinate)
			if err != nil {
				return &exitError{code: exitCodeFor(err), err: err}
			}
			return renderArtifacts(cmd.OutOrStdout(), a.output, firmware, symbols)
		},
	}
	coord.register(list)

	cmd.AddCommand(list)
	return cmd
}

func newRunsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded provisioning runs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.environment()
			if err != nil {
				return err
			}
			results, err := simple.ListRuns(env)
			if err != nil {
				return err
			}
			return renderRuns(cmd.OutOrStdout(), a.output, results)
		},
	}

	show := &cobra.Command{
		Use:   "show <run-id>",
		Args:  cobra.ExactArgs(1),
		Short: "Show one recorded run",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.environment()
			if err != nil {
				return err
			}
			result, err := simple.ShowRun(env, args[0])
			if err != nil {
				return err
			}
			return renderResult(cmd.OutOrStdout(), a.output, *result)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func newSetupCommand(a *app) *cobra.Command {
	var (
		clearConfig bool
		printOnly   bool
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write a default profile and create the storage directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := a.logger.With("command", "setup")

			if printOnly {
				_, err := fmt.Fprint(cmd.OutOrStdout(), profile.Example)
				return err
			}

			alreadyConfigured := setup.Verify() == nil
			if alreadyConfigured && !clearConfig {
				cmdLogger.Info("system already configured", "profile", setup.ProfilePath(), "hint", "use 'ecuflash setup --clear' to reinitialize")
				return nil
			}

			if clearConfig {
				cmdLogger.Info("clearing existing configuration")
				if err := setup.ClearConfig(); err != nil {
					return fmt.Errorf("clear configuration: %w", err)
				}
			}

			if err := setup.WriteProfile([]byte(profile.Example), clearConfig); err != nil {
				return err
			}
			cmdLogger.Info("edit the profile before the first run", "profile", setup.ProfilePath())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&clearConfig, "clear", "C", false, "Remove the existing profile before initializing")
	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the default profile instead of writing it")

	return cmd
}
