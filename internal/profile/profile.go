// Package profile loads the provisioning profile: where builds and mapping
// tables live, how to reach the probe and the bus-simulation tool, and the
// timeouts that bound them.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/cochaviz/ecuflash/internal/artifacts"
	"github.com/cochaviz/ecuflash/internal/probe"
	probecmd "github.com/cochaviz/ecuflash/internal/probe/cmdline"
	"github.com/cochaviz/ecuflash/internal/provision"
	buscmd "github.com/cochaviz/ecuflash/internal/telemetry/cmdline"
	"github.com/cochaviz/ecuflash/internal/variants"
)

// Probe drivers.
const (
	DriverCmdline   = "cmdline"
	DriverSimulated = "simulated"
)

type Profile struct {
	Layout    LayoutConfig    `yaml:"layout" toml:"layout"`
	Mapping   []MappingSource `yaml:"mapping" toml:"mapping"`
	Probe     ProbeConfig     `yaml:"probe" toml:"probe"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	// Defaults pre-fill build coordinates not given on the command line.
	Defaults provision.BuildCoordinate `yaml:"defaults" toml:"defaults"`
	RunsDir  string                    `yaml:"runs_dir,omitempty" toml:"runs_dir"`
}

type LayoutConfig struct {
	Firmware SearchConfig `yaml:"firmware" toml:"firmware"`
	Symbols  SearchConfig `yaml:"symbols" toml:"symbols"`
}

// SearchConfig lists root templates and suffix patterns for one artifact
// kind. Prefer, when set, ranks suffixes for picking among several matches.
type SearchConfig struct {
	Roots    []string `yaml:"roots" toml:"roots"`
	Patterns []string `yaml:"patterns" toml:"patterns"`
	Prefer   []string `yaml:"prefer,omitempty" toml:"prefer"`
}

// MappingSource is one variant table. Path is a template over the build
// coordinate.
type MappingSource struct {
	Path        string `yaml:"path" toml:"path"`
	Format      string `yaml:"format,omitempty" toml:"format"`
	Sheet       string `yaml:"sheet,omitempty" toml:"sheet"`
	KeyColumn   string `yaml:"key_column,omitempty" toml:"key_column"`
	ValueColumn string `yaml:"value_column,omitempty" toml:"value_column"`
}

type ProbeConfig struct {
	Driver    string `yaml:"driver" toml:"driver"`
	Workspace string `yaml:"workspace,omitempty" toml:"workspace"`
	// Workspaces are offered for selection when no workspace is given.
	Workspaces           []string           `yaml:"workspaces,omitempty" toml:"workspaces"`
	Target               probe.TargetConfig `yaml:"target" toml:"target"`
	Commands             probecmd.Commands  `yaml:"commands,omitempty" toml:"commands"`
	DownloadTimeout      time.Duration      `yaml:"download_timeout,omitempty" toml:"download_timeout"`
	TargetCommandTimeout time.Duration      `yaml:"target_command_timeout,omitempty" toml:"target_command_timeout"`
	PersistTimeout       time.Duration      `yaml:"persist_timeout,omitempty" toml:"persist_timeout"`
	SimulatedDelay       time.Duration      `yaml:"simulated_delay,omitempty" toml:"simulated_delay"`
}

type TelemetryConfig struct {
	Config       string          `yaml:"config,omitempty" toml:"config"`
	Commands     buscmd.Commands `yaml:"commands,omitempty" toml:"commands"`
	StartTimeout time.Duration   `yaml:"start_timeout,omitempty" toml:"start_timeout"`
	StopTimeout  time.Duration   `yaml:"stop_timeout,omitempty" toml:"stop_timeout"`
}

// Load reads the profile at path. Files ending in .toml are parsed as TOML,
// everything else as YAML.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	p, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes data as format ("yaml" or "toml"), applies defaults and
// validates the result.
func Parse(data []byte, format string) (*Profile, error) {
	var p Profile
	switch format {
	case "yaml", "yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&p); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case "toml":
		meta, err := toml.Decode(string(data), &p)
		if err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse toml: unknown field %s", undecoded[0])
		}
	default:
		return nil, fmt.Errorf("unsupported profile format %q", format)
	}

	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) applyDefaults() {
	if p.Probe.Driver == "" {
		p.Probe.Driver = DriverCmdline
	}
	if p.Probe.DownloadTimeout == 0 {
		p.Probe.DownloadTimeout = provision.DefaultDownloadTimeout
	}
	if p.Probe.TargetCommandTimeout == 0 {
		p.Probe.TargetCommandTimeout = provision.DefaultTargetCommandTimeout
	}
	if p.Probe.PersistTimeout == 0 {
		p.Probe.PersistTimeout = probe.DefaultPersistTimeout
	}
	p.Probe.Target = p.Probe.Target.WithDefaults()
	for i := range p.Mapping {
		if p.Mapping[i].KeyColumn == "" {
			p.Mapping[i].KeyColumn = variants.DefaultKeyColumn
		}
		if p.Mapping[i].ValueColumn == "" {
			p.Mapping[i].ValueColumn = variants.DefaultValueColumn
		}
	}
}

// Validate reports every problem it finds, each naming its field.
func (p *Profile) Validate() error {
	var errs []error
	field := func(name, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s", name, fmt.Sprintf(format, args...)))
	}

	for _, item := range []struct {
		name   string
		search SearchConfig
	}{
		{"layout.firmware", p.Layout.Firmware},
		{"layout.symbols", p.Layout.Symbols},
	} {
		name, search := item.name, item.search
		if len(search.Roots) == 0 {
			field(name+".roots", "at least one root is required")
		}
		if len(search.Patterns) == 0 {
			field(name+".patterns", "at least one pattern is required")
		}
		for i, pattern := range search.Patterns {
			if strings.TrimSpace(pattern) == "" {
				field(fmt.Sprintf("%s.patterns[%d]", name, i), "must not be empty")
			}
		}
	}

	if len(p.Mapping) == 0 {
		field("mapping", "at least one mapping source is required")
	}
	for i, source := range p.Mapping {
		if strings.TrimSpace(source.Path) == "" {
			field(fmt.Sprintf("mapping[%d].path", i), "is required")
		}
		switch variants.Format(strings.ToLower(source.Format)) {
		case "", variants.FormatXLSX, variants.FormatCSV, variants.FormatYAML, variants.FormatTOML:
		default:
			field(fmt.Sprintf("mapping[%d].format", i), "unsupported format %q", source.Format)
		}
	}

	switch p.Probe.Driver {
	case DriverCmdline:
		if strings.TrimSpace(p.Probe.Commands.Connect) == "" {
			field("probe.commands.connect", "is required for the cmdline driver")
		}
		if strings.TrimSpace(p.Probe.Commands.Download) == "" {
			field("probe.commands.download", "is required for the cmdline driver")
		}
	case DriverSimulated:
	default:
		field("probe.driver", "unknown driver %q", p.Probe.Driver)
	}
	if err := p.Probe.Target.Validate(); err != nil {
		field("probe.target", "%v", err)
	}
	for i, workspace := range p.Probe.Workspaces {
		if strings.TrimSpace(workspace) == "" {
			field(fmt.Sprintf("probe.workspaces[%d]", i), "must not be empty")
		}
	}
	if p.Probe.DownloadTimeout < 0 || p.Probe.TargetCommandTimeout < 0 || p.Probe.PersistTimeout < 0 {
		field("probe", "timeouts must not be negative")
	}
	if p.Telemetry.StartTimeout < 0 || p.Telemetry.StopTimeout < 0 {
		field("telemetry", "timeouts must not be negative")
	}

	return errors.Join(errs...)
}

// WorkspaceChoices returns the selectable workspaces, the default workspace
// first when it is not already listed.
func (p *Profile) WorkspaceChoices() []string {
	var choices []string
	seen := make(map[string]struct{})
	add := func(workspace string) {
		workspace = strings.TrimSpace(workspace)
		if workspace == "" {
			return
		}
		if _, dup := seen[workspace]; dup {
			return
		}
		seen[workspace] = struct{}{}
		choices = append(choices, workspace)
	}
	add(p.Probe.Workspace)
	for _, workspace := range p.Probe.Workspaces {
		add(workspace)
	}
	return choices
}

// TelemetryEnabled reports whether a bus tool is configured.
func (p *Profile) TelemetryEnabled() bool {
	return strings.TrimSpace(p.Telemetry.Commands.Start) != "" ||
		strings.TrimSpace(p.Telemetry.Commands.Capture) != ""
}

// BuildLayout returns the search layout for the orchestrator.
func (p *Profile) BuildLayout() provision.Layout {
	return provision.Layout{
		FirmwareRoots:    p.Layout.Firmware.Roots,
		FirmwarePatterns: p.Layout.Firmware.Patterns,
		SymbolRoots:      p.Layout.Symbols.Roots,
		SymbolPatterns:   p.Layout.Symbols.Patterns,
	}
}

// SelectionPolicies returns the default firmware and symbol selection.
func (p *Profile) SelectionPolicies() (firmware, symbols artifacts.SelectionPolicy) {
	firmware, symbols = artifacts.FirstMatch{}, artifacts.FirstMatch{}
	if len(p.Layout.Firmware.Prefer) > 0 {
		firmware = artifacts.PreferSuffix(p.Layout.Firmware.Prefer)
	}
	if len(p.Layout.Symbols.Prefer) > 0 {
		symbols = artifacts.PreferSuffix(p.Layout.Symbols.Prefer)
	}
	return firmware, symbols
}

// SourceFactory renders the mapping source paths for a build coordinate.
func (p *Profile) SourceFactory() provision.SourceFactory {
	mapping := append([]MappingSource(nil), p.Mapping...)
	return func(c provision.BuildCoordinate) ([]variants.Source, error) {
		sources := make([]variants.Source, 0, len(mapping))
		for _, m := range mapping {
			path, err := provision.RenderPath(c, m.Path)
			if err != nil {
				return nil, err
			}
			sources = append(sources, variants.FileSource{
				Path:        path,
				Format:      variants.Format(strings.ToLower(m.Format)),
				Sheet:       m.Sheet,
				KeyColumn:   m.KeyColumn,
				ValueColumn: m.ValueColumn,
			})
		}
		return sources, nil
	}
}

// RunsDirOr returns the configured runs directory or fallback.
func (p *Profile) RunsDirOr(fallback string) string {
	if strings.TrimSpace(p.RunsDir) != "" {
		return p.RunsDir
	}
	return fallback
}
