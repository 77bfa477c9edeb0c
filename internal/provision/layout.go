package provision

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/cochaviz/ecuflash/internal/artifacts"
)

// Layout describes where builds live. Roots are text/template strings
// rendered against a BuildCoordinate, for example
// "/builds/{{ .Platform }}/{{ .SoftwareFolder }}/EXTERNAL/{{ .ChannelType }}".
type Layout struct {
	FirmwareRoots    []string
	FirmwarePatterns []string
	SymbolRoots      []string
	SymbolPatterns   []string
}

// SearchSpecs renders the firmware and symbol-table search specs for c.
// It performs no I/O.
func (l Layout) SearchSpecs(c BuildCoordinate) (firmware, symbols artifacts.SearchSpec, err error) {
	if len(l.FirmwarePatterns) == 0 || len(l.SymbolPatterns) == 0 {
		return nil, nil, fmt.Errorf("%w: firmware and symbol patterns are required", errInvalidConfig)
	}
	fwRoots, err := RenderPaths(c, l.FirmwareRoots)
	if err != nil {
		return nil, nil, err
	}
	symRoots, err := RenderPaths(c, l.SymbolRoots)
	if err != nil {
		return nil, nil, err
	}
	if len(fwRoots) == 0 || len(symRoots) == 0 {
		return nil, nil, fmt.Errorf("%w: firmware and symbol roots are required", errInvalidConfig)
	}
	return artifacts.NewSearchSpec(fwRoots, l.FirmwarePatterns),
		artifacts.NewSearchSpec(symRoots, l.SymbolPatterns), nil
}

// RenderPaths renders each template against c and cleans the result.
// Blank templates are dropped.
func RenderPaths(c BuildCoordinate, templates []string) ([]string, error) {
	out := make([]string, 0, len(templates))
	for _, text := range templates {
		if strings.TrimSpace(text) == "" {
			continue
		}
		rendered, err := RenderPath(c, text)
		if err != nil {
			return nil, err
		}
		out = append(out, rendered)
	}
	return out, nil
}

// RenderPath renders a single path template against c.
func RenderPath(c BuildCoordinate, text string) (string, error) {
	tmpl, err := template.New("path").Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("%w: parse path template %q: %v", errInvalidConfig, text, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, c); err != nil {
		return "", fmt.Errorf("%w: render path template %q: %v", errInvalidConfig, text, err)
	}
	return filepath.Clean(strings.TrimSpace(buf.String())), nil
}
