package artifacts

import (
	"fmt"
	"strings"
)

// Kind distinguishes the two artifact families a provisioning run looks for.
type Kind string

const (
	Firmware    Kind = "firmware"     // Program image downloaded to the target
	SymbolTable Kind = "symbol_table" // Debug symbols registered with the probe
)

// SearchEntry pairs a root directory with a filename suffix.
type SearchEntry struct {
	Root    string
	Pattern string
}

// SearchSpec is an ordered list of roots and suffix patterns. Matching is
// case-sensitive against file basenames and recursive under each root.
type SearchSpec []SearchEntry

// NewSearchSpec expands every root with every pattern, root-major.
func NewSearchSpec(roots, patterns []string) SearchSpec {
	spec := make(SearchSpec, 0, len(roots)*len(patterns))
	for _, root := range roots {
		for _, pattern := range patterns {
			spec = append(spec, SearchEntry{Root: root, Pattern: pattern})
		}
	}
	return spec
}

// Roots returns the distinct roots in first-seen order.
func (s SearchSpec) Roots() []string {
	seen := make(map[string]struct{}, len(s))
	var roots []string
	for _, entry := range s {
		if _, ok := seen[entry.Root]; ok {
			continue
		}
		seen[entry.Root] = struct{}{}
		roots = append(roots, entry.Root)
	}
	return roots
}

func (s SearchSpec) String() string {
	parts := make([]string, len(s))
	for i, entry := range s {
		parts[i] = entry.Root + "/**/*" + entry.Pattern
	}
	return strings.Join(parts, ", ")
}

// SkippedPath records a directory the scan could not read.
type SkippedPath struct {
	Path string
	Err  error
}

func (s SkippedPath) String() string {
	return fmt.Sprintf("skipped %s: %v", s.Path, s.Err)
}

// Set is the ordered, de-duplicated result of one scan.
type Set struct {
	Kind    Kind
	Matches []string // absolute paths, discovery order
	Skipped []SkippedPath
}

// Len returns the number of matches.
func (s Set) Len() int {
	return len(s.Matches)
}

// Ambiguous reports whether more than one artifact matched.
func (s Set) Ambiguous() bool {
	return len(s.Matches) > 1
}
