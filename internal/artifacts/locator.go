package artifacts

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/cochaviz/ecuflash/internal/logging"
)

// Locator scans the filesystem for artifacts. It never writes.
type Locator struct {
	Logger *slog.Logger
}

// NewLocator returns a Locator logging through logger.
func NewLocator(logger *slog.Logger) *Locator {
	return &Locator{Logger: logger}
}

// Locate walks every root of spec and returns the files whose basename ends
// with one of the patterns. Results are ordered root-then-pattern and
// de-duplicated by absolute path keeping the first occurrence. Unreadable
// directories are skipped and reported in Set.Skipped.
func (l *Locator) Locate(kind Kind, spec SearchSpec) (Set, error) {
	logger := logging.Ensure(l.Logger).With("kind", string(kind))
	set := Set{Kind: kind}
	seen := make(map[string]struct{})

	for _, root := range spec.Roots() {
		files, skipped := walkRoot(root)
		for _, skip := range skipped {
			logger.Warn("skipping unreadable path", "path", skip.Path, "error", skip.Err)
		}
		set.Skipped = append(set.Skipped, skipped...)

		for _, entry := range spec {
			if entry.Root != root {
				continue
			}
			for _, file := range files {
				if !strings.HasSuffix(filepath.Base(file), entry.Pattern) {
					continue
				}
				if _, dup := seen[file]; dup {
					continue
				}
				seen[file] = struct{}{}
				set.Matches = append(set.Matches, file)
			}
		}
	}

	if len(set.Matches) == 0 {
		return set, &NoArtifactsError{Kind: kind, Spec: spec}
	}
	logger.Debug("artifacts located", "count", len(set.Matches), "skipped", len(set.Skipped))
	return set, nil
}

// walkRoot lists every non-directory below root in lexical order.
func walkRoot(root string) ([]string, []SkippedPath) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, []SkippedPath{{Path: root, Err: err}}
	}

	var (
		files   []string
		skipped []SkippedPath
	)
	_ = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			skipped = append(skipped, SkippedPath{Path: path, Err: err})
			if d != nil && d.IsDir() && path != abs {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		files = append(files, filepath.Clean(path))
		return nil
	})
	return files, skipped
}
