// Package runs stores provisioning results as JSON documents, one file per
// run, named after the run id.
package runs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/cochaviz/ecuflash/internal/provision"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// LocalRunRepository persists results under BaseDir.
type LocalRunRepository struct {
	BaseDir string
}

// Save writes result to <BaseDir>/<run id>.json.
func (rep *LocalRunRepository) Save(result provision.Result) error {
	if rep.BaseDir == "" {
		return errors.New("base directory is not configured")
	}
	if _, err := uuid.Parse(result.RunID); err != nil {
		return fmt.Errorf("run id %q: %w", result.RunID, err)
	}

	if err := os.MkdirAll(rep.BaseDir, 0o755); err != nil {
		return err
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}

	// Write then rename so a reader never sees half a record.
	path := filepath.Join(rep.BaseDir, result.RunID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Get returns the run with the given id. A unique id prefix is accepted.
func (rep *LocalRunRepository) Get(runID string) (*provision.Result, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	if _, err := uuid.Parse(runID); err == nil {
		result, err := rep.load(filepath.Join(rep.BaseDir, runID+".json"))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return result, err
	}

	ids, err := rep.ids()
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, id := range ids {
		if strings.HasPrefix(id, runID) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	case 1:
		return rep.load(filepath.Join(rep.BaseDir, matches[0]+".json"))
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous (%d matches)", runID, len(matches))
	}
}

// List returns every stored run, newest first. A missing directory is an
// empty list.
func (rep *LocalRunRepository) List() ([]provision.Result, error) {
	ids, err := rep.ids()
	if err != nil {
		return nil, err
	}

	results := make([]provision.Result, 0, len(ids))
	for _, id := range ids {
		result, err := rep.load(filepath.Join(rep.BaseDir, id+".json"))
		if err != nil {
			return nil, fmt.Errorf("load run %s: %w", id, err)
		}
		results = append(results, *result)
	}

	slices.SortStableFunc(results, func(a, b provision.Result) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return results, nil
}

func (rep *LocalRunRepository) ids() ([]string, error) {
	entries, err := os.ReadDir(rep.BaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (rep *LocalRunRepository) load(path string) (*provision.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var result provision.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	if id := strings.TrimSuffix(filepath.Base(path), ".json"); result.RunID != id {
		return nil, fmt.Errorf("record %s carries run id %q", filepath.Base(path), result.RunID)
	}
	return &result, nil
}
