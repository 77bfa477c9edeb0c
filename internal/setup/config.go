package setup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ConfigDir = "/etc/ecuflash"
var StorageDir = "/var/lib/ecuflash/"

// ProfilePath is the profile used when --profile is not given.
func ProfilePath() string {
	return filepath.Join(ConfigDir, "profile.yaml")
}

// RunsDir is where run records are written unless the profile overrides it.
func RunsDir() string {
	return filepath.Join(StorageDir, "runs")
}

// Verify reports whether the default profile is present.
func Verify() error {
	path := ProfilePath()
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("profile %s does not exist", path)
	}
	return nil
}

// WriteProfile installs contents as the default profile and creates the
// storage directories. An existing profile is left alone unless overwrite is set.
func WriteProfile(contents []byte, overwrite bool) error {
	logger := getLogger()
	path := ProfilePath()

	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("profile %s already exists", path)
	}
	if err := os.MkdirAll(ConfigDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.MkdirAll(RunsDir(), 0o755); err != nil {
		return fmt.Errorf("create runs dir: %w", err)
	}
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	logger.Info("profile written", "path", path)
	return nil
}

// ClearConfig removes the default profile.
func ClearConfig() error {
	getLogger().Info("clearing configuration files")

	if err := os.Remove(ProfilePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", ProfilePath(), err)
	}
	return nil
}
