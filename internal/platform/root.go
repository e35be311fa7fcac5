package platform

import (
	"errors"
	"os"
	"path/filepath"
)

// ConfigFile is the project configuration file looked up by FindRoot.
const ConfigFile = "tally.yaml"

// ErrRootNotFound is returned when no project marker exists above the start dir.
var ErrRootNotFound = errors.New("root not found")

// FindRoot walks upwards from startDir looking for a .tally directory or a
// tally.yaml file and returns the absolute directory holding it.
func FindRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		if hasFile(dir, ".tally") || hasFile(dir, ConfigFile) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", ErrRootNotFound
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
