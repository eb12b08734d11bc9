package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath names a configuration file that overrides the search.
const EnvConfigPath = "SCOUT_CONFIG"

// FindPath returns $SCOUT_CONFIG when set, and otherwise the first of
// $XDG_CONFIG_HOME/scout/scout.yaml (or ~/.config/scout/scout.yaml) and
// ./scout.yaml that exists.
func FindPath() (string, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%s: %w", EnvConfigPath, err)
		}
		return path, nil
	}

	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "scout", "scout.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "scout", "scout.yaml"))
	}

	candidates = append(candidates, "scout.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DataDir returns the directory for scout's local state, such as the
// SQLite store: $XDG_DATA_HOME/scout, else ~/.local/share/scout.
func DataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, "scout")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "scout")
	}
	return filepath.Join(home, ".local", "share", "scout")
}
