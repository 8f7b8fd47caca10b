package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// dataDir returns the platform-specific application data directory.
func dataDir(goos, home string) string {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "webtics")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "webtics")
	default: // linux and others
		return filepath.Join(home, ".local", "share", "webtics")
	}
}

// resolveDatabasePath returns configured when set, otherwise events.db in the
// application data directory.
func resolveDatabasePath(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(dataDir(runtime.GOOS, home), "events.db"), nil
}
