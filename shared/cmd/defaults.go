package cmd

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDataDir is the default data directory to use for the database and
// other persistence requirements.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		// No stable location to guess, handled at startup.
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Ceremonyd")
	case "windows":
		return filepath.Join(home, "AppData", "Local", "Ceremonyd")
	default:
		return filepath.Join(home, ".ceremonyd")
	}
}
