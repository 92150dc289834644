package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DBFile is the database file name inside a data directory.
const DBFile = "epistate.db"

// GlobalPath returns the path to the global .epistate directory.
// On Unix: ~/.epistate
// On Windows: %USERPROFILE%\.epistate
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".epistate"), nil
}

// LocalPath returns the path to the .epistate directory of a project.
func LocalPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".epistate")
}
