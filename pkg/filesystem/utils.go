package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaultPath returns a default file path in the executable directory
func GetDefaultPath(filename string) (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}

	return filepath.Join(filepath.Dir(exePath), filename), nil
}

// ResolvePath finds a relative path in the working directory first and then
// next to the executable. If neither exists path is returned unchanged.
func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if execPath, err := GetDefaultPath(path); err == nil {
		if _, err := os.Stat(execPath); err == nil {
			return execPath
		}
	}
	return path
}
