package database

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BackupDateLayout prefixes dated backup file names.
const BackupDateLayout = "2006-01-02"

// EnsureDirectoryExists creates the directory for the database file if it doesn't exist
func EnsureDirectoryExists(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	return nil
}

// DatabaseExists checks if a database file exists
func DatabaseExists(dbPath string) bool {
	info, err := os.Stat(dbPath)
	return err == nil && !info.IsDir()
}

// GetDatabaseSize returns the size of the database file in bytes
func GetDatabaseSize(dbPath string) (int64, error) {
	info, err := os.Stat(dbPath)
	if err != nil {
		return 0, fmt.Errorf("failed to get database file info: %w", err)
	}

	return info.Size(), nil
}

// BackupName returns the dated backup file name for name on day.
func BackupName(name string, day time.Time) string {
	return day.Format(BackupDateLayout) + "-" + name
}

// BackupFile copies src into backupDir as YYYY-MM-DD-<name>. A backup taken
// twice on the same day replaces the earlier one.
func BackupFile(src, backupDir, name string, now time.Time) (string, error) {
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("backup source %s: %w", src, err)
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	dest := filepath.Join(backupDir, BackupName(name, now))
	if err := copyFile(src, dest); err != nil {
		return "", fmt.Errorf("failed to write backup file: %w", err)
	}

	return dest, nil
}

// PruneBackups keeps the keep most recent dated backups of name in backupDir
// and removes the rest. It returns the removed paths.
func PruneBackups(backupDir, name string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var backups []string
	for _, entry := range entries {
		if entry.IsDir() || !isDatedBackup(entry.Name(), name) {
			continue
		}
		backups = append(backups, entry.Name())
	}

	if len(backups) <= keep {
		return nil, nil
	}

	// date prefixes sort lexically
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))

	var removed []string
	for _, old := range backups[keep:] {
		path := filepath.Join(backupDir, old)
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("failed to remove old backup %s: %w", path, err)
		}
		removed = append(removed, path)
	}

	return removed, nil
}

func isDatedBackup(fileName, name string) bool {
	prefixLen := len(BackupDateLayout) + 1
	if len(fileName) != prefixLen+len(name) || !strings.HasSuffix(fileName, "-"+name) {
		return false
	}
	_, err := time.Parse(BackupDateLayout, fileName[:len(BackupDateLayout)])
	return err == nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".backup-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dest)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
