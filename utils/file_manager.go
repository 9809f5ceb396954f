package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const runDirPrefix = "run-"

// CreateRunDir creates an isolated scratch directory for one pipeline run
func CreateRunDir(baseDir, runID string) (string, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create temp root %s: %w", baseDir, err)
	}

	dir, err := os.MkdirTemp(baseDir, runDirPrefix+runID+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}

	return dir, nil
}

// SweepStaleRuns removes run directories older than maxAge. Runs clean up
// after themselves; this only catches what a crashed process left behind.
func SweepStaleRuns(baseDir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), runDirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(baseDir, entry.Name())); err == nil {
			removed++
		}
	}

	return removed, nil
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetFileSize returns file size in bytes
func GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// RemoveIfExists deletes path and ignores a missing file
func RemoveIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
