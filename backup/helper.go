// Package backup implements the crash-safety model a full rewrite relies
// on: move the original file aside before touching it, and be able to
// restore it if anything fails afterward.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultDirectory returns the directory backup files are created in when
// the caller hasn't requested a specific one: the OS temp directory.
func DefaultDirectory() string { return os.TempDir() }

// BackupPath returns the path CreateBackupFile will use for originalPath
// inside dir: the original's base name with a ".bak" suffix. Two originals
// with the same base name map to the same path within one backup directory.
func BackupPath(dir, originalPath string) string {
	base := filepath.Base(originalPath)
	return filepath.Join(dir, base+".bak")
}

// CreateBackupFile moves the file at originalPath to backupPath and opens
// the result for reading, so the caller can keep reading "the original"
// from its new location while writing a fresh file at originalPath.
func CreateBackupFile(originalPath, backupPath string) (*os.File, error) {
	if err := os.Rename(originalPath, backupPath); err != nil {
		return nil, fmt.Errorf("backup: rename %s to %s: %w", originalPath, backupPath, err)
	}
	f, err := os.Open(backupPath)
	if err != nil {
		return nil, fmt.Errorf("backup: open backup %s: %w", backupPath, err)
	}
	return f, nil
}

// RestoreOriginalFileFromBackupFile undoes CreateBackupFile: it closes
// backup, removes whatever partial file was written at originalPath (if
// any), and moves backupPath back to originalPath.
func RestoreOriginalFileFromBackupFile(originalPath, backupPath string, backup *os.File) error {
	if backup != nil {
		_ = backup.Close()
	}
	if _, err := os.Stat(originalPath); err == nil {
		if err := os.Remove(originalPath); err != nil {
			return fmt.Errorf("backup: remove partial %s: %w", originalPath, err)
		}
	}
	if err := os.Rename(backupPath, originalPath); err != nil {
		return fmt.Errorf("backup: restore %s from %s: %w", originalPath, backupPath, err)
	}
	return nil
}

// Discard removes the backup file once a rewrite has completed
// successfully and the backup is no longer needed.
func Discard(backup *os.File, backupPath string) error {
	if backup != nil {
		_ = backup.Close()
	}
	if err := os.Remove(backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("backup: discard %s: %w", backupPath, err)
	}
	return nil
}

// CopyAll streams the full contents of src to dst, used when setting up a
// save-as rewrite target that must start from a copy of the original
// rather than a backup-and-replace of the same path.
func CopyAll(dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, src)
}
