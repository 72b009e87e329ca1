// Package persist implements the backup-rename file replacement used by
// every on-disk document in the system: the new content is written to a
// sibling `<path>.backup` file, renamed into place, and the sibling is
// cleaned up. A failure at any step leaves the previous document untouched.
package persist

import (
	"fmt"
	"os"
	"path/filepath"
)

// BackupPath returns the sibling path new content is staged at.
func BackupPath(path string) string {
	return path + ".backup"
}

// WriteFile replaces the document at path with data. The replacement is
// atomic from a reader's perspective: either the previous document or the
// new one is on disk, never a partial write.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	backup := BackupPath(path)
	if err := os.WriteFile(backup, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", backup, err)
	}

	if err := os.Rename(backup, path); err != nil {
		// Previous document is still in place; drop the staged sibling.
		_ = os.Remove(backup)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// RemoveStaleBackup drops an uncommitted sibling left by a crash between
// the staging write and the rename. The committed document at path is
// authoritative; the sibling holds content that was never promoted.
func RemoveStaleBackup(path string) {
	_ = os.Remove(BackupPath(path))
}
