// Package fsutil holds the crash-safe file writes shared by the config,
// the JSON store and the ICS export.
package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// BackupSuffix is appended to a file's name to hold its previous version.
const BackupSuffix = ".bak"

// WriteFileAtomic writes data to path via a temp file in the same directory
// and a rename, so readers see either the old or the new content.
//
//   - Ensures parent directory exists (0700).
//   - Syncs the temp file before renaming.
//   - Sets perm on the temp file before rename.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// WriteFileWithBackup copies the current content of path (if any) to
// path+BackupSuffix and then replaces path atomically.
func WriteFileWithBackup(path string, data []byte, perm os.FileMode) error {
	prev, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := WriteFileAtomic(path+BackupSuffix, prev, perm); err != nil {
			return err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}
	return WriteFileAtomic(path, data, perm)
}
