package deletion

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ArtifactStore moves job artifact directories into the trash namespace.
type ArtifactStore interface {
	// Move relocates src to dst, replacing any prior entry at dst.
	Move(src, dst string) error
}

// DirStore is the filesystem-backed ArtifactStore.
type DirStore struct{}

func (DirStore) Move(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// nothing to move; the scheduler may not have created the dir yet
			return nil
		}
		return fmt.Errorf("deletion: stat %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("deletion: prepare trash %s: %w", dst, err)
	}
	// replace-if-exists: a re-run job reuses its flattened trash key
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("deletion: clear trash entry %s: %w", dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("deletion: move %s to %s: %w", src, dst, err)
	}
	return nil
}
