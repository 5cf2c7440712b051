package startab

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Store abstracts table-file persistence. Read returns ErrNotExist when the
// backing file is absent (first run); Write replaces the whole file, there
// is no append or partial-write mode.
type Store interface {
	Read(path string) (*File, error)
	Write(path string, f *File) error
}

// ErrNotExist is returned by Read when no table file exists yet.
var ErrNotExist = errors.New("startab: file does not exist")

// FileStore is the default filesystem-backed Store.
type FileStore struct{}

func (FileStore) Read(path string) (*File, error) {
	b, err := os.ReadFile(path) // #nosec G304 -- path comes from the open project
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("startab: read %s: %w", path, err)
	}
	f, err := Parse(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("startab: parse %s: %w", path, err)
	}
	return f, nil
}

func (FileStore) Write(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("startab: write %s: %w", path, err)
	}
	if err := os.WriteFile(path, f.Marshal(), 0o640); err != nil {
		return fmt.Errorf("startab: write %s: %w", path, err)
	}
	return nil
}
