package codec

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/embedkit/internal/vector"
)

// WriteFile atomically replaces path with the encoding of c.
//
// The data is written to a temporary file in the same directory, synced and
// renamed over path, so readers see either the old file or the new one.
func WriteFile(path string, c *vector.Collection) error {
	data, err := Encode(c)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming to %s: %w", path, err)
	}
	return nil
}

// ReadFile decodes the collection stored at path.
func ReadFile(path string) (*vector.Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return c, nil
}

// FileWriter streams records into a file.
type FileWriter struct {
	*Writer
	f *os.File
}

// CreateFile creates (or truncates) path and returns a streaming writer for
// a collection with header h. Parent directories are created as needed.
func CreateFile(path string, h vector.Header) (*FileWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, h)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileWriter{Writer: w, f: f}, nil
}

// Path returns the file name.
func (fw *FileWriter) Path() string {
	return fw.f.Name()
}

// Close flushes pending records, syncs and closes the file.
func (fw *FileWriter) Close() error {
	flushErr := fw.Flush()
	syncErr := fw.f.Sync()
	closeErr := fw.f.Close()
	switch {
	case flushErr != nil:
		return flushErr
	case syncErr != nil:
		return fmt.Errorf("syncing %s: %w", fw.f.Name(), syncErr)
	case closeErr != nil:
		return fmt.Errorf("closing %s: %w", fw.f.Name(), closeErr)
	}
	return nil
}
