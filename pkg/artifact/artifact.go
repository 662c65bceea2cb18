// Package artifact writes the files the concierge leaves for others:
// per-detection face crops and the last matched keyword.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CropStore saves face crops as face-<unix nanos>.jpg in a scratch
// directory. Crops are never read back or cleaned up.
type CropStore struct {
	dir string
}

// NewCropStore creates dir if needed.
func NewCropStore(dir string) (*CropStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: crop dir: %w", err)
	}
	return &CropStore{dir: dir}, nil
}

// Dir returns the scratch directory.
func (s *CropStore) Dir() string {
	return s.dir
}

// Save writes one crop keyed by its capture time and returns the path.
// Crops sharing a capture time get a -1, -2, ... suffix.
func (s *CropStore) Save(at time.Time, jpeg []byte) (string, error) {
	base := fmt.Sprintf("face-%d", at.UnixNano())
	for n := 0; ; n++ {
		name := base + ".jpg"
		if n > 0 {
			name = fmt.Sprintf("%s-%d.jpg", base, n)
		}
		path := filepath.Join(s.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("artifact: save crop: %w", err)
		}
		_, err = f.Write(jpeg)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return "", fmt.Errorf("artifact: save crop: %w", err)
		}
		return path, nil
	}
}

// ResultFile is a single-value text record an external consumer polls.
// Each write replaces the previous value atomically.
type ResultFile struct {
	path string
}

// NewResultFile returns a result file at path. Nothing is written until
// the first Write.
func NewResultFile(path string) *ResultFile {
	return &ResultFile{path: path}
}

// Path returns the file location.
func (f *ResultFile) Path() string {
	return f.path
}

// Write stores the trimmed value, creating parent directories as needed.
func (f *ResultFile) Write(value string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifact: result dir: %w", err)
	}

	// Write to a sibling temp file then rename so readers never see a
	// partial value.
	tmp, err := os.CreateTemp(dir, ".result-*")
	if err != nil {
		return fmt.Errorf("artifact: create temp: %w", err)
	}
	if _, err := tmp.WriteString(strings.TrimSpace(value)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("artifact: write result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("artifact: close result: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("artifact: rename result: %w", err)
	}
	return nil
}

// Read returns the current value, or "" if nothing was written yet.
func (f *ResultFile) Read() (string, error) {
	b, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("artifact: read result: %w", err)
	}
	return string(b), nil
}
