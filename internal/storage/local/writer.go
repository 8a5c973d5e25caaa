// Package local implements the local filesystem writer, the durability floor
// of every save.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const indent = "    "

// Writer stores values as indented JSON files.
type Writer struct{}

// New creates a local Writer.
func New() *Writer {
	return &Writer{}
}

// Save encodes data as indented JSON and replaces path atomically. Parent
// directories are created as needed.
func (w *Writer) Save(_ context.Context, path string, data any) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is required")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Load returns the file contents, or false if the file is missing or unreadable.
func (w *Writer) Load(_ context.Context, path string) ([]byte, bool) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Delete removes path. A missing file is not an error.
func (w *Writer) Delete(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
