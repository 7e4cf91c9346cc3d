package jsonreport

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Writer emits scan results as indented JSON.
type Writer struct {
	Path   string    // file to write; empty disables the file
	Stdout io.Writer // optional second destination
}

func New(path string, stdout io.Writer) *Writer { return &Writer{Path: path, Stdout: stdout} }

// Write encodes v to every configured destination. The file is replaced
// atomically so readers never see a partial document.
func (w *Writer) Write(v any) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}
	if w.Path != "" {
		if err := writeAtomic(w.Path, data); err != nil {
			return err
		}
	}
	if w.Stdout != nil {
		if _, err := w.Stdout.Write(data); err != nil {
			return fmt.Errorf("write stdout: %w", err)
		}
	}
	return nil
}

// Marshal renders v with two-space indentation and a trailing newline.
func Marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(data, '\n'), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
