package flowlog

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.log")
	content := "line one\nline two\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()

	if src.Size() != int64(len(content)) {
		t.Errorf("Size() = %d, want %d", src.Size(), len(content))
	}
	buf := make([]byte, 8)
	if _, err := src.ReadAt(buf, 9); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if string(buf) != "line two" {
		t.Errorf("ReadAt() = %q, want %q", buf, "line two")
	}
	if _, err := src.ReadAt(buf, src.Size()-2); err != io.EOF {
		t.Errorf("ReadAt() past end error = %v, want io.EOF", err)
	}
}

func TestOpen_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()
	if src.Size() != 0 {
		t.Errorf("Size() = %d, want 0", src.Size())
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Open(filepath.Join(dir, "missing.log")); !errors.Is(err, ErrInputNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrInputNotFound", err)
	}
	if _, err := Open(dir); !errors.Is(err, ErrInputUnreadable) {
		t.Errorf("Open(dir) error = %v, want ErrInputUnreadable", err)
	}
	if _, err := OpenFile(filepath.Join(dir, "missing.csv")); !errors.Is(err, ErrInputNotFound) {
		t.Errorf("OpenFile(missing) error = %v, want ErrInputNotFound", err)
	}
}
