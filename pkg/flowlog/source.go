package flowlog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/exp/mmap"
)

var (
	// ErrInputNotFound is returned when an input path does not exist.
	ErrInputNotFound = errors.New("input file not found")
	// ErrInputUnreadable is returned when an input path exists but cannot be read.
	ErrInputUnreadable = errors.New("input file unreadable")
)

// Source is a memory-mapped, read-only flow log. It is safe for concurrent
// ReadAt calls, so every worker reads its own chunk without copying the file.
type Source struct {
	path string
	r    *mmap.ReaderAt
}

// Open maps the flow log at path.
func Open(path string) (*Source, error) {
	if err := checkFile(path); err != nil {
		return nil, err
	}
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInputUnreadable, path, err)
	}
	return &Source{path: path, r: r}, nil
}

// ReadAt implements io.ReaderAt.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	return s.r.ReadAt(p, off)
}

// Size returns the length of the flow log in bytes.
func (s *Source) Size() int64 {
	return int64(s.r.Len())
}

// Path returns the path the source was opened from.
func (s *Source) Path() string {
	return s.path
}

// Close unmaps the file.
func (s *Source) Close() error {
	return s.r.Close()
}

// OpenFile opens a small input such as the lookup table for streaming reads,
// classifying failures the same way Open does.
func OpenFile(path string) (*os.File, error) {
	if err := checkFile(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInputUnreadable, path, err)
	}
	return f, nil
}

func checkFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrInputNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInputUnreadable, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInputUnreadable, path)
	}
	return nil
}
