package report

import (
	"bufio"
	"fmt"
	"log"
	"os"

	"FlowTagger/internal/model"
)

// TextWriter writes the two-section text report to a single file.
type TextWriter struct {
	path  string
	order string
}

// NewTextWriter creates a text writer for path.
func NewTextWriter(path, order string) model.Writer {
	return &TextWriter{path: path, order: order}
}

// Type returns the writer type.
func (w *TextWriter) Type() string {
	return "text"
}

// Write replaces the file at the writer's path with the report for result.
func (w *TextWriter) Write(result *model.Result, timestamp string) error {
	file, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("failed to create report file '%s': %w", w.path, err)
	}

	bw := bufio.NewWriter(file)
	if err := Format(bw, result, w.order); err != nil {
		file.Close()
		return fmt.Errorf("failed to format report: %w", err)
	}
	if err := bw.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("failed to write report file '%s': %w", w.path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close report file '%s': %w", w.path, err)
	}

	log.Printf("Wrote %d tags and %d port/protocol pairs to %s", len(result.TagCounts), len(result.PairCounts), w.path)
	return nil
}

// Close is a no-op; the file is closed after every write.
func (w *TextWriter) Close() error {
	return nil
}
