package store

import (
	"context"
	"log"

	"FlowTagger/internal/config"
	"FlowTagger/internal/model"
)

// Writer saves every result it is given as a new run.
type Writer struct {
	store *Store
}

// NewWriter opens the store configured in cfg.
func NewWriter(cfg config.SQLiteConfig) (model.Writer, error) {
	s, err := Open(cfg.Path)
	if err != nil {
		return nil, err
	}
	return &Writer{store: s}, nil
}

// Type returns the writer type.
func (w *Writer) Type() string {
	return "sqlite"
}

// Write stores the result.
func (w *Writer) Write(result *model.Result, timestamp string) error {
	id, err := w.store.SaveRun(context.Background(), timestamp, result)
	if err != nil {
		return err
	}
	log.Printf("Saved run %d to %s", id, w.store.Path())
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.store.Close()
}
