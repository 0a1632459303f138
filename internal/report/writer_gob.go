package report

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"FlowTagger/internal/model"
)

const (
	tagsFile    = "tags.dat"
	pairsFile   = "pairs.dat"
	summaryFile = "summary.json"
)

// SummaryData holds the metadata of a snapshot.
type SummaryData struct {
	Records      uint64               `json:"records"`
	Malformed    map[string]uint64    `json:"malformed"`
	Untagged     uint64               `json:"untagged"`
	Tags         int                  `json:"tags"`
	Pairs        int                  `json:"pairs"`
	Lookup       model.LookupStats    `json:"lookup"`
	Chunks       int                  `json:"chunks"`
	FailedChunks []model.ChunkFailure `json:"failed_chunks,omitempty"`
	Incomplete   bool                 `json:"incomplete"`
	Timestamp    string               `json:"timestamp"`
}

// GobWriter writes a result snapshot to <root>/<timestamp>/ in gob format,
// together with a JSON summary.
type GobWriter struct {
	rootPath string
}

// NewGobWriter creates a new snapshot writer rooted at rootPath.
func NewGobWriter(rootPath string) model.Writer {
	return &GobWriter{rootPath: rootPath}
}

// Type returns the writer type.
func (w *GobWriter) Type() string {
	return "gob"
}

// Write serializes the result into a timestamped snapshot directory.
func (w *GobWriter) Write(result *model.Result, timestamp string) error {
	// 1. Create timestamped directory
	snapshotDir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	// 2. Write both count tables
	if err := encodeFile(filepath.Join(snapshotDir, tagsFile), result.TagCounts); err != nil {
		return err
	}
	if err := encodeFile(filepath.Join(snapshotDir, pairsFile), result.PairCounts); err != nil {
		return err
	}

	// 3. Write summary file
	summary := SummaryData{
		Records:      result.Records,
		Malformed:    result.Malformed,
		Untagged:     result.Untagged(),
		Tags:         len(result.TagCounts),
		Pairs:        len(result.PairCounts),
		Lookup:       result.Lookup,
		Chunks:       result.Chunks,
		FailedChunks: result.FailedChunks,
		Incomplete:   result.Incomplete,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	summaryFilePath := filepath.Join(snapshotDir, summaryFile)
	file, err := os.Create(summaryFilePath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	jsonEncoder := json.NewEncoder(file)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return file.Close()
}

// Close is a no-op.
func (w *GobWriter) Close() error {
	return nil
}

func encodeFile(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", path, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(v); err != nil {
		return fmt.Errorf("failed to encode gob for file '%s': %w", path, err)
	}
	return file.Close()
}

func decodeFile(path string, v any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file '%s': %w", path, err)
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("failed to decode gob file '%s': %w", path, err)
	}
	return nil
}

// ReadSnapshot loads a snapshot directory written by GobWriter.
func ReadSnapshot(dir string) (*model.Result, error) {
	data, err := os.ReadFile(filepath.Join(dir, summaryFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	var summary SummaryData
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to parse summary: %w", err)
	}

	result := &model.Result{
		TagCounts:    make(model.Counter[string]),
		PairCounts:   make(model.Counter[model.PairKey]),
		Malformed:    model.Counter[string](summary.Malformed),
		Records:      summary.Records,
		Lookup:       summary.Lookup,
		Chunks:       summary.Chunks,
		FailedChunks: summary.FailedChunks,
		Incomplete:   summary.Incomplete,
	}
	if result.Malformed == nil {
		result.Malformed = make(model.Counter[string])
	}
	if err := decodeFile(filepath.Join(dir, tagsFile), &result.TagCounts); err != nil {
		return nil, err
	}
	if err := decodeFile(filepath.Join(dir, pairsFile), &result.PairCounts); err != nil {
		return nil, err
	}
	return result, nil
}
