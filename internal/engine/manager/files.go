package manager

import (
	"context"
	"fmt"
	"log"

	"FlowTagger/internal/config"
	"FlowTagger/internal/engine/lookup"
	"FlowTagger/internal/engine/protocol"
	"FlowTagger/internal/model"
	"FlowTagger/pkg/flowlog"
)

// LoadLookupTable reads and indexes the lookup table CSV at path.
func LoadLookupTable(path string) (*lookup.Index, error) {
	file, err := flowlog.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	index, err := lookup.LoadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load lookup table '%s': %w", path, err)
	}
	stats := index.Stats()
	log.Printf("Loaded %d lookup entries from %s (%d rows, %d invalid, %d overridden).",
		stats.Entries, path, stats.Rows, stats.InvalidRows, stats.Overridden)
	return index, nil
}

// AnalyzeFiles runs the whole pipeline over the flow log at flowLogPath
// using the lookup table at lookupPath. Both inputs are opened before any
// parallel work starts.
func AnalyzeFiles(ctx context.Context, cfg config.PipelineConfig, flowLogPath, lookupPath string) (*model.Result, error) {
	// 1. Resolve the record layout
	schema, err := protocol.LookupSchema(cfg.Schema)
	if err != nil {
		return nil, err
	}
	parser, err := protocol.NewParser(schema)
	if err != nil {
		return nil, err
	}

	// 2. Open both inputs
	source, err := flowlog.Open(flowLogPath)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	index, err := LoadLookupTable(lookupPath)
	if err != nil {
		return nil, err
	}

	// 3. Run the chunked pipeline
	m, err := NewManager(cfg, index, parser)
	if err != nil {
		return nil, err
	}
	return m.Run(ctx, source, source.Size())
}
