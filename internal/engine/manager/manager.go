package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"sync"
	"time"

	"FlowTagger/internal/config"
	"FlowTagger/internal/engine/aggregator"
	"FlowTagger/internal/engine/chunk"
	"FlowTagger/internal/engine/lookup"
	"FlowTagger/internal/engine/merger"
	"FlowTagger/internal/engine/protocol"
	"FlowTagger/internal/model"
)

// aggregateFunc processes one chunk. It is a field so tests can inject failures.
type aggregateFunc func(ctx context.Context, r io.ReaderAt, rng chunk.Range) (*model.Partial, error)

// Manager runs the chunked pipeline: split, aggregate on a bounded worker
// pool, and merge partial results as they arrive.
type Manager struct {
	index     *lookup.Index
	aggregate aggregateFunc

	numWorkers    int
	maxChunkBytes int64
	failurePolicy string
}

// outcome is what a worker reports for one chunk.
type outcome struct {
	rng     chunk.Range
	partial *model.Partial
	err     error
}

// NewManager creates a new Manager.
func NewManager(cfg config.PipelineConfig, index *lookup.Index, parser *protocol.Parser) (*Manager, error) {
	if index == nil || parser == nil {
		return nil, errors.New("manager needs a lookup index and a parser")
	}
	if cfg.NumWorkers <= 0 {
		return nil, fmt.Errorf("num_workers must be positive, got %d", cfg.NumWorkers)
	}
	switch cfg.OnChunkFailure {
	case config.FailureAbort, config.FailureContinue:
	default:
		return nil, fmt.Errorf("unknown chunk failure policy %q", cfg.OnChunkFailure)
	}

	agg := aggregator.New(index, parser, cfg.MaxLineBytes)
	return &Manager{
		index:         index,
		aggregate:     agg.Aggregate,
		numWorkers:    cfg.NumWorkers,
		maxChunkBytes: cfg.MaxChunkBytes,
		failurePolicy: cfg.OnChunkFailure,
	}, nil
}

// Run processes the size bytes of r and returns the merged result.
//
// With the abort policy the first chunk failure cancels the chunks still
// pending and Run returns the joined chunk errors. With the continue policy
// failed chunks are listed in the result, which is marked Incomplete.
func (m *Manager) Run(ctx context.Context, r io.ReaderAt, size int64) (*model.Result, error) {
	started := time.Now()

	desired := chunk.Plan(size, m.numWorkers, m.maxChunkBytes)
	ranges, err := chunk.Split(r, size, desired)
	if err != nil {
		return nil, fmt.Errorf("failed to split input into chunks: %w", err)
	}
	workers := max(1, min(m.numWorkers, len(ranges)))
	log.Printf("Processing %d bytes in %d chunks with %d workers.", size, len(ranges), workers)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan chunk.Range)
	outcomes := make(chan outcome, workers)

	var workerWg sync.WaitGroup
	workerWg.Add(workers)
	for i := 0; i < workers; i++ {
		go m.worker(runCtx, r, tasks, outcomes, &workerWg)
	}

	go func() {
		defer close(tasks)
		for _, rng := range ranges {
			select {
			case tasks <- rng:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		workerWg.Wait()
		close(outcomes)
	}()

	// Partials are folded here, on a single goroutine, as soon as they arrive.
	mg := merger.New()
	var failures []model.ChunkFailure
	var chunkErrs []error
	aborted := false
	for out := range outcomes {
		if out.err == nil {
			mg.Add(out.partial)
			continue
		}
		if aborted && errors.Is(out.err, context.Canceled) {
			continue
		}
		log.Printf("Chunk %d [%d,%d) failed: %v", out.rng.Index, out.rng.Start, out.rng.End, out.err)
		failures = append(failures, model.ChunkFailure{
			Chunk: out.rng.Index,
			Start: out.rng.Start,
			End:   out.rng.End,
			Error: out.err.Error(),
		})
		chunkErrs = append(chunkErrs, out.err)
		if m.failurePolicy == config.FailureAbort && !aborted {
			aborted = true
			cancel()
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run cancelled: %w", err)
	}
	if aborted {
		return nil, fmt.Errorf("aborting run after %d failed chunk(s): %w", len(chunkErrs), errors.Join(chunkErrs...))
	}

	slices.SortFunc(failures, func(a, b model.ChunkFailure) int { return a.Chunk - b.Chunk })

	result := mg.Result()
	result.Lookup = m.index.Stats()
	result.Chunks = len(ranges)
	result.FailedChunks = failures
	result.Incomplete = len(failures) > 0

	log.Printf("Merged %d of %d chunks in %s: %d records, %d malformed lines.",
		mg.Merged(), len(ranges), time.Since(started).Round(time.Millisecond), result.Records, result.MalformedTotal())
	if result.Incomplete {
		log.Printf("Warning: result is incomplete, %d chunk(s) were skipped.", len(failures))
	}
	return result, nil
}

// worker aggregates chunks until the task channel is closed or the run is cancelled.
func (m *Manager) worker(ctx context.Context, r io.ReaderAt, tasks <-chan chunk.Range, outcomes chan<- outcome, wg *sync.WaitGroup) {
	defer wg.Done()
	for rng := range tasks {
		if ctx.Err() != nil {
			return
		}
		partial, err := m.aggregate(ctx, r, rng)
		outcomes <- outcome{rng: rng, partial: partial, err: err}
	}
}

// Workers returns the size of the worker pool.
func (m *Manager) Workers() int {
	return m.numWorkers
}
