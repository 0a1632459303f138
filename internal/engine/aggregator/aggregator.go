package aggregator

import (
	"bufio"
	"context"
	"io"

	"FlowTagger/internal/engine/chunk"
	"FlowTagger/internal/engine/lookup"
	"FlowTagger/internal/engine/protocol"
	"FlowTagger/internal/model"
)

const (
	defaultMaxLineBytes = 1 << 20
	readBufferSize      = 64 << 10
	// cancelCheckEvery is how many lines are processed between context checks.
	cancelCheckEvery = 4096
)

// Aggregator counts the records of one chunk at a time. It only reads shared
// state (the index and the parser), so one Aggregator can serve every worker.
type Aggregator struct {
	index        *lookup.Index
	parser       *protocol.Parser
	maxLineBytes int
}

// New creates an aggregator. maxLineBytes bounds the memory used per line.
func New(index *lookup.Index, parser *protocol.Parser, maxLineBytes int) *Aggregator {
	if maxLineBytes <= 0 {
		maxLineBytes = defaultMaxLineBytes
	}
	return &Aggregator{index: index, parser: parser, maxLineBytes: maxLineBytes}
}

// Aggregate reads the lines of rng from r and returns their counts. Malformed
// lines are dropped and counted per reason. A read failure is returned as a
// *model.ChunkError.
func (a *Aggregator) Aggregate(ctx context.Context, r io.ReaderAt, rng chunk.Range) (*model.Partial, error) {
	partial := model.NewPartial(rng.Index)

	scanner := bufio.NewScanner(io.NewSectionReader(r, rng.Start, rng.Len()))
	scanner.Buffer(make([]byte, min(readBufferSize, a.maxLineBytes)), a.maxLineBytes)

	lines := 0
	for scanner.Scan() {
		lines++
		if lines%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, a.chunkError(rng, err)
			}
		}
		a.count(partial, scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return nil, a.chunkError(rng, err)
	}
	return partial, nil
}

func (a *Aggregator) count(partial *model.Partial, line []byte) {
	rec, err := a.parser.Parse(line)
	if err != nil {
		partial.Malformed.Inc(protocol.Reason(err))
		return
	}

	tag, ok := a.index.Lookup(rec.DstPort, rec.Protocol)
	if !ok {
		tag = model.UntaggedTag
	}
	partial.TagCounts.Inc(tag)
	partial.PairCounts.Inc(rec.Key())
	partial.Records++
}

func (a *Aggregator) chunkError(rng chunk.Range, err error) error {
	return &model.ChunkError{Chunk: rng.Index, Start: rng.Start, End: rng.End, Err: err}
}
