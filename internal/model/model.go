package model

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
)

// UntaggedTag is assigned to records whose (port, protocol) pair has no lookup entry.
const UntaggedTag = "Untagged"

// ErrChunkRead marks a failure to read a chunk's byte range.
var ErrChunkRead = errors.New("chunk read failure")

// PairKey identifies a destination port and protocol combination.
// Protocol is always stored lowercase.
type PairKey struct {
	DstPort  uint16
	Protocol string
}

func (k PairKey) String() string {
	return strconv.Itoa(int(k.DstPort)) + "/" + k.Protocol
}

// ComparePairKeys orders keys by port, then protocol.
func ComparePairKeys(a, b PairKey) int {
	if c := cmp.Compare(a.DstPort, b.DstPort); c != 0 {
		return c
	}
	return cmp.Compare(a.Protocol, b.Protocol)
}

// Counter is a frequency table with insert-or-increment semantics.
type Counter[K comparable] map[K]uint64

// Inc adds one to the count of k.
func (c Counter[K]) Inc(k K) {
	c[k]++
}

// Add adds n to the count of k.
func (c Counter[K]) Add(k K, n uint64) {
	c[k] += n
}

// Total returns the sum of all counts.
func (c Counter[K]) Total() uint64 {
	var total uint64
	for _, n := range c {
		total += n
	}
	return total
}

// MergeFrom adds every count of other into c. other is not modified.
func (c Counter[K]) MergeFrom(other Counter[K]) {
	for k, n := range other {
		c[k] += n
	}
}

// Clone returns an independent copy of c.
func (c Counter[K]) Clone() Counter[K] {
	out := make(Counter[K], len(c))
	for k, n := range c {
		out[k] = n
	}
	return out
}

// Partial holds the counts produced from a single chunk.
// It belongs to the worker that built it until it is handed to the merger.
type Partial struct {
	Chunk      int
	TagCounts  Counter[string]
	PairCounts Counter[PairKey]
	Records    uint64
	Malformed  Counter[string] // keyed by malformed reason
}

// NewPartial returns an empty partial for the given chunk index.
func NewPartial(chunk int) *Partial {
	return &Partial{
		Chunk:      chunk,
		TagCounts:  make(Counter[string]),
		PairCounts: make(Counter[PairKey]),
		Malformed:  make(Counter[string]),
	}
}

// LookupStats describes how the lookup table was loaded.
type LookupStats struct {
	Rows        int `json:"rows"`
	Entries     int `json:"entries"`
	InvalidRows int `json:"invalid_rows"`
	Overridden  int `json:"overridden"`
}

// ChunkFailure records a chunk that could not be processed.
type ChunkFailure struct {
	Chunk int    `json:"chunk"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Error string `json:"error"`
}

// Result is the merged outcome of a run. It must not be modified once the merge has completed.
type Result struct {
	TagCounts  Counter[string]
	PairCounts Counter[PairKey]
	Records    uint64
	Malformed  Counter[string]

	Lookup LookupStats

	Chunks       int
	FailedChunks []ChunkFailure
	// Incomplete is set when some chunks failed and the run continued without them.
	Incomplete bool
}

// MalformedTotal returns the number of dropped lines across all reasons.
func (r *Result) MalformedTotal() uint64 {
	return r.Malformed.Total()
}

// Untagged returns how many records fell back to UntaggedTag.
func (r *Result) Untagged() uint64 {
	return r.TagCounts[UntaggedTag]
}

// ChunkError is returned when a chunk's byte range cannot be read.
type ChunkError struct {
	Chunk int
	Start int64
	End   int64
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d [%d,%d): %v", e.Chunk, e.Start, e.End, e.Err)
}

func (e *ChunkError) Unwrap() []error {
	return []error{ErrChunkRead, e.Err}
}
