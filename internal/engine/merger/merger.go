package merger

import (
	"FlowTagger/internal/model"
)

// Merger folds partial results into a single result by key-wise addition.
// Addition is associative and commutative, so the outcome does not depend on
// the order in which partials arrive. A Merger is not safe for concurrent use;
// the manager feeds it from a single goroutine.
type Merger struct {
	result *model.Result
	merged int
}

// New creates an empty merger.
func New() *Merger {
	return &Merger{
		result: &model.Result{
			TagCounts:  make(model.Counter[string]),
			PairCounts: make(model.Counter[model.PairKey]),
			Malformed:  make(model.Counter[string]),
		},
	}
}

// Add folds p into the running total. p is only read.
func (m *Merger) Add(p *model.Partial) {
	if p == nil {
		return
	}
	m.result.TagCounts.MergeFrom(p.TagCounts)
	m.result.PairCounts.MergeFrom(p.PairCounts)
	m.result.Malformed.MergeFrom(p.Malformed)
	m.result.Records += p.Records
	m.merged++
}

// Merged returns how many partials have been added.
func (m *Merger) Merged() int {
	return m.merged
}

// Result returns the merged result. The merger must not be used afterwards.
func (m *Merger) Result() *model.Result {
	return m.result
}

// Merge combines partials in one call.
func Merge(partials ...*model.Partial) *model.Result {
	m := New()
	for _, p := range partials {
		m.Add(p)
	}
	return m.Result()
}
