package merger

import (
	"maps"
	"math/rand/v2"
	"testing"

	"FlowTagger/internal/model"
)

func partial(chunk int, tags map[string]uint64, pairs map[model.PairKey]uint64) *model.Partial {
	p := model.NewPartial(chunk)
	for k, n := range tags {
		p.TagCounts.Add(k, n)
		p.Records += n
	}
	for k, n := range pairs {
		p.PairCounts.Add(k, n)
	}
	return p
}

func samplePartials() []*model.Partial {
	tcp25 := model.PairKey{DstPort: 25, Protocol: "tcp"}
	tcp443 := model.PairKey{DstPort: 443, Protocol: "tcp"}
	udp53 := model.PairKey{DstPort: 53, Protocol: "udp"}
	icmp0 := model.PairKey{DstPort: 0, Protocol: "icmp"}

	ps := []*model.Partial{
		partial(0, map[string]uint64{"sv_P1": 3, model.UntaggedTag: 1}, map[model.PairKey]uint64{tcp25: 3, udp53: 1}),
		partial(1, map[string]uint64{"sv_P2": 2}, map[model.PairKey]uint64{tcp443: 2}),
		partial(2, map[string]uint64{"sv_P1": 1, "sv_P2": 4}, map[model.PairKey]uint64{tcp25: 1, tcp443: 4}),
		partial(3, map[string]uint64{model.UntaggedTag: 7}, map[model.PairKey]uint64{icmp0: 7}),
		partial(4, nil, nil),
	}
	ps[1].Malformed.Add("too_few_fields", 2)
	ps[3].Malformed.Add("bad_numeric", 1)
	return ps
}

func equalResults(a, b *model.Result) bool {
	return maps.Equal(a.TagCounts, b.TagCounts) &&
		maps.Equal(a.PairCounts, b.PairCounts) &&
		maps.Equal(a.Malformed, b.Malformed) &&
		a.Records == b.Records
}

func TestMerge_Totals(t *testing.T) {
	r := Merge(samplePartials()...)

	if r.Records != 18 {
		t.Errorf("Records = %d, want 18", r.Records)
	}
	if r.TagCounts.Total() != r.Records || r.PairCounts.Total() != r.Records {
		t.Errorf("tag total %d and pair total %d should equal records %d", r.TagCounts.Total(), r.PairCounts.Total(), r.Records)
	}
	if r.TagCounts["sv_P2"] != 6 || r.TagCounts[model.UntaggedTag] != 8 {
		t.Errorf("TagCounts = %v", r.TagCounts)
	}
	// Keys present in a single partial are carried over.
	if r.PairCounts[model.PairKey{DstPort: 0, Protocol: "icmp"}] != 7 {
		t.Errorf("PairCounts = %v, want 0/icmp:7", r.PairCounts)
	}
	if r.MalformedTotal() != 3 {
		t.Errorf("MalformedTotal() = %d, want 3", r.MalformedTotal())
	}
}

func TestMerge_OrderIndependent(t *testing.T) {
	want := Merge(samplePartials()...)
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 50; i++ {
		ps := samplePartials()
		rng.Shuffle(len(ps), func(a, b int) { ps[a], ps[b] = ps[b], ps[a] })
		if got := Merge(ps...); !equalResults(got, want) {
			t.Fatalf("permutation %d produced a different result: %+v vs %+v", i, got, want)
		}
	}
}

func TestMerge_Associative(t *testing.T) {
	ps := samplePartials()
	flat := Merge(ps...)

	// Merge (0,1) and (2,3,4) separately, then merge the two sums.
	left, right := Merge(ps[:2]...), Merge(ps[2:]...)
	nested := Merge(asPartial(left), asPartial(right))

	if !equalResults(flat, nested) {
		t.Errorf("nested merge %+v differs from flat merge %+v", nested, flat)
	}
}

func asPartial(r *model.Result) *model.Partial {
	return &model.Partial{TagCounts: r.TagCounts, PairCounts: r.PairCounts, Malformed: r.Malformed, Records: r.Records}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	ps := samplePartials()
	before := ps[0].TagCounts.Clone()

	Merge(ps...)

	if !maps.Equal(ps[0].TagCounts, before) {
		t.Errorf("partial 0 changed: %v, was %v", ps[0].TagCounts, before)
	}
}

func TestMerger_Incremental(t *testing.T) {
	m := New()
	m.Add(nil)
	for _, p := range samplePartials() {
		m.Add(p)
	}
	if m.Merged() != 5 {
		t.Errorf("Merged() = %d, want 5", m.Merged())
	}
	if !equalResults(m.Result(), Merge(samplePartials()...)) {
		t.Error("incremental merge differs from one-shot merge")
	}
}
