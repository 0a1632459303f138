package aggregator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"FlowTagger/internal/engine/chunk"
	"FlowTagger/internal/engine/lookup"
	"FlowTagger/internal/engine/protocol"
	"FlowTagger/internal/model"
)

func flowLine(port, proto string) string {
	return fmt.Sprintf("2 123456789012 eni-4d3c2b1a 192.168.1.100 203.0.113.101 %s 49154 %s 15 12000 1620140761 1620140821 ACCEPT OK", port, proto)
}

func newAggregator(t *testing.T, rows []lookup.Row, maxLine int) *Aggregator {
	t.Helper()
	schema, err := protocol.LookupSchema(protocol.DefaultSchema)
	if err != nil {
		t.Fatalf("LookupSchema() error = %v", err)
	}
	parser, err := protocol.NewParser(schema)
	if err != nil {
		t.Fatalf("NewParser() error = %v", err)
	}
	return New(lookup.Build(rows), parser, maxLine)
}

func aggregateAll(t *testing.T, a *Aggregator, input string) *model.Partial {
	t.Helper()
	r := strings.NewReader(input)
	partial, err := a.Aggregate(context.Background(), r, chunk.Range{Start: 0, End: int64(len(input))})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	return partial
}

func TestAggregate_Scenario(t *testing.T) {
	a := newAggregator(t, []lookup.Row{
		{Port: "25", Protocol: "tcp", Tag: "sv_P1"},
		{Port: "443", Protocol: "tcp", Tag: "sv_P2"},
	}, 0)
	input := strings.Join([]string{flowLine("25", "6"), flowLine("443", "6"), flowLine("9999", "6")}, "\n") + "\n"

	p := aggregateAll(t, a, input)

	wantTags := map[string]uint64{"sv_P1": 1, "sv_P2": 1, model.UntaggedTag: 1}
	if len(p.TagCounts) != len(wantTags) {
		t.Errorf("TagCounts = %v, want %v", p.TagCounts, wantTags)
	}
	for tag, n := range wantTags {
		if p.TagCounts[tag] != n {
			t.Errorf("TagCounts[%s] = %d, want %d", tag, p.TagCounts[tag], n)
		}
	}
	for _, port := range []uint16{25, 443, 9999} {
		if got := p.PairCounts[model.PairKey{DstPort: port, Protocol: "tcp"}]; got != 1 {
			t.Errorf("PairCounts[%d/tcp] = %d, want 1", port, got)
		}
	}
	if p.Records != 3 {
		t.Errorf("Records = %d, want 3", p.Records)
	}
}

func TestAggregate_CaseInsensitiveLookup(t *testing.T) {
	a := newAggregator(t, []lookup.Row{{Port: "443", Protocol: "TCP", Tag: "sv_P2"}}, 0)

	p := aggregateAll(t, a, flowLine("443", "6")+"\n")

	if p.TagCounts["sv_P2"] != 1 {
		t.Errorf("TagCounts = %v, want sv_P2:1", p.TagCounts)
	}
}

func TestAggregate_UntaggedStillCountsPair(t *testing.T) {
	a := newAggregator(t, nil, 0)

	p := aggregateAll(t, a, flowLine("8080", "17")+"\n"+flowLine("8080", "47"))

	if p.TagCounts[model.UntaggedTag] != 2 {
		t.Errorf("Untagged = %d, want 2", p.TagCounts[model.UntaggedTag])
	}
	if p.PairCounts[model.PairKey{DstPort: 8080, Protocol: "udp"}] != 1 {
		t.Errorf("PairCounts = %v, want 8080/udp:1", p.PairCounts)
	}
	if p.PairCounts[model.PairKey{DstPort: 8080, Protocol: protocol.UnknownProtocol}] != 1 {
		t.Errorf("PairCounts = %v, want 8080/unknown:1", p.PairCounts)
	}
}

func TestAggregate_MalformedLinesDropped(t *testing.T) {
	a := newAggregator(t, []lookup.Row{{Port: "22", Protocol: "tcp", Tag: "ssh"}}, 0)
	input := strings.Join([]string{
		flowLine("22", "6"),
		"2 123 eni-1 10.0.0.1 10.0.0.2 22 1 6 1 1 1 1 ACCEPT", // 13 fields
		flowLine("ssh", "6"),
		flowLine("22", "tcp"),
		"",
		flowLine("22", "6"),
	}, "\n")

	p := aggregateAll(t, a, input)

	if p.Records != 2 || p.TagCounts["ssh"] != 2 {
		t.Errorf("Records = %d, TagCounts = %v, want 2 ssh records", p.Records, p.TagCounts)
	}
	if p.Malformed[protocol.ReasonTooFewFields] != 2 {
		t.Errorf("Malformed[too_few_fields] = %d, want 2", p.Malformed[protocol.ReasonTooFewFields])
	}
	if p.Malformed[protocol.ReasonBadNumeric] != 2 {
		t.Errorf("Malformed[bad_numeric] = %d, want 2", p.Malformed[protocol.ReasonBadNumeric])
	}
	if p.TagCounts.Total() != p.Records || p.PairCounts.Total() != p.Records {
		t.Errorf("tag total %d, pair total %d, records %d should match", p.TagCounts.Total(), p.PairCounts.Total(), p.Records)
	}
}

func TestAggregate_ReadsOnlyItsRange(t *testing.T) {
	a := newAggregator(t, nil, 0)
	first := flowLine("1", "6") + "\n"
	input := first + flowLine("2", "6") + "\n"

	p, err := a.Aggregate(context.Background(), strings.NewReader(input), chunk.Range{Index: 1, Start: int64(len(first)), End: int64(len(input))})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if p.Chunk != 1 || p.Records != 1 || p.PairCounts[model.PairKey{DstPort: 2, Protocol: "tcp"}] != 1 {
		t.Errorf("partial = %+v, want only port 2 from chunk 1", p)
	}
}

func TestAggregate_LineTooLong(t *testing.T) {
	a := newAggregator(t, nil, 64)
	input := flowLine("1", "6") + strings.Repeat("x", 100) + "\n"

	_, err := a.Aggregate(context.Background(), strings.NewReader(input), chunk.Range{Index: 3, End: int64(len(input))})

	var ce *model.ChunkError
	if !errors.As(err, &ce) || ce.Chunk != 3 {
		t.Fatalf("Aggregate() error = %v, want ChunkError for chunk 3", err)
	}
	if !errors.Is(err, bufio.ErrTooLong) || !errors.Is(err, model.ErrChunkRead) {
		t.Errorf("Aggregate() error = %v, want ErrTooLong and ErrChunkRead", err)
	}
}

func TestAggregate_Cancelled(t *testing.T) {
	a := newAggregator(t, nil, 0)
	input := strings.Repeat(flowLine("1", "6")+"\n", cancelCheckEvery+1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Aggregate(ctx, strings.NewReader(input), chunk.Range{End: int64(len(input))})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Aggregate() error = %v, want context.Canceled", err)
	}
}
