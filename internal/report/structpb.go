package report

import (
	"fmt"

	"FlowTagger/internal/model"

	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct converts a result into a protobuf Struct. The count tables are
// lists in report order so consumers see the same ranking as the text report.
func ToStruct(result *model.Result, order string) (*structpb.Struct, error) {
	tags := make([]any, 0, len(result.TagCounts))
	for _, row := range TagRows(result.TagCounts, order) {
		tags = append(tags, map[string]any{"tag": row.Tag, "count": row.Count})
	}
	pairs := make([]any, 0, len(result.PairCounts))
	for _, row := range PairRows(result.PairCounts, order) {
		pairs = append(pairs, map[string]any{
			"port":     uint32(row.Key.DstPort),
			"protocol": row.Key.Protocol,
			"count":    row.Count,
		})
	}
	malformed := make(map[string]any, len(result.Malformed))
	for reason, n := range result.Malformed {
		malformed[reason] = n
	}
	failed := make([]any, 0, len(result.FailedChunks))
	for _, f := range result.FailedChunks {
		failed = append(failed, map[string]any{
			"chunk": f.Chunk,
			"start": f.Start,
			"end":   f.End,
			"error": f.Error,
		})
	}

	s, err := structpb.NewStruct(map[string]any{
		"tag_counts":  tags,
		"pair_counts": pairs,
		"records":     result.Records,
		"malformed":   malformed,
		"lookup": map[string]any{
			"rows":         result.Lookup.Rows,
			"entries":      result.Lookup.Entries,
			"invalid_rows": result.Lookup.InvalidRows,
			"overridden":   result.Lookup.Overridden,
		},
		"chunks":        result.Chunks,
		"failed_chunks": failed,
		"incomplete":    result.Incomplete,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert result to struct: %w", err)
	}
	return s, nil
}
