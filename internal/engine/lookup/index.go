package lookup

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"FlowTagger/internal/model"
)

var (
	// ErrInvalidRow marks a lookup row that was skipped.
	ErrInvalidRow = errors.New("invalid lookup row")
	// ErrBadHeader is returned when the CSV header lacks a required column.
	ErrBadHeader = errors.New("invalid lookup table header")
)

// Required CSV columns.
const (
	ColumnPort     = "dstport"
	ColumnProtocol = "protocol"
	ColumnTag      = "tag"
)

// Row is one raw entry of the lookup table. Line is the 1-based line number, used in diagnostics.
type Row struct {
	Port     string
	Protocol string
	Tag      string
	Line     int
}

// Index maps (port, protocol) pairs to tags. It is never modified after Build
// returns, so any number of goroutines may call Lookup concurrently.
type Index struct {
	tags  map[model.PairKey]string
	stats model.LookupStats
}

// Build creates an index from rows in table order. Invalid rows are logged,
// counted and skipped. When two rows share a key, the later one wins.
func Build(rows []Row) *Index {
	idx := &Index{tags: make(map[model.PairKey]string, len(rows))}
	for _, row := range rows {
		idx.stats.Rows++
		key, tag, err := normalize(row)
		if err != nil {
			idx.stats.InvalidRows++
			log.Printf("Skipping lookup row: %v", err)
			continue
		}
		if _, exists := idx.tags[key]; exists {
			idx.stats.Overridden++
		}
		idx.tags[key] = tag
	}
	idx.stats.Entries = len(idx.tags)
	return idx
}

// LoadCSV reads a lookup table with a dstport,protocol,tag header. Column names
// are matched case-insensitively and in any order.
func LoadCSV(r io.Reader) (*Index, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty file", ErrBadHeader)
		}
		return nil, fmt.Errorf("failed to read lookup header: %w", err)
	}
	cols := map[string]int{ColumnPort: -1, ColumnProtocol: -1, ColumnTag: -1}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if pos, ok := cols[name]; ok && pos == -1 {
			cols[name] = i
		}
	}
	for name, pos := range cols {
		if pos == -1 {
			return nil, fmt.Errorf("%w: missing column %q", ErrBadHeader, name)
		}
	}

	var rows []Row
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				// Keep the row so it is counted as invalid.
				rows = append(rows, Row{Line: parseErr.Line})
				continue
			}
			return nil, fmt.Errorf("failed to read lookup table: %w", err)
		}
		line, _ := cr.FieldPos(0)
		rows = append(rows, Row{
			Port:     field(record, cols[ColumnPort]),
			Protocol: field(record, cols[ColumnProtocol]),
			Tag:      field(record, cols[ColumnTag]),
			Line:     line,
		})
	}
	return Build(rows), nil
}

func field(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}

func normalize(row Row) (model.PairKey, string, error) {
	port, err := strconv.ParseUint(strings.TrimSpace(row.Port), 10, 16)
	if err != nil {
		return model.PairKey{}, "", fmt.Errorf("%w: line %d: port %q is not in [0, 65535]", ErrInvalidRow, row.Line, row.Port)
	}
	protocol := strings.ToLower(strings.TrimSpace(row.Protocol))
	if protocol == "" {
		return model.PairKey{}, "", fmt.Errorf("%w: line %d: empty protocol", ErrInvalidRow, row.Line)
	}
	tag := strings.TrimSpace(row.Tag)
	if tag == "" {
		return model.PairKey{}, "", fmt.Errorf("%w: line %d: empty tag", ErrInvalidRow, row.Line)
	}
	return model.PairKey{DstPort: uint16(port), Protocol: protocol}, tag, nil
}

// Lookup returns the tag for a port and protocol. Protocol matching ignores case.
func (idx *Index) Lookup(port uint16, protocol string) (string, bool) {
	tag, ok := idx.tags[model.PairKey{DstPort: port, Protocol: lower(protocol)}]
	return tag, ok
}

// Len returns the number of distinct keys.
func (idx *Index) Len() int {
	return len(idx.tags)
}

// Stats reports how the table was loaded.
func (idx *Index) Stats() model.LookupStats {
	return idx.stats
}

// lower avoids an allocation for names that are already lowercase, which is
// every name the parser produces.
func lower(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			return strings.ToLower(s)
		}
	}
	return s
}
