package report

import (
	"cmp"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"strconv"
	"time"

	"FlowTagger/internal/config"
	"FlowTagger/internal/model"
)

// ErrOutputWrite marks a failure to write one of the configured outputs.
var ErrOutputWrite = errors.New("output write failed")

// TimestampLayout is the layout of the timestamp handed to every writer.
const TimestampLayout = "2006-01-02_15-04-05"

// Timestamp formats t for use by writers.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// TagRow is one line of the tag section.
type TagRow struct {
	Tag   string
	Count uint64
}

// PairRow is one line of the port/protocol section.
type PairRow struct {
	Key   model.PairKey
	Count uint64
}

// TagRows returns the tag counts in report order.
func TagRows(counts model.Counter[string], order string) []TagRow {
	rows := make([]TagRow, 0, len(counts))
	for tag, n := range counts {
		rows = append(rows, TagRow{Tag: tag, Count: n})
	}
	slices.SortFunc(rows, func(a, b TagRow) int {
		if order == config.OrderCount {
			if c := cmp.Compare(b.Count, a.Count); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.Tag, b.Tag)
	})
	return rows
}

// PairRows returns the pair counts in report order.
func PairRows(counts model.Counter[model.PairKey], order string) []PairRow {
	rows := make([]PairRow, 0, len(counts))
	for key, n := range counts {
		rows = append(rows, PairRow{Key: key, Count: n})
	}
	slices.SortFunc(rows, func(a, b PairRow) int {
		if order == config.OrderCount {
			if c := cmp.Compare(b.Count, a.Count); c != 0 {
				return c
			}
		}
		return model.ComparePairKeys(a.Key, b.Key)
	})
	return rows
}

// Format writes the two-section text report.
func Format(w io.Writer, result *model.Result, order string) error {
	cw := csv.NewWriter(w)

	if _, err := io.WriteString(w, "Tag Counts:\n"); err != nil {
		return err
	}
	cw.Write([]string{"Tag", "Count"})
	for _, row := range TagRows(result.TagCounts, order) {
		cw.Write([]string{row.Tag, strconv.FormatUint(row.Count, 10)})
	}
	// The section break is not a CSV record.
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	if _, err := io.WriteString(w, "\nPort/Protocol Combination Counts:\n"); err != nil {
		return err
	}
	cw.Write([]string{"Port", "Protocol", "Count"})
	for _, row := range PairRows(result.PairCounts, order) {
		cw.Write([]string{strconv.Itoa(int(row.Key.DstPort)), row.Key.Protocol, strconv.FormatUint(row.Count, 10)})
	}
	cw.Flush()
	return cw.Error()
}

// WriteAll hands the result to every writer. A failing writer does not stop
// the others; all failures are returned together, marked with ErrOutputWrite.
func WriteAll(writers []model.Writer, result *model.Result, timestamp string) error {
	var errs []error
	for _, w := range writers {
		if err := w.Write(result, timestamp); err != nil {
			log.Printf("Writer '%s' failed: %v", w.Type(), err)
			errs = append(errs, fmt.Errorf("%w: %s writer: %w", ErrOutputWrite, w.Type(), err))
		}
	}
	return errors.Join(errs...)
}

// CloseAll closes every writer and joins the errors.
func CloseAll(writers []model.Writer) error {
	var errs []error
	for _, w := range writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s writer: %w", w.Type(), err))
		}
	}
	return errors.Join(errs...)
}
