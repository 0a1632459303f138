package chunk

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
)

func buildInput(lines int, withTrailingNewline bool) []byte {
	var b strings.Builder
	for i := 0; i < lines; i++ {
		// Vary the line length so boundaries land in different places.
		fmt.Fprintf(&b, "line-%d %s", i, strings.Repeat("x", i%17))
		if i < lines-1 || withTrailingNewline {
			b.WriteByte('\n')
		}
	}
	return []byte(b.String())
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func checkRanges(t *testing.T, data []byte, ranges []Range) {
	t.Helper()
	size := int64(len(data))
	if len(ranges) == 0 {
		t.Fatalf("no ranges for %d bytes", size)
	}
	if ranges[0].Start != 0 {
		t.Errorf("first range starts at %d, want 0", ranges[0].Start)
	}
	if last := ranges[len(ranges)-1]; last.End != size {
		t.Errorf("last range ends at %d, want %d", last.End, size)
	}
	for i, r := range ranges {
		if r.Index != i {
			t.Errorf("range %d has index %d", i, r.Index)
		}
		if r.Len() <= 0 {
			t.Errorf("range %d is empty: %+v", i, r)
		}
		if i > 0 && ranges[i-1].End != r.Start {
			t.Errorf("ranges %d and %d are not contiguous: %+v %+v", i-1, i, ranges[i-1], r)
		}
		if i < len(ranges)-1 && data[r.End-1] != '\n' {
			t.Errorf("range %d does not end on a line boundary: %+v", i, r)
		}
	}
}

func TestSplit_LosslessForAnyChunkCount(t *testing.T) {
	for _, trailing := range []bool{true, false} {
		data := buildInput(500, trailing)
		whole := splitLines(data)

		for desired := 1; desired <= 64; desired++ {
			ranges, err := Split(bytes.NewReader(data), int64(len(data)), desired)
			if err != nil {
				t.Fatalf("Split(%d) error = %v", desired, err)
			}
			checkRanges(t, data, ranges)
			if len(ranges) > desired {
				t.Errorf("Split(%d) returned %d ranges", desired, len(ranges))
			}

			var joined []string
			for _, r := range ranges {
				joined = append(joined, splitLines(data[r.Start:r.End])...)
			}
			if !slices.Equal(joined, whole) {
				t.Fatalf("Split(%d, trailing=%v): chunk lines differ from whole-file lines", desired, trailing)
			}
		}
	}
}

func TestSplit_LongLinesCrossScanWindows(t *testing.T) {
	long := strings.Repeat("a", 3*ScanWindow+7)
	data := []byte(long + "\n" + long + "\nshort\n")

	ranges, err := Split(bytes.NewReader(data), int64(len(data)), 8)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	checkRanges(t, data, ranges)
	if len(ranges) != 3 {
		t.Errorf("len(ranges) = %d, want 3 (one per line)", len(ranges))
	}
}

func TestSplit_SmallInputDegrades(t *testing.T) {
	data := []byte("only one line without newline")
	ranges, err := Split(bytes.NewReader(data), int64(len(data)), 16)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(ranges) != 1 {
		t.Fatalf("len(ranges) = %d, want 1", len(ranges))
	}
	checkRanges(t, data, ranges)
}

func TestSplit_Empty(t *testing.T) {
	ranges, err := Split(bytes.NewReader(nil), 0, 4)
	if err != nil || len(ranges) != 0 {
		t.Errorf("Split(empty) = %v, %v, want no ranges", ranges, err)
	}
}

type failingReaderAt struct{ err error }

func (f failingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return 0, f.err
}

func TestSplit_ReadError(t *testing.T) {
	cause := errors.New("device error")
	_, err := Split(failingReaderAt{cause}, 1<<20, 4)
	if !errors.Is(err, cause) {
		t.Errorf("Split() error = %v, want %v", err, cause)
	}
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		workers  int
		maxChunk int64
		want     int
	}{
		{"one per worker", 1000, 4, 1 << 20, 4},
		{"chunk size bound", 10 << 20, 2, 1 << 20, 10},
		{"tiny input", 3, 8, 1 << 20, 3},
		{"no workers", 100, 0, 0, 1},
		{"empty input", 0, 4, 1 << 20, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Plan(tt.size, tt.workers, tt.maxChunk); got != tt.want {
				t.Errorf("Plan(%d, %d, %d) = %d, want %d", tt.size, tt.workers, tt.maxChunk, got, tt.want)
			}
		})
	}
}
