package chunk

import (
	"bytes"
	"fmt"
	"io"
)

// ScanWindow is how many bytes are read at a time while looking for a line end.
const ScanWindow = 4 << 10

// Range is a half-open byte range [Start, End) of the input assigned to one worker.
type Range struct {
	Index int
	Start int64
	End   int64
}

// Len returns the number of bytes in the range.
func (r Range) Len() int64 {
	return r.End - r.Start
}

// Plan picks how many chunks an input of the given size is cut into: at least
// one per worker, more if a chunk would otherwise exceed maxChunkBytes, and
// never more chunks than bytes.
func Plan(size int64, workers int, maxChunkBytes int64) int {
	n := max(workers, 1)
	if maxChunkBytes > 0 {
		n = max(n, int((size+maxChunkBytes-1)/maxChunkBytes))
	}
	if size > 0 && int64(n) > size {
		n = int(size)
	}
	return n
}

// Split cuts [0, size) into at most desired contiguous ranges. Every boundary
// is moved forward to the start of the next line so that no line spans two
// ranges. Boundaries that collapse onto each other are merged, so small inputs
// yield fewer ranges. The last range always ends at size.
func Split(r io.ReaderAt, size int64, desired int) ([]Range, error) {
	if size <= 0 {
		return nil, nil
	}
	desired = max(desired, 1)
	if int64(desired) > size {
		desired = int(size)
	}

	buf := make([]byte, ScanWindow)
	ranges := make([]Range, 0, desired)
	start := int64(0)
	for i := 1; i < desired; i++ {
		nominal := size / int64(desired) * int64(i)
		if nominal <= start {
			continue
		}
		end, err := nextLineStart(r, nominal-1, size, buf)
		if err != nil {
			return nil, err
		}
		if end >= size {
			break
		}
		ranges = append(ranges, Range{Index: len(ranges), Start: start, End: end})
		start = end
	}
	ranges = append(ranges, Range{Index: len(ranges), Start: start, End: size})
	return ranges, nil
}

// nextLineStart returns the offset just past the first '\n' at or after from,
// or size if there is none.
func nextLineStart(r io.ReaderAt, from, size int64, buf []byte) (int64, error) {
	for off := from; off < size; {
		want := min(int64(len(buf)), size-off)
		n, err := r.ReadAt(buf[:want], off)
		if i := bytes.IndexByte(buf[:n], '\n'); i >= 0 {
			return off + int64(i) + 1, nil
		}
		if err != nil && err != io.EOF {
			return 0, fmt.Errorf("failed to scan for line end at offset %d: %w", off, err)
		}
		if n == 0 {
			break
		}
		off += int64(n)
	}
	return size, nil
}
