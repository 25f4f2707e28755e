package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Span is the slice of a media file answered by a 206 response.
type Span struct {
	Offset int64
	Length int64
}

// Last is the inclusive index of the final byte.
func (s Span) Last() int64 {
	return s.Offset + s.Length - 1
}

// Header formats the Content-Range value for a file of total bytes.
func (s Span) Header(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", s.Offset, s.Last(), total)
}

// ParseRange resolves a Range header against a file of size bytes. ok is false when the
// header is absent and the whole file should be sent. Only the first range of a
// multi-range request is honored; media elements never send more than one.
func ParseRange(header string, size int64) (span Span, ok bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Span{}, false, nil
	}

	set, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return Span{}, false, ErrInvalidRange
	}
	set, _, _ = strings.Cut(set, ",")
	from, to, found := strings.Cut(strings.TrimSpace(set), "-")
	if !found {
		return Span{}, false, ErrInvalidRange
	}

	if from == "" {
		return suffixSpan(to, size)
	}

	first, err := strconv.ParseInt(from, 10, 64)
	if err != nil || first < 0 {
		return Span{}, false, ErrInvalidRange
	}
	last := size - 1
	if to != "" {
		if last, err = strconv.ParseInt(to, 10, 64); err != nil || last < first {
			return Span{}, false, ErrInvalidRange
		}
	}
	if first >= size {
		return Span{}, false, ErrUnsatisfiable
	}
	last = min(last, size-1)
	return Span{Offset: first, Length: last - first + 1}, true, nil
}

// suffixSpan handles "bytes=-N", the tail a player asks for to find a trailing moov atom.
func suffixSpan(n string, size int64) (Span, bool, error) {
	tail, err := strconv.ParseInt(n, 10, 64)
	if err != nil || tail <= 0 {
		return Span{}, false, ErrInvalidRange
	}
	if size == 0 {
		return Span{}, false, ErrUnsatisfiable
	}
	tail = min(tail, size)
	return Span{Offset: size - tail, Length: tail}, true, nil
}
