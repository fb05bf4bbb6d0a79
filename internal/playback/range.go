package playback

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Span is an inclusive byte interval of a media object.
type Span struct {
	First int64
	Last  int64
}

// Len is the number of bytes in the span.
func (s Span) Len() int64 {
	return s.Last - s.First + 1
}

// ContentRange formats the span for a 206 response.
func (s Span) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", s.First, s.Last, size)
}

// Section returns a reader limited to the span of rs.
func (s Span) Section(rs io.ReadSeeker) (io.Reader, error) {
	if _, err := rs.Seek(s.First, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to %d: %w", s.First, err)
	}
	return io.LimitReader(rs, s.Len()), nil
}

// ParseSpan reads a Range header against an object of size bytes. ok is
// false when no range was requested. Media elements only ever ask for one
// range, so a multi-range header is answered with its first range.
func ParseSpan(header string, size int64) (span Span, ok bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Span{}, false, nil
	}

	spec, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return Span{}, false, ErrInvalidRange
	}
	spec, _, _ = strings.Cut(spec, ",")
	from, to, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return Span{}, false, ErrInvalidRange
	}

	if from == "" {
		// Suffix form: the last n bytes.
		n, err := strconv.ParseInt(to, 10, 64)
		if err != nil || n <= 0 {
			return Span{}, false, ErrInvalidRange
		}
		if size == 0 {
			return Span{}, false, ErrUnsatisfiable
		}
		return Span{First: max(size-n, 0), Last: size - 1}, true, nil
	}

	first, err := strconv.ParseInt(from, 10, 64)
	if err != nil || first < 0 {
		return Span{}, false, ErrInvalidRange
	}
	last := size - 1
	if to != "" {
		last, err = strconv.ParseInt(to, 10, 64)
		if err != nil {
			return Span{}, false, ErrInvalidRange
		}
		if last < first {
			return Span{}, false, ErrUnsatisfiable
		}
	}
	if first >= size {
		return Span{}, false, ErrUnsatisfiable
	}
	return Span{First: first, Last: min(last, size-1)}, true, nil
}
