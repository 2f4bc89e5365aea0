package media

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ByteRange is an inclusive span of byte offsets [Start, End].
type ByteRange struct {
	Start uint64
	End   uint64
}

// Len returns the number of bytes in the span.
// Callers must check Valid first; an inverted span has no length.
func (r ByteRange) Len() uint64 {
	return r.End - r.Start + 1
}

// Valid reports whether the span is ordered and fits in a resource of size bytes.
func (r ByteRange) Valid(size uint64) bool {
	return r.Start <= r.End && r.End < size
}

// ContentRange formats the Content-Range header value for a 206 response.
func (r ByteRange) ContentRange(size uint64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// rangePattern matches only the start of the value, so a multi-range header
// is served as its first span.
var rangePattern = regexp.MustCompile(`^bytes=(\d+)-(\d*)`)

// ParseRange parses a Range header against a resource of size bytes.
//
// An empty or non-matching header returns (nil, nil) and the caller serves
// the whole resource. A matching header whose start or end falls outside the
// resource returns ErrBadRange. Ordering of start and end is not checked.
func ParseRange(header string, size uint64) (*ByteRange, error) {
	m := rangePattern.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return nil, nil
	}

	start, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		// digits only, so the value overflowed and is past any real file
		return nil, fmt.Errorf("%w: start %s", ErrBadRange, m[1])
	}
	if start >= size {
		return nil, fmt.Errorf("%w: start %d beyond size %d", ErrBadRange, start, size)
	}

	end := size - 1
	if m[2] != "" {
		end, err = strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: end %s", ErrBadRange, m[2])
		}
	}
	if end >= size {
		return nil, fmt.Errorf("%w: end %d beyond size %d", ErrBadRange, end, size)
	}

	return &ByteRange{Start: start, End: end}, nil
}
