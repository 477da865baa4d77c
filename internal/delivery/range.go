// Package delivery serves chapter audio over HTTP with byte-range support so
// players can seek without downloading the whole chapter.
package delivery

import (
	"fmt"
	"strconv"
	"strings"
)

// Range is an inclusive byte span.
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in r.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats r for the Content-Range header of a size-byte object.
func (r Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseRange validates a single "bytes=<start>-<end>" header against size.
// Either bound may be omitted: a missing start means 0 and a missing end
// means size-1. ok is false for anything unsatisfiable or malformed, in which
// case the caller serves the full content.
func ParseRange(header string, size int64) (Range, bool) {
	header = strings.TrimSpace(header)
	if header == "" || size <= 0 {
		return Range{}, false
	}
	rangeSet, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(rangeSet, ",") {
		return Range{}, false
	}
	startRaw, endRaw, found := strings.Cut(rangeSet, "-")
	if !found {
		return Range{}, false
	}
	startRaw = strings.TrimSpace(startRaw)
	endRaw = strings.TrimSpace(endRaw)
	if startRaw == "" && endRaw == "" {
		return Range{}, false
	}

	r := Range{Start: 0, End: size - 1}
	if startRaw != "" {
		v, ok := parseOffset(startRaw)
		if !ok {
			return Range{}, false
		}
		r.Start = v
	}
	if endRaw != "" {
		v, ok := parseOffset(endRaw)
		if !ok {
			return Range{}, false
		}
		r.End = v
	}
	if r.Start >= size || r.End >= size || r.Start > r.End {
		return Range{}, false
	}
	return r, true
}

func parseOffset(s string) (int64, bool) {
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
