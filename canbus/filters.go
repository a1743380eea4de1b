package canbus

import (
	"fmt"
	"strconv"
	"strings"
)

// FrameFilter decides whether a frame should be delivered.
type FrameFilter func(Frame) bool

// ByID returns a filter that matches frames with the exact identifier.
func ByID(id uint32) FrameFilter {
	return func(f Frame) bool { return f.ID == id }
}

// ByIDs returns a filter that matches any of the provided identifiers.
func ByIDs(ids ...uint32) FrameFilter {
	m := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return func(f Frame) bool {
		_, ok := m[f.ID]
		return ok
	}
}

// ByRange matches frames whose ID is within [minID, maxID], inclusive.
func ByRange(minID, maxID uint32) FrameFilter {
	if maxID < minID {
		minID, maxID = maxID, minID
	}
	return func(f Frame) bool { return f.ID >= minID && f.ID <= maxID }
}

// ByMask matches when (frame.ID & mask) == (id & mask).
func ByMask(id uint32, mask uint32) FrameFilter {
	want := id & mask
	return func(f Frame) bool { return (f.ID & mask) == want }
}

// StandardOnly matches standard (11-bit) identifiers.
func StandardOnly() FrameFilter {
	return func(f Frame) bool { return !f.Extended }
}

// ExtendedOnly matches extended (29-bit) identifiers.
func ExtendedOnly() FrameFilter {
	return func(f Frame) bool { return f.Extended }
}

// DataOnly matches data frames: neither RTR nor error frames.
func DataOnly() FrameFilter {
	return func(f Frame) bool { return !f.RTR && !f.Error }
}

// LenAtMost matches frames with data length <= n.
func LenAtMost(n uint8) FrameFilter {
	return func(f Frame) bool { return f.Len <= n }
}

// And composes two filters; the result matches when both match.
func And(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f Frame) bool { return a(f) && b(f) }
	}
}

// Or composes two filters; the result matches when either matches.
func Or(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f Frame) bool { return a(f) || b(f) }
	}
}

// Not inverts a filter.
func Not(a FrameFilter) FrameFilter {
	if a == nil {
		return func(Frame) bool { return false }
	}
	return func(f Frame) bool { return !a(f) }
}

// ParseFilter builds a filter from a comma separated list of hexadecimal
// terms, as used in configuration files:
//
//	7e8          exact identifier
//	100-1ff      inclusive range
//	700/780      id/mask
//
// Terms match standard 11-bit identifiers only; a trailing "x" makes a term
// match extended 29-bit identifiers instead. An empty expression yields a nil
// filter, which accepts everything.
func ParseFilter(expr string) (FrameFilter, error) {
	var out FrameFilter
	for _, raw := range strings.Split(expr, ",") {
		term := strings.ToLower(strings.TrimSpace(raw))
		if term == "" {
			continue
		}
		ext := strings.HasSuffix(term, "x")
		term = strings.TrimSuffix(term, "x")
		limit := uint32(maxStdID)
		if ext {
			limit = maxExtID
		}

		var ff FrameFilter
		switch {
		case strings.Contains(term, "-"):
			lo, hi, _ := strings.Cut(term, "-")
			a, err := parseHexID(lo, limit)
			if err != nil {
				return nil, err
			}
			b, err := parseHexID(hi, limit)
			if err != nil {
				return nil, err
			}
			ff = ByRange(a, b)
		case strings.Contains(term, "/"):
			id, mask, _ := strings.Cut(term, "/")
			a, err := parseHexID(id, limit)
			if err != nil {
				return nil, err
			}
			m, err := parseHexID(mask, maxExtID)
			if err != nil {
				return nil, err
			}
			ff = ByMask(a, m)
		default:
			a, err := parseHexID(term, limit)
			if err != nil {
				return nil, err
			}
			ff = ByID(a)
		}
		if ext {
			ff = And(ExtendedOnly(), ff)
		} else {
			ff = And(StandardOnly(), ff)
		}
		out = Or(out, ff)
	}
	return out, nil
}

func parseHexID(s string, limit uint32) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("canbus: bad identifier %q in filter: %w", s, err)
	}
	if v > uint64(limit) {
		return 0, fmt.Errorf("canbus: identifier %q out of range: %w", s, ErrInvalidID)
	}
	return uint32(v), nil
}
