// Package suppression parses and evaluates the time windows during which
// a workflow's dispatch is withheld.
package suppression

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Range is a half-inclusive-on-both-ends UTC time window: IsSuppressed
// reports true for any instant in [Min, Max].
type Range struct {
	Min time.Time
	Max time.Time
}

// IsSuppressed reports whether t falls within the range, inclusive of
// both endpoints.
func (r Range) IsSuppressed(t time.Time) bool {
	return !t.Before(r.Min) && !t.After(r.Max)
}

func (r Range) key() time.Time {
	return r.Min
}

// Evaluator answers whether "now" is suppressed across a set of ranges.
// Zero ranges are never suppressed.
type Evaluator struct {
	ranges []Range
}

// NewEvaluator builds an Evaluator from already-parsed ranges.
func NewEvaluator(ranges []Range) Evaluator {
	return Evaluator{ranges: ranges}
}

// IsSuppressed performs a linear scan over the ranges; order does not
// matter for correctness.
func (e Evaluator) IsSuppressed(now time.Time) bool {
	for _, r := range e.ranges {
		if r.IsSuppressed(now) {
			return true
		}
	}
	return false
}

// Ranges returns the evaluator's underlying ranges.
func (e Evaluator) Ranges() []Range {
	return e.ranges
}

// Parse parses a set of raw suppression strings into ranges, dropping
// malformed entries (logging a warning for each, if logger is non-nil)
// and deduplicating ranges that share the same Min, sorted by Min.
func Parse(values []string, logger *zap.Logger) []Range {
	ranges := make([]Range, 0, len(values))
	for _, value := range values {
		r, ok := ParseOne(value)
		if !ok {
			if logger != nil {
				logger.Warn("unable to parse suppression", zap.String("value", value))
			}
			continue
		}
		ranges = append(ranges, r)
	}

	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].key().Before(ranges[j].key())
	})

	return dedupByMin(ranges)
}

func dedupByMin(ranges []Range) []Range {
	deduped := ranges[:0]
	var lastKey time.Time
	haveLast := false
	for _, r := range ranges {
		if haveLast && r.key().Equal(lastKey) {
			continue
		}
		deduped = append(deduped, r)
		lastKey = r.key()
		haveLast = true
	}
	return deduped
}

// ParseOne parses a single suppression string: either "<rfc3339>" (a
// 1-hour window starting at that instant) or "<rfc3339> <rfc3339>" (an
// explicit range, rejected if min > max).
func ParseOne(value string) (Range, bool) {
	parts := strings.Fields(value)
	switch len(parts) {
	case 1:
		min, err := time.Parse(time.RFC3339, parts[0])
		if err != nil {
			return Range{}, false
		}
		min = min.UTC()
		return Range{Min: min, Max: min.Add(time.Hour)}, true
	case 2:
		min, err := time.Parse(time.RFC3339, parts[0])
		if err != nil {
			return Range{}, false
		}
		max, err := time.Parse(time.RFC3339, parts[1])
		if err != nil {
			return Range{}, false
		}
		min, max = min.UTC(), max.UTC()
		if min.After(max) {
			return Range{}, false
		}
		return Range{Min: min, Max: max}, true
	default:
		return Range{}, false
	}
}

// Format renders a range back into the two-timestamp wire form accepted
// by ParseOne, so Parse(Format(r)) round-trips.
func (r Range) Format() string {
	return r.Min.Format(time.RFC3339) + " " + r.Max.Format(time.RFC3339)
}
