// Package interval defines the abusive-interval value type shared between the
// detection stage and the censoring operators, together with the merge, pad,
// and complement arithmetic the pipeline relies on.
//
// An Interval is a half-open real-number time range [Start, End) in seconds,
// relative to the beginning of the input media. Lists returned from [Merge]
// and [Pad] are sorted by Start and strictly disjoint, which is the contract
// the censor operators assume.
package interval

import (
	"fmt"
	"sort"
)

// Method records which detector branch produced an interval.
type Method string

const (
	MethodRegex    Method = "regex"
	MethodML       Method = "ml"
	MethodEnsemble Method = "ensemble"
)

// Interval is a single region of the input media flagged for censoring.
type Interval struct {
	// Start and End are seconds from the beginning of the input. 0 ≤ Start < End.
	Start float64
	End   float64

	// Confidence is the detector confidence in [0, 1].
	Confidence float64

	// Method is the detector branch that produced this interval.
	Method Method

	// MatchedWords lists the surface forms that triggered the flag.
	MatchedWords []string

	// SegmentID identifies the transcript segment this interval came from.
	SegmentID string
}

// Duration returns End − Start.
func (iv Interval) Duration() float64 { return iv.End - iv.Start }

// Validate reports whether the interval bounds are well-formed.
func (iv Interval) Validate() error {
	if iv.Start < 0 {
		return fmt.Errorf("interval: start %.3f is negative", iv.Start)
	}
	if iv.End <= iv.Start {
		return fmt.Errorf("interval: end %.3f is not after start %.3f", iv.End, iv.Start)
	}
	return nil
}

// Range is a plain time range without detection metadata, used for the
// complement computation consumed by cut mode.
type Range struct {
	Start float64
	End   float64
}

// Duration returns End − Start.
func (r Range) Duration() float64 { return r.End - r.Start }

// Merge sorts ivs by start time and coalesces intervals that overlap or whose
// gap is smaller than gap seconds. The merged interval keeps the union of
// MatchedWords, the maximum Confidence, and the Method of the earlier
// interval unless the branches differ, in which case it becomes
// [MethodEnsemble]. The input slice is not modified; the result is sorted and
// strictly disjoint.
func Merge(ivs []Interval, gap float64) []Interval {
	if len(ivs) == 0 {
		return nil
	}

	sorted := make([]Interval, len(ivs))
	copy(sorted, ivs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	out := make([]Interval, 0, len(sorted))
	cur := cloneInterval(sorted[0])
	for _, iv := range sorted[1:] {
		if iv.Start-cur.End < gap || iv.Start <= cur.End {
			// Overlapping or within the merge gap: coalesce.
			if iv.End > cur.End {
				cur.End = iv.End
			}
			if iv.Confidence > cur.Confidence {
				cur.Confidence = iv.Confidence
			}
			cur.MatchedWords = appendUnique(cur.MatchedWords, iv.MatchedWords...)
			if iv.Method != cur.Method {
				cur.Method = MethodEnsemble
			}
			continue
		}
		out = append(out, cur)
		cur = cloneInterval(iv)
	}
	return append(out, cur)
}

// Pad expands every interval by before seconds on the left and after seconds
// on the right, clips the result to [0, max], and re-merges so the output
// stays strictly disjoint. max ≤ 0 means no upper clip.
func Pad(ivs []Interval, before, after, max float64) []Interval {
	if len(ivs) == 0 {
		return nil
	}
	padded := make([]Interval, 0, len(ivs))
	for _, iv := range ivs {
		iv.Start -= before
		iv.End += after
		if iv.Start < 0 {
			iv.Start = 0
		}
		if max > 0 && iv.End > max {
			iv.End = max
		}
		if iv.End <= iv.Start {
			continue
		}
		padded = append(padded, iv)
	}
	return Merge(padded, 0)
}

// Complement returns the parts of [0, total] not covered by ivs, in order.
// ivs must be sorted and disjoint (the [Merge] postcondition). Ranges shorter
// than 1 ms are dropped to avoid zero-length ffmpeg trims from floating-point
// residue.
func Complement(ivs []Interval, total float64) []Range {
	const minRange = 0.001

	var out []Range
	cursor := 0.0
	for _, iv := range ivs {
		if iv.Start-cursor >= minRange {
			out = append(out, Range{Start: cursor, End: iv.Start})
		}
		if iv.End > cursor {
			cursor = iv.End
		}
	}
	if total-cursor >= minRange {
		out = append(out, Range{Start: cursor, End: total})
	}
	return out
}

// TotalDuration sums the durations of all intervals.
func TotalDuration(ivs []Interval) float64 {
	var sum float64
	for _, iv := range ivs {
		sum += iv.Duration()
	}
	return sum
}

func cloneInterval(iv Interval) Interval {
	words := make([]string, len(iv.MatchedWords))
	copy(words, iv.MatchedWords)
	iv.MatchedWords = words
	return iv
}

func appendUnique(dst []string, src ...string) []string {
	for _, s := range src {
		seen := false
		for _, d := range dst {
			if d == s {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, s)
		}
	}
	return dst
}
