// Package pipeline executes a single censoring job end to end: fetch input,
// extract audio, transcribe, map abusive intervals, render the censored
// output and publish it. The mapper half turns timed transcripts into
// censoring plans; the runner half drives the stage sequence against the job
// registry.
package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/KushagraSharma924/censorly/internal/asr"
	"github.com/KushagraSharma924/censorly/pkg/detect"
	"github.com/KushagraSharma924/censorly/pkg/interval"
)

// mergeGapS is the maximum silence between two flagged intervals that still
// coalesces them into one censored region.
const mergeGapS = 0.12

// MapperConfig controls how transcript segments become censor intervals.
type MapperConfig struct {
	// Threshold is the minimum detector confidence that keeps a segment.
	Threshold float64

	// PaddingBeforeS and PaddingAfterS expand each interval outward.
	PaddingBeforeS float64
	PaddingAfterS  float64

	// DurationS clips padded intervals to the input's length.
	DurationS float64
}

// MapSegments runs the detector over every transcript segment and returns
// the sorted, disjoint list of intervals to censor.
//
// Interval precision is word-level where the evidence allows it: when a
// segment carries word timestamps and the flag came from the regex branch,
// only the words the scanner individually matches are covered. A flag with
// no per-word regex hit (an ML verdict, or an obfuscation spread across word
// boundaries) falls back to the whole segment span.
func MapSegments(ctx context.Context, det *detect.Hybrid, segments []asr.Segment, cfg MapperConfig) ([]interval.Interval, error) {
	var flagged []interval.Interval
	for _, seg := range segments {
		if seg.Text == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := det.Detect(ctx, seg.Text)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", seg.ID, err)
		}
		if !res.Abusive || res.Confidence < cfg.Threshold {
			continue
		}

		flagged = append(flagged, segmentIntervals(det.Scanner(), seg, res)...)
	}

	merged := interval.Merge(flagged, mergeGapS)
	return interval.Pad(merged, cfg.PaddingBeforeS, cfg.PaddingAfterS, cfg.DurationS), nil
}

// segmentIntervals picks the intervals for one flagged segment.
func segmentIntervals(sc *detect.Scanner, seg asr.Segment, res detect.Result) []interval.Interval {
	segID := strconv.Itoa(seg.ID)

	if len(seg.Words) > 0 && len(res.RegexMatches) > 0 {
		var out []interval.Interval
		for _, w := range seg.Words {
			matches := sc.FindAll(w.Text)
			if len(matches) == 0 {
				continue
			}
			iv := interval.Interval{
				Start:      w.StartS,
				End:        w.EndS,
				Confidence: res.Confidence,
				Method:     res.Method,
				SegmentID:  segID,
			}
			for _, m := range matches {
				iv.MatchedWords = append(iv.MatchedWords, m.Surface)
			}
			out = append(out, iv)
		}
		if len(out) > 0 {
			return out
		}
		// The regex hit did not line up with any single word, e.g. an
		// obfuscation split across word boundaries. Cover the segment.
	}

	iv := interval.Interval{
		Start:      seg.StartS,
		End:        seg.EndS,
		Confidence: res.Confidence,
		Method:     res.Method,
		SegmentID:  segID,
	}
	for _, m := range res.RegexMatches {
		iv.MatchedWords = append(iv.MatchedWords, m.Surface)
	}
	return []interval.Interval{iv}
}
