package pipeline_test

import (
	"context"
	"math"
	"testing"

	"github.com/KushagraSharma924/censorly/internal/asr"
	"github.com/KushagraSharma924/censorly/internal/pipeline"
	"github.com/KushagraSharma924/censorly/pkg/detect"
	"github.com/KushagraSharma924/censorly/pkg/wordlist"
)

func testDetector(t *testing.T) *detect.Hybrid {
	t.Helper()
	doc := &wordlist.Document{
		Version: 1,
		Languages: map[string][]wordlist.Entry{
			"en": {
				{Surface: "frick", Severity: 4},
				{Surface: "dastard", Severity: 7},
			},
		},
	}
	return detect.NewHybrid(detect.NewScanner(doc), nil, detect.PolicyFastFirst)
}

func wordsFor(startS float64, words ...string) []asr.Word {
	out := make([]asr.Word, len(words))
	cursor := startS
	for i, w := range words {
		out[i] = asr.Word{Text: w, StartS: cursor, EndS: cursor + 0.4}
		cursor += 0.5
	}
	return out
}

func TestMapSegmentsCleanTranscript(t *testing.T) {
	det := testDetector(t)
	segments := []asr.Segment{
		{ID: 0, Text: "hello there friend", StartS: 0, EndS: 2, Words: wordsFor(0, "hello", "there", "friend")},
		{ID: 1, Text: "lovely weather today", StartS: 2, EndS: 4, Words: wordsFor(2, "lovely", "weather", "today")},
	}

	ivs, err := pipeline.MapSegments(context.Background(), det, segments, pipeline.MapperConfig{
		Threshold: 0.3, DurationS: 4,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ivs) != 0 {
		t.Fatalf("clean transcript produced %d intervals: %+v", len(ivs), ivs)
	}
}

func TestMapSegmentsWordPrecision(t *testing.T) {
	det := testDetector(t)
	// "frick" is the second word: [0.5, 0.9] before padding.
	segments := []asr.Segment{{
		ID:     0,
		Text:   "what the frick man",
		StartS: 0,
		EndS:   2,
		Words: []asr.Word{
			{Text: "what", StartS: 0.0, EndS: 0.4},
			{Text: "frick", StartS: 0.5, EndS: 0.9},
			{Text: "man", StartS: 1.0, EndS: 1.4},
		},
	}}

	ivs, err := pipeline.MapSegments(context.Background(), det, segments, pipeline.MapperConfig{
		Threshold:      0.3,
		PaddingBeforeS: 0.05,
		PaddingAfterS:  0.05,
		DurationS:      2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ivs) != 1 {
		t.Fatalf("got %d intervals, want 1", len(ivs))
	}
	iv := ivs[0]
	if math.Abs(iv.Start-0.45) > 1e-9 || math.Abs(iv.End-0.95) > 1e-9 {
		t.Errorf("interval = [%v, %v], want [0.45, 0.95]", iv.Start, iv.End)
	}
	if len(iv.MatchedWords) != 1 || iv.MatchedWords[0] != "frick" {
		t.Errorf("MatchedWords = %v, want [frick]", iv.MatchedWords)
	}
	if iv.SegmentID != "0" {
		t.Errorf("SegmentID = %q, want \"0\"", iv.SegmentID)
	}
}

func TestMapSegmentsWholeSegmentFallback(t *testing.T) {
	det := testDetector(t)
	// The obfuscation spans two transcript words, so no single word matches
	// and the whole segment is covered.
	segments := []asr.Segment{{
		ID:     3,
		Text:   "you f_r i_c_k head",
		StartS: 1.0,
		EndS:   3.0,
		Words: []asr.Word{
			{Text: "you", StartS: 1.0, EndS: 1.3},
			{Text: "f_r", StartS: 1.4, EndS: 1.7},
			{Text: "i_c_k", StartS: 1.8, EndS: 2.1},
			{Text: "head", StartS: 2.2, EndS: 2.5},
		},
	}}

	ivs, err := pipeline.MapSegments(context.Background(), det, segments, pipeline.MapperConfig{
		Threshold: 0.3, DurationS: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ivs) != 1 {
		t.Fatalf("got %d intervals, want 1", len(ivs))
	}
	if ivs[0].Start != 1.0 || ivs[0].End != 3.0 {
		t.Errorf("interval = [%v, %v], want whole segment [1, 3]", ivs[0].Start, ivs[0].End)
	}
}

func TestMapSegmentsNoWordTimestamps(t *testing.T) {
	det := testDetector(t)
	segments := []asr.Segment{{
		ID: 0, Text: "frick this", StartS: 0.5, EndS: 2.5,
	}}

	ivs, err := pipeline.MapSegments(context.Background(), det, segments, pipeline.MapperConfig{
		Threshold: 0.3, DurationS: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ivs) != 1 || ivs[0].Start != 0.5 || ivs[0].End != 2.5 {
		t.Fatalf("intervals = %+v, want one covering [0.5, 2.5]", ivs)
	}
}

func TestMapSegmentsMergesNearbyWords(t *testing.T) {
	det := testDetector(t)
	// Two flagged words 0.1 s apart, inside the 0.12 s merge gap.
	segments := []asr.Segment{{
		ID:     0,
		Text:   "frick frick",
		StartS: 0,
		EndS:   2,
		Words: []asr.Word{
			{Text: "frick", StartS: 0.2, EndS: 0.6},
			{Text: "frick", StartS: 0.7, EndS: 1.1},
		},
	}}

	ivs, err := pipeline.MapSegments(context.Background(), det, segments, pipeline.MapperConfig{
		Threshold: 0.3, DurationS: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ivs) != 1 {
		t.Fatalf("got %d intervals, want 1 merged", len(ivs))
	}
	if ivs[0].Start != 0.2 || ivs[0].End != 1.1 {
		t.Errorf("merged interval = [%v, %v], want [0.2, 1.1]", ivs[0].Start, ivs[0].End)
	}
}

func TestMapSegmentsThresholdFiltersLowConfidence(t *testing.T) {
	det := testDetector(t)
	// One regex match yields confidence 1.0 under the default arithmetic,
	// so a threshold above that filters nothing here; instead verify the
	// filter by demanding more than the detector can report.
	segments := []asr.Segment{{
		ID: 0, Text: "frick", StartS: 0, EndS: 1,
		Words: []asr.Word{{Text: "frick", StartS: 0, EndS: 1}},
	}}

	ivs, err := pipeline.MapSegments(context.Background(), det, segments, pipeline.MapperConfig{
		Threshold: 1.1, DurationS: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ivs) != 0 {
		t.Fatalf("threshold 1.1 kept %d intervals", len(ivs))
	}
}

func TestMapSegmentsPaddingClippedToDuration(t *testing.T) {
	det := testDetector(t)
	segments := []asr.Segment{{
		ID: 0, Text: "frick", StartS: 0, EndS: 1.0,
		Words: []asr.Word{{Text: "frick", StartS: 0.0, EndS: 1.0}},
	}}

	ivs, err := pipeline.MapSegments(context.Background(), det, segments, pipeline.MapperConfig{
		Threshold:      0.3,
		PaddingBeforeS: 0.5,
		PaddingAfterS:  0.5,
		DurationS:      1.2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ivs) != 1 {
		t.Fatalf("got %d intervals, want 1", len(ivs))
	}
	if ivs[0].Start != 0 || ivs[0].End != 1.2 {
		t.Errorf("clipped interval = [%v, %v], want [0, 1.2]", ivs[0].Start, ivs[0].End)
	}
}

func TestMapSegmentsMLOnlyUnavailable(t *testing.T) {
	doc := &wordlist.Document{
		Version:   1,
		Languages: map[string][]wordlist.Entry{"en": {{Surface: "frick", Severity: 4}}},
	}
	det := detect.NewHybrid(detect.NewScanner(doc), nil, detect.PolicyMLOnly)

	_, err := pipeline.MapSegments(context.Background(), det, []asr.Segment{
		{ID: 0, Text: "anything", StartS: 0, EndS: 1},
	}, pipeline.MapperConfig{Threshold: 0.3, DurationS: 1})
	if err == nil {
		t.Fatal("ml_only without a model mapped without error")
	}
}
