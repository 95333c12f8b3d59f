package interval_test

import (
	"math"
	"testing"

	"github.com/KushagraSharma924/censorly/pkg/interval"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestMerge_Disjoint(t *testing.T) {
	ivs := []interval.Interval{
		{Start: 5, End: 6, Method: interval.MethodRegex},
		{Start: 1, End: 2, Method: interval.MethodRegex},
	}
	got := interval.Merge(ivs, 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(got))
	}
	if !approx(got[0].Start, 1) || !approx(got[1].Start, 5) {
		t.Errorf("intervals not sorted: %+v", got)
	}
}

func TestMerge_Overlap(t *testing.T) {
	ivs := []interval.Interval{
		{Start: 1, End: 2.5, Confidence: 0.4, Method: interval.MethodRegex, MatchedWords: []string{"a"}},
		{Start: 2, End: 3, Confidence: 0.9, Method: interval.MethodML, MatchedWords: []string{"b", "a"}},
	}
	got := interval.Merge(ivs, 0)
	if len(got) != 1 {
		t.Fatalf("expected 1 merged interval, got %d", len(got))
	}
	m := got[0]
	if !approx(m.Start, 1) || !approx(m.End, 3) {
		t.Errorf("merged bounds = [%.2f, %.2f], want [1, 3]", m.Start, m.End)
	}
	if m.Confidence != 0.9 {
		t.Errorf("merged confidence = %.2f, want max 0.9", m.Confidence)
	}
	if m.Method != interval.MethodEnsemble {
		t.Errorf("merged method = %q, want ensemble", m.Method)
	}
	if len(m.MatchedWords) != 2 {
		t.Errorf("merged words = %v, want deduplicated [a b]", m.MatchedWords)
	}
}

func TestMerge_GapCoalesces(t *testing.T) {
	ivs := []interval.Interval{
		{Start: 1, End: 2},
		{Start: 2.1, End: 3},
	}
	if got := interval.Merge(ivs, 0.12); len(got) != 1 {
		t.Errorf("gap 0.1 < 0.12 should merge, got %d intervals", len(got))
	}
	if got := interval.Merge(ivs, 0.05); len(got) != 2 {
		t.Errorf("gap 0.1 > 0.05 should stay separate, got %d intervals", len(got))
	}
}

func TestMerge_OutputDisjoint(t *testing.T) {
	ivs := []interval.Interval{
		{Start: 0, End: 1}, {Start: 0.5, End: 2}, {Start: 1.9, End: 2.2},
		{Start: 4, End: 5}, {Start: 4.5, End: 4.6},
	}
	got := interval.Merge(ivs, 0)
	for i := 1; i < len(got); i++ {
		if got[i].Start <= got[i-1].End {
			t.Fatalf("intervals %d and %d overlap: %+v", i-1, i, got)
		}
	}
}

func TestPad_ClipsToBounds(t *testing.T) {
	ivs := []interval.Interval{{Start: 0.02, End: 9.99}}
	got := interval.Pad(ivs, 0.05, 0.05, 10)
	if len(got) != 1 {
		t.Fatalf("expected 1 interval, got %d", len(got))
	}
	if !approx(got[0].Start, 0) || !approx(got[0].End, 10) {
		t.Errorf("padded = [%.3f, %.3f], want [0, 10]", got[0].Start, got[0].End)
	}
}

func TestPad_RemergesTouchingNeighbours(t *testing.T) {
	ivs := []interval.Interval{
		{Start: 1, End: 2},
		{Start: 2.05, End: 3},
	}
	got := interval.Pad(ivs, 0.05, 0.05, 0)
	if len(got) != 1 {
		t.Fatalf("padding should have joined neighbours, got %d intervals", len(got))
	}
}

func TestComplement(t *testing.T) {
	ivs := []interval.Interval{
		{Start: 1, End: 2},
		{Start: 4, End: 5},
	}
	got := interval.Complement(ivs, 6)
	want := []interval.Range{{0, 1}, {2, 4}, {5, 6}}
	if len(got) != len(want) {
		t.Fatalf("complement = %v, want %v", got, want)
	}
	for i := range want {
		if !approx(got[i].Start, want[i].Start) || !approx(got[i].End, want[i].End) {
			t.Errorf("range %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestComplement_FullCoverage(t *testing.T) {
	ivs := []interval.Interval{{Start: 0, End: 10}}
	if got := interval.Complement(ivs, 10); len(got) != 0 {
		t.Errorf("full coverage should yield empty complement, got %v", got)
	}
}

func TestComplement_LeadingInterval(t *testing.T) {
	ivs := []interval.Interval{{Start: 0, End: 2}}
	got := interval.Complement(ivs, 5)
	if len(got) != 1 || !approx(got[0].Start, 2) || !approx(got[0].End, 5) {
		t.Errorf("complement = %v, want [[2 5]]", got)
	}
}

func TestTotalDuration(t *testing.T) {
	ivs := []interval.Interval{{Start: 1, End: 2}, {Start: 4, End: 4.5}}
	if got := interval.TotalDuration(ivs); !approx(got, 1.5) {
		t.Errorf("total duration = %.3f, want 1.5", got)
	}
}
