package detect_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/KushagraSharma924/censorly/pkg/detect"
	"github.com/KushagraSharma924/censorly/pkg/interval"
	"github.com/KushagraSharma924/censorly/pkg/wordlist"
)

// stubClassifier returns a fixed prediction and counts calls.
type stubClassifier struct {
	pred  detect.Prediction
	calls int
}

func (s *stubClassifier) Predict(context.Context, string) detect.Prediction {
	s.calls++
	return s.pred
}

func (s *stubClassifier) PredictBatch(ctx context.Context, texts []string) []detect.Prediction {
	out := make([]detect.Prediction, len(texts))
	for i := range out {
		out[i] = s.Predict(ctx, texts[i])
	}
	return out
}

func (s *stubClassifier) Info() detect.Info {
	return detect.Info{Kind: detect.ModelSequenceClassifier, Labels: []string{"clean", "abusive"}, Threshold: 0.5}
}

func (s *stubClassifier) Close() error { return nil }

func approxEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestHybridFastFirstCleanShortCircuits(t *testing.T) {
	ml := &stubClassifier{pred: detect.Prediction{Abusive: true, Confidence: 0.99}}
	h := detect.NewHybrid(detect.NewScanner(testDocument()), ml, detect.PolicyFastFirst)

	res, err := h.Detect(context.Background(), "a perfectly fine sentence")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.Abusive {
		t.Errorf("clean text flagged: %+v", res)
	}
	if res.Method != interval.MethodRegex {
		t.Errorf("Method = %q, want %q", res.Method, interval.MethodRegex)
	}
	if ml.calls != 0 {
		t.Errorf("classifier consulted %d times on clean text, want 0", ml.calls)
	}
}

func TestHybridFastFirstAgreementAverages(t *testing.T) {
	ml := &stubClassifier{pred: detect.Prediction{Abusive: true, Confidence: 0.9}}
	h := detect.NewHybrid(detect.NewScanner(testDocument()), ml, detect.PolicyFastFirst)

	res, err := h.Detect(context.Background(), "what the frick")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !res.Abusive {
		t.Fatalf("agreed hit not flagged: %+v", res)
	}
	// One regex match gives confidence min(1, 0.5+0.5) = 1.0; agreement
	// averages with the classifier's 0.9.
	if !approxEqual(res.Confidence, 0.95) {
		t.Errorf("Confidence = %v, want 0.95", res.Confidence)
	}
	if res.Method != interval.MethodEnsemble {
		t.Errorf("Method = %q, want %q", res.Method, interval.MethodEnsemble)
	}
	if res.ML == nil || len(res.RegexMatches) != 1 {
		t.Errorf("branch evidence missing: %+v", res)
	}
}

func TestHybridFastFirstDisagreementPenalizesML(t *testing.T) {
	ml := &stubClassifier{pred: detect.Prediction{Abusive: false, Confidence: 0.9}}
	h := detect.NewHybrid(detect.NewScanner(testDocument()), ml, detect.PolicyFastFirst)

	res, err := h.Detect(context.Background(), "what the frick")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.Abusive {
		t.Errorf("classifier override ignored: %+v", res)
	}
	if !approxEqual(res.Confidence, 0.72) {
		t.Errorf("Confidence = %v, want 0.72", res.Confidence)
	}
}

func TestHybridFastFirstDegradesWithoutModel(t *testing.T) {
	h := detect.NewHybrid(detect.NewScanner(testDocument()), detect.NewDisabled(""), detect.PolicyFastFirst)

	res, err := h.Detect(context.Background(), "what the frick")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !res.Abusive || res.Method != interval.MethodRegex {
		t.Errorf("regex fallback verdict wrong: %+v", res)
	}
	if !approxEqual(res.Confidence, 1.0) {
		t.Errorf("Confidence = %v, want 1.0", res.Confidence)
	}
	if h.MLAvailable() {
		t.Error("MLAvailable() = true with disabled classifier")
	}
}

func TestHybridMLOnlyUnavailable(t *testing.T) {
	h := detect.NewHybrid(detect.NewScanner(testDocument()), detect.NewDisabled(""), detect.PolicyMLOnly)

	_, err := h.Detect(context.Background(), "anything")
	if !errors.Is(err, detect.ErrDetectorUnavailable) {
		t.Fatalf("err = %v, want ErrDetectorUnavailable", err)
	}
}

func TestHybridMLOnly(t *testing.T) {
	ml := &stubClassifier{pred: detect.Prediction{Abusive: true, Confidence: 0.85}}
	h := detect.NewHybrid(detect.NewScanner(testDocument()), ml, detect.PolicyMLOnly)

	res, err := h.Detect(context.Background(), "a perfectly fine sentence")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !res.Abusive || !approxEqual(res.Confidence, 0.85) || res.Method != interval.MethodML {
		t.Errorf("unexpected verdict: %+v", res)
	}
}

func TestHybridBothSingleBranchFlag(t *testing.T) {
	// Only the classifier flags: abusive with 0.7 × max(0, 0.9) = 0.63.
	ml := &stubClassifier{pred: detect.Prediction{Abusive: true, Confidence: 0.9}}
	h := detect.NewHybrid(detect.NewScanner(testDocument()), ml, detect.PolicyBoth)

	res, err := h.Detect(context.Background(), "a perfectly fine sentence")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !res.Abusive {
		t.Fatalf("single-branch flag dropped: %+v", res)
	}
	if !approxEqual(res.Confidence, 0.63) {
		t.Errorf("Confidence = %v, want 0.63", res.Confidence)
	}
	if res.Method != interval.MethodML {
		t.Errorf("Method = %q, want %q", res.Method, interval.MethodML)
	}
}

func TestHybridBothAgreementTakesMax(t *testing.T) {
	ml := &stubClassifier{pred: detect.Prediction{Abusive: true, Confidence: 0.6}}
	h := detect.NewHybrid(detect.NewScanner(testDocument()), ml, detect.PolicyBoth)

	res, err := h.Detect(context.Background(), "what the frick")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !res.Abusive || !approxEqual(res.Confidence, 1.0) {
		t.Errorf("agreement verdict wrong: %+v", res)
	}
	if res.Method != interval.MethodEnsemble {
		t.Errorf("Method = %q, want %q", res.Method, interval.MethodEnsemble)
	}
}

func TestHybridRegexOnlyIgnoresClassifier(t *testing.T) {
	ml := &stubClassifier{pred: detect.Prediction{Abusive: true, Confidence: 0.99}}
	h := detect.NewHybrid(detect.NewScanner(testDocument()), ml, detect.PolicyRegexOnly)

	res, err := h.Detect(context.Background(), "a perfectly fine sentence")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.Abusive || ml.calls != 0 {
		t.Errorf("classifier leaked into regex_only: %+v calls=%d", res, ml.calls)
	}
}

func TestHybridRegexConfidenceSaturates(t *testing.T) {
	h := detect.NewHybrid(detect.NewScanner(testDocument()), nil, detect.PolicyRegexOnly)

	res, err := h.Detect(context.Background(), "frick that dastard and that frick")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	// Three matches: 0.5 + 0.5·3 caps at 1.0.
	if !approxEqual(res.Confidence, 1.0) {
		t.Errorf("Confidence = %v, want 1.0", res.Confidence)
	}
}

func TestHybridStats(t *testing.T) {
	ml := &stubClassifier{pred: detect.Prediction{Abusive: true, Confidence: 0.9}}
	h := detect.NewHybrid(detect.NewScanner(testDocument()), ml, detect.PolicyFastFirst)

	ctx := context.Background()
	if _, err := h.Detect(ctx, "a perfectly fine sentence"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Detect(ctx, "what the frick"); err != nil {
		t.Fatal(err)
	}

	snap := h.Stats()
	if snap.Total != 2 {
		t.Errorf("Total = %d, want 2", snap.Total)
	}
	if snap.Abusive != 1 {
		t.Errorf("Abusive = %d, want 1", snap.Abusive)
	}
	if snap.RegexCalls != 2 {
		t.Errorf("RegexCalls = %d, want 2", snap.RegexCalls)
	}
	if snap.MLCalls != 1 {
		t.Errorf("MLCalls = %d, want 1", snap.MLCalls)
	}
	if snap.Agreements != 1 || snap.Disagreements != 0 {
		t.Errorf("agreement counters = %d/%d, want 1/0", snap.Agreements, snap.Disagreements)
	}
	if got := snap.AgreementRate(); !approxEqual(got, 1.0) {
		t.Errorf("AgreementRate = %v, want 1.0", got)
	}
}

func TestHybridSwapScanner(t *testing.T) {
	h := detect.NewHybrid(detect.NewScanner(testDocument()), nil, detect.PolicyRegexOnly)

	res, err := h.Detect(context.Background(), "what the frick")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Abusive {
		t.Fatalf("expected hit before swap: %+v", res)
	}

	reduced := &wordlist.Document{
		Version: 2,
		Languages: map[string][]wordlist.Entry{
			"en": {{Surface: "dastard", Severity: 7}},
		},
	}
	h.SwapScanner(detect.NewScanner(reduced))

	res, err = h.Detect(context.Background(), "what the frick")
	if err != nil {
		t.Fatal(err)
	}
	if res.Abusive {
		t.Errorf("removed entry still matches after swap: %+v", res)
	}
}
