package detect

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ModelKind identifies the classifier backend behind a [Classifier].
type ModelKind string

const (
	// ModelSequenceClassifier is a transformer sequence classifier served
	// through an ONNX runtime.
	ModelSequenceClassifier ModelKind = "sequence-classifier"

	// ModelLinearTFIDF is a linear model over a fixed TF-IDF vectorizer.
	ModelLinearTFIDF ModelKind = "linear-tfidf"

	// ModelDisabled marks a classifier whose artifact failed to load. Predict
	// degrades to a clean verdict and the ensemble falls back to regex-only.
	ModelDisabled ModelKind = "disabled"
)

// Prediction is the classifier verdict for one text. Err carries a per-text
// degradation reason; a non-empty Err always comes with Abusive=false and
// Confidence=0 so batch callers can keep going.
type Prediction struct {
	Abusive    bool
	Confidence float64
	Err        string
}

// Info describes a loaded classifier.
type Info struct {
	Kind      ModelKind
	Labels    []string
	Threshold float64
}

// Classifier is the binary-abuse model contract. Predict must be safe for
// concurrent use; PredictBatch is order-preserving and degrades per text
// instead of failing the batch.
type Classifier interface {
	Predict(ctx context.Context, text string) Prediction
	PredictBatch(ctx context.Context, texts []string) []Prediction
	Info() Info
	Close() error
}

// abusiveLabels are the label spellings recognised as the positive class
// across model families.
var abusiveLabels = map[string]struct{}{
	"abuse": {}, "abusive": {}, "toxic": {}, "offensive": {},
	"profane": {}, "label_1": {},
}

func isAbusiveLabel(label string) bool {
	_, ok := abusiveLabels[strings.ToLower(label)]
	return ok
}

// ─── Disabled classifier ─────────────────────────────────────────────────────

type disabledClassifier struct {
	reason string
}

// NewDisabled returns the classifier used when no model artifact could be
// loaded. Every prediction reports clean with the load failure as Err.
func NewDisabled(reason string) Classifier {
	if reason == "" {
		reason = "model not loaded"
	}
	return &disabledClassifier{reason: reason}
}

func (d *disabledClassifier) Predict(context.Context, string) Prediction {
	return Prediction{Err: d.reason}
}

func (d *disabledClassifier) PredictBatch(_ context.Context, texts []string) []Prediction {
	out := make([]Prediction, len(texts))
	for i := range out {
		out[i] = Prediction{Err: d.reason}
	}
	return out
}

func (d *disabledClassifier) Info() Info {
	return Info{Kind: ModelDisabled}
}

func (d *disabledClassifier) Close() error { return nil }

// Disabled reports whether c is the degraded no-model classifier.
func Disabled(c Classifier) bool {
	return c == nil || c.Info().Kind == ModelDisabled
}

// ─── Loading ─────────────────────────────────────────────────────────────────

// ClassifierConfig selects and parameterises the model artifact.
type ClassifierConfig struct {
	// ArtifactPath points at the model: a directory containing model.onnx
	// (sequence classifier) or a .json file (linear TF-IDF artifact).
	ArtifactPath string

	// Threshold is the decision threshold on P(abuse). Default 0.5.
	Threshold float64

	// OnnxLibraryPath optionally points at the ONNX Runtime shared library.
	// When empty or unusable the pure-Go backend is used instead.
	OnnxLibraryPath string
}

// LoadClassifier resolves the configured artifact and returns a ready
// classifier. Load failure is non-fatal by design: the returned classifier is
// the disabled degradation and the error describes why, so the caller can log
// it and let ml_only jobs fail with detector_unavailable later.
func LoadClassifier(cfg ClassifierConfig) (Classifier, error) {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.5
	}
	if cfg.ArtifactPath == "" {
		return NewDisabled("no model artifact configured"), nil
	}

	info, err := os.Stat(cfg.ArtifactPath)
	if err != nil {
		return NewDisabled("model not loaded"), fmt.Errorf("detect: stat artifact %q: %w", cfg.ArtifactPath, err)
	}

	switch {
	case info.IsDir():
		if _, err := os.Stat(filepath.Join(cfg.ArtifactPath, "model.onnx")); err != nil {
			return NewDisabled("model not loaded"), fmt.Errorf("detect: artifact dir %q has no model.onnx", cfg.ArtifactPath)
		}
		c, err := NewHugotClassifier(cfg)
		if err != nil {
			return NewDisabled("model not loaded"), fmt.Errorf("detect: load sequence classifier: %w", err)
		}
		slog.Info("classifier loaded", "kind", ModelSequenceClassifier, "artifact", cfg.ArtifactPath)
		return c, nil

	case strings.HasSuffix(cfg.ArtifactPath, ".json"):
		c, err := NewTFIDFClassifier(cfg)
		if err != nil {
			return NewDisabled("model not loaded"), fmt.Errorf("detect: load tfidf classifier: %w", err)
		}
		slog.Info("classifier loaded", "kind", ModelLinearTFIDF, "artifact", cfg.ArtifactPath)
		return c, nil

	default:
		return NewDisabled("model not loaded"), fmt.Errorf("detect: unrecognised artifact %q", cfg.ArtifactPath)
	}
}
