package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

// HugotClassifier is the sequence-classifier [Classifier] backend: a binary
// abuse model in ONNX form served through Hugot. The ONNX Runtime backend is
// preferred when a shared library is available; otherwise inference falls
// back to the pure-Go backend, which is slower but dependency-free.
type HugotClassifier struct {
	session   *hugot.Session
	pipeline  *pipelines.TextClassificationPipeline
	threshold float64

	// Hugot pipelines are not documented as safe for concurrent RunPipeline
	// calls, so inference is serialized.
	mu sync.Mutex
}

var _ Classifier = (*HugotClassifier)(nil)

// NewHugotClassifier loads the model directory at cfg.ArtifactPath. The
// directory must contain model.onnx plus the tokenizer files exported
// alongside it.
func NewHugotClassifier(cfg ClassifierConfig) (*HugotClassifier, error) {
	session, err := newHugotSession(cfg.OnnxLibraryPath)
	if err != nil {
		return nil, err
	}

	pipelineCfg := hugot.TextClassificationConfig{
		ModelPath: cfg.ArtifactPath,
		Name:      "abuse-classifier",
	}
	pipeline, err := hugot.NewPipeline(session, pipelineCfg)
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("create classification pipeline: %w", err)
	}

	return &HugotClassifier{
		session:   session,
		pipeline:  pipeline,
		threshold: cfg.Threshold,
	}, nil
}

// newHugotSession tries the ONNX Runtime backend first and falls back to the
// pure-Go backend when the runtime library is unavailable.
func newHugotSession(onnxLibraryPath string) (*hugot.Session, error) {
	if onnxLibraryPath != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(onnxLibraryPath))
		if err == nil {
			return session, nil
		}
		slog.Warn("onnx runtime unavailable, falling back to Go backend", "err", err)
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("create hugot session: %w", err)
	}
	return session, nil
}

// Predict runs the model on one text. confidence is P(abuse); is_abusive is
// confidence ≥ threshold.
func (c *HugotClassifier) Predict(ctx context.Context, text string) Prediction {
	return c.PredictBatch(ctx, []string{text})[0]
}

// PredictBatch runs the model on texts, order-preserving. A pipeline error
// degrades every element to a clean verdict carrying the error string rather
// than failing the batch.
func (c *HugotClassifier) PredictBatch(ctx context.Context, texts []string) []Prediction {
	out := make([]Prediction, len(texts))
	if len(texts) == 0 {
		return out
	}
	if err := ctx.Err(); err != nil {
		for i := range out {
			out[i] = Prediction{Err: err.Error()}
		}
		return out
	}

	c.mu.Lock()
	result, err := c.pipeline.RunPipeline(texts)
	c.mu.Unlock()
	if err != nil {
		for i := range out {
			out[i] = Prediction{Err: err.Error()}
		}
		return out
	}

	for i, scores := range result.ClassificationOutputs {
		if i >= len(out) {
			break
		}
		out[i] = predictionFromScores(scores, c.threshold)
	}
	return out
}

// predictionFromScores extracts P(abuse) from the per-label scores. Models
// exporting a single clean-class score are handled by complementing it.
func predictionFromScores(scores []pipelines.ClassificationOutput, threshold float64) Prediction {
	if len(scores) == 0 {
		return Prediction{Err: "classifier returned no scores"}
	}

	var confidence float64
	found := false
	for _, s := range scores {
		if isAbusiveLabel(s.Label) {
			confidence = float64(s.Score)
			found = true
			break
		}
	}
	if !found {
		// Single-output or clean-labelled models: P(abuse) = 1 − P(clean).
		confidence = 1 - float64(scores[0].Score)
	}
	return Prediction{Abusive: confidence >= threshold, Confidence: confidence}
}

// Info describes the loaded model.
func (c *HugotClassifier) Info() Info {
	return Info{Kind: ModelSequenceClassifier, Labels: []string{"clean", "abusive"}, Threshold: c.threshold}
}

// Close destroys the Hugot session and releases the model.
func (c *HugotClassifier) Close() error {
	if c.session != nil {
		return c.session.Destroy()
	}
	return nil
}
