package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/KushagraSharma924/censorly/pkg/textnorm"
)

// tfidfArtifact is the JSON export of a linear model trained over a fixed
// TF-IDF vectorizer (vocabulary and idf from the vectorizer, coef and
// intercept from the linear classifier). Probability marks calibrated models;
// uncalibrated ones expose hard labels only.
type tfidfArtifact struct {
	Vocabulary  map[string]int `json:"vocabulary"`
	IDF         []float64      `json:"idf"`
	Coef        []float64      `json:"coef"`
	Intercept   float64        `json:"intercept"`
	Labels      []string       `json:"labels"`
	Probability bool           `json:"probability"`
}

// TFIDFClassifier is the linear-tfidf [Classifier] backend. It is read-only
// after construction and safe for concurrent use.
type TFIDFClassifier struct {
	vocab       map[string]int
	idf         []float64
	coef        []float64
	intercept   float64
	labels      []string
	probability bool
	threshold   float64
}

var _ Classifier = (*TFIDFClassifier)(nil)

// NewTFIDFClassifier loads the JSON artifact at cfg.ArtifactPath.
func NewTFIDFClassifier(cfg ClassifierConfig) (*TFIDFClassifier, error) {
	data, err := os.ReadFile(cfg.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var art tfidfArtifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if len(art.Vocabulary) == 0 {
		return nil, fmt.Errorf("artifact has empty vocabulary")
	}
	if len(art.Coef) != len(art.Vocabulary) {
		return nil, fmt.Errorf("coef length %d does not match vocabulary size %d", len(art.Coef), len(art.Vocabulary))
	}
	if len(art.IDF) != 0 && len(art.IDF) != len(art.Vocabulary) {
		return nil, fmt.Errorf("idf length %d does not match vocabulary size %d", len(art.IDF), len(art.Vocabulary))
	}
	for term, idx := range art.Vocabulary {
		if idx < 0 || idx >= len(art.Coef) {
			return nil, fmt.Errorf("vocabulary term %q has out-of-range index %d", term, idx)
		}
	}

	labels := art.Labels
	if len(labels) == 0 {
		labels = []string{"clean", "abusive"}
	}

	return &TFIDFClassifier{
		vocab:       art.Vocabulary,
		idf:         art.IDF,
		coef:        art.Coef,
		intercept:   art.Intercept,
		labels:      labels,
		probability: art.Probability,
		threshold:   cfg.Threshold,
	}, nil
}

// Predict vectorizes the normalized text and applies the linear model.
// Calibrated models report sigmoid(decision) as P(abuse); hard-label models
// report confidence 1.0 or 0.0.
func (c *TFIDFClassifier) Predict(_ context.Context, text string) Prediction {
	tokens := strings.Fields(textnorm.Normalize(text))
	if len(tokens) == 0 {
		return Prediction{}
	}

	// Term frequencies over the fixed vocabulary.
	tf := make(map[int]float64)
	for _, tok := range tokens {
		if idx, ok := c.vocab[tok]; ok {
			tf[idx]++
		}
	}

	var decision, sqSum float64
	weights := make(map[int]float64, len(tf))
	for idx, count := range tf {
		w := count
		if len(c.idf) > 0 {
			w *= c.idf[idx]
		}
		weights[idx] = w
		sqSum += w * w
	}
	if sqSum > 0 {
		norm := math.Sqrt(sqSum)
		for idx, w := range weights {
			decision += (w / norm) * c.coef[idx]
		}
	}
	decision += c.intercept

	if c.probability {
		conf := sigmoid(decision)
		return Prediction{Abusive: conf >= c.threshold, Confidence: conf}
	}
	if decision > 0 {
		return Prediction{Abusive: true, Confidence: 1.0}
	}
	return Prediction{Abusive: false, Confidence: 0.0}
}

// PredictBatch applies Predict per text, order-preserving.
func (c *TFIDFClassifier) PredictBatch(ctx context.Context, texts []string) []Prediction {
	out := make([]Prediction, len(texts))
	for i, t := range texts {
		out[i] = c.Predict(ctx, t)
	}
	return out
}

// Info describes the loaded model.
func (c *TFIDFClassifier) Info() Info {
	return Info{Kind: ModelLinearTFIDF, Labels: c.labels, Threshold: c.threshold}
}

// Close is a no-op; the model holds no external resources.
func (c *TFIDFClassifier) Close() error { return nil }

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
