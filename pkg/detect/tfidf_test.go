package detect_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/KushagraSharma924/censorly/pkg/detect"
)

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const calibratedArtifact = `{
	"vocabulary": {"frick": 0, "lovely": 1},
	"idf": [1.0, 1.0],
	"coef": [2.0, -2.0],
	"intercept": -0.5,
	"labels": ["clean", "abusive"],
	"probability": true
}`

func TestTFIDFCalibratedPredict(t *testing.T) {
	c, err := detect.NewTFIDFClassifier(detect.ClassifierConfig{
		ArtifactPath: writeArtifact(t, calibratedArtifact),
		Threshold:    0.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// "frick" alone: L2-normalized weight 1.0, decision 2.0−0.5 = 1.5,
	// sigmoid(1.5) ≈ 0.817.
	pred := c.Predict(context.Background(), "frick")
	if !pred.Abusive {
		t.Fatalf("positive text not flagged: %+v", pred)
	}
	if pred.Confidence < 0.8 || pred.Confidence > 0.84 {
		t.Errorf("Confidence = %v, want ≈0.817", pred.Confidence)
	}

	pred = c.Predict(context.Background(), "lovely")
	if pred.Abusive {
		t.Errorf("negative text flagged: %+v", pred)
	}

	// Out-of-vocabulary text has zero decision weight; only the intercept
	// applies: sigmoid(−0.5) ≈ 0.378, clean.
	pred = c.Predict(context.Background(), "completely unknown words")
	if pred.Abusive {
		t.Errorf("oov text flagged: %+v", pred)
	}
}

func TestTFIDFHardLabelPredict(t *testing.T) {
	c, err := detect.NewTFIDFClassifier(detect.ClassifierConfig{
		ArtifactPath: writeArtifact(t, `{
			"vocabulary": {"frick": 0},
			"coef": [1.0],
			"intercept": -0.5,
			"probability": false
		}`),
		Threshold: 0.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	pred := c.Predict(context.Background(), "frick")
	if !pred.Abusive || pred.Confidence != 1.0 {
		t.Errorf("hard positive = %+v, want abusive at 1.0", pred)
	}
	pred = c.Predict(context.Background(), "fine")
	if pred.Abusive || pred.Confidence != 0.0 {
		t.Errorf("hard negative = %+v, want clean at 0.0", pred)
	}
}

func TestTFIDFEmptyText(t *testing.T) {
	c, err := detect.NewTFIDFClassifier(detect.ClassifierConfig{
		ArtifactPath: writeArtifact(t, calibratedArtifact),
		Threshold:    0.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	pred := c.Predict(context.Background(), "   ")
	if pred.Abusive || pred.Confidence != 0 || pred.Err != "" {
		t.Errorf("empty text = %+v, want zero-value clean", pred)
	}
}

func TestTFIDFNormalizesInput(t *testing.T) {
	c, err := detect.NewTFIDFClassifier(detect.ClassifierConfig{
		ArtifactPath: writeArtifact(t, calibratedArtifact),
		Threshold:    0.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	// Leet spelling folds to the vocabulary term before vectorizing.
	pred := c.Predict(context.Background(), "FR1CK")
	if !pred.Abusive {
		t.Errorf("obfuscated spelling not flagged: %+v", pred)
	}
}

func TestTFIDFArtifactValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"empty vocabulary", `{"vocabulary": {}, "coef": []}`},
		{"coef size mismatch", `{"vocabulary": {"a": 0}, "coef": [1.0, 2.0]}`},
		{"idf size mismatch", `{"vocabulary": {"a": 0}, "coef": [1.0], "idf": [1.0, 2.0]}`},
		{"index out of range", `{"vocabulary": {"a": 5}, "coef": [1.0]}`},
		{"not json", `version: 1`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := detect.NewTFIDFClassifier(detect.ClassifierConfig{
				ArtifactPath: writeArtifact(t, tc.content),
			})
			if err == nil {
				t.Error("invalid artifact accepted")
			}
		})
	}
}

func TestLoadClassifierDegradations(t *testing.T) {
	t.Run("no artifact configured", func(t *testing.T) {
		c, err := detect.LoadClassifier(detect.ClassifierConfig{})
		if err != nil {
			t.Fatalf("unconfigured classifier errored: %v", err)
		}
		if !detect.Disabled(c) {
			t.Error("expected disabled classifier")
		}
	})

	t.Run("missing artifact", func(t *testing.T) {
		c, err := detect.LoadClassifier(detect.ClassifierConfig{
			ArtifactPath: filepath.Join(t.TempDir(), "nope.json"),
		})
		if err == nil {
			t.Error("missing artifact did not report an error")
		}
		if !detect.Disabled(c) {
			t.Error("expected disabled classifier")
		}
		// The degraded classifier reports the canonical reason per text.
		pred := c.Predict(context.Background(), "anything")
		if pred.Err != "model not loaded" {
			t.Errorf("Err = %q, want %q", pred.Err, "model not loaded")
		}
	})

	t.Run("valid tfidf artifact", func(t *testing.T) {
		c, err := detect.LoadClassifier(detect.ClassifierConfig{
			ArtifactPath: writeArtifact(t, calibratedArtifact),
		})
		if err != nil {
			t.Fatal(err)
		}
		if detect.Disabled(c) {
			t.Error("valid artifact loaded as disabled")
		}
		if info := c.Info(); info.Kind != detect.ModelLinearTFIDF {
			t.Errorf("Kind = %q, want %q", info.Kind, detect.ModelLinearTFIDF)
		}
	})
}
