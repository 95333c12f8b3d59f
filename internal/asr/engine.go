// Package asr turns extracted audio into timed transcripts. The Engine
// interface isolates the rest of the service from the concrete speech
// backend; the production implementation wraps the whisper.cpp CGO bindings
// and test code substitutes the mock subpackage.
package asr

import (
	"context"
	"errors"
)

// Sentinel errors returned by Engine implementations. Callers classify job
// failures by matching against these with errors.Is.
var (
	// ErrUnavailable means the engine cannot serve at all, for example the
	// model file for the requested quality is missing.
	ErrUnavailable = errors.New("asr: engine unavailable")

	// ErrFailed means transcription was attempted and did not complete.
	ErrFailed = errors.New("asr: transcription failed")

	// ErrTimeout means the engine's own transcription deadline expired.
	// Expiry of the caller's context is not wrapped, so a job-level timeout
	// keeps its own error kind.
	ErrTimeout = errors.New("asr: transcription timed out")
)

// Quality selects the model size used for transcription. Larger models are
// slower and more accurate; the worker derives quality from the user's plan.
type Quality string

const (
	QualityTiny   Quality = "tiny"
	QualityBase   Quality = "base"
	QualitySmall  Quality = "small"
	QualityMedium Quality = "medium"
	QualityLarge  Quality = "large"
)

// IsValid reports whether q is a recognized model size.
func (q Quality) IsValid() bool {
	switch q {
	case QualityTiny, QualityBase, QualitySmall, QualityMedium, QualityLarge:
		return true
	}
	return false
}

// Word is a single recognized token with its position on the audio timeline.
type Word struct {
	Text        string
	StartS      float64
	EndS        float64
	Probability float64
}

// Segment is one contiguous utterance. Words carry finer timing inside the
// segment; some backends leave Words empty, in which case callers fall back
// to the segment bounds.
type Segment struct {
	ID     int
	Text   string
	StartS float64
	EndS   float64
	Words  []Word
}

// Result is a full transcript of one audio file.
type Result struct {
	// Language is the backend's detected (or forced) language code.
	Language string
	Segments []Segment
}

// Request describes one transcription.
type Request struct {
	// WAVPath is a mono 16 kHz PCM16 WAV file on local disk.
	WAVPath string

	Quality Quality

	// LanguageHints narrows language detection. Recognized values are the
	// job-level language names; an empty slice or "auto" lets the backend
	// detect freely.
	LanguageHints []string
}

// Engine produces transcripts. Implementations must be safe for concurrent
// use; the worker pool calls Transcribe from several goroutines.
type Engine interface {
	// Transcribe runs speech recognition over the request's audio file.
	// Cancellation or expiry of ctx aborts between processing windows and
	// returns the context's error untouched; ErrTimeout is reserved for an
	// engine-internal deadline.
	Transcribe(ctx context.Context, req Request) (*Result, error)

	// Close releases loaded models.
	Close() error
}

// hintToWhisper maps job-level language names onto whisper language codes.
// Hinglish is romanized Hindi with English mixed in, which the models handle
// best in auto mode.
func hintToWhisper(hints []string) string {
	if len(hints) != 1 {
		return "auto"
	}
	switch hints[0] {
	case "english":
		return "en"
	case "hindi", "hindi-devanagari", "hindi-urdu-script":
		return "hi"
	default:
		return "auto"
	}
}
