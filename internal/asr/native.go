// This file contains the native Engine implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/KushagraSharma924/censorly/internal/media"
)

// Compile-time assertion that NativeEngine satisfies Engine.
var _ Engine = (*NativeEngine)(nil)

// windowS is the audio length fed to whisper.cpp per inference call. Whisper
// operates on 30-second mel windows internally; chunking at that boundary
// keeps memory flat for long inputs and gives cancellation a check point
// between windows.
const windowS = 30.0

// asrSampleRate is the sample rate whisper models expect. ExtractAudioASR
// resamples to this.
const asrSampleRate = 16000

// NativeEngine implements Engine using whisper.cpp Go bindings (CGO). Models
// are loaded lazily per quality level from modelDir and cached for the
// lifetime of the engine.
type NativeEngine struct {
	modelDir string
	threads  int
	timeout  time.Duration

	mu     sync.Mutex
	models map[Quality]whisperlib.Model
	closed bool
}

// NativeOption is a functional option for configuring a NativeEngine.
type NativeOption func(*NativeEngine)

// WithThreads sets the CPU thread count whisper.cpp uses per inference.
// Zero leaves the binding's default.
func WithThreads(n int) NativeOption {
	return func(e *NativeEngine) { e.threads = n }
}

// WithTranscribeTimeout bounds a single Transcribe call with an engine-level
// deadline, surfaced as ErrTimeout. Zero disables it; the caller's context
// still applies either way.
func WithTranscribeTimeout(d time.Duration) NativeOption {
	return func(e *NativeEngine) { e.timeout = d }
}

// NewNative creates a NativeEngine that loads model files named
// ggml-<quality>.bin from modelDir. No model is loaded until the first
// Transcribe call needing it. The caller must call Close when the engine is
// no longer needed.
func NewNative(modelDir string, opts ...NativeOption) (*NativeEngine, error) {
	if modelDir == "" {
		return nil, fmt.Errorf("%w: model directory not configured", ErrUnavailable)
	}
	if fi, err := os.Stat(modelDir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: model directory %q not found", ErrUnavailable, modelDir)
	}

	e := &NativeEngine{
		modelDir: modelDir,
		models:   make(map[Quality]whisperlib.Model),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// ModelPath returns the on-disk path for a quality level's model file.
func (e *NativeEngine) ModelPath(q Quality) string {
	return filepath.Join(e.modelDir, fmt.Sprintf("ggml-%s.bin", q))
}

// model returns the cached model for q, loading it on first use.
func (e *NativeEngine) model(q Quality) (whisperlib.Model, error) {
	if !q.IsValid() {
		return nil, fmt.Errorf("%w: unknown quality %q", ErrUnavailable, q)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("%w: engine closed", ErrUnavailable)
	}
	if m, ok := e.models[q]; ok {
		return m, nil
	}

	path := e.ModelPath(q)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: model file %q: %v", ErrUnavailable, path, err)
	}

	start := time.Now()
	m, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load model %q: %v", ErrUnavailable, path, err)
	}
	slog.Info("speech model loaded",
		"quality", string(q), "path", path, "elapsed", time.Since(start))
	e.models[q] = m
	return m, nil
}

// Close releases all loaded models. The engine is unusable afterwards.
func (e *NativeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	for q, m := range e.models {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s model: %w", q, err))
		}
	}
	e.models = nil
	return errors.Join(errs...)
}

// Transcribe runs whisper.cpp over the request's WAV file in 30-second
// windows, checking ctx between windows so long inputs stay cancellable.
func (e *NativeEngine) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tctx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	m, err := e.model(req.Quality)
	if err != nil {
		return nil, err
	}

	audio, err := media.ReadWAV(req.WAVPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrFailed, err)
	}
	if audio.SampleRate != asrSampleRate || audio.Channels != 1 {
		return nil, fmt.Errorf("%w: audio is %d Hz / %d ch, want %d Hz mono",
			ErrFailed, audio.SampleRate, audio.Channels, asrSampleRate)
	}
	samples := media.SamplesToFloat32(audio.Samples)

	// Each Transcribe call gets its own whisper context. Contexts are NOT
	// thread-safe, but the model can be shared across goroutines.
	wctx, err := m.NewContext()
	if err != nil {
		return nil, fmt.Errorf("%w: create context: %v", ErrFailed, err)
	}
	wctx.SetTokenTimestamps(true)
	if e.threads > 0 {
		wctx.SetThreads(uint(e.threads))
	}
	lang := hintToWhisper(req.LanguageHints)
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("failed to set speech language, using auto",
			"language", lang, "error", err)
	}

	res := &Result{}
	window := int(windowS * asrSampleRate)
	for offset := 0; offset < len(samples); offset += window {
		if err := tctx.Err(); err != nil {
			return nil, deadlineErr(ctx, err)
		}

		end := offset + window
		if end > len(samples) {
			end = len(samples)
		}
		offsetS := float64(offset) / asrSampleRate

		if err := wctx.Process(samples[offset:end], nil, nil, nil); err != nil {
			return nil, fmt.Errorf("%w: process audio: %v", ErrFailed, err)
		}
		if err := e.collect(wctx, offsetS, res); err != nil {
			return nil, err
		}
	}

	if res.Language = wctx.DetectedLanguage(); res.Language == "" {
		res.Language = lang
	}
	return res, nil
}

// collect drains the context's segments into res, shifting timestamps by the
// window offset.
func (e *NativeEngine) collect(wctx whisperlib.Context, offsetS float64, res *Result) error {
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: read segment: %v", ErrFailed, err)
		}

		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}

		out := Segment{
			ID:     len(res.Segments),
			Text:   text,
			StartS: offsetS + seg.Start.Seconds(),
			EndS:   offsetS + seg.End.Seconds(),
		}
		for _, tok := range seg.Tokens {
			if !wctx.IsText(tok) {
				continue
			}
			word := strings.TrimSpace(tok.Text)
			if word == "" {
				continue
			}
			out.Words = append(out.Words, Word{
				Text:        word,
				StartS:      offsetS + tok.Start.Seconds(),
				EndS:        offsetS + tok.End.Seconds(),
				Probability: float64(tok.P),
			})
		}
		res.Segments = append(res.Segments, out)
	}
}

// deadlineErr wraps expiry of the engine's own transcription deadline in
// ErrTimeout. Errors originating from the parent context pass through
// untouched so a job-level timeout keeps its own kind.
func deadlineErr(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
