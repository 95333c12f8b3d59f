package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KushagraSharma924/censorly/internal/asr"
	"github.com/KushagraSharma924/censorly/internal/media"
	"github.com/KushagraSharma924/censorly/internal/observe"
	"github.com/KushagraSharma924/censorly/internal/registry"
	"github.com/KushagraSharma924/censorly/pkg/detect"
	"github.com/KushagraSharma924/censorly/pkg/interval"
	"github.com/KushagraSharma924/censorly/pkg/objstore"
)

// Progress checkpoints reported after each completed stage.
const (
	progressInit        = 5
	progressExtracted   = 25
	progressTranscribed = 60
	progressSegmented   = 85
)

// retryBackoff is the pause before the single retry of a failed subprocess.
const retryBackoff = 1 * time.Second

// errCancelRequested aborts the stage sequence when the job's cooperative
// cancellation flag is set.
var errCancelRequested = errors.New("pipeline: cancel requested")

// Runner drives one job through the censoring stages. All fields must be set;
// a Runner is safe for concurrent Run calls.
type Runner struct {
	Registry registry.Registry
	Store    objstore.Store
	Tools    media.Tools
	Engine   asr.Engine
	Detector *detect.Hybrid
	Metrics  *observe.Metrics

	// BeepFrequencyHz is passed through to beep-mode rendering.
	BeepFrequencyHz int
}

// JobContext carries the per-job parameters the worker resolved at claim
// time.
type JobContext struct {
	Job       *registry.Job
	WorkerID  string
	Workspace string
	Quality   asr.Quality
}

// Run executes the stage sequence for one claimed job and returns the result
// to persist. A non-nil error has already been classified via ErrorKind by
// the caller through ClassifyError. Run writes only inside jc.Workspace and
// reports progress through the registry; terminal state transitions belong
// to the caller.
func (r *Runner) Run(ctx context.Context, jc JobContext) (*registry.JobResult, error) {
	started := time.Now()
	job := jc.Job
	log := slog.With("job_id", job.ID, "worker_id", jc.WorkerID, "mode", string(job.Config.Mode))

	// ── init: materialize the input and learn its true duration ──

	inputPath, err := r.fetchInput(ctx, job, jc.Workspace)
	if err != nil {
		return nil, err
	}
	durationS, err := stageTimed(ctx, r.Metrics, "probe", func() (float64, error) {
		return r.Tools.ProbeDuration(ctx, inputPath)
	})
	if err != nil {
		return nil, err
	}
	if err := r.checkpoint(ctx, jc, progressInit); err != nil {
		return nil, err
	}

	// ── audio_extracted ──

	wavPath := filepath.Join(jc.Workspace, "audio-asr.wav")
	err = r.stageRetry(ctx, jc, "audio_extract", func() error {
		return r.Tools.ExtractAudioASR(ctx, inputPath, wavPath)
	})
	if err != nil {
		return nil, err
	}
	if err := r.checkpoint(ctx, jc, progressExtracted); err != nil {
		return nil, err
	}

	// ── transcribed ──

	transcript, err := stageTimed(ctx, r.Metrics, "transcribe", func() (*asr.Result, error) {
		return r.Engine.Transcribe(ctx, asr.Request{
			WAVPath:       wavPath,
			Quality:       jc.Quality,
			LanguageHints: job.Config.Languages,
		})
	})
	if err != nil {
		return nil, err
	}
	log.Debug("transcription finished",
		"language", transcript.Language, "segments", len(transcript.Segments))
	if err := r.checkpoint(ctx, jc, progressTranscribed); err != nil {
		return nil, err
	}

	// ── segmented ──

	statsBefore := r.Detector.Stats()
	intervals, err := stageTimed(ctx, r.Metrics, "segment_map", func() ([]interval.Interval, error) {
		return MapSegments(ctx, r.Detector, transcript.Segments, MapperConfig{
			Threshold:      job.Config.Threshold,
			PaddingBeforeS: job.Config.PaddingBeforeS,
			PaddingAfterS:  job.Config.PaddingAfterS,
			DurationS:      durationS,
		})
	})
	r.recordDetectorDelta(ctx, statsBefore)
	if err != nil {
		return nil, err
	}
	if err := r.checkpoint(ctx, jc, progressSegmented); err != nil {
		return nil, err
	}

	// ── censored ──

	outPath := filepath.Join(jc.Workspace, "output"+outputExt(job.Input.OriginalName))
	err = r.stageRetry(ctx, jc, "censor", func() error {
		return r.Tools.Censor(ctx, media.CensorRequest{
			InputPath:       inputPath,
			OutputPath:      outPath,
			Workspace:       jc.Workspace,
			Mode:            string(job.Config.Mode),
			Intervals:       intervals,
			DurationS:       durationS,
			BeepFrequencyHz: r.BeepFrequencyHz,
		})
	})
	if err != nil {
		return nil, err
	}

	// ── finalized: publish under a content-derived key ──

	outputRef, err := r.publish(ctx, outPath)
	if err != nil {
		return nil, err
	}

	censoredS := interval.TotalDuration(intervals)
	if r.Metrics != nil {
		r.Metrics.RecordCensoredSeconds(ctx, string(job.Config.Mode), censoredS)
	}
	log.Info("job pipeline finished",
		"output_ref", outputRef,
		"intervals", len(intervals),
		"censored_s", censoredS,
		"elapsed", time.Since(started))

	return &registry.JobResult{
		OutputRef:              outputRef,
		CensoredIntervalCount:  len(intervals),
		TotalCensoredDurationS: censoredS,
		ProcessingTimeS:        time.Since(started).Seconds(),
	}, nil
}

// fetchInput copies the job's source object into the workspace.
func (r *Runner) fetchInput(ctx context.Context, job *registry.Job, workspace string) (string, error) {
	rc, err := r.Store.Get(ctx, job.Input.ObjectRef)
	if err != nil {
		return "", fmt.Errorf("fetch input %q: %w", job.Input.ObjectRef, err)
	}
	defer rc.Close()

	path := filepath.Join(workspace, "input"+outputExt(job.Input.OriginalName))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("fetch input: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("fetch input %q: %w", job.Input.ObjectRef, err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("fetch input: %w", err)
	}
	return path, nil
}

// publish moves the finished output into the object store keyed by its
// content hash, so identical outputs dedupe and refs are tamper-evident.
func (r *Runner) publish(ctx context.Context, outPath string) (string, error) {
	f, err := os.Open(outPath)
	if err != nil {
		return "", fmt.Errorf("publish output: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("publish output: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("publish output: %w", err)
	}

	key := "outputs/" + hex.EncodeToString(h.Sum(nil)) + filepath.Ext(outPath)
	if _, err := r.Store.Put(ctx, key, f); err != nil {
		return "", fmt.Errorf("publish output: %w", err)
	}
	return key, nil
}

// recordDetectorDelta mirrors the detector's per-branch activity since
// before into the OTel counters.
func (r *Runner) recordDetectorDelta(ctx context.Context, before detect.StatsSnapshot) {
	if r.Metrics == nil {
		return
	}
	after := r.Detector.Stats()
	r.Metrics.RecordDetectorCalls(ctx,
		int64(after.RegexCalls-before.RegexCalls),
		int64(after.MLCalls-before.MLCalls))
	r.Metrics.RecordDetectorVerdicts(ctx,
		int64(after.Agreements-before.Agreements),
		int64(after.Disagreements-before.Disagreements))
}

// checkpoint polls the cancellation flag and records stage progress.
func (r *Runner) checkpoint(ctx context.Context, jc JobContext, progress int) error {
	cancelled, err := r.Registry.CancelRequested(ctx, jc.Job.ID)
	if err != nil {
		return fmt.Errorf("poll cancellation: %w", err)
	}
	if cancelled {
		return errCancelRequested
	}
	return r.Registry.UpdateProgress(ctx, jc.Job.ID, jc.WorkerID, progress)
}

// stageRetry runs fn, retrying exactly once after a short backoff when the
// failure looks transient (a subprocess exiting non-zero, not a cancellation
// or a content problem like empty output).
func (r *Runner) stageRetry(ctx context.Context, jc JobContext, stage string, fn func() error) error {
	start := time.Now()
	defer func() {
		if r.Metrics != nil {
			r.Metrics.RecordStage(ctx, stage, time.Since(start))
		}
	}()

	err := fn()
	if err == nil || !transient(err) {
		return err
	}

	slog.Warn("stage failed, retrying once",
		"job_id", jc.Job.ID, "stage", stage, "error", err)
	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return ctx.Err()
	}
	if cancelled, cerr := r.Registry.CancelRequested(ctx, jc.Job.ID); cerr == nil && cancelled {
		return errCancelRequested
	}
	return fn()
}

// stageTimed runs fn under the stage-duration metric.
func stageTimed[T any](ctx context.Context, m *observe.Metrics, stage string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	if m != nil {
		m.RecordStage(ctx, stage, time.Since(start))
	}
	return v, err
}

// transient reports whether a stage error is worth one retry.
func transient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, errCancelRequested),
		errors.Is(err, media.ErrEmptyOutput),
		errors.Is(err, media.ErrOutputTooShort),
		errors.Is(err, media.ErrToolUnavailable):
		return false
	case errors.Is(err, media.ErrExtractFailed), errors.Is(err, media.ErrMuxFailed):
		return true
	}
	return false
}

// ClassifyError maps a pipeline failure onto the registry's error kinds.
func ClassifyError(err error) registry.JobError {
	kind := registry.ErrInternal
	switch {
	case errors.Is(err, errCancelRequested), errors.Is(err, context.Canceled):
		kind = registry.ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		kind = registry.ErrTimeout
	case errors.Is(err, objstore.ErrNotFound), errors.Is(err, media.ErrProbeFailed):
		kind = registry.ErrInputUnreadable
	case errors.Is(err, media.ErrToolUnavailable), errors.Is(err, media.ErrExtractFailed):
		kind = registry.ErrMediaExtractFailed
	case errors.Is(err, asr.ErrTimeout):
		kind = registry.ErrASRTimeout
	case errors.Is(err, asr.ErrUnavailable):
		kind = registry.ErrASRUnavailable
	case errors.Is(err, asr.ErrFailed):
		kind = registry.ErrASRFailed
	case errors.Is(err, detect.ErrDetectorUnavailable):
		kind = registry.ErrDetectorUnavailable
	case errors.Is(err, media.ErrEmptyOutput):
		kind = registry.ErrEmptyOutput
	case errors.Is(err, media.ErrOutputTooShort):
		kind = registry.ErrOutputTooShort
	case errors.Is(err, media.ErrMuxFailed):
		kind = registry.ErrMediaMuxFailed
	}
	return registry.JobError{Kind: kind, Detail: err.Error()}
}

// outputExt picks the container extension carried through the pipeline,
// falling back to .mp4 when the upload had none.
func outputExt(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" {
		return ".mp4"
	}
	return ext
}
