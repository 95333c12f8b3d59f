package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/KushagraSharma924/censorly/internal/asr"
	"github.com/KushagraSharma924/censorly/internal/media"
	"github.com/KushagraSharma924/censorly/internal/pipeline"
	"github.com/KushagraSharma924/censorly/internal/registry"
	"github.com/KushagraSharma924/censorly/pkg/detect"
	"github.com/KushagraSharma924/censorly/pkg/objstore"
)

// Exit codes of the run command.
const (
	exitOK            = 0
	exitInvalidConfig = 1
	exitInputFailure  = 2
	exitOutputFailure = 3
	exitTimeout       = 4
	exitCancelled     = 5
)

// exitError carries a specific process exit code up to main.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

var (
	runOutput    string
	runMode      string
	runThreshold float64
	runLanguages []string
	runPolicy    string
	runQuality   string
	runStats     bool
)

var runCmd = &cobra.Command{
	Use:   "run <input-video>",
	Short: "Censor a single file locally, without a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(args[0])
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "output path (default <input>-censored.<ext>)")
	runCmd.Flags().StringVar(&runMode, "mode", "beep", "censor mode: beep, mute or cut")
	runCmd.Flags().Float64Var(&runThreshold, "threshold", 0.3, "detector confidence threshold")
	runCmd.Flags().StringSliceVar(&runLanguages, "languages", []string{"auto"}, "language hints")
	runCmd.Flags().StringVar(&runPolicy, "policy", "fast_first", "ensemble policy: regex_only, ml_only, fast_first or both")
	runCmd.Flags().StringVar(&runQuality, "quality", "base", "speech model size: tiny, base, small, medium or large")
	runCmd.Flags().BoolVar(&runStats, "stats", false, "print detector statistics after the run")
}

func runOnce(inputPath string) error {
	cfg, err := loadConfig()
	if err != nil {
		return &exitError{code: exitInvalidConfig, msg: err.Error()}
	}

	if _, err := os.Stat(inputPath); err != nil {
		return &exitError{code: exitInputFailure, msg: fmt.Sprintf("input %q: %v", inputPath, err)}
	}
	quality := asr.Quality(runQuality)
	if !quality.IsValid() {
		return &exitError{code: exitInvalidConfig, msg: fmt.Sprintf("unknown quality %q", runQuality)}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detector, _, err := buildDetector(cfg)
	if err != nil {
		return &exitError{code: exitInvalidConfig, msg: err.Error()}
	}
	tools, err := media.LocateTools(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)
	if err != nil {
		return &exitError{code: exitInvalidConfig, msg: err.Error()}
	}
	engine, err := asr.NewNative(cfg.ASR.ModelDir,
		asr.WithThreads(cfg.ASR.Threads),
		asr.WithTranscribeTimeout(cfg.ASR.TranscribeTimeout.Std()))
	if err != nil {
		return &exitError{code: exitInvalidConfig, msg: err.Error()}
	}
	defer engine.Close()

	// The single-shot path reuses the full pipeline against throwaway local
	// state: a temp object store and an in-memory registry.
	scratch, err := os.MkdirTemp("", "censorly-run-*")
	if err != nil {
		return &exitError{code: exitOutputFailure, msg: err.Error()}
	}
	defer os.RemoveAll(scratch)

	store, err := objstore.NewFS(filepath.Join(scratch, "objects"))
	if err != nil {
		return &exitError{code: exitOutputFailure, msg: err.Error()}
	}
	reg := registry.NewMemStore()
	defer reg.Close()

	in, err := os.Open(inputPath)
	if err != nil {
		return &exitError{code: exitInputFailure, msg: err.Error()}
	}
	inputKey := "inputs/" + filepath.Base(inputPath)
	_, err = store.Put(ctx, inputKey, in)
	in.Close()
	if err != nil {
		return &exitError{code: exitInputFailure, msg: err.Error()}
	}

	_, err = reg.Submit(ctx, "local",
		registry.JobInput{ObjectRef: inputKey, OriginalName: filepath.Base(inputPath)},
		registry.JobConfig{
			Mode:           registry.CensorMode(runMode),
			Threshold:      runThreshold,
			Languages:      runLanguages,
			EnsemblePolicy: detect.Policy(runPolicy),
		}, time.Hour)
	if err != nil {
		return &exitError{code: exitInvalidConfig, msg: err.Error()}
	}
	claimed, err := reg.ClaimNext(ctx, "local-runner")
	if err != nil {
		return &exitError{code: exitInvalidConfig, msg: err.Error()}
	}

	runner := &pipeline.Runner{
		Registry:        reg,
		Store:           store,
		Tools:           tools,
		Engine:          engine,
		Detector:        detector,
		BeepFrequencyHz: cfg.Media.BeepFrequencyHz,
	}
	result, err := runner.Run(ctx, pipeline.JobContext{
		Job:       claimed,
		WorkerID:  "local-runner",
		Workspace: scratch,
		Quality:   quality,
	})
	if err != nil {
		jobErr := pipeline.ClassifyError(err)
		return &exitError{code: exitCodeFor(jobErr.Kind), msg: fmt.Sprintf("%s: %s", jobErr.Kind, jobErr.Detail)}
	}

	outPath := runOutput
	if outPath == "" {
		outPath = censoredName(inputPath)
	}
	if err := copyObject(ctx, store, result.OutputRef, outPath); err != nil {
		return &exitError{code: exitOutputFailure, msg: err.Error()}
	}

	fmt.Printf("censored %d interval(s), %.2fs of audio, in %.1fs\n",
		result.CensoredIntervalCount, result.TotalCensoredDurationS, result.ProcessingTimeS)
	fmt.Printf("output written to %s\n", outPath)

	if runStats {
		printStats(detector)
	}
	return nil
}

func exitCodeFor(kind registry.ErrorKind) int {
	switch kind {
	case registry.ErrInputUnreadable, registry.ErrMediaExtractFailed:
		return exitInputFailure
	case registry.ErrMediaMuxFailed, registry.ErrEmptyOutput, registry.ErrOutputTooShort:
		return exitOutputFailure
	case registry.ErrTimeout, registry.ErrASRTimeout:
		return exitTimeout
	case registry.ErrCancelled:
		return exitCancelled
	default:
		return exitInvalidConfig
	}
}

// censoredName derives the default output path: video.mp4 → video-censored.mp4.
func censoredName(inputPath string) string {
	ext := filepath.Ext(inputPath)
	return strings.TrimSuffix(inputPath, ext) + "-censored" + ext
}

func copyObject(ctx context.Context, store objstore.Store, key, dst string) error {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printStats(detector *detect.Hybrid) {
	s := detector.Stats()
	fmt.Printf("detector: %d texts scanned, %d flagged\n", s.Total, s.Abusive)
	fmt.Printf("  regex: %d calls, avg %s\n", s.RegexCalls, s.RegexAvg)
	fmt.Printf("  ml:    %d calls, avg %s\n", s.MLCalls, s.MLAvg)
	if n := s.Agreements + s.Disagreements; n > 0 {
		fmt.Printf("  branch agreement: %.0f%%\n", 100*s.AgreementRate())
	}
}
