package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KushagraSharma924/censorly/internal/asr"
	"github.com/KushagraSharma924/censorly/internal/config"
	"github.com/KushagraSharma924/censorly/internal/health"
	"github.com/KushagraSharma924/censorly/internal/media"
	"github.com/KushagraSharma924/censorly/internal/observe"
	"github.com/KushagraSharma924/censorly/internal/pipeline"
	"github.com/KushagraSharma924/censorly/internal/quota"
	"github.com/KushagraSharma924/censorly/internal/registry"
	"github.com/KushagraSharma924/censorly/internal/worker"
	"github.com/KushagraSharma924/censorly/pkg/detect"
	"github.com/KushagraSharma924/censorly/pkg/objstore"
	"github.com/KushagraSharma924/censorly/pkg/wordlist"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job workers, expiry sweeper and metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("censorly starting",
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", string(cfg.Server.LogLevel),
		"max_concurrent_jobs", cfg.Worker.MaxConcurrentJobs,
	)

	// ── Telemetry ──

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			slog.Warn("metrics shutdown failed", "error", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Detection stack ──

	detector, words, err := buildDetector(cfg)
	if err != nil {
		return err
	}
	if cfg.Wordlist.WatchInterval > 0 {
		words.Watch(cfg.Wordlist.WatchInterval.Std())
		defer words.StopWatch()
	}

	// ── Media, speech, storage ──

	tools, err := media.LocateTools(cfg.Media.FFmpegPath, cfg.Media.FFprobePath)
	if err != nil {
		return err
	}
	engine, err := asr.NewNative(cfg.ASR.ModelDir,
		asr.WithThreads(cfg.ASR.Threads),
		asr.WithTranscribeTimeout(cfg.ASR.TranscribeTimeout.Std()))
	if err != nil {
		return err
	}
	defer engine.Close()

	store, err := objstore.NewFS(cfg.Storage.ObjectRoot)
	if err != nil {
		return err
	}

	reg, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer reg.Close()

	usage, err := buildUsage(ctx, cfg)
	if err != nil {
		return err
	}
	quotas := quota.NewService(nil, usage)

	// ── Workers ──

	runner := &pipeline.Runner{
		Registry:        reg,
		Store:           store,
		Tools:           tools,
		Engine:          engine,
		Detector:        detector,
		Metrics:         metrics,
		BeepFrequencyHz: cfg.Media.BeepFrequencyHz,
	}
	pool := worker.NewPool(worker.Config{
		MaxConcurrentJobs: cfg.Worker.MaxConcurrentJobs,
		JobTimeout:        cfg.Worker.JobTimeout.Std(),
		PollInterval:      cfg.Worker.PollInterval.Std(),
		WorkspaceRoot:     cfg.Worker.WorkspaceRoot,
	}, reg, runner, quotas, metrics)

	// ── HTTP: metrics and health ──

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	checks := health.New(
		health.RegistryChecker(reg),
		health.ObjectStoreChecker(store),
		health.WordlistChecker(words),
	)
	checks.Register(mux)
	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		sweepLoop(ctx, cfg.Worker.SweepInterval.Std(), reg, store, metrics)
		return nil
	})

	err = g.Wait()
	slog.Info("censorly stopped")
	return err
}

// buildDetector assembles the scanner/classifier ensemble from config.
func buildDetector(cfg *config.Config) (*detect.Hybrid, *wordlist.Store, error) {
	words, err := wordlist.NewStore(cfg.Wordlist.Path)
	if err != nil {
		return nil, nil, err
	}

	var scanOpts []detect.ScannerOption
	if cfg.Wordlist.Phonetic {
		scanOpts = append(scanOpts, detect.WithPhonetic())
	}
	scanner := detect.NewScanner(words.Document(), scanOpts...)
	for _, w := range scanner.Warnings() {
		slog.Warn("wordlist entry skipped", "reason", w)
	}

	classifier, err := detect.LoadClassifier(detect.ClassifierConfig{
		ArtifactPath:    cfg.Detector.ModelPath,
		Threshold:       cfg.Detector.Threshold,
		OnnxLibraryPath: cfg.Detector.OnnxLibraryPath,
	})
	if err != nil {
		// Non-fatal: the detector degrades to regex-only verdicts and
		// ml_only jobs fail with detector_unavailable.
		slog.Warn("classifier not loaded", "error", err)
	}

	var opts []detect.HybridOption
	if cfg.Detector.SeverityWeighting {
		opts = append(opts, detect.WithSeverityWeighting())
	}
	detector := detect.NewHybrid(scanner, classifier, detect.Policy(cfg.Detector.Policy), opts...)

	words.Subscribe(func(doc *wordlist.Document) {
		next := detect.NewScanner(doc, scanOpts...)
		detector.SwapScanner(next)
		slog.Info("wordlist reloaded", "languages", next.Languages())
	})
	return detector, words, nil
}

// buildRegistry picks Postgres when a DSN is configured, the in-memory store
// otherwise.
func buildRegistry(ctx context.Context, cfg *config.Config) (registry.Registry, error) {
	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		return registry.NewPostgresStore(ctx, dsn)
	}
	slog.Warn("no postgres_dsn configured, jobs are held in memory")
	return registry.NewMemStore(), nil
}

// buildUsage picks Redis-backed usage accounting when configured.
func buildUsage(ctx context.Context, cfg *config.Config) (quota.UsageStore, error) {
	if cfg.Quota.RedisAddr == "" {
		slog.Warn("no redis configured, usage accounting is in memory")
		return quota.NewMemoryUsage(), nil
	}
	return quota.NewRedisUsage(ctx, cfg.Quota.RedisAddr, cfg.Quota.RedisPassword, cfg.Quota.RedisDB)
}

// sweepLoop periodically deletes expired jobs and their stored artifacts.
func sweepLoop(ctx context.Context, interval time.Duration, reg registry.Registry, store objstore.Store, metrics *observe.Metrics) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		swept, err := reg.SweepExpired(ctx, time.Now().UTC())
		if err != nil {
			slog.Error("expiry sweep failed", "error", err)
			continue
		}
		if len(swept) == 0 {
			continue
		}

		for _, job := range swept {
			for _, key := range []string{job.Input.ObjectRef, outputRef(job)} {
				if key == "" {
					continue
				}
				if err := store.Delete(ctx, key); err != nil && !errors.Is(err, objstore.ErrNotFound) {
					slog.Warn("artifact deletion failed", "job_id", job.ID, "key", key, "error", err)
				}
			}
		}
		if metrics != nil {
			metrics.SweptJobs.Add(ctx, int64(len(swept)))
		}
		slog.Info("expired jobs swept", "count", len(swept))
	}
}

func outputRef(job *registry.Job) string {
	if job.Result == nil {
		return ""
	}
	return job.Result.OutputRef
}
