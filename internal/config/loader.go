package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KushagraSharma924/censorly/pkg/detect"
)

// Defaults applied by [ApplyDefaults] for fields left empty in the document.
const (
	DefaultListenAddr        = ":8080"
	DefaultObjectRoot        = "data/objects"
	DefaultThreshold         = 0.5
	DefaultBeepFrequencyHz   = 1000
	DefaultMaxConcurrentJobs = 3
	DefaultJobTimeout        = time.Hour
	DefaultPollInterval      = time.Second
	DefaultSweepInterval     = 10 * time.Minute
	DefaultRetention         = 72 * time.Hour
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Storage.ObjectRoot == "" {
		cfg.Storage.ObjectRoot = DefaultObjectRoot
	}
	if cfg.Detector.Policy == "" {
		cfg.Detector.Policy = string(detect.PolicyFastFirst)
	}
	if cfg.Detector.Threshold == 0 {
		cfg.Detector.Threshold = DefaultThreshold
	}
	if cfg.Media.BeepFrequencyHz == 0 {
		cfg.Media.BeepFrequencyHz = DefaultBeepFrequencyHz
	}
	if cfg.Worker.MaxConcurrentJobs == 0 {
		cfg.Worker.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if cfg.Worker.JobTimeout == 0 {
		cfg.Worker.JobTimeout = Duration(DefaultJobTimeout)
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = Duration(DefaultPollInterval)
	}
	if cfg.Worker.SweepInterval == 0 {
		cfg.Worker.SweepInterval = Duration(DefaultSweepInterval)
	}
	if cfg.Jobs.Retention == 0 {
		cfg.Jobs.Retention = Duration(DefaultRetention)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Wordlist.Path == "" {
		errs = append(errs, fmt.Errorf("wordlist.path is required"))
	}
	if cfg.Wordlist.WatchInterval < 0 {
		errs = append(errs, fmt.Errorf("wordlist.watch_interval must not be negative"))
	}

	if !detect.Policy(cfg.Detector.Policy).IsValid() {
		errs = append(errs, fmt.Errorf("detector.policy %q is invalid; valid values: regex_only, ml_only, fast_first, both", cfg.Detector.Policy))
	}
	if cfg.Detector.Threshold < 0 || cfg.Detector.Threshold > 1 {
		errs = append(errs, fmt.Errorf("detector.threshold %.2f is out of range [0, 1]", cfg.Detector.Threshold))
	}
	if cfg.Detector.Policy == string(detect.PolicyMLOnly) && cfg.Detector.ModelPath == "" {
		errs = append(errs, fmt.Errorf("detector.policy ml_only requires detector.model_path"))
	}

	if cfg.ASR.Threads < 0 {
		errs = append(errs, fmt.Errorf("asr.threads must not be negative"))
	}

	if cfg.Media.BeepFrequencyHz <= 0 {
		errs = append(errs, fmt.Errorf("media.beep_frequency_hz must be positive"))
	}

	if cfg.Worker.MaxConcurrentJobs <= 0 {
		errs = append(errs, fmt.Errorf("worker.max_concurrent_jobs must be positive"))
	}
	if cfg.Worker.JobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("worker.job_timeout must be positive"))
	}
	if cfg.Worker.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker.poll_interval must be positive"))
	}

	if cfg.Jobs.Retention <= 0 {
		errs = append(errs, fmt.Errorf("jobs.retention must be positive"))
	}

	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; the job registry runs in-memory and loses state on restart")
	}
	if cfg.Quota.RedisAddr == "" {
		slog.Warn("quota.redis_addr is empty; usage counters are tracked per process only")
	}

	return errors.Join(errs...)
}

// SlogLevel converts the configured log level to its slog equivalent.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
