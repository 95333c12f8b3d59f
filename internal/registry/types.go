// Package registry defines the job model and the persistent job store
// coordinating submission, claiming, progress and terminal transitions.
// Two backends exist: an in-memory store for tests and the single-shot run
// command, and a PostgreSQL store for serve mode.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/KushagraSharma924/censorly/pkg/detect"
)

// State is the job lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsValid reports whether s is a recognised state.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateRunning, StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state. Terminal jobs are immutable
// except for expiry sweeps.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ErrorKind is the stable error classification surfaced to users.
type ErrorKind string

const (
	ErrInvalidConfig       ErrorKind = "invalid_config"
	ErrInputUnreadable     ErrorKind = "input_unreadable"
	ErrMediaExtractFailed  ErrorKind = "media_extract_failed"
	ErrASRUnavailable      ErrorKind = "asr_unavailable"
	ErrASRFailed           ErrorKind = "asr_failed"
	ErrASRTimeout          ErrorKind = "asr_timeout"
	ErrDetectorUnavailable ErrorKind = "detector_unavailable"
	ErrEmptyOutput         ErrorKind = "empty_output"
	ErrOutputTooShort      ErrorKind = "output_too_short"
	ErrMediaMuxFailed      ErrorKind = "media_mux_failed"
	ErrQuotaExceeded       ErrorKind = "quota_exceeded"
	ErrTimeout             ErrorKind = "timeout"
	ErrCancelled           ErrorKind = "cancelled"
	ErrInternal            ErrorKind = "internal_error"
)

// CensorMode selects how abusive intervals are rendered in the output.
type CensorMode string

const (
	ModeBeep CensorMode = "beep"
	ModeMute CensorMode = "mute"
	ModeCut  CensorMode = "cut"
)

// IsValid reports whether m is a recognised censor mode.
func (m CensorMode) IsValid() bool {
	return m == ModeBeep || m == ModeMute || m == ModeCut
}

// ValidLanguages enumerates the language tags accepted in a job config.
var ValidLanguages = []string{
	"english", "hindi", "hinglish", "hindi-devanagari", "hindi-urdu-script", "auto",
}

// JobConfig is the per-job censoring configuration supplied at submit time.
type JobConfig struct {
	Mode           CensorMode    `json:"mode"`
	Threshold      float64       `json:"threshold"`
	Languages      []string      `json:"languages"`
	PaddingBeforeS float64       `json:"padding_before_s"`
	PaddingAfterS  float64       `json:"padding_after_s"`
	EnsemblePolicy detect.Policy `json:"ensemble_policy"`
}

// ApplyDefaults fills unset fields with the documented submit defaults.
func (c *JobConfig) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeBeep
	}
	if c.Threshold == 0 {
		c.Threshold = 0.3
	}
	if len(c.Languages) == 0 {
		c.Languages = []string{"auto"}
	}
	if c.PaddingBeforeS == 0 {
		c.PaddingBeforeS = 0.05
	}
	if c.PaddingAfterS == 0 {
		c.PaddingAfterS = 0.05
	}
	if c.EnsemblePolicy == "" {
		c.EnsemblePolicy = detect.PolicyFastFirst
	}
}

// Validate checks the config against the submit contract. Violations are
// rejected before a job row is created.
func (c JobConfig) Validate() error {
	var errs []error
	if !c.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("mode %q is invalid; valid values: beep, mute, cut", c.Mode))
	}
	if c.Threshold < 0.1 || c.Threshold > 1.0 {
		errs = append(errs, fmt.Errorf("threshold %.2f is out of range [0.1, 1.0]", c.Threshold))
	}
	for _, lang := range c.Languages {
		if !slices.Contains(ValidLanguages, lang) {
			errs = append(errs, fmt.Errorf("language %q is not recognised", lang))
		}
	}
	if c.PaddingBeforeS < 0 {
		errs = append(errs, fmt.Errorf("padding_before_s must not be negative"))
	}
	if c.PaddingAfterS < 0 {
		errs = append(errs, fmt.Errorf("padding_after_s must not be negative"))
	}
	if !c.EnsemblePolicy.IsValid() {
		errs = append(errs, fmt.Errorf("ensemble_policy %q is invalid; valid values: regex_only, ml_only, fast_first, both", c.EnsemblePolicy))
	}
	return errors.Join(errs...)
}

// JobInput describes the stored source video.
type JobInput struct {
	ObjectRef    string  `json:"object_ref"`
	SizeBytes    int64   `json:"size_bytes"`
	DurationS    float64 `json:"duration_s"`
	OriginalName string  `json:"original_name"`
}

// JobResult is recorded on completion.
type JobResult struct {
	OutputRef              string  `json:"output_ref"`
	CensoredIntervalCount  int     `json:"censored_interval_count"`
	TotalCensoredDurationS float64 `json:"total_censored_duration_s"`
	ProcessingTimeS        float64 `json:"processing_time_s"`
}

// JobError is recorded on failure or cancellation.
type JobError struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

// Job is the central entity tracked by the registry.
type Job struct {
	ID     string
	UserID string

	Input  JobInput
	Config JobConfig

	State    State
	Progress int

	// WorkerID identifies the claiming worker while State is running.
	WorkerID string

	// CancelRequested is the cooperative cancellation flag the runner polls
	// between stages.
	CancelRequested bool

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	ExpiresAt  time.Time

	Result *JobResult
	Error  *JobError
}

// Clone returns a deep copy so callers can hand jobs across goroutines
// without aliasing registry-owned state.
func (j *Job) Clone() *Job {
	out := *j
	out.Config.Languages = slices.Clone(j.Config.Languages)
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return &out
}

// ListFilter narrows List results.
type ListFilter struct {
	// State filters to one state when non-empty.
	State State

	// Limit caps the result count when positive.
	Limit int
}
