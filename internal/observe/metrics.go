// Package observe provides application-wide observability primitives for
// censorly: OpenTelemetry metrics and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all censorly metrics.
const meterName = "github.com/KushagraSharma924/censorly"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks per-stage pipeline latency. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// JobDuration tracks end-to-end job processing time. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	JobDuration metric.Float64Histogram

	// DetectorBranchDuration tracks per-branch detector latency. Use with
	// attribute: attribute.String("branch", "regex"|"ml")
	DetectorBranchDuration metric.Float64Histogram

	// --- Counters ---

	// JobsFinished counts terminal job transitions. Use with attributes:
	//   attribute.String("status", ...), attribute.String("error_kind", ...)
	JobsFinished metric.Int64Counter

	// DetectorCalls counts detector branch invocations. Use with attribute:
	//   attribute.String("branch", ...)
	DetectorCalls metric.Int64Counter

	// DetectorVerdicts counts both-branch outcomes. Use with attribute:
	//   attribute.String("outcome", "agreement"|"disagreement")
	DetectorVerdicts metric.Int64Counter

	// CensoredSeconds accumulates total censored media time.
	CensoredSeconds metric.Float64Counter

	// SweptJobs counts jobs removed by the expiry sweeper.
	SweptJobs metric.Int64Counter

	// --- Gauges ---

	// ActiveJobs tracks jobs currently executing.
	ActiveJobs metric.Int64UpDownCounter

	// QueuedClaims tracks workers currently blocked polling for work.
	QueuedClaims metric.Int64UpDownCounter
}

// stageBuckets covers pipeline stage latencies, which run from sub-second
// detector calls up to multi-minute transcriptions.
var stageBuckets = []float64{
	0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800,
}

// branchBuckets covers detector branch latencies.
var branchBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("censorly.stage.duration",
		metric.WithDescription("Latency of one pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("censorly.job.duration",
		metric.WithDescription("End-to-end job processing time by mode and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DetectorBranchDuration, err = m.Float64Histogram("censorly.detector.branch.duration",
		metric.WithDescription("Latency of one detector branch call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(branchBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.JobsFinished, err = m.Int64Counter("censorly.jobs.finished",
		metric.WithDescription("Terminal job transitions by status and error kind."),
	); err != nil {
		return nil, err
	}
	if met.DetectorCalls, err = m.Int64Counter("censorly.detector.calls",
		metric.WithDescription("Detector branch invocations by branch."),
	); err != nil {
		return nil, err
	}
	if met.DetectorVerdicts, err = m.Int64Counter("censorly.detector.verdicts",
		metric.WithDescription("Both-branch detector outcomes by agreement."),
	); err != nil {
		return nil, err
	}
	if met.CensoredSeconds, err = m.Float64Counter("censorly.censored.seconds",
		metric.WithDescription("Total censored media time."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.SweptJobs, err = m.Int64Counter("censorly.jobs.swept",
		metric.WithDescription("Jobs removed by the expiry sweeper."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveJobs, err = m.Int64UpDownCounter("censorly.active_jobs",
		metric.WithDescription("Jobs currently executing."),
	); err != nil {
		return nil, err
	}
	if met.QueuedClaims, err = m.Int64UpDownCounter("censorly.queued_claims",
		metric.WithDescription("Workers currently idle-polling for work."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records one pipeline stage duration.
func (m *Metrics) RecordStage(ctx context.Context, stage string, elapsed time.Duration) {
	m.StageDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordJobFinished records a terminal job transition with its end-to-end
// duration. errorKind is empty for completed jobs.
func (m *Metrics) RecordJobFinished(ctx context.Context, mode, status, errorKind string, elapsed time.Duration) {
	m.JobDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
	m.JobsFinished.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("error_kind", errorKind),
		),
	)
}

// RecordDetectorBranch records one branch call with its latency.
func (m *Metrics) RecordDetectorBranch(ctx context.Context, branch string, elapsed time.Duration) {
	m.DetectorCalls.Add(ctx, 1,
		metric.WithAttributes(attribute.String("branch", branch)),
	)
	m.DetectorBranchDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("branch", branch)),
	)
}

// RecordDetectorCalls adds per-branch call counts in bulk, for callers that
// aggregate over many texts.
func (m *Metrics) RecordDetectorCalls(ctx context.Context, regex, ml int64) {
	if regex > 0 {
		m.DetectorCalls.Add(ctx, regex,
			metric.WithAttributes(attribute.String("branch", "regex")))
	}
	if ml > 0 {
		m.DetectorCalls.Add(ctx, ml,
			metric.WithAttributes(attribute.String("branch", "ml")))
	}
}

// RecordDetectorVerdicts adds both-branch outcome counts in bulk.
func (m *Metrics) RecordDetectorVerdicts(ctx context.Context, agreements, disagreements int64) {
	if agreements > 0 {
		m.DetectorVerdicts.Add(ctx, agreements,
			metric.WithAttributes(attribute.String("outcome", "agreement")))
	}
	if disagreements > 0 {
		m.DetectorVerdicts.Add(ctx, disagreements,
			metric.WithAttributes(attribute.String("outcome", "disagreement")))
	}
}

// RecordCensoredSeconds accumulates how much audio a finished job censored.
func (m *Metrics) RecordCensoredSeconds(ctx context.Context, mode string, seconds float64) {
	m.CensoredSeconds.Add(ctx, seconds,
		metric.WithAttributes(attribute.String("mode", mode)),
	)
}

// RecordDetectorVerdict records a both-branch outcome.
func (m *Metrics) RecordDetectorVerdict(ctx context.Context, agreement bool) {
	outcome := "disagreement"
	if agreement {
		outcome = "agreement"
	}
	m.DetectorVerdicts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
