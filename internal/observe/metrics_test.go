package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, "transcribe", 12*time.Second)
	m.RecordStage(ctx, "transcribe", 30*time.Second)
	m.RecordStage(ctx, "censor", 2*time.Second)

	rm := collect(t, reader)
	md := findMetric(rm, "censorly.stage.duration")
	if md == nil {
		t.Fatal("stage duration histogram not found")
	}
	hist, ok := md.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", md.Data)
	}
	// One datapoint per stage attribute.
	if len(hist.DataPoints) != 2 {
		t.Fatalf("got %d datapoints, want 2", len(hist.DataPoints))
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("total observations = %d, want 3", total)
	}
}

func TestRecordJobFinished(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordJobFinished(ctx, "beep", "completed", "", 45*time.Second)
	m.RecordJobFinished(ctx, "cut", "failed", "empty_output", 10*time.Second)

	rm := collect(t, reader)
	md := findMetric(rm, "censorly.jobs.finished")
	if md == nil {
		t.Fatal("jobs finished counter not found")
	}
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", md.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("jobs finished = %d, want 2", total)
	}

	if findMetric(rm, "censorly.job.duration") == nil {
		t.Error("job duration histogram not recorded")
	}
}

func TestRecordDetectorBranchAndVerdict(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDetectorBranch(ctx, "regex", time.Millisecond)
	m.RecordDetectorBranch(ctx, "ml", 40*time.Millisecond)
	m.RecordDetectorVerdict(ctx, true)
	m.RecordDetectorVerdict(ctx, false)
	m.RecordDetectorVerdict(ctx, false)

	rm := collect(t, reader)

	calls := findMetric(rm, "censorly.detector.calls")
	if calls == nil {
		t.Fatal("detector calls counter not found")
	}
	sum := calls.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Errorf("detector calls datapoints = %d, want 2 (regex, ml)", len(sum.DataPoints))
	}

	verdicts := findMetric(rm, "censorly.detector.verdicts")
	if verdicts == nil {
		t.Fatal("detector verdicts counter not found")
	}
	vsum := verdicts.Data.(metricdata.Sum[int64])
	var total int64
	for _, dp := range vsum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("verdicts = %d, want 3", total)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveJobs.Add(ctx, 1)
	m.ActiveJobs.Add(ctx, 1)
	m.ActiveJobs.Add(ctx, -1)

	rm := collect(t, reader)
	md := findMetric(rm, "censorly.active_jobs")
	if md == nil {
		t.Fatal("active jobs gauge not found")
	}
	sum := md.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("active jobs = %+v, want single datapoint of 1", sum.DataPoints)
	}
}

func TestDefaultMetricsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned distinct instances")
	}
}
