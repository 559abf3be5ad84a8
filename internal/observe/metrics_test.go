package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
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

func TestStageHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"lenslate.capture.duration", m.CaptureDuration},
		{"lenslate.ocr.duration", m.OCRDuration},
		{"lenslate.translate.duration", m.TranslateDuration},
		{"lenslate.tick.duration", m.TickDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.012)
		tc.h.Record(ctx, 0.345)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordCacheLookupAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheLookup(ctx, true)
	m.RecordCacheLookup(ctx, true)
	m.RecordCacheLookup(ctx, false)

	rm := collect(t, reader)
	met := findMetric(rm, "lenslate.cache.lookups")
	if met == nil {
		t.Fatal("cache lookup metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("cache lookup metric is not a sum")
	}

	byResult := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		if v, present := dp.Attributes.Value(attribute.Key("result")); present {
			byResult[v.AsString()] = dp.Value
		}
	}
	if byResult["hit"] != 2 || byResult["miss"] != 1 {
		t.Errorf("lookups = %v, want hit=2 miss=1", byResult)
	}
}

func TestRecordEngineError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEngineError(ctx, "translation", "anyllm")

	rm := collect(t, reader)
	met := findMetric(rm, "lenslate.engine.errors")
	if met == nil {
		t.Fatal("engine error metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatalf("unexpected data: %+v", met.Data)
	}
	dp := sum.DataPoints[0]
	if v, _ := dp.Attributes.Value(attribute.Key("stage")); v.AsString() != "translation" {
		t.Errorf("stage attribute = %v", v)
	}
	if v, _ := dp.Attributes.Value(attribute.Key("engine")); v.AsString() != "anyllm" {
		t.Errorf("engine attribute = %v", v)
	}
}

func TestRecordPipelineState(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPipelineState(ctx, 2)
	m.RecordPipelineState(ctx, 3)

	rm := collect(t, reader)
	met := findMetric(rm, "lenslate.pipeline.state")
	if met == nil {
		t.Fatal("pipeline state metric not found")
	}
	gauge, ok := met.Data.(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) == 0 {
		t.Fatalf("unexpected data: %+v", met.Data)
	}
	if got := gauge.DataPoints[0].Value; got != 3 {
		t.Errorf("state = %d, want last-written 3", got)
	}
}

func TestSubprocRestartCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSubprocRestart(ctx, "capture")
	m.RecordSubprocRestart(ctx, "capture")

	rm := collect(t, reader)
	met := findMetric(rm, "lenslate.subproc.restarts")
	if met == nil {
		t.Fatal("restart metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatalf("unexpected data: %+v", met.Data)
	}
	if got := sum.DataPoints[0].Value; got != 2 {
		t.Errorf("restarts = %d, want 2", got)
	}
}

func TestDefaultMetricsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
