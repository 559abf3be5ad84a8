// Package observe provides application-wide observability primitives for
// Lenslate: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Lenslate metrics.
const meterName = "github.com/lenslate/lenslate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// CaptureDuration tracks screen capture latency.
	CaptureDuration metric.Float64Histogram

	// OCRDuration tracks text recognition latency.
	OCRDuration metric.Float64Histogram

	// TranslateDuration tracks a single translation engine call.
	TranslateDuration metric.Float64Histogram

	// TickDuration tracks end-to-end frame processing latency.
	TickDuration metric.Float64Histogram

	// --- Counters ---

	// CacheLookups counts translation cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// FramesSkipped counts frames the frame-skip optimizer elided.
	FramesSkipped metric.Int64Counter

	// FramesDropped counts frames dropped at the scheduler intake.
	FramesDropped metric.Int64Counter

	// WorkSteals counts WorkItems stolen between workers.
	WorkSteals metric.Int64Counter

	// DictionaryLearned counts entries persisted into the learning
	// dictionary.
	DictionaryLearned metric.Int64Counter

	// SubprocRestarts counts supervised stage restarts. Use with attribute:
	//   attribute.String("stage", ...)
	SubprocRestarts metric.Int64Counter

	// --- Error counters ---

	// EngineErrors counts engine adapter failures. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("engine", ...)
	EngineErrors metric.Int64Counter

	// --- Gauges ---

	// PipelineState reports the orchestrator state machine's current state
	// as an ordinal (idle=0, starting, running, degraded, stopping).
	PipelineState metric.Int64Gauge

	// QueueDepth tracks outstanding WorkItems across the pool.
	QueueDepth metric.Int64UpDownCounter

	// OverlayClients tracks connected overlay renderer clients.
	OverlayClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-frame pipeline latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CaptureDuration, err = m.Float64Histogram("lenslate.capture.duration",
		metric.WithDescription("Latency of screen capture."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OCRDuration, err = m.Float64Histogram("lenslate.ocr.duration",
		metric.WithDescription("Latency of text recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = m.Float64Histogram("lenslate.translate.duration",
		metric.WithDescription("Latency of a single translation engine call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TickDuration, err = m.Float64Histogram("lenslate.tick.duration",
		metric.WithDescription("End-to-end frame processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CacheLookups, err = m.Int64Counter("lenslate.cache.lookups",
		metric.WithDescription("Translation cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.FramesSkipped, err = m.Int64Counter("lenslate.frames.skipped",
		metric.WithDescription("Frames elided by the frame-skip optimizer."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("lenslate.frames.dropped",
		metric.WithDescription("Frames dropped at the scheduler intake queue."),
	); err != nil {
		return nil, err
	}
	if met.WorkSteals, err = m.Int64Counter("lenslate.scheduler.steals",
		metric.WithDescription("WorkItems stolen between pool workers."),
	); err != nil {
		return nil, err
	}
	if met.DictionaryLearned, err = m.Int64Counter("lenslate.dictionary.learned",
		metric.WithDescription("Entries persisted into the learning dictionary."),
	); err != nil {
		return nil, err
	}
	if met.SubprocRestarts, err = m.Int64Counter("lenslate.subproc.restarts",
		metric.WithDescription("Supervised stage restarts by stage."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.EngineErrors, err = m.Int64Counter("lenslate.engine.errors",
		metric.WithDescription("Engine adapter failures by stage and engine."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.PipelineState, err = m.Int64Gauge("lenslate.pipeline.state",
		metric.WithDescription("Orchestrator state machine state ordinal."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("lenslate.scheduler.queue_depth",
		metric.WithDescription("Outstanding WorkItems across the worker pool."),
	); err != nil {
		return nil, err
	}
	if met.OverlayClients, err = m.Int64UpDownCounter("lenslate.overlay.clients",
		metric.WithDescription("Connected overlay renderer clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lenslate.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordCacheLookup records a cache lookup with its result attribute.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordEngineError records an engine adapter failure for a stage.
func (m *Metrics) RecordEngineError(ctx context.Context, stage, engine string) {
	m.EngineErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("engine", engine),
		),
	)
}

// RecordSubprocRestart records one supervised restart for a stage.
func (m *Metrics) RecordSubprocRestart(ctx context.Context, stage string) {
	m.SubprocRestarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordPipelineState reports the orchestrator's state ordinal.
func (m *Metrics) RecordPipelineState(ctx context.Context, state int64) {
	m.PipelineState.Record(ctx, state)
}
