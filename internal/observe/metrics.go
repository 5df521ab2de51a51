// Package observe provides application-wide observability primitives for
// ctcdecode: OpenTelemetry metrics, distributed tracing, structured logging,
// HTTP middleware and instrumented wrappers around decoders and language
// models.
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

// meterName is the instrumentation scope name used for all ctcdecode metrics.
const meterName = "github.com/MrWong99/ctcdecode"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// DecodeDuration tracks wall time per decode. Attributes: mode, status.
	DecodeDuration metric.Float64Histogram

	// DecodeTimesteps tracks the number of input rows per decode.
	DecodeTimesteps metric.Int64Histogram

	// DecodeRequests counts decodes. Attributes: mode, status.
	DecodeRequests metric.Int64Counter

	// DecodeErrors counts failed decodes. Attribute: kind (see [ErrorKind]).
	DecodeErrors metric.Int64Counter

	// LMCalls counts language-model Score and Finish calls.
	// Attributes: op, status.
	LMCalls metric.Int64Counter

	// ActiveStreams tracks open websocket decoding sessions.
	ActiveStreams metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// decode latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// timestepBuckets covers utterances from a few frames to several minutes
// of 10ms frames.
var timestepBuckets = []float64{
	10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 50000,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DecodeDuration, err = m.Float64Histogram("ctcdecode.decode.duration",
		metric.WithDescription("Latency of a full decode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeTimesteps, err = m.Int64Histogram("ctcdecode.decode.timesteps",
		metric.WithDescription("Number of timesteps per decode."),
		metric.WithExplicitBucketBoundaries(timestepBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeRequests, err = m.Int64Counter("ctcdecode.decode.requests",
		metric.WithDescription("Total decodes by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("ctcdecode.decode.errors",
		metric.WithDescription("Total decode failures by error kind."),
	); err != nil {
		return nil, err
	}
	if met.LMCalls, err = m.Int64Counter("ctcdecode.lm.calls",
		metric.WithDescription("Total language-model calls by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("ctcdecode.active_streams",
		metric.WithDescription("Number of open streaming decode sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("ctcdecode.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDecode records one finished decode: its duration, its timestep
// count and the request counter. A non-nil err also increments
// [Metrics.DecodeErrors] under its [ErrorKind].
func (m *Metrics) RecordDecode(ctx context.Context, mode string, timesteps int, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.DecodeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", ErrorKind(err))))
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	)
	m.DecodeDuration.Record(ctx, d.Seconds(), attrs)
	m.DecodeRequests.Add(ctx, 1, attrs)
	m.DecodeTimesteps.Record(ctx, int64(timesteps))
}

// RecordLMCall records one language-model call.
func (m *Metrics) RecordLMCall(ctx context.Context, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.LMCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	))
}
