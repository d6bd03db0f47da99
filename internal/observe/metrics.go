// Package observe provides application-wide observability primitives for
// streamthread: OpenTelemetry metrics, tracing, and HTTP middleware tying
// them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus exporter registered with the Prometheus
// default registry; no /metrics HTTP route is served by this module. A
// package-level default
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

// meterName is the instrumentation scope name used for all streamthread
// metrics.
const meterName = "github.com/fuba/youtube2slackthread"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks whisper.cpp batch transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// SegmentDuration tracks the wall-clock length of VAD-segmented audio
	// handed to the transcription pool.
	SegmentDuration metric.Float64Histogram

	// PostDuration tracks the latency of posting a sentence into a chat
	// thread.
	PostDuration metric.Float64Histogram

	// --- Counters ---

	// SentencesPosted counts sentences successfully posted to a thread. Use
	// with attribute: attribute.String("team_id", ...).
	SentencesPosted metric.Int64Counter

	// SegmentsTranscribed counts VAD segments that completed transcription.
	SegmentsTranscribed metric.Int64Counter

	// StreamTransitions counts stream lifecycle state transitions. Use with
	// attributes: attribute.String("from", ...), attribute.String("to", ...).
	StreamTransitions metric.Int64Counter

	// --- Error counters ---

	// TranscriptionErrors counts failed transcription attempts.
	TranscriptionErrors metric.Int64Counter

	// PostFailures counts failed chat posts. Use with attribute:
	// attribute.String("kind", ...) (see apierr.PostKind).
	PostFailures metric.Int64Counter

	// MediaStartFailures counts failed media pipeline starts. Use with
	// attribute: attribute.String("class", ...) (see apierr.MediaClass).
	MediaStartFailures metric.Int64Counter

	// BackpressureDrops counts segments dropped from a stream's transcription
	// queue after sitting past max_stall_ms (spec §5). Use with attribute:
	// attribute.String("stream_id", ...).
	BackpressureDrops metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of streams currently in
	// PENDING/RUNNING/STOPPING state.
	ActiveStreams metric.Int64UpDownCounter

	// ActiveTranscriptionWorkers tracks the number of transcription worker
	// goroutines currently processing a segment.
	ActiveTranscriptionWorkers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time (the health
	// endpoint). Use with attributes: attribute.String("method", ...),
	// attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds), covering
// sub-second post latencies up through multi-second transcription batches.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("streamthread.transcription.duration",
		metric.WithDescription("Latency of batch transcription of a VAD segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("streamthread.segment.duration",
		metric.WithDescription("Wall-clock length of audio in a VAD-emitted segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PostDuration, err = m.Float64Histogram("streamthread.post.duration",
		metric.WithDescription("Latency of posting a sentence to a chat thread."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SentencesPosted, err = m.Int64Counter("streamthread.sentences.posted",
		metric.WithDescription("Total sentences posted to chat threads."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsTranscribed, err = m.Int64Counter("streamthread.segments.transcribed",
		metric.WithDescription("Total VAD segments that completed transcription."),
	); err != nil {
		return nil, err
	}
	if met.StreamTransitions, err = m.Int64Counter("streamthread.stream.transitions",
		metric.WithDescription("Total stream lifecycle state transitions by from/to state."),
	); err != nil {
		return nil, err
	}

	if met.TranscriptionErrors, err = m.Int64Counter("streamthread.transcription.errors",
		metric.WithDescription("Total failed transcription attempts."),
	); err != nil {
		return nil, err
	}
	if met.PostFailures, err = m.Int64Counter("streamthread.post.failures",
		metric.WithDescription("Total failed chat posts by failure kind."),
	); err != nil {
		return nil, err
	}
	if met.MediaStartFailures, err = m.Int64Counter("streamthread.media.start_failures",
		metric.WithDescription("Total failed media pipeline starts by failure class."),
	); err != nil {
		return nil, err
	}
	if met.BackpressureDrops, err = m.Int64Counter("streamthread.transcribe.backpressure_drops",
		metric.WithDescription("Total segments dropped from a stream's transcription queue under backpressure."),
	); err != nil {
		return nil, err
	}

	if met.ActiveStreams, err = m.Int64UpDownCounter("streamthread.active_streams",
		metric.WithDescription("Number of streams currently in PENDING, RUNNING, or STOPPING state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveTranscriptionWorkers, err = m.Int64UpDownCounter("streamthread.active_transcription_workers",
		metric.WithDescription("Number of transcription worker goroutines currently busy."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("streamthread.http.request.duration",
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

// RecordSentencePosted is a convenience method that records a posted
// sentence counter increment with the standard attribute set.
func (m *Metrics) RecordSentencePosted(ctx context.Context, teamID string) {
	m.SentencesPosted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("team_id", teamID)),
	)
}

// RecordStreamTransition is a convenience method that records a stream
// lifecycle state transition.
func (m *Metrics) RecordStreamTransition(ctx context.Context, from, to string) {
	m.StreamTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordPostFailure is a convenience method that records a post failure
// counter increment with the standard attribute set.
func (m *Metrics) RecordPostFailure(ctx context.Context, kind string) {
	m.PostFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordMediaStartFailure is a convenience method that records a media
// start failure counter increment with the standard attribute set.
func (m *Metrics) RecordMediaStartFailure(ctx context.Context, class string) {
	m.MediaStartFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("class", class)),
	)
}

// RecordTranscriptionError is a convenience method that records a
// transcription error counter increment.
func (m *Metrics) RecordTranscriptionError(ctx context.Context) {
	m.TranscriptionErrors.Add(ctx, 1)
}

// RecordBackpressureDrop is a convenience method that records a dropped
// segment counter increment with the standard attribute set.
func (m *Metrics) RecordBackpressureDrop(ctx context.Context, streamID string) {
	m.BackpressureDrops.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stream_id", streamID)),
	)
}
