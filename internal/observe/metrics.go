// Package observe provides application-wide observability primitives for
// votevoice: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all votevoice metrics.
const meterName = "github.com/MrWong99/votevoice"

// Metrics holds the OpenTelemetry instruments of the service. The
// instruments are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// SessionDuration tracks how long a dialogue session stayed alive. Use
	// with attributes:
	//   attribute.String("screen", ...), attribute.String("outcome", ...)
	SessionDuration metric.Float64Histogram

	// StoreDuration tracks document store operation latency. Use with
	// attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	StoreDuration metric.Float64Histogram

	// ActionDuration tracks business action latency (cast vote, submit
	// application, ...). Use with attributes:
	//   attribute.String("action", ...), attribute.String("status", ...)
	ActionDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts listening turns opened. Use with attribute:
	//   attribute.String("screen", ...)
	Turns metric.Int64Counter

	// Intents counts classified utterances. Use with attributes:
	//   attribute.String("screen", ...), attribute.String("intent", ...)
	Intents metric.Int64Counter

	// Retries counts failed turns. Use with attributes:
	//   attribute.String("screen", ...), attribute.String("reason", ...)
	Retries metric.Int64Counter

	// Fallbacks counts sessions that gave up on voice. Use with attributes:
	//   attribute.String("screen", ...), attribute.String("reason", ...)
	Fallbacks metric.Int64Counter

	// VotesCast counts ballot submissions. Use with attributes:
	//   attribute.String("position", ...), attribute.String("status", ...)
	VotesCast metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live dialogue sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConnections tracks the number of connected devices.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for store
// and business action latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for whole
// dialogue sessions, which last from a few seconds to several minutes.
var sessionBuckets = []float64{
	1, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("votevoice.dialogue.session.duration",
		metric.WithDescription("Lifetime of a dialogue session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StoreDuration, err = m.Float64Histogram("votevoice.store.duration",
		metric.WithDescription("Latency of document store operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActionDuration, err = m.Float64Histogram("votevoice.election.action.duration",
		metric.WithDescription("Latency of election business actions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("votevoice.dialogue.turns",
		metric.WithDescription("Total listening turns by screen."),
	); err != nil {
		return nil, err
	}
	if met.Intents, err = m.Int64Counter("votevoice.dialogue.intents",
		metric.WithDescription("Total classified utterances by screen and intent."),
	); err != nil {
		return nil, err
	}
	if met.Retries, err = m.Int64Counter("votevoice.dialogue.retries",
		metric.WithDescription("Total failed turns by screen and reason."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("votevoice.dialogue.fallbacks",
		metric.WithDescription("Total sessions degraded to manual input by screen and reason."),
	); err != nil {
		return nil, err
	}
	if met.VotesCast, err = m.Int64Counter("votevoice.votes.cast",
		metric.WithDescription("Total ballot submissions by position and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("votevoice.active_sessions",
		metric.WithDescription("Number of live dialogue sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("votevoice.active_connections",
		metric.WithDescription("Number of connected devices."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("votevoice.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// status maps an error to the "status" attribute value.
func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTurn records a listening turn being opened.
func (m *Metrics) RecordTurn(ctx context.Context, screen string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("screen", screen)))
}

// RecordIntent records one classified utterance.
func (m *Metrics) RecordIntent(ctx context.Context, screen, intent string) {
	m.Intents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("screen", screen),
			attribute.String("intent", intent),
		),
	)
}

// RecordRetry records a failed turn.
func (m *Metrics) RecordRetry(ctx context.Context, screen, reason string) {
	m.Retries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("screen", screen),
			attribute.String("reason", reason),
		),
	)
}

// RecordFallback records a session degrading to manual input.
func (m *Metrics) RecordFallback(ctx context.Context, screen, reason string) {
	m.Fallbacks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("screen", screen),
			attribute.String("reason", reason),
		),
	)
}

// RecordSession records the end of a dialogue session that started at start.
func (m *Metrics) RecordSession(ctx context.Context, screen, outcome string, start time.Time) {
	m.SessionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("screen", screen),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordStoreOp records the latency of a document store operation.
func (m *Metrics) RecordStoreOp(ctx context.Context, op string, start time.Time, err error) {
	m.StoreDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status(err)),
		),
	)
}

// RecordAction records the latency of a business action.
func (m *Metrics) RecordAction(ctx context.Context, action string, start time.Time, err error) {
	m.ActionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status(err)),
		),
	)
}

// RecordVote records a ballot submission. result is "ok", "already_voted"
// or "error".
func (m *Metrics) RecordVote(ctx context.Context, position, result string) {
	m.VotesCast.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("position", position),
			attribute.String("status", result),
		),
	)
}
