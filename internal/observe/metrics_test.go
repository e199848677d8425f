package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
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

// sumWhere returns the value of the first data point of the named sum whose
// attributes contain key=value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_RegistersInstruments(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	start := time.Now()

	m.RecordSession(ctx, "vote", "navigate", start)
	m.RecordStoreOp(ctx, "get", start, nil)
	m.RecordAction(ctx, "cast_vote", start, nil)
	m.RecordTurn(ctx, "vote")
	m.RecordIntent(ctx, "vote", "Confirm")
	m.RecordRetry(ctx, "vote", "silence")
	m.RecordFallback(ctx, "vote", "silence")
	m.RecordVote(ctx, "President", "ok")
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveConnections.Add(ctx, 1)
	m.HTTPRequestDuration.Record(ctx, 0.01)

	rm := collect(t, reader)
	for _, name := range []string{
		"votevoice.dialogue.session.duration",
		"votevoice.store.duration",
		"votevoice.election.action.duration",
		"votevoice.dialogue.turns",
		"votevoice.dialogue.intents",
		"votevoice.dialogue.retries",
		"votevoice.dialogue.fallbacks",
		"votevoice.votes.cast",
		"votevoice.active_sessions",
		"votevoice.active_connections",
		"votevoice.http.request.duration",
	} {
		if findMetric(rm, name) == nil {
			t.Errorf("metric %q not exported", name)
		}
	}
}

func TestDialogueCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "vote")
	m.RecordTurn(ctx, "vote")
	m.RecordIntent(ctx, "vote", "SelectChoice")
	m.RecordRetry(ctx, "vote", "silence")
	m.RecordRetry(ctx, "vote", "silence")
	m.RecordRetry(ctx, "vote", "unrecognized")
	m.RecordFallback(ctx, "login", "silence")

	rm := collect(t, reader)

	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"votevoice.dialogue.turns", "screen", "vote", 2},
		{"votevoice.dialogue.intents", "intent", "SelectChoice", 1},
		{"votevoice.dialogue.retries", "reason", "silence", 2},
		{"votevoice.dialogue.retries", "reason", "unrecognized", 1},
		{"votevoice.dialogue.fallbacks", "screen", "login", 1},
	}
	for _, tt := range tests {
		if got := sumWhere(t, rm, tt.metric, tt.key, tt.value); got != tt.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tt.metric, tt.key, tt.value, got, tt.want)
		}
	}
}

func TestVotesCastCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordVote(ctx, "President", "ok")
	m.RecordVote(ctx, "President", "already_voted")
	m.RecordVote(ctx, "Treasurer", "ok")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "votevoice.votes.cast", "status", "already_voted"); got != 1 {
		t.Errorf("already_voted count = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "votevoice.votes.cast", "position", "Treasurer"); got != 1 {
		t.Errorf("Treasurer count = %d, want 1", got)
	}
}

func TestRecordStoreOp_Status(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	start := time.Now()
	m.RecordStoreOp(ctx, "set", start, nil)
	m.RecordStoreOp(ctx, "set", start, errors.New("boom"))
	m.RecordStoreOp(ctx, "set", start, errors.New("boom again"))

	hist, ok := findMetric(collect(t, reader), "votevoice.store.duration").Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("votevoice.store.duration is not a histogram")
	}
	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value("status")
		counts[v.AsString()] += dp.Count
	}
	if counts["ok"] != 1 || counts["error"] != 2 {
		t.Errorf("samples by status = %v, want ok:1 error:2", counts)
	}
}

func TestRecordSession_Buckets(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordSession(context.Background(), "apply", "fallback", time.Now().Add(-45*time.Second))

	hist, ok := findMetric(collect(t, reader), "votevoice.dialogue.session.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("session histogram = %+v", hist)
	}
	dp := hist.DataPoints[0]
	if len(dp.Bounds) != len(sessionBuckets) {
		t.Fatalf("bounds = %v, want %v", dp.Bounds, sessionBuckets)
	}
	// 45s lands in the (30, 60] bucket.
	if dp.BucketCounts[4] != 1 {
		t.Errorf("bucket counts = %v", dp.BucketCounts)
	}
	if outcome, _ := dp.Attributes.Value("outcome"); outcome.AsString() != "fallback" {
		t.Errorf("outcome = %q", outcome.AsString())
	}
}

func TestActiveGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.ActiveConnections.Add(ctx, 3)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"votevoice.active_sessions":    1,
		"votevoice.active_connections": 3,
	} {
		sum, ok := findMetric(rm, name).Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) != 1 {
			t.Fatalf("%s = %+v", name, sum)
		}
		if sum.IsMonotonic {
			t.Errorf("%s is monotonic", name)
		}
		if got := sum.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
