package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/votevoice/internal/resilience"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func get(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	code, body := get(t, New(nil), "/healthz")
	if code != http.StatusOK || body.Status != "ok" || body.Connections != nil {
		t.Errorf("healthz = %d %+v", code, body)
	}

	code, body = get(t, New(nil, WithConnections(func() int64 { return 3 })), "/healthz")
	if code != http.StatusOK || body.Connections == nil || *body.Connections != 3 {
		t.Errorf("healthz with gauge = %d %+v", code, body)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tripped := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = tripped.Execute(func() error { return errors.New("boom") })

	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		want     map[string]string
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
			want:     map[string]string{},
		},
		{
			name: "all pass",
			checkers: []Checker{
				StoreCheck("store", pinger{}),
				BreakerCheck("breaker", resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
			},
			wantCode: http.StatusOK,
			want:     map[string]string{"store": "ok", "breaker": "ok"},
		},
		{
			name: "store down",
			checkers: []Checker{
				StoreCheck("store", pinger{err: errors.New("connection refused")}),
				BreakerCheck("breaker", resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
			},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"store": "fail: connection refused", "breaker": "ok"},
		},
		{
			name:     "breaker open",
			checkers: []Checker{BreakerCheck("breaker", tripped)},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"breaker": "fail: circuit open"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := get(t, New(tt.checkers), "/readyz")
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			wantStatus := "ok"
			if tt.wantCode != http.StatusOK {
				wantStatus = "fail"
			}
			if body.Status != wantStatus {
				t.Errorf("body status = %q, want %q", body.Status, wantStatus)
			}
			if len(body.Checks) != len(tt.want) {
				t.Errorf("checks = %v, want %v", body.Checks, tt.want)
			}
			for k, v := range tt.want {
				if body.Checks[k] != v {
					t.Errorf("checks[%s] = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_Timeout(t *testing.T) {
	t.Parallel()

	slow := Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	start := time.Now()
	code, body := get(t, New([]Checker{slow}, WithTimeout(20*time.Millisecond)), "/readyz")
	if code != http.StatusServiceUnavailable || body.Checks["slow"] != "fail: "+context.DeadlineExceeded.Error() {
		t.Errorf("readyz = %d %+v", code, body)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout not applied, took %v", time.Since(start))
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	waiter := Checker{Name: "waiter", Check: func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}
	releaser := Checker{Name: "releaser", Check: func(context.Context) error {
		close(release)
		return nil
	}}
	code, body := get(t, New([]Checker{waiter, releaser}), "/readyz")
	if code != http.StatusOK {
		t.Errorf("readyz = %d %+v", code, body)
	}
}
