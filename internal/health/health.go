// Package health serves the liveness and readiness probes of the voice
// server.
//
//   - GET /healthz reports that the process serves HTTP. It always answers
//     200 and includes the number of open voice connections when a gauge is
//     configured.
//   - GET /readyz runs every registered [Checker] concurrently and answers
//     200 only when all of them pass.
//
// Both answer with a JSON object carrying a "status" of "ok" or "fail" and,
// for /readyz, a "checks" map keyed by checker name.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/votevoice/internal/resilience"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 3 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// can serve requests.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is satisfied by the document stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreCheck probes a document store with Ping.
func StoreCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// BreakerCheck fails while cb is open, so that load balancers drain the
// instance while the store is failing. A half-open breaker counts as ready.
func BreakerCheck(name string, cb *resilience.CircuitBreaker) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if s := cb.State(); s == resilience.StateOpen {
			return fmt.Errorf("circuit %s", s)
		}
		return nil
	}}
}

type result struct {
	Status      string            `json:"status"`
	Connections *int64            `json:"connections,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithTimeout overrides [DefaultCheckTimeout].
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithConnections reports the value of gauge on /healthz.
func WithConnections(gauge func() int64) Option {
	return func(h *Handler) { h.connections = gauge }
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers    []Checker
	timeout     time.Duration
	connections func() int64
}

// New returns a Handler evaluating checkers on every /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultCheckTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds both probes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := result{Status: "ok"}
	if h.connections != nil {
		n := h.connections()
		res.Connections = &n
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := h.run(r.Context())

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	if status != http.StatusOK {
		slog.Warn("health: not ready", "checks", res.Checks)
	}
	writeJSON(w, status, res)
}

// run evaluates every checker in its own goroutine and returns the errors in
// checker order.
func (h *Handler) run(ctx context.Context) []error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			errs[i] = c.Check(ctx)
			if errs[i] == nil && ctx.Err() != nil {
				errs[i] = ctx.Err()
			}
		})
	}
	wg.Wait()
	return errs
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("health: write response", "err", err)
	}
}
