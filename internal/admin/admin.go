// Package admin serves the JSON moderation API used by the election
// administrator: reviewing applications, managing the ballot, publishing
// results and following incident reports.
//
// Every route requires the X-Admin-Token header. A [Handler] built with an
// empty token registers no routes.
//
//	GET    /v1/admin/applications
//	POST   /v1/admin/applications/{id}/approve
//	POST   /v1/admin/applications/{id}/reject
//	GET    /v1/admin/candidates
//	DELETE /v1/admin/candidates/{id}
//	GET    /v1/admin/results
//	PUT    /v1/admin/settings/results
//	GET    /v1/admin/incidents
//	GET    /v1/admin/watch/{collection}   (text/event-stream)
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/MrWong99/votevoice/internal/election"
	"github.com/MrWong99/votevoice/internal/resilience"
)

// TokenHeader carries the admin token.
const TokenHeader = "X-Admin-Token"

// watchable lists the collections the live feed may follow.
var watchable = []string{election.Applications, election.Contestants, election.Votes, election.Incidents}

// Handler serves the admin routes.
type Handler struct {
	svc   *election.Service
	token string
}

// New returns a Handler for svc guarded by token.
func New(svc *election.Service, token string) *Handler {
	return &Handler{svc: svc, token: token}
}

// Register adds the admin routes to mux. It is a no-op for an empty token.
func (h *Handler) Register(mux *http.ServeMux) {
	if h.token == "" {
		slog.Info("admin: no admin token configured, API disabled")
		return
	}
	mux.Handle("GET /v1/admin/applications", h.auth(h.listApplications))
	mux.Handle("POST /v1/admin/applications/{id}/approve", h.auth(h.approve))
	mux.Handle("POST /v1/admin/applications/{id}/reject", h.auth(h.reject))
	mux.Handle("GET /v1/admin/candidates", h.auth(h.listCandidates))
	mux.Handle("DELETE /v1/admin/candidates/{id}", h.auth(h.deleteCandidate))
	mux.Handle("GET /v1/admin/results", h.auth(h.results))
	mux.Handle("PUT /v1/admin/settings/results", h.auth(h.publish))
	mux.Handle("GET /v1/admin/incidents", h.auth(h.listIncidents))
	mux.Handle("GET /v1/admin/watch/{collection}", h.auth(h.watch))
}

func (h *Handler) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(TokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next(w, r)
	})
}

// ── Views ────────────────────────────────────────────────────────────────────

type applicationView struct {
	ID string `json:"id"`
	election.Application
}

type candidateView struct {
	ID string `json:"id"`
	election.Candidate
}

type incidentView struct {
	ID string `json:"id"`
	election.Incident
}

type countView struct {
	Candidate string `json:"candidate"`
	Votes     int64  `json:"votes"`
}

type tallyView struct {
	Position string      `json:"position"`
	Total    int64       `json:"total"`
	Counts   []countView `json:"counts"`
}

type resultsView struct {
	Published bool        `json:"published"`
	Tallies   []tallyView `json:"tallies"`
}

type publishRequest struct {
	Published *bool `json:"published"`
}

// ── Routes ───────────────────────────────────────────────────────────────────

func (h *Handler) listApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := h.svc.PendingApplications(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]applicationView, len(apps))
	for i, a := range apps {
		out[i] = applicationView{ID: a.ID, Application: a}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	slog.Info("admin: application approved", "application", r.PathValue("id"), "candidate", id)
	writeJSON(w, http.StatusOK, map[string]string{"candidateId": id})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reject(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	slog.Info("admin: application rejected", "application", r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listCandidates(w http.ResponseWriter, r *http.Request) {
	cands, err := h.svc.Candidates(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]candidateView, len(cands))
	for i, c := range cands {
		out[i] = candidateView{ID: c.ID, Candidate: c}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) deleteCandidate(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteCandidate(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	slog.Info("admin: candidate removed", "candidate", r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) results(w http.ResponseWriter, r *http.Request) {
	published, err := h.svc.ResultsPublished(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tallies, err := h.svc.Results(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := resultsView{Published: published, Tallies: make([]tallyView, len(tallies))}
	for i, t := range tallies {
		tv := tallyView{Position: t.Position, Total: t.Total(), Counts: make([]countView, len(t.Counts))}
		for j, c := range t.Counts {
			tv.Counts[j] = countView{Candidate: c.Candidate, Votes: c.Votes}
		}
		out.Tallies[i] = tv
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.Published == nil {
		writeError(w, http.StatusBadRequest, `body must be {"published": true|false}`)
		return
	}
	if err := h.svc.SetResultsPublished(r.Context(), *req.Published); err != nil {
		h.fail(w, r, err)
		return
	}
	slog.Info("admin: results publication changed", "published", *req.Published)
	writeJSON(w, http.StatusOK, map[string]bool{"published": *req.Published})
}

func (h *Handler) listIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.svc.Incidents(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]incidentView, len(incidents))
	for i, in := range incidents {
		out[i] = incidentView{ID: in.ID, Incident: in}
	}
	writeJSON(w, http.StatusOK, out)
}

// watch streams collection changes as server-sent events, one JSON object
// per event, until the client goes away.
func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	if !slices.Contains(watchable, collection) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("collection %q cannot be watched", collection))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	changes, err := h.svc.Watch(ctx, collection)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			data, err := json.Marshal(map[string]any{
				"id":     ch.Doc.ID,
				"fields": ch.Doc.Fields,
			})
			if err != nil {
				slog.Warn("admin: encode change", "collection", collection, "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ch.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ── Responses ────────────────────────────────────────────────────────────────

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, election.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, election.ErrMissingFields):
		writeError(w, http.StatusBadRequest, "missing required fields")
	case errors.Is(err, resilience.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, "store unavailable, try again shortly")
	default:
		slog.Error("admin: request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("admin: write response", "err", err)
	}
}
