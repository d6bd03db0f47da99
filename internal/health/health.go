// Package health provides the HTTP health endpoint (spec §4.13):
// liveness plus a count of currently active streams.
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//
// Responses are JSON objects with a "status" field ("ok" or "fail"), a
// "checks" map for /readyz, and an "active_streams" count on both.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// checkTimeout bounds how long a single readiness check may take before its
// context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy and a non-nil error describing the failure otherwise.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// ActiveStreamCounter reports how many streams StreamRegistry currently
// considers active (PENDING/RUNNING/STOPPING).
type ActiveStreamCounter func() int

type result struct {
	Status        string            `json:"status"`
	ActiveStreams int               `json:"active_streams"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. Safe for concurrent use.
type Handler struct {
	checkers    []Checker
	activeCount ActiveStreamCounter
}

// New creates a Handler. activeCount may be nil, in which case
// active_streams is always reported as 0.
func New(activeCount ActiveStreamCounter, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	if activeCount == nil {
		activeCount = func() int { return 0 }
	}
	return &Handler{checkers: c, activeCount: activeCount}
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok", ActiveStreams: h.activeCount()})
}

// Readyz returns 200 only when every registered Checker passes.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", ActiveStreams: h.activeCount(), Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
