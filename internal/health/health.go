// Package health serves the liveness and readiness endpoints of the job
// service. Liveness (/healthz) answers 200 whenever the process can serve
// HTTP at all; readiness (/readyz) runs a probe per wired dependency
// (registry, object store, wordlist) and answers 503 until every one of them
// passes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single dependency probe.
const checkTimeout = 5 * time.Second

// Checker is a named dependency probe. Check returns nil when the dependency
// is usable and an error describing why not otherwise.
type Checker struct {
	// Name keys the probe's verdict in the JSON body (e.g. "registry",
	// "object_store").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// response is the body of both endpoints: an overall status plus one verdict
// per named probe.
type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler evaluates a fixed set of probes per /readyz request. Safe for
// concurrent use.
type Handler struct {
	checkers []Checker
}

// New copies the given checkers into a Handler.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz reports liveness. Reaching the handler at all is the signal; no
// dependency is consulted.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz runs every probe concurrently, each under its own checkTimeout
// derived from the request context, and reports 503 with per-probe verdicts
// unless all pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	verdicts := make([]string, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			if err := c.Check(ctx); err != nil {
				verdicts[i] = "fail: " + err.Error()
				return
			}
			verdicts[i] = "ok"
		}()
	}
	wg.Wait()

	res := response{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		res.Checks[c.Name] = verdicts[i]
		if verdicts[i] != "ok" {
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, res)
}

// writeJSON marshals before touching the ResponseWriter so an encoding
// failure can still produce a clean 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
