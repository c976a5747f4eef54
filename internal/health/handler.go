// Package health exposes the /api/v1/health and /api/v1/ready HTTP handlers.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/d9705996/modmail-viewer/internal/api/jsonapi"
	"github.com/d9705996/modmail-viewer/internal/version"
)

// Pinger is implemented by anything that can check a downstream dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Check is one dependency probed by /ready. A failing optional check is
// reported but does not make the service unready.
type Check struct {
	Name     string
	Pinger   Pinger
	Optional bool
}

// Handler holds dependencies for the health and ready endpoints.
type Handler struct {
	db        Pinger
	checks    []Check
	startTime time.Time
}

// New creates a Handler. db may be nil during startup before the pool is
// established; in that case /ready will return 503 immediately. extra are
// probed alongside the database.
func New(db Pinger, extra ...Check) *Handler {
	return &Handler{db: db, checks: extra, startTime: time.Now()}
}

// healthAttrs is the JSON:API attributes payload for the health response.
type healthAttrs struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildDate     string `json:"build_date"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type readyAttrs struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// ServeHealth handles GET /api/v1/health.
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type: "health",
		ID:   "1",
		Attributes: healthAttrs{
			Status:        "ok",
			Version:       version.Version,
			Commit:        version.Commit,
			BuildDate:     version.Date,
			UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		},
	})
}

// ServeReady handles GET /api/v1/ready.
// Returns 200 when the session database is reachable; 503 otherwise.
// Tenant data stores are listed under dependencies.
func (h *Handler) ServeReady(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		jsonapi.RenderError(w, http.StatusServiceUnavailable,
			"dependency_unavailable", "Service Unavailable",
			"database connection is not initialised")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		jsonapi.RenderError(w, http.StatusServiceUnavailable,
			"dependency_unavailable", "Service Unavailable",
			"database is unreachable: "+err.Error())
		return
	}

	deps, failed := h.probe(ctx)
	if failed != "" {
		jsonapi.RenderError(w, http.StatusServiceUnavailable,
			"dependency_unavailable", "Service Unavailable",
			failed+" is unreachable")
		return
	}

	status := "ok"
	for _, s := range deps {
		if s != "ok" {
			status = "degraded"
		}
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "ready",
		ID:         "1",
		Attributes: readyAttrs{Status: status, Dependencies: deps},
	})
}

// probe pings every check concurrently. failed names the first required
// check that failed, in registration order.
func (h *Handler) probe(ctx context.Context) (map[string]string, string) {
	if len(h.checks) == 0 {
		return nil, ""
	}
	errs := make([]error, len(h.checks))
	var wg sync.WaitGroup
	for i, c := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.Pinger.Ping(ctx)
		}()
	}
	wg.Wait()

	deps := make(map[string]string, len(h.checks))
	failed := ""
	for i, c := range h.checks {
		deps[c.Name] = "ok"
		if errs[i] != nil {
			deps[c.Name] = "unreachable"
			if !c.Optional && failed == "" {
				failed = c.Name
			}
		}
	}
	return deps, failed
}
