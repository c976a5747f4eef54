// Package api wires all API routes onto the provided ServeMux.
package api

import (
	"log/slog"
	"net/http"

	"github.com/d9705996/modmail-viewer/internal/api/handler"
	"github.com/d9705996/modmail-viewer/internal/api/middleware"
	"github.com/d9705996/modmail-viewer/internal/health"
	"github.com/d9705996/modmail-viewer/internal/permissions"
	"github.com/d9705996/modmail-viewer/internal/tenancy"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// MinimumLevel is the permission floor for every tenant-scoped route.
const MinimumLevel = permissions.Supporter

// Deps is everything the routes need.
type Deps struct {
	Health   *health.Handler
	Sessions middleware.SessionValidator
	Discord  middleware.ClientFactory
	Tenants  *tenancy.Registry
	Auth     *handler.AuthHandler
	Threads  *handler.ThreadHandler
	Shares   *handler.ShareHandler
	Secure   bool // Secure attribute on cookies
}

type chain []func(http.Handler) http.Handler

func (c chain) then(h http.HandlerFunc) http.Handler {
	var out http.Handler = h
	for i := len(c) - 1; i >= 0; i-- {
		out = c[i](out)
	}
	return out
}

// RegisterRoutes registers all application routes on mux.
func RegisterRoutes(mux *http.ServeMux, d Deps) {
	// Public health endpoints (no session)
	mux.HandleFunc("GET /api/v1/health", d.Health.ServeHealth)
	mux.HandleFunc("GET /api/v1/ready", d.Health.ServeReady)

	public := chain{middleware.Session(d.Sessions, d.Secure)}
	protected := append(public[:len(public):len(public)], middleware.RequireSession, middleware.Identity(d.Discord))
	tenant := append(protected[:len(protected):len(protected)],
		middleware.Tenant(d.Tenants, MinimumLevel), middleware.RequireLevel(MinimumLevel))

	tenants := handler.NewTenantHandler(d.Tenants, MinimumLevel)

	mux.Handle("GET /auth/login", public.then(d.Auth.Login))
	mux.Handle("GET /auth/login/discord/callback", public.then(d.Auth.Callback))
	mux.Handle("POST /auth/logout", public.then(d.Auth.Logout))
	mux.Handle("GET /api/v1/shares/{shareId}", public.then(d.Shares.Resolve))

	mux.Handle("GET /api/v1/me", protected.then(handler.Me))
	mux.Handle("GET /api/v1/tenants", protected.then(tenants.List))

	mux.Handle("GET /api/v1/tenant", tenant.then(tenants.Get))
	mux.Handle("GET /api/v1/tenants/{tenant}", tenant.then(tenants.Get))
	mux.Handle("GET /api/v1/tenants/{tenant}/threads/{id}", tenant.then(d.Threads.Get))
	mux.Handle("GET /api/v1/tenants/{tenant}/threads/{id}/shares", tenant.then(d.Shares.List))
	mux.Handle("POST /api/v1/tenants/{tenant}/threads/{id}/shares", tenant.then(d.Shares.Create))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		middleware.Fail(w, r, http.StatusNotFound, "not_found", "no such route")
	})
}

// Handler wraps mux with request ids, access logging and tracing. It is the
// root handler of the HTTP server.
func Handler(mux *http.ServeMux, log *slog.Logger) http.Handler {
	h := middleware.RequestID(log)(middleware.AccessLog(mux))
	return otelhttp.NewHandler(h, "http.server")
}
