// Package middleware implements the request pipeline: request ids and
// access logs, session cookies, Discord identity, tenant resolution and the
// permission floor.
package middleware

import (
	"context"
	"log/slog"

	"github.com/d9705996/modmail-viewer/internal/auth"
	"github.com/d9705996/modmail-viewer/internal/discord"
	"github.com/d9705996/modmail-viewer/internal/permissions"
	"github.com/d9705996/modmail-viewer/internal/tenancy"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
	sessionKey   contextKey = "session"
	callerKey    contextKey = "caller"
	tenantKey    contextKey = "tenant"
	levelKey     contextKey = "level"
)

// RequestIDFrom returns the request id, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Logger returns the request-scoped logger, falling back to the default.
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// SessionState is what the Session stage learned from the cookie.
type SessionState struct {
	Token    string
	Session  *auth.Session
	Identity *auth.Identity
}

// SessionFrom returns the validated session, or nil for anonymous requests.
func SessionFrom(ctx context.Context) *SessionState {
	s, _ := ctx.Value(sessionKey).(*SessionState)
	return s
}

// Caller is the Discord side of an authenticated request.
type Caller struct {
	Client *discord.CachedClient
	User   *discord.User
	Guilds []discord.Guild
}

// CallerFrom returns the caller attached by the Identity stage.
func CallerFrom(ctx context.Context) *Caller {
	id, _ := ctx.Value(callerKey).(*Caller)
	return id
}

// TenantFrom returns the tenant attached by the Tenant stage.
func TenantFrom(ctx context.Context) *tenancy.Tenant {
	t, _ := ctx.Value(tenantKey).(*tenancy.Tenant)
	return t
}

// LevelFrom returns the caller's level in the current tenant, if resolved.
func LevelFrom(ctx context.Context) (permissions.Level, bool) {
	l, ok := ctx.Value(levelKey).(permissions.Level)
	return l, ok
}

// WithSession attaches s to ctx. Exposed for handler tests.
func WithSession(ctx context.Context, s *SessionState) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// WithCaller attaches id to ctx. Exposed for handler tests.
func WithCaller(ctx context.Context, id *Caller) context.Context {
	return context.WithValue(ctx, callerKey, id)
}

// WithTenant attaches t and the caller's level to ctx.
func WithTenant(ctx context.Context, t *tenancy.Tenant, lvl permissions.Level) context.Context {
	ctx = context.WithValue(ctx, tenantKey, t)
	return context.WithValue(ctx, levelKey, lvl)
}
