package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/d9705996/modmail-viewer/internal/discord"
	"github.com/d9705996/modmail-viewer/internal/permissions"
	"github.com/d9705996/modmail-viewer/internal/tenancy"
)

var (
	errNoSession  = errors.New("no session in context")
	errNoIdentity = errors.New("no identity in context")
	errNoTenant   = errors.New("no tenant in context")
)

// TenantPathValue is the route wildcard naming the tenant slug.
const TenantPathValue = "tenant"

// LevelFor resolves the caller's level in t from their roles in its guild.
func LevelFor(ctx context.Context, id *Caller, t *tenancy.Tenant) (permissions.Level, error) {
	member, err := id.Client.GuildMember(ctx, t.GuildID())
	if err != nil {
		return permissions.Anyone, err
	}
	lvl, err := t.PermissionLevel(ctx, member.Roles, id.User.ID)
	if err != nil {
		return permissions.Anyone, err
	}
	return lvl, nil
}

// Tenant resolves the tenant for the request. Routes with a {tenant}
// wildcard name it by slug. Routes without one get, in single-tenant mode,
// the only tenant, and otherwise the first tenant in which the caller holds
// at least floor. Must follow Identity.
func Tenant(reg *tenancy.Registry, floor permissions.Level) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			slug := r.PathValue(TenantPathValue)
			if slug != "" || !reg.Multitenant() {
				t, err := reg.Create(slug)
				if errors.Is(err, tenancy.ErrTenantNotFound) || errors.Is(err, tenancy.ErrMultitenancyDisabled) {
					Fail(w, r, http.StatusNotFound, "tenant_not_found", fmt.Sprintf("no tenant %q", slug))
					return
				}
				if err != nil {
					Internal(w, r, "resolve tenant", err)
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, tenantKey, t)))
				return
			}

			id := CallerFrom(ctx)
			if id == nil {
				Internal(w, r, "tenant stage without identity", errNoIdentity)
				return
			}
			for _, t := range reg.Tenants(discord.GuildIDs(id.Guilds)) {
				lvl, err := LevelFor(ctx, id, t)
				if errors.Is(err, discord.ErrRateLimited) {
					Upstream(w, r, "resolve implicit tenant", err)
					return
				}
				if err != nil {
					Logger(ctx).DebugContext(ctx, "skipping tenant", "tenant", t.ID(), "err", err)
					continue
				}
				if lvl.AtLeast(floor) {
					next.ServeHTTP(w, r.WithContext(WithTenant(ctx, t, lvl)))
					return
				}
			}
			Fail(w, r, http.StatusNotFound, "tenant_not_found", "no accessible tenant")
		})
	}
}

// RequireLevel rejects callers below min in the request's tenant. Must
// follow Tenant.
func RequireLevel(min permissions.Level) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			t := TenantFrom(ctx)
			if t == nil {
				Internal(w, r, "level stage without tenant", errNoTenant)
				return
			}
			lvl, known := LevelFrom(ctx)
			if !known {
				id := CallerFrom(ctx)
				if id == nil {
					Internal(w, r, "level stage without identity", errNoIdentity)
					return
				}
				var err error
				lvl, err = LevelFor(ctx, id, t)
				switch {
				case errors.Is(err, discord.ErrNotGuildMember):
					Fail(w, r, http.StatusForbidden, "forbidden", "you do not have access to this tenant")
					return
				case err != nil:
					Upstream(w, r, "resolve permission level", err)
					return
				}
				ctx = WithTenant(ctx, t, lvl)
			}
			if !lvl.AtLeast(min) {
				Logger(ctx).InfoContext(ctx, "permission denied", "tenant", t.ID(), "level", lvl.String(), "required", min.String())
				Fail(w, r, http.StatusForbidden, "forbidden", "you do not have access to this tenant")
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
