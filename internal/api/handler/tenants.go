package handler

import (
	"context"
	"net/http"

	"github.com/d9705996/modmail-viewer/internal/api/jsonapi"
	"github.com/d9705996/modmail-viewer/internal/api/middleware"
	"github.com/d9705996/modmail-viewer/internal/discord"
	"github.com/d9705996/modmail-viewer/internal/permissions"
	"github.com/d9705996/modmail-viewer/internal/tenancy"
	"golang.org/x/sync/errgroup"
)

// maxTenantLookups bounds concurrent per-tenant permission lookups.
const maxTenantLookups = 8

type tenantAttrs struct {
	Slug        string            `json:"slug"`
	Name        string            `json:"name"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	GuildID     string            `json:"guild_id"`
	Level       permissions.Level `json:"level"`
}

func tenantResource(t *tenancy.Tenant, lvl permissions.Level) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{
		Type: "tenants",
		ID:   t.ID(),
		Attributes: tenantAttrs{
			Slug:        t.Slug(),
			Name:        t.Name(),
			Title:       t.Title(),
			Description: t.Description(),
			GuildID:     t.GuildID(),
			Level:       lvl,
		},
	}
}

// TenantHandler serves tenant resources.
type TenantHandler struct {
	reg   *tenancy.Registry
	floor permissions.Level
}

// NewTenantHandler creates a TenantHandler listing tenants where the caller
// holds at least floor.
func NewTenantHandler(reg *tenancy.Registry, floor permissions.Level) *TenantHandler {
	return &TenantHandler{reg: reg, floor: floor}
}

// List handles GET /api/v1/tenants. Tenants whose lookup fails are left
// out rather than failing the whole listing.
func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c := middleware.CallerFrom(ctx)
	if c == nil {
		middleware.Fail(w, r, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	candidates := h.reg.Tenants(discord.GuildIDs(c.Guilds))
	levels := make([]permissions.Level, len(candidates))
	ok := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxTenantLookups)
	for i, t := range candidates {
		g.Go(func() error {
			lvl, err := middleware.LevelFor(gctx, c, t)
			if err != nil {
				middleware.Logger(ctx).WarnContext(ctx, "excluding tenant from listing", "tenant", t.ID(), "err", err)
				return nil
			}
			levels[i], ok[i] = lvl, true
			return nil
		})
	}
	_ = g.Wait()

	data := make([]any, 0, len(candidates))
	for i, t := range candidates {
		if ok[i] && levels[i].AtLeast(h.floor) {
			data = append(data, tenantResource(t, levels[i]))
		}
	}
	jsonapi.RenderList(w, http.StatusOK, data, jsonapi.Meta{"multitenant": h.reg.Multitenant()})
}

// Get handles GET /api/v1/tenant and GET /api/v1/tenants/{tenant}.
func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, lvl, ok := tenantAndLevel(r.Context())
	if !ok {
		middleware.Internal(w, r, "tenant handler without tenant", errMissingTenant)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, tenantResource(t, lvl))
}

func tenantAndLevel(ctx context.Context) (*tenancy.Tenant, permissions.Level, bool) {
	t := middleware.TenantFrom(ctx)
	lvl, known := middleware.LevelFrom(ctx)
	return t, lvl, t != nil && known
}
