package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/d9705996/modmail-viewer/internal/api/jsonapi"
	"github.com/d9705996/modmail-viewer/internal/api/middleware"
	"github.com/d9705996/modmail-viewer/internal/model"
	"github.com/d9705996/modmail-viewer/internal/sharing"
	"github.com/d9705996/modmail-viewer/internal/threads"
)

type shareAttrs struct {
	Link                    string     `json:"link"`
	URL                     string     `json:"url"`
	ThreadID                string     `json:"thread_id"`
	TenantID                string     `json:"tenant_id"`
	CreatorDiscordUserID    string     `json:"creator_discord_user_id"`
	ExpiresAt               *time.Time `json:"expires_at"`
	RequireAuthentication   bool       `json:"require_authentication"`
	ShowInternalMessages    bool       `json:"show_internal_messages"`
	ShowAnonymousSenderName bool       `json:"show_anonymous_sender_name"`
	ShowSystemMessages      bool       `json:"show_system_messages"`
	Enabled                 bool       `json:"enabled"`
	CreatedAt               time.Time  `json:"created_at"`
}

// createShareRequest is the JSON:API body of POST .../shares. Omitted flags
// take the safe defaults: authentication required, nothing extra shown.
type createShareRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			ExpiresAt               *time.Time `json:"expires_at"`
			RequireAuthentication   *bool      `json:"require_authentication"`
			ShowInternalMessages    bool       `json:"show_internal_messages"`
			ShowAnonymousSenderName bool       `json:"show_anonymous_sender_name"`
			ShowSystemMessages      bool       `json:"show_system_messages"`
		} `json:"attributes"`
	} `json:"data"`
}

// ShareHandler serves share grants and resolves share links.
type ShareHandler struct {
	store    *sharing.Store
	resolver *sharing.Resolver
	find     ThreadFinder
	hydrate  Hydrator
	baseURL  string
}

// NewShareHandler creates a ShareHandler. baseURL is the public origin
// share URLs are built on.
func NewShareHandler(store *sharing.Store, resolver *sharing.Resolver, find ThreadFinder, hydrate Hydrator, baseURL string) *ShareHandler {
	return &ShareHandler{store: store, resolver: resolver, find: find, hydrate: hydrate, baseURL: baseURL}
}

func (h *ShareHandler) resource(g *model.SharedThread) (jsonapi.ResourceObject, error) {
	link, err := sharing.EncodeID(g.ID)
	if err != nil {
		return jsonapi.ResourceObject{}, err
	}
	return jsonapi.ResourceObject{
		Type: "shares",
		ID:   g.ID,
		Attributes: shareAttrs{
			Link:                    link,
			URL:                     h.baseURL + "/share/" + link,
			ThreadID:                g.ThreadID,
			TenantID:                g.TenantID,
			CreatorDiscordUserID:    g.CreatorDiscordUserID,
			ExpiresAt:               g.ExpiresAt,
			RequireAuthentication:   g.RequireAuthentication,
			ShowInternalMessages:    g.ShowInternalMessages,
			ShowAnonymousSenderName: g.ShowAnonymousSenderName,
			ShowSystemMessages:      g.ShowSystemMessages,
			Enabled:                 g.Enabled,
			CreatedAt:               g.CreatedAt,
		},
	}, nil
}

// List handles GET /api/v1/tenants/{tenant}/threads/{id}/shares.
func (h *ShareHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t := middleware.TenantFrom(ctx)
	if t == nil {
		middleware.Internal(w, r, "share handler without tenant", errMissingTenant)
		return
	}
	grants, err := h.store.ListByThread(ctx, t.ID(), r.PathValue("id"))
	if err != nil {
		middleware.Internal(w, r, "list share grants", err)
		return
	}
	data := make([]any, 0, len(grants))
	for i := range grants {
		res, err := h.resource(&grants[i])
		if err != nil {
			middleware.Internal(w, r, "encode share id", err)
			return
		}
		data = append(data, res)
	}
	jsonapi.RenderList(w, http.StatusOK, data, nil)
}

// Create handles POST /api/v1/tenants/{tenant}/threads/{id}/shares.
func (h *ShareHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t := middleware.TenantFrom(ctx)
	c := middleware.CallerFrom(ctx)
	if t == nil || c == nil {
		middleware.Internal(w, r, "share handler without tenant", errMissingTenant)
		return
	}

	var req createShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.Fail(w, r, http.StatusBadRequest, "invalid_body", "request body must be a JSON:API document")
		return
	}
	if req.Data.Type != "" && req.Data.Type != "shares" {
		middleware.Fail(w, r, http.StatusConflict, "type_mismatch", `resource type must be "shares"`)
		return
	}
	attrs := req.Data.Attributes
	opts := sharing.Options{
		ExpiresAt:               attrs.ExpiresAt,
		RequireAuthentication:   attrs.RequireAuthentication == nil || *attrs.RequireAuthentication,
		ShowInternalMessages:    attrs.ShowInternalMessages,
		ShowAnonymousSenderName: attrs.ShowAnonymousSenderName,
		ShowSystemMessages:      attrs.ShowSystemMessages,
	}

	threadID := r.PathValue("id")
	if _, err := h.find(ctx, t, threadID); err != nil {
		if errors.Is(err, threads.ErrThreadNotFound) {
			middleware.Fail(w, r, http.StatusNotFound, "not_found", "thread not found")
			return
		}
		middleware.Internal(w, r, "load thread to share", err)
		return
	}

	g, err := h.store.Create(ctx, t.ID(), threadID, c.User.ID, opts)
	if errors.Is(err, sharing.ErrExpiryInPast) {
		jsonapi.RenderErrors(w, http.StatusUnprocessableEntity, []jsonapi.ErrorObject{{
			ID:     middleware.RequestIDFrom(ctx),
			Status: http.StatusText(http.StatusUnprocessableEntity),
			Code:   "invalid_field",
			Title:  "Invalid Field",
			Detail: "expiration must be in the future",
			Source: &jsonapi.ErrorSource{Pointer: "/data/attributes/expires_at"},
		}})
		return
	}
	if err != nil {
		middleware.Internal(w, r, "create share grant", err)
		return
	}
	res, err := h.resource(g)
	if err != nil {
		middleware.Internal(w, r, "encode share id", err)
		return
	}
	middleware.Logger(ctx).InfoContext(ctx, "thread shared", "tenant", t.ID(), "thread_id", threadID, "share_id", g.ID)
	jsonapi.RenderOne(w, http.StatusCreated, res)
}

// Resolve handles GET /api/v1/shares/{shareId}. It is public; grants that
// require authentication need a session.
func (h *ShareHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authenticated := middleware.SessionFrom(ctx) != nil
	th, _, err := h.resolver.Resolve(ctx, r.PathValue("shareId"), authenticated)
	switch {
	case errors.Is(err, sharing.ErrInvalidShareID),
		errors.Is(err, sharing.ErrGrantNotFound),
		errors.Is(err, threads.ErrThreadNotFound):
		middleware.Fail(w, r, http.StatusNotFound, "not_found", "not found")
		return
	case errors.Is(err, sharing.ErrAuthenticationRequired):
		middleware.Fail(w, r, http.StatusUnauthorized, "authentication_required", "authentication required")
		return
	case err != nil:
		middleware.Internal(w, r, "resolve share", err)
		return
	}
	if err := h.hydrate.Thread(ctx, th); err != nil {
		middleware.Internal(w, r, "hydrate attachments", err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, threadResource(th))
}
