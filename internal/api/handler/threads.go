package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/d9705996/modmail-viewer/internal/api/jsonapi"
	"github.com/d9705996/modmail-viewer/internal/api/middleware"
	"github.com/d9705996/modmail-viewer/internal/tenancy"
	"github.com/d9705996/modmail-viewer/internal/threads"
)

var errMissingTenant = errors.New("no tenant in request context")

// ThreadFinder loads a thread from a tenant.
type ThreadFinder func(ctx context.Context, t *tenancy.Tenant, id string) (*threads.Thread, error)

// TenantThreads finds threads in the tenant's own collection.
func TenantThreads(ctx context.Context, t *tenancy.Tenant, id string) (*threads.Thread, error) {
	return t.Threads().FindByID(ctx, id)
}

// Hydrator fills in attachment URLs. *attachments.Hydrator implements it.
type Hydrator interface {
	Thread(ctx context.Context, t *threads.Thread) error
}

func threadResource(t *threads.Thread) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{Type: "threads", ID: t.ID, Attributes: t}
}

// ThreadHandler serves thread documents.
type ThreadHandler struct {
	find    ThreadFinder
	hydrate Hydrator
}

// NewThreadHandler creates a ThreadHandler.
func NewThreadHandler(find ThreadFinder, hydrate Hydrator) *ThreadHandler {
	return &ThreadHandler{find: find, hydrate: hydrate}
}

// Get handles GET /api/v1/tenants/{tenant}/threads/{id}.
func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t := middleware.TenantFrom(ctx)
	if t == nil {
		middleware.Internal(w, r, "thread handler without tenant", errMissingTenant)
		return
	}
	th, err := h.find(ctx, t, r.PathValue("id"))
	if errors.Is(err, threads.ErrThreadNotFound) {
		middleware.Fail(w, r, http.StatusNotFound, "not_found", "thread not found")
		return
	}
	if err != nil {
		middleware.Internal(w, r, "load thread", err)
		return
	}
	if err := h.hydrate.Thread(ctx, th); err != nil {
		middleware.Internal(w, r, "hydrate attachments", err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, threadResource(th))
}
