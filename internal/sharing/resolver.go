package sharing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/d9705996/modmail-viewer/internal/model"
	"github.com/d9705996/modmail-viewer/internal/tenancy"
	"github.com/d9705996/modmail-viewer/internal/threads"
)

var (
	// ErrAuthenticationRequired is returned for grants that need a session
	// when the caller has none.
	ErrAuthenticationRequired = errors.New("sharing: authentication required")
	// ErrTenantUnavailable means the grant names a tenant that is no longer
	// configured.
	ErrTenantUnavailable = errors.New("sharing: grant tenant unavailable")
)

// ThreadFinder loads a thread from a tenant identified by id. It returns
// tenancy.ErrTenantNotFound or threads.ErrThreadNotFound when either is
// missing.
type ThreadFinder func(ctx context.Context, tenantID, threadID string) (*threads.Thread, error)

// RegistryFinder looks threads up through a tenant registry.
func RegistryFinder(reg *tenancy.Registry) ThreadFinder {
	return func(ctx context.Context, tenantID, threadID string) (*threads.Thread, error) {
		t, err := reg.ByID(tenantID)
		if err != nil {
			return nil, err
		}
		return t.Threads().FindByID(ctx, threadID)
	}
}

// Resolver turns a link id into the thread view it grants.
type Resolver struct {
	store *Store
	find  ThreadFinder
	now   func() time.Time
}

// NewResolver creates a Resolver. now may be nil.
func NewResolver(store *Store, find ThreadFinder, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{store: store, find: find, now: now}
}

// Resolve returns the redacted thread behind shareID. authenticated says
// whether the caller holds a valid session. Disabled, expired and unknown
// grants all report ErrGrantNotFound.
func (r *Resolver) Resolve(ctx context.Context, shareID string, authenticated bool) (*threads.Thread, *model.SharedThread, error) {
	id, err := DecodeID(shareID)
	if err != nil {
		return nil, nil, err
	}
	g, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !g.Enabled {
		return nil, nil, ErrGrantNotFound
	}
	if g.RequireAuthentication && !authenticated {
		return nil, nil, ErrAuthenticationRequired
	}
	if g.ExpiresAt != nil && r.now().After(*g.ExpiresAt) {
		return nil, nil, ErrGrantNotFound
	}

	t, err := r.find(ctx, g.TenantID, g.ThreadID)
	switch {
	case errors.Is(err, tenancy.ErrTenantNotFound):
		return nil, nil, fmt.Errorf("grant %s names tenant %s: %w", g.ID, g.TenantID, ErrTenantUnavailable)
	case err != nil:
		return nil, nil, err
	}

	return threads.Redact(t, threads.Visibility{
		ShowInternalMessages:    g.ShowInternalMessages,
		ShowAnonymousSenderName: g.ShowAnonymousSenderName,
		ShowSystemMessages:      g.ShowSystemMessages,
	}), g, nil
}
