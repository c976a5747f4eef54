package sharing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/d9705996/modmail-viewer/internal/model"
	"gorm.io/gorm"
)

var (
	// ErrGrantNotFound is returned when no usable grant backs a link.
	ErrGrantNotFound = errors.New("sharing: grant not found")
	// ErrExpiryInPast rejects grants that would be born expired.
	ErrExpiryInPast = errors.New("sharing: expiry must be in the future")
)

// Options are the settings chosen when sharing a thread.
type Options struct {
	ExpiresAt               *time.Time
	RequireAuthentication   bool
	ShowInternalMessages    bool
	ShowAnonymousSenderName bool
	ShowSystemMessages      bool
}

// Store persists share grants via GORM.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a Store. now may be nil.
func NewStore(db *gorm.DB, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}
}

// Create records a new enabled grant for a thread.
func (s *Store) Create(ctx context.Context, tenantID, threadID, creatorID string, opts Options) (*model.SharedThread, error) {
	now := s.now().UTC()
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
		return nil, ErrExpiryInPast
	}
	g := &model.SharedThread{
		ThreadID:                threadID,
		TenantID:                tenantID,
		CreatorDiscordUserID:    creatorID,
		RequireAuthentication:   opts.RequireAuthentication,
		ShowInternalMessages:    opts.ShowInternalMessages,
		ShowAnonymousSenderName: opts.ShowAnonymousSenderName,
		ShowSystemMessages:      opts.ShowSystemMessages,
		Enabled:                 true,
		CreatedAt:               now,
	}
	if opts.ExpiresAt != nil {
		exp := opts.ExpiresAt.UTC()
		g.ExpiresAt = &exp
	}
	if err := s.db.WithContext(ctx).Create(g).Error; err != nil {
		return nil, fmt.Errorf("insert share grant: %w", err)
	}
	return g, nil
}

// ListByThread returns a tenant's grants for one thread, newest first.
func (s *Store) ListByThread(ctx context.Context, tenantID, threadID string) ([]model.SharedThread, error) {
	var out []model.SharedThread
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND thread_id = ?", tenantID, threadID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list share grants: %w", err)
	}
	return out, nil
}

// Get loads a grant by its UUID.
func (s *Store) Get(ctx context.Context, id string) (*model.SharedThread, error) {
	var g model.SharedThread
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load share grant: %w", err)
	}
	return &g, nil
}

// SetEnabled turns a grant on or off.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&model.SharedThread{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("update share grant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrGrantNotFound
	}
	return nil
}
