package tenancy

import (
	"context"
	"fmt"

	"github.com/d9705996/modmail-viewer/internal/cache"
	"github.com/d9705996/modmail-viewer/internal/permissions"
	"github.com/d9705996/modmail-viewer/internal/threads"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Tenant is a configured tenant with its live data store.
type Tenant struct {
	cfg    Config
	client *mongo.Client
	db     *mongo.Database
	reg    *Registry
}

func (t *Tenant) ID() string      { return t.cfg.ID }
func (t *Tenant) Slug() string    { return t.cfg.Slug }
func (t *Tenant) GuildID() string { return t.cfg.GuildID }

// Name falls back to the slug.
func (t *Tenant) Name() string {
	if t.cfg.Name != "" {
		return t.cfg.Name
	}
	return t.cfg.Slug
}

// Title falls back to the name.
func (t *Tenant) Title() string {
	if t.cfg.Title != "" {
		return t.cfg.Title
	}
	return t.Name()
}

func (t *Tenant) Description() string { return t.cfg.Description }

// BotID is the Discord id of the tenant's modmail bot.
func (t *Tenant) BotID() string { return t.cfg.BotID }

// Config returns the tenant's configuration.
func (t *Tenant) Config() Config { return t.cfg }

// Database returns the tenant's Mongo database.
func (t *Tenant) Database() *mongo.Database { return t.db }

// Threads returns the repository over the tenant's thread collection.
func (t *Tenant) Threads() *threads.Repository {
	return threads.NewRepository(t.db.Collection(t.cfg.ThreadCollectionName))
}

// Ping checks that the tenant's database answers.
func (t *Tenant) Ping(ctx context.Context) error {
	if t.client == nil {
		return fmt.Errorf("tenant %s has no data store", t.cfg.ID)
	}
	return t.client.Ping(ctx, readpref.Primary())
}

// PermissionLevel resolves the level of a guild member holding roles. The
// tenant's permission mapping is cached; concurrent misses share one load.
func (t *Tenant) PermissionLevel(ctx context.Context, roles []string, userID string) (permissions.Level, error) {
	key := cache.Key("permissions", t.cfg.Slug, t.BotID())
	m, err := cache.Coalesce(ctx, t.reg.cache, key, t.reg.ttl, func(ctx context.Context) (permissions.Mapping, error) {
		return t.reg.loader(ctx, t)
	})
	if err != nil {
		return permissions.Anyone, fmt.Errorf("load permissions for tenant %s: %w", t.cfg.ID, err)
	}
	return permissions.Resolve(m, userID, roles), nil
}
