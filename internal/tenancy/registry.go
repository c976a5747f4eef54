// Package tenancy maps modmail bots (tenants) to their guilds and Mongo
// databases. A deployment serves either one implicit tenant configured from
// the environment or a list of tenants loaded from a document.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/d9705996/modmail-viewer/internal/cache"
	"github.com/d9705996/modmail-viewer/internal/config"
	"github.com/d9705996/modmail-viewer/internal/permissions"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	// ErrTenantNotFound is returned for an unknown slug or id.
	ErrTenantNotFound = errors.New("tenancy: tenant not found")
	// ErrMultitenancyDisabled is returned when a slug is requested from a
	// single-tenant deployment.
	ErrMultitenancyDisabled = errors.New("tenancy: multitenancy is disabled")
)

// MappingLoader fetches a tenant's permission mapping from its data store.
type MappingLoader func(ctx context.Context, t *Tenant) (permissions.Mapping, error)

// Registry holds every configured tenant in configuration order.
type Registry struct {
	multi   bool
	tenants []*Tenant
	bySlug  map[string]*Tenant
	byID    map[string]*Tenant

	cache   *cache.Cache
	ttl     time.Duration
	loader  MappingLoader
	connect func(Config) (*mongo.Client, error)
	log     *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithCache shares a response cache for permission mappings.
func WithCache(c *cache.Cache) Option { return func(r *Registry) { r.cache = c } }

// WithPermissionsTTL sets how long permission mappings are cached.
func WithPermissionsTTL(d time.Duration) Option { return func(r *Registry) { r.ttl = d } }

// WithMappingLoader replaces the Mongo-backed permission lookup.
func WithMappingLoader(l MappingLoader) Option { return func(r *Registry) { r.loader = l } }

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.log = l } }

// Open builds the registry described by cfg: multi-tenant when a tenant
// document is configured, single-tenant otherwise.
func Open(cfg config.TenancyConfig, opts ...Option) (*Registry, error) {
	if cfg.Multitenant() {
		cfgs, err := LoadFile(cfg.TenantFile)
		if err != nil {
			return nil, err
		}
		return NewMulti(cfgs, opts...)
	}
	return NewSingle(SingleConfig(cfg.MongoURI, cfg.MongoDatabase, cfg.GuildID, cfg.BotID), opts...)
}

// NewSingle returns a single-tenant registry serving c.
func NewSingle(c Config, opts ...Option) (*Registry, error) {
	if !botIDPattern.MatchString(c.BotID) {
		return nil, fmt.Errorf("single tenant: bot id %q is not a discord id", c.BotID)
	}
	c.applyDefaults()
	return build(false, []Config{c}, opts)
}

// NewMulti returns a registry serving cfgs. Slugs and ids must be unique.
func NewMulti(cfgs []Config, opts ...Option) (*Registry, error) {
	return build(true, cfgs, opts)
}

func build(multi bool, cfgs []Config, opts []Option) (*Registry, error) {
	r := &Registry{
		multi:   multi,
		bySlug:  make(map[string]*Tenant, len(cfgs)),
		byID:    make(map[string]*Tenant, len(cfgs)),
		ttl:     5 * time.Minute,
		loader:  loadMapping,
		connect: connectMongo,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.cache == nil {
		r.cache = cache.New()
	}

	for _, c := range cfgs {
		if _, dup := r.bySlug[c.Slug]; dup {
			r.closeAll(context.Background())
			return nil, fmt.Errorf("duplicate tenant slug %q", c.Slug)
		}
		if _, dup := r.byID[c.ID]; dup {
			r.closeAll(context.Background())
			return nil, fmt.Errorf("duplicate tenant id %q", c.ID)
		}
		client, err := r.connect(c)
		if err != nil {
			r.closeAll(context.Background())
			return nil, fmt.Errorf("tenant %s: %w", c.ID, err)
		}
		t := &Tenant{cfg: c, client: client, reg: r}
		if client != nil {
			t.db = client.Database(c.database())
		}
		r.tenants = append(r.tenants, t)
		r.bySlug[c.Slug] = t
		r.byID[c.ID] = t
		if c.GuildID == "" {
			r.log.Warn("tenant has no guild id and will never be listed", "tenant", c.ID)
		}
	}
	r.log.Info("tenancy configured", "multitenant", multi, "tenants", len(r.tenants))
	return r, nil
}

// connectMongo creates the tenant's client. The driver connects lazily, so
// an unreachable server surfaces on first use rather than here.
func connectMongo(c Config) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(c.ConnectionURI).SetAppName("modmail-viewer"))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return client, nil
}

// Multitenant reports whether tenants are addressed by slug.
func (r *Registry) Multitenant() bool { return r.multi }

// All returns every tenant in configuration order.
func (r *Registry) All() []*Tenant { return slices.Clone(r.tenants) }

// Tenants returns the tenants whose guild is among guildIDs, in
// configuration order.
func (r *Registry) Tenants(guildIDs []string) []*Tenant {
	var out []*Tenant
	for _, t := range r.tenants {
		if t.cfg.GuildID != "" && slices.Contains(guildIDs, t.cfg.GuildID) {
			out = append(out, t)
		}
	}
	return out
}

// Create resolves a tenant by slug. A single-tenant registry only answers
// the empty slug.
func (r *Registry) Create(slug string) (*Tenant, error) {
	if !r.multi {
		if slug != "" {
			return nil, ErrMultitenancyDisabled
		}
		return r.tenants[0], nil
	}
	t, ok := r.bySlug[slug]
	if !ok || slug == "" {
		return nil, ErrTenantNotFound
	}
	return t, nil
}

// ByID resolves a tenant by its stable id.
func (r *Registry) ByID(id string) (*Tenant, error) {
	t, ok := r.byID[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return t, nil
}

// Close disconnects every tenant's client.
func (r *Registry) Close(ctx context.Context) error {
	return r.closeAll(ctx)
}

func (r *Registry) closeAll(ctx context.Context) error {
	var errs []error
	for _, t := range r.tenants {
		if t.client == nil {
			continue
		}
		if err := t.client.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", t.cfg.ID, err))
		}
	}
	return errors.Join(errs...)
}

func loadMapping(ctx context.Context, t *Tenant) (permissions.Mapping, error) {
	if t.db == nil {
		return nil, fmt.Errorf("tenant %s has no data store", t.cfg.ID)
	}
	return permissions.LoadMapping(ctx, t.db, t.BotID())
}
