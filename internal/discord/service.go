package discord

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/d9705996/modmail-viewer/internal/cache"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultAPIURL is Discord's v10 REST API.
const DefaultAPIURL = "https://discord.com/api/v10"

// refreshSkew is how close to expiry an access token is refreshed.
const refreshSkew = 2 * time.Minute

// TokenStore persists a user's OAuth tokens. auth.SessionStore implements it.
type TokenStore interface {
	RefreshToken(ctx context.Context, discordUserID string) (string, error)
	UpdateAccessToken(ctx context.Context, discordUserID, accessToken string, expiresAt time.Time) error
	UpdateRefreshToken(ctx context.Context, discordUserID, refreshToken string) error
}

// Refresher redeems refresh tokens. *OAuth implements it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// TTLs are the cache lifetimes of the three lookups.
type TTLs struct {
	Identity time.Duration
	Member   time.Duration
}

// Config wires a Service.
type Config struct {
	APIURL     string
	HTTPClient *http.Client // nil: 15s timeout with an otelhttp transport
	Limits     *RateLimits  // nil: a fresh tracker
	Cache      *cache.Cache // nil: a fresh cache
	Store      TokenStore
	Refresher  Refresher
	TTLs       TTLs
	Logger     *slog.Logger
	Now        func() time.Time
}

// Service holds the process-wide state shared by every per-user client:
// the HTTP client, the rate-limit tracker and the response cache.
type Service struct {
	apiURL    string
	http      *http.Client
	limits    *RateLimits
	cache     *cache.Cache
	store     TokenStore
	refresher Refresher
	ttl       TTLs
	log       *slog.Logger
	now       func() time.Time

	refreshes   singleflight.Group
	requests    metric.Int64Counter
	rateLimited metric.Int64Counter
}

// NewService applies defaults to cfg.
func NewService(cfg Config) *Service {
	s := &Service{
		apiURL:    cfg.APIURL,
		http:      cfg.HTTPClient,
		limits:    cfg.Limits,
		cache:     cfg.Cache,
		store:     cfg.Store,
		refresher: cfg.Refresher,
		ttl:       cfg.TTLs,
		log:       cfg.Logger,
		now:       cfg.Now,
	}
	if s.apiURL == "" {
		s.apiURL = DefaultAPIURL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.http == nil {
		s.http = NewHTTPClient()
	}
	if s.limits == nil {
		s.limits = NewRateLimits(s.now)
	}
	if s.cache == nil {
		s.cache = cache.New()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.ttl.Identity == 0 {
		s.ttl.Identity = 10 * time.Minute
	}
	if s.ttl.Member == 0 {
		s.ttl.Member = 10 * time.Minute
	}
	meter := otel.Meter("github.com/d9705996/modmail-viewer/internal/discord")
	s.requests, _ = meter.Int64Counter("discord.requests", metric.WithDescription("Discord API requests sent"))
	s.rateLimited, _ = meter.Int64Counter("discord.rate_limited", metric.WithDescription("Discord API calls refused by rate limits"))
	return s
}

// NewHTTPClient returns the traced HTTP client used for Discord calls.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   15 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Limits exposes the shared rate-limit tracker.
func (s *Service) Limits() *RateLimits { return s.limits }

// NewClient returns an uncached client for tok.
func (s *Service) NewClient(tok Token) *Client {
	return &Client{svc: s, tok: tok}
}

// ForToken returns a cached client for tok.
func (s *Service) ForToken(tok Token) *CachedClient {
	return &CachedClient{client: s.NewClient(tok), cache: s.cache, ttl: s.ttl, scope: tok.AccessToken}
}

// refresh redeems uid's refresh token and persists the result. Concurrent
// refreshes for the same user share one grant because Discord rotates the
// refresh token on every use.
func (s *Service) refresh(ctx context.Context, uid string) (Token, error) {
	return cache.Do(ctx, &s.refreshes, uid, func(ctx context.Context) (Token, error) {
		rt, err := s.store.RefreshToken(ctx, uid)
		if err != nil {
			return Token{}, err
		}
		tok, err := s.refresher.Refresh(ctx, rt)
		if err != nil {
			return Token{}, err
		}
		exp := TokenExpiry(tok, s.now())
		if err := s.store.UpdateAccessToken(ctx, uid, tok.AccessToken, exp); err != nil {
			return Token{}, err
		}
		if tok.RefreshToken != rt {
			if err := s.store.UpdateRefreshToken(ctx, uid, tok.RefreshToken); err != nil {
				return Token{}, err
			}
		}
		s.log.DebugContext(ctx, "discord access token refreshed", "user_id", uid, "expires_at", exp)
		return Token{UserID: uid, AccessToken: tok.AccessToken, ExpiresAt: exp}, nil
	})
}
