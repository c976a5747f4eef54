package discord

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/d9705996/modmail-viewer/internal/cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Client talks to Discord on behalf of one user. It is safe for concurrent
// use; the token is refreshed in place when it nears expiry.
type Client struct {
	svc *Service

	mu  sync.Mutex
	tok Token
}

// Token returns the client's current access token.
func (c *Client) Token() Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tok
}

// User fetches /users/@me.
func (c *Client) User(ctx context.Context) (*User, error) {
	var u User
	if err := c.get(ctx, "/users/@me", "/users/@me", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Guilds fetches /users/@me/guilds.
func (c *Client) Guilds(ctx context.Context) ([]Guild, error) {
	var gs []Guild
	if err := c.get(ctx, "/users/@me/guilds", "/users/@me/guilds", &gs); err != nil {
		return nil, err
	}
	return gs, nil
}

// GuildMember fetches the user's membership in guildID. A user who is not
// in the guild gets ErrNotGuildMember.
func (c *Client) GuildMember(ctx context.Context, guildID string) (*GuildMember, error) {
	if guildID == "" {
		return nil, fmt.Errorf("discord: guild id is required")
	}
	path := "/users/@me/guilds/" + guildID + "/member"
	var m GuildMember
	err := c.get(ctx, path, "/users/@me/guilds/{guild}/member", &m)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotGuildMember, guildID)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ensureFresh refreshes the access token if it expires within refreshSkew.
// It runs before every call.
func (c *Client) ensureFresh(ctx context.Context) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tok.UserID == "" || c.svc.now().Add(refreshSkew).Before(c.tok.ExpiresAt) {
		return c.tok, nil
	}
	c.svc.log.DebugContext(ctx, "discord access token near expiry", "user_id", c.tok.UserID, "expires_at", c.tok.ExpiresAt)
	tok, err := c.svc.refresh(ctx, c.tok.UserID)
	if err != nil {
		return Token{}, fmt.Errorf("refresh access token: %w", err)
	}
	c.tok = tok
	return tok, nil
}

// rateLimitKey scopes every bucket to one user. Before the user id is known
// the access token stands in for it.
func rateLimitKey(endpoint string, tok Token) string {
	if tok.UserID != "" {
		return endpoint + ":" + tok.UserID
	}
	h := sha256.Sum256([]byte(tok.AccessToken))
	return endpoint + ":tok-" + hex.EncodeToString(h[:8])
}

// get performs one authenticated GET. route is the templated path used for
// metrics and logs.
func (c *Client) get(ctx context.Context, path, route string, out any) error {
	tok, err := c.ensureFresh(ctx)
	if err != nil {
		return err
	}
	s := c.svc
	key := rateLimitKey(path, tok)
	routeAttr := metric.WithAttributes(attribute.String("route", route))

	if err := s.limits.Check(key); err != nil {
		s.rateLimited.Add(ctx, 1, routeAttr)
		s.log.WarnContext(ctx, "discord endpoint rate limited", "route", route, "user_id", tok.UserID)
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("discord %s: %w", route, err)
	}
	defer resp.Body.Close()
	s.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", resp.StatusCode),
	))

	s.limits.Observe(key, resp.Header)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		resetAt := s.now().Add(retryAfter(resp.Header))
		s.limits.Block(key, resetAt)
		s.rateLimited.Add(ctx, 1, routeAttr)
		s.log.WarnContext(ctx, "discord returned 429", "route", route, "user_id", tok.UserID,
			"bucket", resp.Header.Get("X-RateLimit-Bucket"), "global", resp.Header.Get("X-RateLimit-Global"))
		return &RateLimitError{Endpoint: route, ResetAt: resetAt, Upstream: true}
	case resp.StatusCode/100 != 2:
		_, _ = io.Copy(io.Discard, resp.Body)
		s.log.ErrorContext(ctx, "discord request failed", "route", route, "status", resp.StatusCode)
		return &APIError{Endpoint: route, Status: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", route, err)
	}
	return nil
}

// CachedClient decorates a Client with the shared response cache. Keys are
// scoped by the access token the client was created with.
type CachedClient struct {
	client *Client
	cache  *cache.Cache
	ttl    TTLs
	scope  string
}

// Uncached returns the underlying client.
func (c *CachedClient) Uncached() *Client { return c.client }

// User is Client.User through the cache.
func (c *CachedClient) User(ctx context.Context) (*User, error) {
	return cache.Coalesce(ctx, c.cache, cache.Key("discord.user", c.scope), c.ttl.Identity, c.client.User)
}

// Guilds is Client.Guilds through the cache.
func (c *CachedClient) Guilds(ctx context.Context) ([]Guild, error) {
	return cache.Coalesce(ctx, c.cache, cache.Key("discord.guilds", c.scope), c.ttl.Identity, c.client.Guilds)
}

// GuildMember is Client.GuildMember through the cache.
func (c *CachedClient) GuildMember(ctx context.Context, guildID string) (*GuildMember, error) {
	return cache.Coalesce(ctx, c.cache, cache.Key("discord.member", c.scope, guildID), c.ttl.Member,
		func(ctx context.Context) (*GuildMember, error) {
			return c.client.GuildMember(ctx, guildID)
		})
}
