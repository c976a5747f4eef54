package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/d9705996/modmail-viewer/internal/api"
	"github.com/d9705996/modmail-viewer/internal/api/handler"
	"github.com/d9705996/modmail-viewer/internal/attachments"
	"github.com/d9705996/modmail-viewer/internal/auth"
	"github.com/d9705996/modmail-viewer/internal/db"
	"github.com/d9705996/modmail-viewer/internal/discord"
	"github.com/d9705996/modmail-viewer/internal/discord/discordtest"
	"github.com/d9705996/modmail-viewer/internal/health"
	"github.com/d9705996/modmail-viewer/internal/permissions"
	"github.com/d9705996/modmail-viewer/internal/secrets"
	"github.com/d9705996/modmail-viewer/internal/sharing"
	"github.com/d9705996/modmail-viewer/internal/tenancy"
	"github.com/d9705996/modmail-viewer/internal/threads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type noopRevoker struct{}

func (noopRevoker) Revoke(context.Context, string) error { return nil }

type unusedOAuth struct{}

func (unusedOAuth) AuthCodeURL(state string) string { return "https://discord.test/authorize?state=" + state }
func (unusedOAuth) Exchange(context.Context, string) (*oauth2.Token, error) {
	return nil, errors.New("exchange not expected in this test")
}

const tenantsJSON = `[
  {"id": "t1", "slug": "alpha", "connection_uri": "mongodb://localhost:27017/alpha", "guild_id": "100", "bot_id": "900"},
  {"id": "t2", "slug": "beta", "connection_uri": "mongodb://localhost:27017/beta", "guild_id": "200", "bot_id": "901"}
]`

type env struct {
	srv      *httptest.Server
	sessions *auth.SessionStore
	fake     *discordtest.Server
}

func findThread(_ context.Context, t *tenancy.Tenant, id string) (*threads.Thread, error) {
	if t.ID() != "t1" || id != "thread-1" {
		return nil, threads.ErrThreadNotFound
	}
	return &threads.Thread{
		ID: "thread-1", GuildID: "100",
		Messages: []threads.Message{
			{MessageID: "m1", Content: "hello", Type: threads.MessageThread},
			{MessageID: "m2", Content: "staff only", Type: threads.MessageInternal},
		},
	}, nil
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	gormDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "viewer.db"))
	require.NoError(t, err)
	sealer, err := secrets.NewFromSecret("router-test-secret")
	require.NoError(t, err)
	sessions := auth.NewSessionStore(gormDB, sealer, noopRevoker{}, log)

	cfgs, err := tenancy.Parse([]byte(tenantsJSON))
	require.NoError(t, err)
	reg, err := tenancy.NewMulti(cfgs, tenancy.WithLogger(log),
		tenancy.WithMappingLoader(func(context.Context, *tenancy.Tenant) (permissions.Mapping, error) {
			return permissions.Mapping{permissions.Supporter: {"role-sup"}}, nil
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	fake := discordtest.New(t)
	svc := fake.Service()

	hydrator, err := attachments.NewHydratorWith("", nil)
	require.NoError(t, err)
	shares := sharing.NewStore(gormDB, nil)
	byID := func(ctx context.Context, tenantID, threadID string) (*threads.Thread, error) {
		tn, err := reg.ByID(tenantID)
		if err != nil {
			return nil, err
		}
		return findThread(ctx, tn, threadID)
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Deps{
		Health:   health.New(db.NewPinger(gormDB)),
		Sessions: sessions,
		Discord:  svc,
		Tenants:  reg,
		Auth:     handler.NewAuthHandler(unusedOAuth{}, sessions, svc, "state-secret", false),
		Threads:  handler.NewThreadHandler(findThread, hydrator),
		Shares:   handler.NewShareHandler(shares, sharing.NewResolver(shares, byID, nil), findThread, hydrator, "http://viewer.test"),
	})
	srv := httptest.NewServer(api.Handler(mux, log))
	t.Cleanup(srv.Close)
	return &env{srv: srv, sessions: sessions, fake: fake}
}

// login creates a session for uid whose Discord access token is accessToken
// and returns the raw session token.
func (e *env) login(t *testing.T, uid, accessToken string) string {
	t.Helper()
	raw, err := auth.GenerateSessionToken()
	require.NoError(t, err)
	_, err = e.sessions.CreateSession(context.Background(), raw, auth.Identity{
		DiscordUserID:        uid,
		RefreshToken:         "rt-" + uid,
		AccessToken:          accessToken,
		AccessTokenExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	return raw
}

func (e *env) do(t *testing.T, method, path, session, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if session != "" {
		req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: session})
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	res, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decode(t *testing.T, res *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(res.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	res := e.do(t, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("X-Request-Id"))

	res = e.do(t, http.MethodGet, "/api/v1/ready", "", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestProtectedRouteRedirectsToLogin(t *testing.T) {
	e := newEnv(t)
	res := e.do(t, http.MethodGet, "/api/v1/me", "", "")
	assert.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "/auth/login?returnTo=%2Fapi%2Fv1%2Fme", res.Header.Get("Location"))

	res = e.do(t, http.MethodGet, "/api/v1/me", "not-a-session", "")
	assert.Equal(t, http.StatusFound, res.StatusCode)
}

func TestMeWithSession(t *testing.T) {
	e := newEnv(t)
	e.fake.AddUser("at-1", discord.User{ID: "u1", Username: "mod"}, discord.Guild{ID: "100"})
	token := e.login(t, "u1", "at-1")

	res := e.do(t, http.MethodGet, "/api/v1/me", token, "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var refreshed bool
	for _, c := range res.Cookies() {
		refreshed = refreshed || (c.Name == auth.SessionCookieName && c.Value == token)
	}
	assert.True(t, refreshed, "session cookie re-issued")

	var doc struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	decode(t, res, &doc)
	assert.Equal(t, "u1", doc.Data.ID)
}

func TestTenantRoutes(t *testing.T) {
	e := newEnv(t)
	e.fake.AddUser("at-1", discord.User{ID: "u1"}, discord.Guild{ID: "100"}, discord.Guild{ID: "200"})
	e.fake.SetRoles("at-1", "100", "role-sup")
	e.fake.SetRoles("at-1", "200")
	token := e.login(t, "u1", "at-1")

	res := e.do(t, http.MethodGet, "/api/v1/tenant", token, "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = e.do(t, http.MethodGet, "/api/v1/tenants/alpha/threads/thread-1", token, "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = e.do(t, http.MethodGet, "/api/v1/tenants/alpha/threads/missing", token, "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = e.do(t, http.MethodGet, "/api/v1/tenants/beta", token, "")
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	var errs struct {
		Errors []struct {
			ID string `json:"id"`
		} `json:"errors"`
	}
	decode(t, res, &errs)
	require.Len(t, errs.Errors, 1)
	assert.Equal(t, res.Header.Get("X-Request-Id"), errs.Errors[0].ID)

	res = e.do(t, http.MethodGet, "/api/v1/tenants/nope", token, "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestShareRoundTrip(t *testing.T) {
	e := newEnv(t)
	e.fake.AddUser("at-1", discord.User{ID: "u1"}, discord.Guild{ID: "100"})
	e.fake.SetRoles("at-1", "100", "role-sup")
	token := e.login(t, "u1", "at-1")

	res := e.do(t, http.MethodPost, "/api/v1/tenants/alpha/threads/thread-1/shares", token,
		`{"data":{"type":"shares","attributes":{"require_authentication":false}}}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var created struct {
		Data struct {
			Attributes struct {
				Link string `json:"link"`
			} `json:"attributes"`
		} `json:"data"`
	}
	decode(t, res, &created)
	link := created.Data.Attributes.Link
	require.NotEmpty(t, link)

	res = e.do(t, http.MethodGet, "/api/v1/shares/"+link, "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var shared struct {
		Data struct {
			Attributes threads.Thread `json:"attributes"`
		} `json:"data"`
	}
	decode(t, res, &shared)
	require.Len(t, shared.Data.Attributes.Messages, 1)
	assert.Equal(t, "hello", shared.Data.Attributes.Messages[0].Content)

	res = e.do(t, http.MethodGet, "/api/v1/tenants/alpha/threads/thread-1/shares", token, "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestLogout(t *testing.T) {
	e := newEnv(t)
	e.fake.AddUser("at-1", discord.User{ID: "u1"})
	token := e.login(t, "u1", "at-1")

	res := e.do(t, http.MethodPost, "/auth/logout", token, "")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res = e.do(t, http.MethodGet, "/api/v1/me", token, "")
	assert.Equal(t, http.StatusFound, res.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	e := newEnv(t)
	res := e.do(t, http.MethodGet, "/api/v1/nothing", "", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "application/vnd.api+json", res.Header.Get("Content-Type"))
}
