package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/d9705996/modmail-viewer/internal/auth"
	"github.com/d9705996/modmail-viewer/internal/db"
	"github.com/d9705996/modmail-viewer/internal/model"
	"github.com/d9705996/modmail-viewer/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeRevoker struct {
	mu      sync.Mutex
	revoked []string
	err     error
}

func (f *fakeRevoker) Revoke(_ context.Context, rt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, rt)
	return f.err
}

func (f *fakeRevoker) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	db      *gorm.DB
	store   *auth.SessionStore
	revoker *fakeRevoker
	clock   *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gormDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	sealer, err := secrets.NewFromSecret("test-encryption-secret")
	require.NoError(t, err)

	f := &fixture{
		db:      gormDB,
		revoker: &fakeRevoker{},
		clock:   &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.store = auth.NewSessionStore(gormDB, sealer, f.revoker, log, auth.WithClock(f.clock.Now))
	return f
}

func (f *fixture) identity(uid, refresh string) auth.Identity {
	return auth.Identity{
		DiscordUserID:        uid,
		RefreshToken:         refresh,
		AccessToken:          "access-" + uid,
		AccessTokenExpiresAt: f.clock.Now().Add(7 * 24 * time.Hour),
	}
}

func (f *fixture) count(t *testing.T, m any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Count(&n).Error)
	return n
}

func TestGenerateSessionToken(t *testing.T) {
	a, err := auth.GenerateSessionToken()
	require.NoError(t, err)
	b, err := auth.GenerateSessionToken()
	require.NoError(t, err)

	assert.Len(t, a, 32) // 24 bytes, unpadded base64url
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "=")
}

func TestHashToken(t *testing.T) {
	assert.Equal(t, auth.HashToken("tokentest"), auth.HashToken("tokentest"))
	assert.NotEqual(t, auth.HashToken("tokentest"), auth.HashToken("tokentest2"))
	assert.Len(t, auth.HashToken("x"), 64)
}

func TestCreateThenValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	sess, err := f.store.CreateSession(ctx, "tokentest", auth.Identity{
		DiscordUserID:        "u1",
		RefreshToken:         "r1",
		AccessToken:          "a1",
		AccessTokenExpiresAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, auth.HashToken("tokentest"), sess.ID)
	assert.WithinDuration(t, now.Add(30*24*time.Hour), sess.ExpiresAt, time.Second)
	assert.Equal(t, int64(1), f.count(t, &model.User{}))
	assert.Equal(t, int64(1), f.count(t, &model.Session{}))

	got, id, err := f.store.ValidateToken(ctx, "tokentest")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.ID, got.ID)
	assert.WithinDuration(t, sess.ExpiresAt, got.ExpiresAt, time.Millisecond)
	assert.Equal(t, "u1", id.DiscordUserID)
	assert.Equal(t, "a1", id.AccessToken)
	assert.WithinDuration(t, now, id.AccessTokenExpiresAt, time.Second)
	assert.Empty(t, id.RefreshToken)
}

func TestCreateSession_TokensSealedAtRest(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.CreateSession(context.Background(), "tok", f.identity("u1", "plain-refresh"))
	require.NoError(t, err)

	var u model.User
	require.NoError(t, f.db.Take(&u, "discord_user_id = ?", "u1").Error)
	assert.NotContains(t, u.RefreshToken, "plain-refresh")
	assert.NotContains(t, u.AccessToken, "access-u1")

	var s model.Session
	require.NoError(t, f.db.Take(&s).Error)
	assert.NotEqual(t, "tok", s.ID)
}

func TestValidateToken_Unknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.CreateSession(context.Background(), "real", f.identity("u1", "r1"))
	require.NoError(t, err)

	sess, id, err := f.store.ValidateToken(context.Background(), "forged")
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Nil(t, id)
}

func TestValidateToken_Renewal(t *testing.T) {
	cases := []struct {
		name      string
		remaining time.Duration
		renewed   bool
	}{
		{"well inside lifetime", 29 * 24 * time.Hour, false},
		{"just outside window", 15*24*time.Hour + time.Second, false},
		{"exactly at window", 15 * 24 * time.Hour, true},
		{"inside window", 10 * 24 * time.Hour, true},
		{"about to expire", time.Second, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			created, err := f.store.CreateSession(ctx, "tok", f.identity("u1", "r1"))
			require.NoError(t, err)

			f.clock.Advance(auth.SessionTTL - tc.remaining)
			sess, _, err := f.store.ValidateToken(ctx, "tok")
			require.NoError(t, err)
			require.NotNil(t, sess)

			if tc.renewed {
				assert.WithinDuration(t, f.clock.Now().Add(auth.SessionTTL), sess.ExpiresAt, time.Second)
			} else {
				assert.WithinDuration(t, created.ExpiresAt, sess.ExpiresAt, time.Millisecond)
			}

			// persisted, not just returned
			var row model.Session
			require.NoError(t, f.db.Take(&row, "id = ?", sess.ID).Error)
			assert.WithinDuration(t, sess.ExpiresAt, row.ExpiresAt, time.Millisecond)
		})
	}
}

func TestValidateToken_ExpiredIsDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreateSession(ctx, "tok", f.identity("u1", "r1"))
	require.NoError(t, err)

	f.clock.Advance(auth.SessionTTL + time.Second)
	sess, id, err := f.store.ValidateToken(ctx, "tok")
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Nil(t, id)
	assert.Zero(t, f.count(t, &model.Session{}))
}

func TestInvalidateSession_LastSessionRevokes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.store.CreateSession(ctx, "tok", f.identity("u1", "r1"))
	require.NoError(t, err)

	require.NoError(t, f.store.InvalidateSession(ctx, sess.ID))
	assert.Equal(t, []string{"r1"}, f.revoker.calls())
	assert.Zero(t, f.count(t, &model.Session{}))
}

func TestInvalidateSession_OtherSessionsRemain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.store.CreateSession(ctx, "tok-a", f.identity("u1", "r1"))
	require.NoError(t, err)
	_, err = f.store.CreateSession(ctx, "tok-b", f.identity("u1", "r1"))
	require.NoError(t, err)

	require.NoError(t, f.store.InvalidateSession(ctx, first.ID))
	assert.Empty(t, f.revoker.calls())
	assert.Equal(t, int64(1), f.count(t, &model.Session{}))
}

func TestInvalidateSession_Unknown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.InvalidateSession(context.Background(), "does-not-exist"))
	assert.Empty(t, f.revoker.calls())
}

func TestInvalidateSession_RevokeFailureSwallowed(t *testing.T) {
	f := newFixture(t)
	f.revoker.err = errors.New("discord down")
	ctx := context.Background()
	sess, err := f.store.CreateSession(ctx, "tok", f.identity("u1", "r1"))
	require.NoError(t, err)

	require.NoError(t, f.store.InvalidateSession(ctx, sess.ID))
	assert.Len(t, f.revoker.calls(), 1)
	assert.Zero(t, f.count(t, &model.Session{}))
}

func TestInvalidateAllSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, tok := range []string{"a", "b", "c"} {
		_, err := f.store.CreateSession(ctx, tok, f.identity("u1", "r1"))
		require.NoError(t, err)
	}
	_, err := f.store.CreateSession(ctx, "other", f.identity("u2", "r2"))
	require.NoError(t, err)

	n, err := f.store.InvalidateAllSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, []string{"r1"}, f.revoker.calls())
	assert.Equal(t, int64(1), f.count(t, &model.Session{}))
}

func TestCreateSession_RevokesDisplacedRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreateSession(ctx, "a", f.identity("u1", "r1"))
	require.NoError(t, err)

	// same grant again: nothing displaced
	_, err = f.store.CreateSession(ctx, "b", f.identity("u1", "r1"))
	require.NoError(t, err)
	assert.Empty(t, f.revoker.calls())

	_, err = f.store.CreateSession(ctx, "c", f.identity("u1", "r2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, f.revoker.calls())
	assert.Equal(t, int64(1), f.count(t, &model.User{}))

	rt, err := f.store.RefreshToken(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "r2", rt)
}

func TestUpdateAccessToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreateSession(ctx, "tok", f.identity("u1", "r1"))
	require.NoError(t, err)

	exp := f.clock.Now().Add(time.Hour)
	require.NoError(t, f.store.UpdateAccessToken(ctx, "u1", "a2", exp))

	_, id, err := f.store.ValidateToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "a2", id.AccessToken)
	assert.WithinDuration(t, exp, id.AccessTokenExpiresAt, time.Second)

	err = f.store.UpdateAccessToken(ctx, "nobody", "a", exp)
	require.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestUpdateRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreateSession(ctx, "tok", f.identity("u1", "r1"))
	require.NoError(t, err)

	require.NoError(t, f.store.UpdateRefreshToken(ctx, "u1", "r9"))
	rt, err := f.store.RefreshToken(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "r9", rt)

	require.ErrorIs(t, f.store.UpdateRefreshToken(ctx, "nobody", "r"), auth.ErrUserNotFound)
	_, err = f.store.RefreshToken(ctx, "nobody")
	require.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreateSession(ctx, "old", f.identity("u1", "r1"))
	require.NoError(t, err)
	f.clock.Advance(20 * 24 * time.Hour)
	_, err = f.store.CreateSession(ctx, "new", f.identity("u2", "r2"))
	require.NoError(t, err)

	f.clock.Advance(11 * 24 * time.Hour)
	n, err := f.store.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sess, _, err := f.store.ValidateToken(ctx, "new")
	require.NoError(t, err)
	assert.NotNil(t, sess)
}
