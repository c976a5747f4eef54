// Package auth owns login sessions: the session table, the identity
// records holding each user's sealed Discord tokens, the session cookie and
// the signed OAuth state.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/d9705996/modmail-viewer/internal/model"
	"github.com/d9705996/modmail-viewer/internal/secrets"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// SessionTTL is the lifetime of a new or renewed session.
	SessionTTL = 30 * 24 * time.Hour
	// RenewWindow: a session validated with this much life or less left is
	// extended to a full SessionTTL. The boundary itself renews.
	RenewWindow = 15 * 24 * time.Hour
)

// ErrUserNotFound is returned by updates that matched no identity record.
var ErrUserNotFound = errors.New("auth: user not found")

// Identity is a Discord account's OAuth grant in plaintext.
type Identity struct {
	DiscordUserID        string
	RefreshToken         string
	AccessToken          string
	AccessTokenExpiresAt time.Time
}

// Session is a live login.
type Session struct {
	ID            string
	DiscordUserID string
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// Revoker invalidates a refresh token upstream. *discord.OAuth implements it.
type Revoker interface {
	Revoke(ctx context.Context, refreshToken string) error
}

// SessionStore manages sessions and identity records via GORM.
type SessionStore struct {
	db      *gorm.DB
	sealer  *secrets.Sealer
	revoker Revoker
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a SessionStore.
type Option func(*SessionStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *SessionStore) { s.now = now } }

// NewSessionStore creates a SessionStore backed by the given GORM DB.
func NewSessionStore(db *gorm.DB, sealer *secrets.Sealer, revoker Revoker, log *slog.Logger, opts ...Option) *SessionStore {
	s := &SessionStore{db: db, sealer: sealer, revoker: revoker, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GenerateSessionToken returns 24 random bytes, base64url encoded.
func GenerateSessionToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken derives the session id from a cookie token.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

func (s *SessionStore) clock() time.Time { return s.now().UTC() }

// CreateSession upserts the identity record and inserts a session for token
// in one transaction. A refresh token displaced by the upsert is revoked
// upstream after commit; failures there are only logged.
func (s *SessionStore) CreateSession(ctx context.Context, token string, id Identity) (*Session, error) {
	now := s.clock()
	sealedRefresh, err := s.sealer.Seal(id.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("seal refresh token: %w", err)
	}
	sealedAccess, err := s.sealer.Seal(id.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("seal access token: %w", err)
	}

	sess := &model.Session{
		ID:            HashToken(token),
		DiscordUserID: id.DiscordUserID,
		ExpiresAt:     now.Add(SessionTTL),
		CreatedAt:     now,
	}

	var displaced string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.User
		err := tx.Where("discord_user_id = ?", id.DiscordUserID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("load user: %w", err)
		default:
			if old, err := s.sealer.Open(existing.RefreshToken); err == nil && old != id.RefreshToken {
				displaced = old
			}
		}

		u := &model.User{
			DiscordUserID:        id.DiscordUserID,
			RefreshToken:         sealedRefresh,
			AccessToken:          sealedAccess,
			AccessTokenExpiresAt: id.AccessTokenExpiresAt.UTC(),
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "discord_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"refresh_token", "access_token", "access_token_expires_at", "updated_at"}),
		}).Create(u).Error; err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		if err := tx.Create(sess).Error; err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if displaced != "" {
		s.revoke(ctx, id.DiscordUserID, displaced)
	}
	return toSession(sess), nil
}

// ValidateToken looks up the session for token. Unknown and expired tokens
// return nil, nil, nil; an expired session is deleted. A session inside the
// renewal window is extended. The returned Identity carries the current
// access token and expiry but not the refresh token.
func (s *SessionStore) ValidateToken(ctx context.Context, token string) (*Session, *Identity, error) {
	db := s.db.WithContext(ctx)
	var sess model.Session
	err := db.Preload("User").Where("id = ?", HashToken(token)).Take(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load session: %w", err)
	}

	now := s.clock()
	if !now.Before(sess.ExpiresAt) {
		if err := db.Where("id = ?", sess.ID).Delete(&model.Session{}).Error; err != nil {
			return nil, nil, fmt.Errorf("delete expired session: %w", err)
		}
		return nil, nil, nil
	}
	if !now.Before(sess.ExpiresAt.Add(-RenewWindow)) {
		sess.ExpiresAt = now.Add(SessionTTL)
		if err := db.Model(&model.Session{}).Where("id = ?", sess.ID).
			Update("expires_at", sess.ExpiresAt).Error; err != nil {
			return nil, nil, fmt.Errorf("renew session: %w", err)
		}
	}

	if sess.User == nil {
		return nil, nil, fmt.Errorf("session %s has no user", sess.ID)
	}
	access, err := s.sealer.Open(sess.User.AccessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("open access token: %w", err)
	}
	return toSession(&sess), &Identity{
		DiscordUserID:        sess.DiscordUserID,
		AccessToken:          access,
		AccessTokenExpiresAt: sess.User.AccessTokenExpiresAt,
	}, nil
}

// InvalidateSession deletes one session. When it was the user's last, the
// stored refresh token is revoked upstream. Unknown ids are a no-op.
func (s *SessionStore) InvalidateSession(ctx context.Context, sessionID string) error {
	db := s.db.WithContext(ctx)
	var sess model.Session
	err := db.Where("id = ?", sessionID).Take(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	var count int64
	if err := db.Model(&model.Session{}).Where("discord_user_id = ?", sess.DiscordUserID).Count(&count).Error; err != nil {
		return fmt.Errorf("count sessions: %w", err)
	}
	if err := db.Where("id = ?", sessionID).Delete(&model.Session{}).Error; err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if count <= 1 {
		s.revokeStored(ctx, sess.DiscordUserID)
	}
	return nil
}

// InvalidateAllSessions deletes every session of a user and revokes their
// refresh token. It returns the number of sessions removed.
func (s *SessionStore) InvalidateAllSessions(ctx context.Context, discordUserID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("discord_user_id = ?", discordUserID).Delete(&model.Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete sessions: %w", res.Error)
	}
	s.revokeStored(ctx, discordUserID)
	return res.RowsAffected, nil
}

// UpdateAccessToken stores a refreshed access token.
func (s *SessionStore) UpdateAccessToken(ctx context.Context, discordUserID, accessToken string, expiresAt time.Time) error {
	sealed, err := s.sealer.Seal(accessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	return s.updateUser(ctx, discordUserID, map[string]any{
		"access_token":            sealed,
		"access_token_expires_at": expiresAt.UTC(),
	})
}

// UpdateRefreshToken stores a rotated refresh token.
func (s *SessionStore) UpdateRefreshToken(ctx context.Context, discordUserID, refreshToken string) error {
	sealed, err := s.sealer.Seal(refreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	return s.updateUser(ctx, discordUserID, map[string]any{"refresh_token": sealed})
}

func (s *SessionStore) updateUser(ctx context.Context, discordUserID string, cols map[string]any) error {
	cols["updated_at"] = s.clock()
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("discord_user_id = ?", discordUserID).
		Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RefreshToken returns the user's stored refresh token in plaintext.
func (s *SessionStore) RefreshToken(ctx context.Context, discordUserID string) (string, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("discord_user_id = ?", discordUserID).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	rt, err := s.sealer.Open(u.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("open refresh token: %w", err)
	}
	return rt, nil
}

// SweepExpired deletes every expired session and reports how many went.
func (s *SessionStore) SweepExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.clock()).Delete(&model.Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *SessionStore) revokeStored(ctx context.Context, discordUserID string) {
	rt, err := s.RefreshToken(ctx, discordUserID)
	if err != nil {
		s.log.WarnContext(ctx, "load refresh token for revocation", "user_id", discordUserID, "err", err)
		return
	}
	s.revoke(ctx, discordUserID, rt)
}

func (s *SessionStore) revoke(ctx context.Context, discordUserID, refreshToken string) {
	if s.revoker == nil {
		return
	}
	if err := s.revoker.Revoke(ctx, refreshToken); err != nil {
		s.log.WarnContext(ctx, "refresh token revocation failed", "user_id", discordUserID, "err", err)
		return
	}
	s.log.DebugContext(ctx, "refresh token revoked", "user_id", discordUserID)
}

func toSession(m *model.Session) *Session {
	return &Session{
		ID:            m.ID,
		DiscordUserID: m.DiscordUserID,
		ExpiresAt:     m.ExpiresAt,
		CreatedAt:     m.CreatedAt,
	}
}
