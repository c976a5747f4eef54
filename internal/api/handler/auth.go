// Package handler contains HTTP handlers grouped by resource.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/d9705996/modmail-viewer/internal/api/middleware"
	"github.com/d9705996/modmail-viewer/internal/auth"
	"github.com/d9705996/modmail-viewer/internal/discord"
	"golang.org/x/oauth2"
)

// OAuthFlow is the authorization-code half of the Discord OAuth client.
// *discord.OAuth implements it.
type OAuthFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// SessionManager creates and ends sessions. *auth.SessionStore implements it.
type SessionManager interface {
	CreateSession(ctx context.Context, token string, id auth.Identity) (*auth.Session, error)
	InvalidateSession(ctx context.Context, sessionID string) error
}

// UserClients builds uncached Discord clients. *discord.Service implements it.
type UserClients interface {
	NewClient(tok discord.Token) *discord.Client
}

// AuthHandler handles the /auth/* routes.
type AuthHandler struct {
	oauth       OAuthFlow
	sessions    SessionManager
	users       UserClients
	stateSecret string
	secure      bool
	now         func() time.Time
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(oauth OAuthFlow, sessions SessionManager, users UserClients, stateSecret string, secure bool) *AuthHandler {
	return &AuthHandler{
		oauth:       oauth,
		sessions:    sessions,
		users:       users,
		stateSecret: stateSecret,
		secure:      secure,
		now:         time.Now,
	}
}

// Login handles GET /auth/login: it issues the OAuth state and redirects to
// Discord.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := auth.IssueState(r.URL.Query().Get("returnTo"), h.stateSecret, auth.StateTTL)
	if err != nil {
		middleware.Internal(w, r, "issue oauth state", err)
		return
	}
	auth.SetStateCookie(w, state, h.secure)
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusFound)
}

// Callback handles GET /auth/login/discord/callback.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := middleware.Logger(ctx)
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		log.InfoContext(ctx, "oauth authorization denied", "error", e)
		middleware.Fail(w, r, http.StatusBadRequest, "oauth_denied", "Discord authorization was not granted")
		return
	}

	state := q.Get("state")
	c, err := r.Cookie(auth.StateCookieName)
	if err != nil || state == "" || c.Value != state {
		middleware.Fail(w, r, http.StatusBadRequest, "invalid_state", "login state is missing or does not match")
		return
	}
	auth.ClearStateCookie(w, h.secure)
	claims, err := auth.ParseState(state, h.stateSecret)
	if err != nil {
		middleware.Fail(w, r, http.StatusBadRequest, "invalid_state", "login state is invalid or expired")
		return
	}

	code := q.Get("code")
	if code == "" {
		middleware.Fail(w, r, http.StatusBadRequest, "missing_code", "authorization code is required")
		return
	}
	tok, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		middleware.Internal(w, r, "exchange authorization code", err)
		return
	}
	expiresAt := discord.TokenExpiry(tok, h.now())

	user, err := h.users.NewClient(discord.Token{AccessToken: tok.AccessToken, ExpiresAt: expiresAt}).User(ctx)
	if err != nil {
		middleware.Upstream(w, r, "identify discord user", err)
		return
	}

	raw, err := auth.GenerateSessionToken()
	if err != nil {
		middleware.Internal(w, r, "generate session token", err)
		return
	}
	sess, err := h.sessions.CreateSession(ctx, raw, auth.Identity{
		DiscordUserID:        user.ID,
		RefreshToken:         tok.RefreshToken,
		AccessToken:          tok.AccessToken,
		AccessTokenExpiresAt: expiresAt,
	})
	if err != nil {
		middleware.Internal(w, r, "create session", err)
		return
	}

	log.InfoContext(ctx, "user logged in", "user_id", user.ID)
	auth.SetSessionCookie(w, raw, sess.ExpiresAt, h.secure)
	http.Redirect(w, r, auth.SafeReturnPath(claims.ReturnTo), http.StatusFound)
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if s := middleware.SessionFrom(r.Context()); s != nil {
		if err := h.sessions.InvalidateSession(r.Context(), s.Session.ID); err != nil {
			middleware.Internal(w, r, "invalidate session", err)
			return
		}
	}
	auth.ClearSessionCookie(w, h.secure)
	w.WriteHeader(http.StatusNoContent)
}
