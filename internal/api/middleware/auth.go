package middleware

import (
	"context"
	"net/http"
	"net/url"

	"github.com/d9705996/modmail-viewer/internal/auth"
	"github.com/d9705996/modmail-viewer/internal/discord"
)

// SessionValidator checks session tokens. *auth.SessionStore implements it.
type SessionValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Session, *auth.Identity, error)
}

// Session reads the session cookie. A valid session is attached to the
// context and its cookie re-issued with the current expiry; an invalid one
// has its cookie cleared. Requests without a session continue anonymously.
func Session(v SessionValidator, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.SessionToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			sess, id, err := v.ValidateToken(r.Context(), token)
			if err != nil {
				Internal(w, r, "validate session", err)
				return
			}
			if sess == nil {
				auth.ClearSessionCookie(w, secure)
				next.ServeHTTP(w, r)
				return
			}
			auth.SetSessionCookie(w, token, sess.ExpiresAt, secure)
			ctx := WithSession(r.Context(), &SessionState{Token: token, Session: sess, Identity: id})
			ctx = context.WithValue(ctx, loggerKey, Logger(ctx).With("user_id", sess.DiscordUserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoginPath is where unauthenticated browsers are sent.
const LoginPath = "/auth/login"

// RequireSession redirects anonymous requests to the login page, carrying
// the original path so the callback can return there.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SessionFrom(r.Context()) == nil {
			target := LoginPath + "?" + url.Values{"returnTo": {r.URL.RequestURI()}}.Encode()
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientFactory hands out per-user Discord clients. *discord.Service
// implements it.
type ClientFactory interface {
	ForToken(tok discord.Token) *discord.CachedClient
}

// Identity loads the caller's Discord user and guild list. Must follow
// RequireSession.
func Identity(f ClientFactory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := SessionFrom(r.Context())
			if s == nil || s.Identity == nil {
				Internal(w, r, "identity stage without session", errNoSession)
				return
			}
			client := f.ForToken(discord.Token{
				UserID:      s.Identity.DiscordUserID,
				AccessToken: s.Identity.AccessToken,
				ExpiresAt:   s.Identity.AccessTokenExpiresAt,
			})
			user, err := client.User(r.Context())
			if err != nil {
				Upstream(w, r, "fetch discord user", err)
				return
			}
			guilds, err := client.Guilds(r.Context())
			if err != nil {
				Upstream(w, r, "fetch discord guilds", err)
				return
			}
			ctx := WithCaller(r.Context(), &Caller{Client: client, User: user, Guilds: guilds})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
