package auth

import (
	"net/http"
	"time"
)

const (
	// SessionCookieName carries the raw session token.
	SessionCookieName = "auth-session"
	// StateCookieName carries the signed OAuth state during login.
	StateCookieName = "discord_oauth_state"

	stateCookieMaxAge = 10 * 60
)

// SetSessionCookie writes the session token cookie expiring with the session.
func SetSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	expireCookie(w, SessionCookieName, secure)
}

// SetStateCookie stores the OAuth state for ten minutes.
func SetStateCookie(w http.ResponseWriter, state string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   stateCookieMaxAge,
	})
}

// ClearStateCookie expires the OAuth state cookie.
func ClearStateCookie(w http.ResponseWriter, secure bool) {
	expireCookie(w, StateCookieName, secure)
}

// SessionToken returns the raw session token from r, or "".
func SessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func expireCookie(w http.ResponseWriter, name string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}
