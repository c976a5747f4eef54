package discord

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Scopes requested at login.
var Scopes = []string{"identify", "guilds", "guilds.members.read"}

// OAuth performs the authorization-code, refresh and revoke grants against
// Discord's OAuth2 endpoints.
type OAuth struct {
	cfg       *oauth2.Config
	revokeURL string
	http      *http.Client
}

// NewOAuth builds the OAuth2 configuration. apiURL is the Discord API base
// (e.g. https://discord.com/api/v10); httpClient may be nil.
func NewOAuth(clientID, clientSecret, redirectURL, apiURL string, httpClient *http.Client) *OAuth {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   apiURL + "/oauth2/authorize",
				TokenURL:  apiURL + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		revokeURL: apiURL + "/oauth2/token/revoke",
		http:      httpClient,
	}
}

// AuthCodeURL is where the browser is sent to log in.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.cfg.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := o.cfg.Exchange(o.ctx(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return tok, nil
}

// Refresh redeems a refresh token. Discord rotates refresh tokens, so the
// returned token's RefreshToken replaces the old one.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := o.cfg.TokenSource(o.ctx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

// Revoke invalidates a refresh token upstream.
func (o *OAuth) Revoke(ctx context.Context, refreshToken string) error {
	form := url.Values{
		"token":           {refreshToken},
		"token_type_hint": {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(o.cfg.ClientID), url.QueryEscape(o.cfg.ClientSecret))

	resp, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return &APIError{Endpoint: "/oauth2/token/revoke", Status: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode)}
	}
	return nil
}

func (o *OAuth) ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.http)
}

// TokenExpiry returns tok's expiry, or a conservative one hour from now
// when Discord omitted expires_in.
func TokenExpiry(tok *oauth2.Token, now time.Time) time.Time {
	if tok.Expiry.IsZero() {
		return now.Add(time.Hour)
	}
	return tok.Expiry
}
