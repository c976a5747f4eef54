// Package discord is a small client for the parts of the Discord API the
// viewer needs: the current user, their guilds and their membership in one
// guild. It refreshes OAuth tokens on demand and honours rate-limit headers.
package discord

import "time"

// User is a Discord user object.
type User struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Discriminator string  `json:"discriminator"`
	GlobalName    *string `json:"global_name,omitempty"`
	Avatar        *string `json:"avatar,omitempty"`
	Bot           bool    `json:"bot,omitempty"`
	System        bool    `json:"system,omitempty"`
	Locale        string  `json:"locale,omitempty"`
	Verified      bool    `json:"verified,omitempty"`
	Flags         int     `json:"flags,omitempty"`
	PremiumType   int     `json:"premium_type,omitempty"`
	PublicFlags   int     `json:"public_flags,omitempty"`
}

// DisplayName prefers the global name over the username.
func (u *User) DisplayName() string {
	if u.GlobalName != nil && *u.GlobalName != "" {
		return *u.GlobalName
	}
	return u.Username
}

// Guild is the partial guild returned by /users/@me/guilds.
type Guild struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Icon        *string  `json:"icon,omitempty"`
	Banner      *string  `json:"banner,omitempty"`
	Owner       bool     `json:"owner,omitempty"`
	Permissions string   `json:"permissions,omitempty"`
	Features    []string `json:"features,omitempty"`
}

// GuildMember is the caller's membership in one guild.
type GuildMember struct {
	User         *User      `json:"user,omitempty"`
	Nick         *string    `json:"nick,omitempty"`
	Avatar       *string    `json:"avatar,omitempty"`
	Roles        []string   `json:"roles"`
	JoinedAt     time.Time  `json:"joined_at"`
	PremiumSince *time.Time `json:"premium_since,omitempty"`
	Deaf         bool       `json:"deaf"`
	Mute         bool       `json:"mute"`
	Pending      bool       `json:"pending,omitempty"`
}

// GuildIDs returns the ids of gs in order.
func GuildIDs(gs []Guild) []string {
	ids := make([]string, len(gs))
	for i, g := range gs {
		ids[i] = g.ID
	}
	return ids
}

// Token is the access side of a user's OAuth grant. UserID is empty until
// the user has been identified (during the OAuth callback); such tokens are
// never refreshed.
type Token struct {
	UserID      string
	AccessToken string
	ExpiresAt   time.Time
}
