// Package model contains GORM model definitions shared across packages.
// All models are driver-agnostic: they work with both PostgreSQL and SQLite.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the identity record for one Discord account. Tokens are stored
// sealed (see package secrets), never in plaintext.
type User struct {
	DiscordUserID        string    `gorm:"column:discord_user_id;type:text;primaryKey"`
	RefreshToken         string    `gorm:"type:text;not null"`
	AccessToken          string    `gorm:"type:text;not null"`
	AccessTokenExpiresAt time.Time `gorm:"not null"`
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

// Session is the GORM model for the sessions table. ID is the sha256 hex of
// the cookie token.
type Session struct {
	ID            string    `gorm:"type:text;primaryKey"`
	DiscordUserID string    `gorm:"column:discord_user_id;type:text;not null;index"`
	ExpiresAt     time.Time `gorm:"not null;index"`
	CreatedAt     time.Time `gorm:"not null"`

	User *User `gorm:"foreignKey:DiscordUserID;references:DiscordUserID;constraint:OnDelete:CASCADE"`
}

// SharedThread is a public link grant for one modmail thread.
type SharedThread struct {
	ID                      string     `gorm:"type:text;primaryKey"`
	ThreadID                string     `gorm:"type:text;not null;index"`
	TenantID                string     `gorm:"type:text;not null"`
	CreatorDiscordUserID    string     `gorm:"column:creator_discord_user_id;type:text;not null"`
	ExpiresAt               *time.Time
	RequireAuthentication   bool       `gorm:"not null"`
	ShowInternalMessages    bool       `gorm:"not null"`
	ShowAnonymousSenderName bool       `gorm:"not null"`
	ShowSystemMessages      bool       `gorm:"not null"`
	Enabled                 bool       `gorm:"not null"`
	CreatedAt               time.Time  `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (s *SharedThread) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// All lists every model, in dependency order, for AutoMigrate.
func All() []any {
	return []any{&User{}, &Session{}, &SharedThread{}}
}
