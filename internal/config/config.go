// Package config loads all runtime configuration from environment variables.
// No config files and no third-party config framework are used.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// snowflake matches a Discord id.
var snowflake = regexp.MustCompile(`^[0-9]+$`)

// Config holds all runtime configuration for the modmail viewer.
type Config struct {
	HTTP    HTTPConfig
	DB      DBConfig
	Log     LogConfig
	Discord DiscordConfig
	Auth    AuthConfig
	Tenancy TenancyConfig
	Cache   CacheConfig
	S3      S3Config
	Worker  WorkerConfig
	OTel    OTelConfig
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port    int
	BaseURL string // public origin, used for redirects and cookie security
}

// SecureCookies reports whether cookies should carry the Secure attribute.
func (h HTTPConfig) SecureCookies() bool {
	return strings.HasPrefix(h.BaseURL, "https://")
}

// DBConfig holds database connection configuration.
type DBConfig struct {
	Driver   string // "sqlite" (default) or "postgres"
	DSN      string // required when Driver == "postgres"
	File     string // SQLite database file path (default: "modmail.db")
	MaxConns int    // Postgres only
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string
	Format string
}

// DiscordConfig holds the OAuth2 application credentials and API location.
type DiscordConfig struct {
	ClientID     string
	ClientSecret string //nolint:gosec // intentional: OAuth client secret loaded from env
	RedirectURI  string
	APIURL       string
}

// AuthConfig holds the secrets protecting stored tokens and OAuth state.
type AuthConfig struct {
	EncryptionKey string //nolint:gosec // intentional: token sealing key loaded from env
	StateSecret   string //nolint:gosec // intentional: OAuth state signing secret loaded from env
	SessionSweep  time.Duration
}

// TenancyConfig selects single- or multi-tenant mode. TenantFile set means
// multi-tenant; otherwise MongoURI and GuildID describe the only tenant.
type TenancyConfig struct {
	TenantFile    string
	MongoURI      string
	MongoDatabase string
	GuildID       string
	BotID         string
}

// Multitenant reports whether a tenant document is configured.
func (t TenancyConfig) Multitenant() bool { return t.TenantFile != "" }

// CacheConfig holds response cache settings.
type CacheConfig struct {
	RedisURL       string
	IdentityTTL    time.Duration
	MemberTTL      time.Duration
	PermissionsTTL time.Duration
}

// S3Config holds attachment storage settings.
type S3Config struct {
	URL       string
	Presigned bool
	AccessKey string
	SecretKey string //nolint:gosec // intentional: S3 secret key loaded from env
	Region    string
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Concurrency int
}

// OTelConfig holds OpenTelemetry exporter settings.
type OTelConfig struct {
	OTLPEndpoint string
}

// Load reads configuration from environment variables, applies defaults,
// and returns an error if any required field is absent.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// HTTP
	cfg.HTTP.Port = envInt("HTTP_PORT", 8080)
	cfg.HTTP.BaseURL = strings.TrimSuffix(envStr("BASE_URL", fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port)), "/")

	// DB
	cfg.DB.Driver = envStr("DB_DRIVER", "sqlite")
	cfg.DB.File = envStr("DB_FILE", "modmail.db")
	cfg.DB.DSN = os.Getenv("DB_DSN")
	if cfg.DB.Driver == "postgres" && cfg.DB.DSN == "" {
		return nil, errors.New("DB_DSN is required when DB_DRIVER=postgres")
	}
	cfg.DB.MaxConns = envInt("DB_MAX_CONNS", 25)

	// Log
	cfg.Log.Level = envStr("LOG_LEVEL", "info")
	cfg.Log.Format = envStr("LOG_FORMAT", "json")

	// Discord (required)
	cfg.Discord.ClientID = os.Getenv("DISCORD_CLIENT_ID")
	if cfg.Discord.ClientID == "" {
		return nil, errors.New("DISCORD_CLIENT_ID is required")
	}
	cfg.Discord.ClientSecret = os.Getenv("DISCORD_CLIENT_SECRET")
	if cfg.Discord.ClientSecret == "" {
		return nil, errors.New("DISCORD_CLIENT_SECRET is required")
	}
	cfg.Discord.RedirectURI = envStr("OAUTH_REDIRECT_URI", cfg.HTTP.BaseURL+"/auth/login/discord/callback")
	cfg.Discord.APIURL = strings.TrimSuffix(envStr("DISCORD_API_URL", "https://discord.com/api/v10"), "/")

	// Auth
	cfg.Auth.EncryptionKey = os.Getenv("ENCRYPTION_SECRET_KEY")
	if cfg.Auth.EncryptionKey == "" {
		return nil, errors.New("ENCRYPTION_SECRET_KEY is required")
	}
	cfg.Auth.StateSecret = envStr("OAUTH_STATE_SECRET", cfg.Auth.EncryptionKey)
	cfg.Auth.SessionSweep, err = envDuration("SESSION_SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SESSION_SWEEP_INTERVAL: %w", err)
	}

	// Tenancy
	cfg.Tenancy.TenantFile = os.Getenv("TENANT_JSON")
	cfg.Tenancy.MongoURI = os.Getenv("MONGODB_URI")
	cfg.Tenancy.MongoDatabase = os.Getenv("MONGODB_DATABASE")
	cfg.Tenancy.GuildID = os.Getenv("GUILD_ID")
	cfg.Tenancy.BotID = os.Getenv("BOT_ID")
	if !cfg.Tenancy.Multitenant() {
		if cfg.Tenancy.MongoURI == "" {
			return nil, errors.New("MONGODB_URI is required when TENANT_JSON is not set")
		}
		if !snowflake.MatchString(cfg.Tenancy.BotID) {
			return nil, fmt.Errorf("BOT_ID is required when TENANT_JSON is not set and must be numeric, got %q", cfg.Tenancy.BotID)
		}
	}

	// Cache
	cfg.Cache.RedisURL = os.Getenv("REDIS_URL")
	if cfg.Cache.IdentityTTL, err = envDuration("CACHE_IDENTITY_TTL", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("CACHE_IDENTITY_TTL: %w", err)
	}
	if cfg.Cache.MemberTTL, err = envDuration("CACHE_MEMBER_TTL", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("CACHE_MEMBER_TTL: %w", err)
	}
	if cfg.Cache.PermissionsTTL, err = envDuration("CACHE_PERMISSIONS_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("CACHE_PERMISSIONS_TTL: %w", err)
	}

	// S3
	cfg.S3.URL = os.Getenv("S3_URL")
	cfg.S3.Presigned = envBool("S3_PRESIGNED", false)
	cfg.S3.AccessKey = os.Getenv("S3_ACCESS_KEY")
	cfg.S3.SecretKey = os.Getenv("S3_SECRET_KEY")
	cfg.S3.Region = envStr("S3_REGION", "us-east-1")
	if cfg.S3.Presigned && cfg.S3.URL == "" {
		return nil, errors.New("S3_URL is required when S3_PRESIGNED=true")
	}

	// Worker
	cfg.Worker.Concurrency = envInt("WORKER_CONCURRENCY", 10)

	// OTel
	cfg.OTel.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return d, nil
}
