package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/d9705996/modmail-viewer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequired populates the variables Load refuses to run without.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DISCORD_CLIENT_ID", "123")
	t.Setenv("DISCORD_CLIENT_SECRET", "shh")
	t.Setenv("ENCRYPTION_SECRET_KEY", "test-secret")
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017/modmail")
	t.Setenv("BOT_ID", "575252669443211264")
	t.Setenv("TENANT_JSON", "")
}

func TestLoad_MissingDBDSN(t *testing.T) {
	// DB_DSN is only required when DB_DRIVER=postgres.
	setRequired(t)
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN")
}

func TestLoad_SQLiteNoDBDSN(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", "")
	_, err := config.Load()
	require.NoError(t, err)
}

func TestLoad_MissingDiscordCredentials(t *testing.T) {
	setRequired(t)
	t.Setenv("DISCORD_CLIENT_ID", "")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISCORD_CLIENT_ID")

	setRequired(t)
	t.Setenv("DISCORD_CLIENT_SECRET", "")
	_, err = config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISCORD_CLIENT_SECRET")
}

func TestLoad_MissingEncryptionKey(t *testing.T) {
	setRequired(t)
	t.Setenv("ENCRYPTION_SECRET_KEY", "")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENCRYPTION_SECRET_KEY")
}

func TestLoad_SingleTenantNeedsMongoURI(t *testing.T) {
	setRequired(t)
	t.Setenv("MONGODB_URI", "")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGODB_URI")
}

func TestLoad_SingleTenantNeedsNumericBotID(t *testing.T) {
	for _, v := range []string{"", "default", "12ab", " 42"} {
		setRequired(t)
		t.Setenv("BOT_ID", v)
		_, err := config.Load()
		require.Error(t, err, v)
		assert.Contains(t, err.Error(), "BOT_ID", v)
	}
}

func TestLoad_MultiTenantWithoutBotID(t *testing.T) {
	setRequired(t)
	t.Setenv("BOT_ID", "")
	t.Setenv("TENANT_JSON", "/etc/modmail/tenants.json")
	_, err := config.Load()
	require.NoError(t, err)
}

func TestLoad_MultiTenantWithoutMongoURI(t *testing.T) {
	setRequired(t)
	t.Setenv("MONGODB_URI", "")
	t.Setenv("TENANT_JSON", "/etc/modmail/tenants.json")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.Tenancy.Multitenant())
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	// Clear optional vars to ensure defaults apply
	for _, k := range []string{
		"HTTP_PORT", "BASE_URL", "LOG_LEVEL", "LOG_FORMAT", "WORKER_CONCURRENCY", "DB_DRIVER", "DB_FILE",
		"OAUTH_REDIRECT_URI", "DISCORD_API_URL", "OAUTH_STATE_SECRET", "CACHE_IDENTITY_TTL",
		"CACHE_MEMBER_TTL", "CACHE_PERMISSIONS_TTL", "S3_PRESIGNED", "S3_REGION", "SESSION_SWEEP_INTERVAL",
	} {
		os.Unsetenv(k)
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "http://localhost:8080", cfg.HTTP.BaseURL)
	assert.False(t, cfg.HTTP.SecureCookies())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Worker.Concurrency)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "modmail.db", cfg.DB.File)
	assert.Equal(t, "http://localhost:8080/auth/login/discord/callback", cfg.Discord.RedirectURI)
	assert.Equal(t, "https://discord.com/api/v10", cfg.Discord.APIURL)
	assert.Equal(t, "test-secret", cfg.Auth.StateSecret)
	assert.Equal(t, time.Hour, cfg.Auth.SessionSweep)
	assert.Equal(t, 10*time.Minute, cfg.Cache.IdentityTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.MemberTTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.PermissionsTTL)
	assert.False(t, cfg.S3.Presigned)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
	assert.False(t, cfg.Tenancy.Multitenant())
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("BASE_URL", "https://modmail.example.com/")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("WORKER_CONCURRENCY", "20")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_FILE", "test.db")
	t.Setenv("CACHE_PERMISSIONS_TTL", "1m")
	t.Setenv("S3_PRESIGNED", "true")
	t.Setenv("S3_URL", "https://s3.example.com")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "https://modmail.example.com", cfg.HTTP.BaseURL)
	assert.True(t, cfg.HTTP.SecureCookies())
	assert.Equal(t, "https://modmail.example.com/auth/login/discord/callback", cfg.Discord.RedirectURI)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 20, cfg.Worker.Concurrency)
	assert.Equal(t, "test.db", cfg.DB.File)
	assert.Equal(t, time.Minute, cfg.Cache.PermissionsTTL)
	assert.True(t, cfg.S3.Presigned)
}

func TestLoad_PresignedNeedsURL(t *testing.T) {
	setRequired(t)
	t.Setenv("S3_PRESIGNED", "true")
	t.Setenv("S3_URL", "")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3_URL")
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("CACHE_IDENTITY_TTL", "not-a-duration")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CACHE_IDENTITY_TTL")
}
