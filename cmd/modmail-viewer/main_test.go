package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/d9705996/modmail-viewer/internal/config"
	"github.com/d9705996/modmail-viewer/internal/db"
	"github.com/d9705996/modmail-viewer/internal/secrets"
	"github.com/d9705996/modmail-viewer/internal/tenancy"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "modmail-viewer dev")
}

func TestSessionsRevokeNeedsUser(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"sessions", "revoke"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestCheckTenants_Unreachable(t *testing.T) {
	reg, err := tenancy.NewSingle(tenancy.SingleConfig("mongodb://127.0.0.1:1/modmail", "", "100", "900"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	var out bytes.Buffer
	err = checkTenants(context.Background(), &out, reg, 200*time.Millisecond)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 tenant(s) failed")
	assert.Contains(t, out.String(), "default")
	assert.Contains(t, out.String(), "unreachable")
}

func TestBootstrap_SealerFailureClosesDB(t *testing.T) {
	t.Setenv("DISCORD_CLIENT_ID", "123")
	t.Setenv("DISCORD_CLIENT_SECRET", "shh")
	t.Setenv("ENCRYPTION_SECRET_KEY", "test-secret")
	t.Setenv("MONGODB_URI", "mongodb://127.0.0.1:1/modmail")
	t.Setenv("BOT_ID", "900")
	t.Setenv("TENANT_JSON", "")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_FILE", filepath.Join(t.TempDir(), "bootstrap.db"))
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	var opened *gorm.DB
	openDB = func(ctx context.Context, cfg *config.DBConfig) (*gorm.DB, *pgxpool.Pool, error) {
		gormDB, pool, err := db.New(ctx, cfg)
		opened = gormDB
		return gormDB, pool, err
	}
	newSealer = func(string) (*secrets.Sealer, error) { return nil, errors.New("bad key") }
	t.Cleanup(func() {
		openDB = db.New
		newSealer = secrets.NewFromSecret
	})

	_, err := bootstrap(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
	require.NotNil(t, opened)
	assert.Error(t, db.NewPinger(opened).Ping(context.Background()), "db left open")
}
