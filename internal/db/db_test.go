package db_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/d9705996/modmail-viewer/internal/config"
	"github.com/d9705996/modmail-viewer/internal/db"
	"github.com/d9705996/modmail-viewer/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNew_SQLiteMigratesSchema(t *testing.T) {
	cfg := &config.DBConfig{Driver: "sqlite", File: filepath.Join(t.TempDir(), "test.db")}
	gormDB, pool, err := db.New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, pool)

	for _, m := range model.All() {
		assert.True(t, gormDB.Migrator().HasTable(m))
	}
	require.NoError(t, db.NewPinger(gormDB).Ping(context.Background()))

	require.NoError(t, db.Close(gormDB, pool))
	require.Error(t, db.NewPinger(gormDB).Ping(context.Background()))
}

func TestNew_UnknownDriver(t *testing.T) {
	_, _, err := db.New(context.Background(), &config.DBConfig{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql")
}

func TestOpenSQLite_SingleWriterConnection(t *testing.T) {
	gormDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "writer.db"))
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

// Read-then-write transactions, the shape of session creation, must not
// fail with SQLITE_BUSY when they overlap.
func TestOpenSQLite_ConcurrentReadWriteTransactions(t *testing.T) {
	gormDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "concurrent.db"))
	require.NoError(t, err)
	require.NoError(t, gormDB.Create(&model.User{DiscordUserID: "u1", RefreshToken: "r", AccessToken: "a"}).Error)

	const workers = 20
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = gormDB.Transaction(func(tx *gorm.DB) error {
				var u model.User
				if err := tx.Where("discord_user_id = ?", "u1").Take(&u).Error; err != nil {
					return err
				}
				return tx.Create(&model.Session{ID: fmt.Sprintf("s%d", i), DiscordUserID: u.DiscordUserID}).Error
			})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}
	var n int64
	require.NoError(t, gormDB.Model(&model.Session{}).Count(&n).Error)
	assert.Equal(t, int64(workers), n)
}

func TestOpenSQLite_SessionCascade(t *testing.T) {
	gormDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "cascade.db"))
	require.NoError(t, err)

	require.NoError(t, gormDB.Create(&model.User{DiscordUserID: "u1", RefreshToken: "r", AccessToken: "a"}).Error)
	require.NoError(t, gormDB.Create(&model.Session{ID: "s1", DiscordUserID: "u1"}).Error)

	require.NoError(t, gormDB.Delete(&model.User{DiscordUserID: "u1"}).Error)

	var n int64
	require.NoError(t, gormDB.Model(&model.Session{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestOpenSQLite_ForeignKeyEnforced(t *testing.T) {
	gormDB, err := db.OpenSQLite(filepath.Join(t.TempDir(), "fk.db"))
	require.NoError(t, err)

	err = gormDB.Create(&model.Session{ID: "orphan", DiscordUserID: "nobody"}).Error
	require.Error(t, err)
}
