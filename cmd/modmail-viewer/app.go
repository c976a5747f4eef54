package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/d9705996/modmail-viewer/internal/auth"
	"github.com/d9705996/modmail-viewer/internal/config"
	"github.com/d9705996/modmail-viewer/internal/db"
	"github.com/d9705996/modmail-viewer/internal/discord"
	"github.com/d9705996/modmail-viewer/internal/observability"
	"github.com/d9705996/modmail-viewer/internal/secrets"
	"github.com/d9705996/modmail-viewer/internal/version"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"
)

// Replaced in tests.
var (
	openDB    = db.New
	newSealer = secrets.NewFromSecret
)

// app is the process state shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	obs      *observability.Provider
	db       *gorm.DB
	pool     *pgxpool.Pool // nil unless DB_DRIVER=postgres
	oauth    *discord.OAuth
	sessions *auth.SessionStore
}

// bootstrap loads configuration, starts observability and opens the
// session database. Callers must call close.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// --- Observability -------------------------------------------------------
	obs, log, err := observability.New(ctx, &observability.Config{
		ServiceName:    observability.DefaultServiceName,
		ServiceVersion: version.Version,
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}
	slog.SetDefault(log)

	// --- Database ------------------------------------------------------------
	// db.New opens the connection, runs migrations (AutoMigrate for SQLite,
	// golang-migrate for Postgres), and returns the GORM handle plus an
	// optional pgxpool (non-nil only for postgres, used by River).
	gormDB, pool, err := openDB(ctx, &cfg.DB)
	if err != nil {
		obs.Shutdown(context.Background())
		return nil, fmt.Errorf("open db: %w", err)
	}
	log.Info("database ready", "driver", cfg.DB.Driver)

	sealer, err := newSealer(cfg.Auth.EncryptionKey)
	if err != nil {
		if cerr := db.Close(gormDB, pool); cerr != nil {
			log.Error("close db", "err", cerr)
		}
		obs.Shutdown(context.Background())
		return nil, fmt.Errorf("token sealer: %w", err)
	}

	oauth := discord.NewOAuth(cfg.Discord.ClientID, cfg.Discord.ClientSecret, cfg.Discord.RedirectURI,
		cfg.Discord.APIURL, discord.NewHTTPClient())

	return &app{
		cfg:      cfg,
		log:      log,
		obs:      obs,
		db:       gormDB,
		pool:     pool,
		oauth:    oauth,
		sessions: auth.NewSessionStore(gormDB, sealer, oauth, log),
	}, nil
}

func (a *app) close() {
	if err := db.Close(a.db, a.pool); err != nil {
		a.log.Error("close db", "err", err)
	}
	a.obs.Shutdown(context.Background())
}
