package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/d9705996/modmail-viewer/internal/api"
	"github.com/d9705996/modmail-viewer/internal/api/handler"
	"github.com/d9705996/modmail-viewer/internal/attachments"
	"github.com/d9705996/modmail-viewer/internal/cache"
	"github.com/d9705996/modmail-viewer/internal/db"
	"github.com/d9705996/modmail-viewer/internal/discord"
	"github.com/d9705996/modmail-viewer/internal/health"
	"github.com/d9705996/modmail-viewer/internal/sharing"
	"github.com/d9705996/modmail-viewer/internal/tenancy"
	"github.com/d9705996/modmail-viewer/internal/version"
	"github.com/d9705996/modmail-viewer/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background sweep",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context()) },
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, log := a.cfg, a.log
	log.Info("starting modmail-viewer", "version", version.Version, "commit", version.Commit,
		"db_driver", cfg.DB.Driver, "multitenant", cfg.Tenancy.Multitenant())

	// --- Response cache ------------------------------------------------------
	cacheOpts := []cache.Option{cache.WithLogger(log)}
	var readyChecks []health.Check
	if cfg.Cache.RedisURL != "" {
		rdb, err := cache.DialRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		cacheOpts = append(cacheOpts, cache.WithTier(rdb))
		readyChecks = append(readyChecks, health.Check{Name: "redis", Pinger: rdb, Optional: true})
		log.Info("redis cache tier enabled")
	}
	responses := cache.New(cacheOpts...)

	// --- Tenants -------------------------------------------------------------
	reg, err := tenancy.Open(cfg.Tenancy,
		tenancy.WithCache(responses),
		tenancy.WithPermissionsTTL(cfg.Cache.PermissionsTTL),
		tenancy.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("open tenants: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := reg.Close(closeCtx); err != nil {
			log.Error("close tenant connections", "err", err)
		}
	}()
	for _, t := range reg.All() {
		readyChecks = append(readyChecks, health.Check{Name: "tenant:" + t.ID(), Pinger: t, Optional: true})
	}

	// --- Discord -------------------------------------------------------------
	svc := discord.NewService(discord.Config{
		APIURL:    cfg.Discord.APIURL,
		Cache:     responses,
		Store:     a.sessions,
		Refresher: a.oauth,
		TTLs:      discord.TTLs{Identity: cfg.Cache.IdentityTTL, Member: cfg.Cache.MemberTTL},
		Logger:    log,
	})

	// --- Attachments ---------------------------------------------------------
	hydrator, err := attachments.NewHydrator(ctx, cfg.S3)
	if err != nil {
		return fmt.Errorf("attachment storage: %w", err)
	}

	// --- Worker queue --------------------------------------------------------
	// River migrations only run when Postgres is available.
	if a.pool != nil {
		if err := worker.MigrateRiver(ctx, a.pool); err != nil {
			return fmt.Errorf("river migrations: %w", err)
		}
		log.Info("river migrations applied")
	}

	wq, err := worker.New(a.pool, worker.Config{
		Driver:        cfg.DB.Driver,
		Concurrency:   cfg.Worker.Concurrency,
		SweepInterval: cfg.Auth.SessionSweep,
	}, a.sessions, log)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if err := wq.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := wq.Stop(stopCtx); err != nil {
			log.Error("worker stop error", "err", err)
		}
	}()

	// --- HTTP routes ---------------------------------------------------------
	shares := sharing.NewStore(a.db, nil)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Deps{
		Health:   health.New(db.NewPinger(a.db), readyChecks...),
		Sessions: a.sessions,
		Discord:  svc,
		Tenants:  reg,
		Auth:     handler.NewAuthHandler(a.oauth, a.sessions, svc, cfg.Auth.StateSecret, cfg.HTTP.SecureCookies()),
		Threads:  handler.NewThreadHandler(handler.TenantThreads, hydrator),
		Shares: handler.NewShareHandler(shares, sharing.NewResolver(shares, sharing.RegistryFinder(reg), nil),
			handler.TenantThreads, hydrator, cfg.HTTP.BaseURL),
		Secure: cfg.HTTP.SecureCookies(),
	})
	// Prometheus metrics endpoint
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      api.Handler(mux, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Start server --------------------------------------------------------
	log.Info("http server listening", "addr", srv.Addr, "base_url", cfg.HTTP.BaseURL)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}
