// Package worker runs background jobs: the periodic sweep of expired
// sessions. On postgres the sweep is a River periodic job; on sqlite a
// ticker runs it in-process.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// Sweeper deletes expired sessions. *auth.SessionStore implements it.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// SessionSweepArgs is the periodic expired-session sweep.
type SessionSweepArgs struct{}

// Kind returns the unique job type identifier for sweep jobs.
func (SessionSweepArgs) Kind() string { return "session_sweep" }

// SessionSweepWorker executes SessionSweepArgs jobs.
type SessionSweepWorker struct {
	river.WorkerDefaults[SessionSweepArgs]
	sweeper Sweeper
	log     *slog.Logger
}

// NewSessionSweepWorker creates a SessionSweepWorker.
func NewSessionSweepWorker(s Sweeper, log *slog.Logger) *SessionSweepWorker {
	return &SessionSweepWorker{sweeper: s, log: log}
}

// Work runs one sweep.
func (w *SessionSweepWorker) Work(ctx context.Context, _ *river.Job[SessionSweepArgs]) error {
	n, err := w.sweeper.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep expired sessions: %w", err)
	}
	if n > 0 {
		w.log.InfoContext(ctx, "expired sessions swept", "count", n)
	}
	return nil
}

// Queue is the interface exposed by both the real River client and tickerQueue.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Client wraps river.Client and exposes a Start/Stop lifecycle.
type Client struct {
	client *river.Client[pgx.Tx]
	log    *slog.Logger
}

// Start begins processing queued jobs.
func (c *Client) Start(ctx context.Context) error { return c.client.Start(ctx) }

// Stop gracefully shuts down the worker client.
func (c *Client) Stop(ctx context.Context) error { return c.client.Stop(ctx) }

// tickerQueue runs the sweep in-process when River is unavailable
// (DB_DRIVER=sqlite).
type tickerQueue struct {
	worker   *SessionSweepWorker
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (q *tickerQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		return nil
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})
	q.log.Info("session sweep running in-process", "interval", q.interval)

	go func() {
		defer close(q.done)
		t := time.NewTicker(q.interval)
		defer t.Stop()
		for {
			if err := q.worker.Work(ctx, &river.Job[SessionSweepArgs]{}); err != nil && ctx.Err() == nil {
				q.log.ErrorContext(ctx, "session sweep failed", "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return nil
}

func (q *tickerQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config selects the queue implementation.
type Config struct {
	Driver        string // "postgres" uses River; anything else the ticker
	Concurrency   int
	SweepInterval time.Duration
}

// New creates a queue implementation appropriate for the given driver.
//   - "postgres": returns a River client with the sweep as a periodic job.
//   - anything else: returns an in-process ticker running the same sweep.
//
// pool may be nil when Driver != "postgres".
func New(pool *pgxpool.Pool, cfg Config, sweeper Sweeper, log *slog.Logger) (Queue, error) {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	sweep := NewSessionSweepWorker(sweeper, log)
	if cfg.Driver != "postgres" {
		return &tickerQueue{worker: sweep, interval: cfg.SweepInterval, log: log}, nil
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, sweep)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.Concurrency},
		},
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.SweepInterval),
				func() (river.JobArgs, *river.InsertOpts) { return SessionSweepArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
		Workers: workers,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Client{client: client, log: log}, nil
}

// MigrateRiver runs River's built-in schema migrations against the given pool.
// Only call this when DB_DRIVER=postgres.
func MigrateRiver(ctx context.Context, db *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(db), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("run river migrations: %w", err)
	}
	return nil
}
