package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/d9705996/modmail-viewer/internal/worker"
	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) SweepExpired(context.Context) (int64, error) {
	c.calls.Add(1)
	return 2, c.err
}

func TestSessionSweepWorker(t *testing.T) {
	s := &countingSweeper{}
	w := worker.NewSessionSweepWorker(s, discard)

	require.NoError(t, w.Work(context.Background(), &river.Job[worker.SessionSweepArgs]{}))
	assert.EqualValues(t, 1, s.calls.Load())

	s.err = errors.New("database is locked")
	assert.ErrorContains(t, w.Work(context.Background(), &river.Job[worker.SessionSweepArgs]{}), "database is locked")
}

func TestSessionSweepArgs_Kind(t *testing.T) {
	assert.Equal(t, "session_sweep", worker.SessionSweepArgs{}.Kind())
}

func TestNew_SQLiteRunsTicker(t *testing.T) {
	s := &countingSweeper{}
	q, err := worker.New(nil, worker.Config{Driver: "sqlite", SweepInterval: 10 * time.Millisecond}, s, discard)
	require.NoError(t, err)

	require.NoError(t, q.Start(context.Background()))
	assert.Eventually(t, func() bool { return s.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))

	after := s.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, s.calls.Load(), "no sweeps after Stop")
}

func TestNew_SQLiteStopBeforeStart(t *testing.T) {
	q, err := worker.New(nil, worker.Config{Driver: "sqlite"}, &countingSweeper{}, discard)
	require.NoError(t, err)
	assert.NoError(t, q.Stop(context.Background()))
}
