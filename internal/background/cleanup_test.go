package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubPurger struct {
	calls atomic.Int32
	err   error
}

func (s *stubPurger) PurgeExpired(context.Context) (int64, error) {
	s.calls.Add(1)
	return 3, s.err
}

type stubSweeper struct {
	calls atomic.Int32
}

func (s *stubSweeper) Cleanup(context.Context) (int, error) {
	s.calls.Add(1)
	return 1, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnce_RunsBothTasks(t *testing.T) {
	purger := &stubPurger{}
	sweeper := &stubSweeper{}
	cm := NewCleanupManager(purger, sweeper, discardLogger(), time.Hour)

	cm.RunOnce(context.Background())

	assert.Equal(t, int32(1), purger.calls.Load())
	assert.Equal(t, int32(1), sweeper.calls.Load())
}

func TestRunOnce_PurgeFailureDoesNotSkipSweep(t *testing.T) {
	purger := &stubPurger{err: errors.New("db down")}
	sweeper := &stubSweeper{}
	cm := NewCleanupManager(purger, sweeper, discardLogger(), time.Hour)

	cm.RunOnce(context.Background())

	assert.Equal(t, int32(1), sweeper.calls.Load())
}

func TestRunOnce_NilTasks(t *testing.T) {
	cm := NewCleanupManager(nil, nil, discardLogger(), time.Hour)
	assert.NotPanics(t, func() { cm.RunOnce(context.Background()) })
}

func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	purger := &stubPurger{}
	cm := NewCleanupManager(purger, nil, discardLogger(), time.Hour)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return purger.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	cm.Stop()
	cm.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager did not stop")
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	cm := NewCleanupManager(&stubPurger{}, &stubSweeper{}, discardLogger(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager ignored context cancellation")
	}
}
