package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TokenPurger deletes time-boxed tokens whose expiry has passed
type TokenPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// WindowSweeper drops rate-limit windows that have ended
type WindowSweeper interface {
	Cleanup(ctx context.Context) (int, error)
}

// CleanupManager periodically removes expired tokens and rate-limit windows
type CleanupManager struct {
	tokens   TokenPurger
	windows  WindowSweeper
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager. Either task may be nil.
func NewCleanupManager(tokens TokenPurger, windows WindowSweeper, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		tokens:   tokens,
		windows:  windows,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single cleanup pass
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if cm.tokens != nil {
		rowsDeleted, err := cm.tokens.PurgeExpired(cleanupCtx)
		if err != nil {
			cm.logger.Error("failed to purge expired tokens", slog.Any("error", err))
		} else if rowsDeleted > 0 {
			cm.logger.Info("expired token cleanup completed", slog.Int64("rows_deleted", rowsDeleted))
		}
	}

	if cm.windows != nil {
		swept, err := cm.windows.Cleanup(cleanupCtx)
		if err != nil {
			cm.logger.Error("failed to sweep rate limit windows", slog.Any("error", err))
		} else if swept > 0 {
			cm.logger.Debug("rate limit windows swept", slog.Int("windows", swept))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
