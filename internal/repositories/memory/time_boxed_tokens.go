package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
)

// TimeBoxedTokenRepository stores tokens by hash. MarkUsed holds the lock
// across its check and update, so concurrent redemptions see one winner.
type TimeBoxedTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*models.TimeBoxedToken
}

func NewTimeBoxedTokenRepository() *TimeBoxedTokenRepository {
	return &TimeBoxedTokenRepository{tokens: make(map[string]*models.TimeBoxedToken)}
}

func (r *TimeBoxedTokenRepository) Replace(_ context.Context, token *models.TimeBoxedToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, t := range r.tokens {
		if t.OwnerID == token.OwnerID && t.Purpose == token.Purpose {
			delete(r.tokens, hash)
		}
	}
	stored := *token
	r.tokens[token.TokenHash] = &stored
	return nil
}

func (r *TimeBoxedTokenRepository) MarkUsed(_ context.Context, tokenHash string, purpose models.TokenPurpose, now time.Time) (*models.TimeBoxedToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[tokenHash]
	if !ok || token.Purpose != purpose || !token.IsActiveAt(now) {
		return nil, models.ErrNotFound
	}
	usedAt := now
	token.UsedAt = &usedAt
	clone := *token
	return &clone, nil
}

func (r *TimeBoxedTokenRepository) GetByHash(_ context.Context, tokenHash string, purpose models.TokenPurpose) (*models.TimeBoxedToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[tokenHash]
	if !ok || token.Purpose != purpose {
		return nil, models.ErrNotFound
	}
	clone := *token
	return &clone, nil
}

func (r *TimeBoxedTokenRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for hash, t := range r.tokens {
		if t.ExpiresAt.Before(before) {
			delete(r.tokens, hash)
			deleted++
		}
	}
	return deleted, nil
}
