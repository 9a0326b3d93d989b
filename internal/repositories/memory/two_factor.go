package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
)

// TwoFactorRepository stores one factor per user
type TwoFactorRepository struct {
	mu      sync.Mutex
	factors map[string]*models.TwoFactorFactor
}

func NewTwoFactorRepository() *TwoFactorRepository {
	return &TwoFactorRepository{factors: make(map[string]*models.TwoFactorFactor)}
}

func (r *TwoFactorRepository) GetByUserID(_ context.Context, userID string) (*models.TwoFactorFactor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	factor, ok := r.factors[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneFactor(factor), nil
}

func (r *TwoFactorRepository) SaveSetup(_ context.Context, factor *models.TwoFactorFactor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.factors[factor.UserID]; ok && existing.IsEnabled {
		return models.ErrConflict
	}
	stored := cloneFactor(factor)
	stored.IsEnabled = false
	stored.EnabledAt = nil
	r.factors[factor.UserID] = stored
	return nil
}

func (r *TwoFactorRepository) Enable(_ context.Context, userID, verifiedSecret string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	factor, ok := r.factors[userID]
	if !ok {
		return models.ErrNotFound
	}
	if factor.IsEnabled || factor.Secret != verifiedSecret {
		return models.ErrConflict
	}
	factor.IsEnabled = true
	factor.EnabledAt = &at
	factor.UpdatedAt = at
	return nil
}

func (r *TwoFactorRepository) Disable(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	factor, ok := r.factors[userID]
	if !ok {
		return models.ErrNotFound
	}
	if !factor.IsEnabled {
		return models.ErrConflict
	}
	factor.IsEnabled = false
	factor.EnabledAt = nil
	factor.UpdatedAt = at
	return nil
}

func (r *TwoFactorRepository) ConsumeBackupCode(_ context.Context, userID, hash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	factor, ok := r.factors[userID]
	if !ok {
		return false, nil
	}
	for i, h := range factor.BackupCodeHashes {
		if h == hash {
			factor.BackupCodeHashes = append(factor.BackupCodeHashes[:i:i], factor.BackupCodeHashes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func cloneFactor(f *models.TwoFactorFactor) *models.TwoFactorFactor {
	clone := *f
	clone.BackupCodeHashes = append([]string(nil), f.BackupCodeHashes...)
	if f.EnabledAt != nil {
		at := *f.EnabledAt
		clone.EnabledAt = &at
	}
	return &clone
}
