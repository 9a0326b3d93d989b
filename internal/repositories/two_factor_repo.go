package repositories

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/database"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// sealedPrefix marks secrets stored encrypted with the SecretBox
const sealedPrefix = "v1:"

// TwoFactorRepository stores TOTP factors. When a SecretBox is configured the
// shared secret is encrypted at rest.
type TwoFactorRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
	box  *auth.SecretBox
}

func NewTwoFactorRepository(db *database.DB, box *auth.SecretBox) *TwoFactorRepository {
	return &TwoFactorRepository{db: db, pool: db.Pool, box: box}
}

func (r *TwoFactorRepository) sealSecret(secret string) (string, error) {
	if r.box == nil {
		return secret, nil
	}
	sealed, err := r.box.SealString(secret)
	if err != nil {
		return "", err
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (r *TwoFactorRepository) openSecret(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if r.box == nil {
		return "", fmt.Errorf("two-factor secret is encrypted but no key is configured")
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode two-factor secret: %w", err)
	}
	return r.box.OpenString(sealed)
}

func (r *TwoFactorRepository) GetByUserID(ctx context.Context, userID string) (*models.TwoFactorFactor, error) {
	query := `
		SELECT user_id, secret, backup_code_hashes, is_enabled, enabled_at, created_at, updated_at
		FROM two_factor_factors
		WHERE user_id = $1
	`

	var factor models.TwoFactorFactor
	var stored string
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&factor.UserID, &stored, pq.Array(&factor.BackupCodeHashes),
		&factor.IsEnabled, &factor.EnabledAt, &factor.CreatedAt, &factor.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	factor.Secret, err = r.openSecret(stored)
	if err != nil {
		return nil, err
	}
	return &factor, nil
}

// SaveSetup upserts a disabled factor. The WHERE clause on the conflict branch
// leaves an enabled factor untouched, which surfaces as zero affected rows.
func (r *TwoFactorRepository) SaveSetup(ctx context.Context, factor *models.TwoFactorFactor) error {
	secret, err := r.sealSecret(factor.Secret)
	if err != nil {
		return fmt.Errorf("failed to seal two-factor secret: %w", err)
	}

	query := `
		INSERT INTO two_factor_factors (user_id, secret, backup_code_hashes, is_enabled, enabled_at, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, NULL, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET secret = EXCLUDED.secret,
		    backup_code_hashes = EXCLUDED.backup_code_hashes,
		    updated_at = EXCLUDED.updated_at
		WHERE two_factor_factors.is_enabled = FALSE
	`
	tag, err := r.pool.Exec(ctx, query,
		factor.UserID, secret, pq.Array(factor.BackupCodeHashes), factor.CreatedAt, factor.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save two-factor setup: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrConflict
	}
	return nil
}

// Enable locks the factor row and switches it on only while it still holds
// verifiedSecret. The stored secret may be sealed, so the comparison happens
// here rather than in SQL.
func (r *TwoFactorRepository) Enable(ctx context.Context, userID, verifiedSecret string, at time.Time) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var stored string
		var enabled bool
		err := tx.QueryRow(ctx,
			`SELECT secret, is_enabled FROM two_factor_factors WHERE user_id = $1 FOR UPDATE`,
			userID,
		).Scan(&stored, &enabled)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if enabled {
			return models.ErrConflict
		}

		secret, err := r.openSecret(stored)
		if err != nil {
			return err
		}
		if subtle.ConstantTimeCompare([]byte(secret), []byte(verifiedSecret)) != 1 {
			return models.ErrConflict
		}

		query := `
			UPDATE two_factor_factors
			SET is_enabled = TRUE, enabled_at = $2, updated_at = $2
			WHERE user_id = $1
		`
		if _, err := tx.Exec(ctx, query, userID, at); err != nil {
			return fmt.Errorf("failed to enable two-factor: %w", database.MapPostgresError(err))
		}
		return nil
	})
}

func (r *TwoFactorRepository) Disable(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE two_factor_factors
		SET is_enabled = FALSE, enabled_at = NULL, updated_at = $2
		WHERE user_id = $1 AND is_enabled = TRUE
	`
	tag, err := r.pool.Exec(ctx, query, userID, at)
	if err != nil {
		return fmt.Errorf("failed to disable two-factor: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM two_factor_factors WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return database.MapPostgresError(err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return models.ErrConflict
}

// ConsumeBackupCode removes hash in a single conditional update so a code can
// only be spent once, even under concurrent use.
func (r *TwoFactorRepository) ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error) {
	query := `
		UPDATE two_factor_factors
		SET backup_code_hashes = array_remove(backup_code_hashes, $2),
		    updated_at = NOW()
		WHERE user_id = $1 AND $2 = ANY(backup_code_hashes)
	`
	tag, err := r.pool.Exec(ctx, query, userID, hash)
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected() == 1, nil
}
