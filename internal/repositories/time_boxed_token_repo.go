package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/keystone/internal/database"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const timeBoxedTokenColumns = `id, owner_id, purpose, token_hash, expires_at, used_at, created_at`

// TimeBoxedTokenRepository stores single-use tokens by SHA-256 hash
type TimeBoxedTokenRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewTimeBoxedTokenRepository(db *database.DB) *TimeBoxedTokenRepository {
	return &TimeBoxedTokenRepository{db: db, pool: db.Pool}
}

func scanTimeBoxedTokenRow(row rowScanner) (*models.TimeBoxedToken, error) {
	var token models.TimeBoxedToken
	var purpose string
	err := row.Scan(
		&token.ID, &token.OwnerID, &purpose, &token.TokenHash,
		&token.ExpiresAt, &token.UsedAt, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	token.Purpose = models.TokenPurpose(purpose)
	return &token, nil
}

// Replace deletes the owner's tokens for the purpose and inserts token in one transaction
func (r *TimeBoxedTokenRepository) Replace(ctx context.Context, token *models.TimeBoxedToken) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM time_boxed_tokens WHERE owner_id = $1 AND purpose = $2`,
			token.OwnerID, string(token.Purpose),
		); err != nil {
			return fmt.Errorf("failed to delete superseded tokens: %w", database.MapPostgresError(err))
		}

		query := `
			INSERT INTO time_boxed_tokens (id, owner_id, purpose, token_hash, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		if _, err := tx.Exec(ctx, query,
			token.ID, token.OwnerID, string(token.Purpose), token.TokenHash, token.ExpiresAt, token.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert token: %w", database.MapPostgresError(err))
		}
		return nil
	})
}

// MarkUsed is a single conditional update; concurrent callers race on the row
// lock and only the first sees used_at IS NULL.
func (r *TimeBoxedTokenRepository) MarkUsed(ctx context.Context, tokenHash string, purpose models.TokenPurpose, now time.Time) (*models.TimeBoxedToken, error) {
	query := `
		UPDATE time_boxed_tokens
		SET used_at = $3
		WHERE token_hash = $1 AND purpose = $2 AND used_at IS NULL AND expires_at >= $3
		RETURNING ` + timeBoxedTokenColumns

	return scanTimeBoxedTokenRow(r.pool.QueryRow(ctx, query, tokenHash, string(purpose), now))
}

func (r *TimeBoxedTokenRepository) GetByHash(ctx context.Context, tokenHash string, purpose models.TokenPurpose) (*models.TimeBoxedToken, error) {
	query := `SELECT ` + timeBoxedTokenColumns + ` FROM time_boxed_tokens WHERE token_hash = $1 AND purpose = $2`
	return scanTimeBoxedTokenRow(r.pool.QueryRow(ctx, query, tokenHash, string(purpose)))
}

func (r *TimeBoxedTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM time_boxed_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
