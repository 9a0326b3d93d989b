package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/keystone/internal/database"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEventRepository persists security events. Rows are never updated.
type AuditEventRepository struct {
	pool *pgxpool.Pool
}

func NewAuditEventRepository(db *database.DB) *AuditEventRepository {
	return &AuditEventRepository{pool: db.Pool}
}

func (r *AuditEventRepository) Create(ctx context.Context, event *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (id, event_type, severity, actor_id, description, context, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		event.ID, event.EventType, string(event.Severity), event.ActorID,
		event.Description, event.Context, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit event: %w", database.MapPostgresError(err))
	}
	return nil
}

// ListByActor returns the most recent events for actorID, newest first
func (r *AuditEventRepository) ListByActor(ctx context.Context, actorID string, limit int) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, event_type, severity, actor_id, description, context, timestamp
		FROM audit_events
		WHERE actor_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return scanAuditEventRows(rows)
}

func scanAuditEventRows(rows pgx.Rows) ([]*models.AuditEvent, error) {
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		var event models.AuditEvent
		var severity string
		if err := rows.Scan(
			&event.ID, &event.EventType, &severity, &event.ActorID,
			&event.Description, &event.Context, &event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.Severity = models.AuditSeverity(severity)
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit event rows: %w", err)
	}
	return events, nil
}
