package memory

import (
	"context"
	"sync"

	"github.com/BradenHooton/keystone/internal/models"
)

// AuditRepository appends events to a slice
type AuditRepository struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Create(_ context.Context, event *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far
func (r *AuditRepository) Events() []*models.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.AuditEvent(nil), r.events...)
}
