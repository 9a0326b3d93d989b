package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
	pkglogger "github.com/BradenHooton/keystone/pkg/logger"
)

const (
	defaultAuditBuffer  = 256
	auditPersistTimeout = 5 * time.Second
)

// AuditRepository persists security events
type AuditRepository interface {
	Create(ctx context.Context, event *models.AuditEvent) error
}

// AuditRecorder is the sink services report security events to. Recording
// never fails the calling operation.
type AuditRecorder interface {
	Record(ctx context.Context, eventType string, severity models.AuditSeverity, actorID, description string, meta models.AuditMetadata)
}

// AuditService handles audit logging with dual-write pattern (slog + database).
// The log line is written synchronously; persistence happens on a background
// worker so a slow store never delays an authentication decision.
type AuditService struct {
	repo        AuditRepository
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
	clock       auth.Clock

	events chan *models.AuditEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAuditService creates a new AuditService and starts its persistence worker.
// A nil repo makes the service log-only.
func NewAuditService(repo AuditRepository, auditLogger *pkglogger.AuditLogger, logger *slog.Logger, clock auth.Clock, bufferSize int) *AuditService {
	if bufferSize <= 0 {
		bufferSize = defaultAuditBuffer
	}
	if clock == nil {
		clock = auth.SystemClock{}
	}

	s := &AuditService{
		repo:        repo,
		auditLogger: auditLogger,
		logger:      logger,
		clock:       clock,
		events:      make(chan *models.AuditEvent, bufferSize),
		done:        make(chan struct{}),
	}
	go s.run()
	return s
}

// Record builds an event, logs it and queues it for persistence
func (s *AuditService) Record(ctx context.Context, eventType string, severity models.AuditSeverity, actorID, description string, meta models.AuditMetadata) {
	event := models.NewAuditEvent(eventType, severity, actorID, description, meta, s.clock.Now())
	s.auditLogger.LogSecurityEvent(ctx, event)

	if s.repo == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("audit event dropped after shutdown", slog.String("event_id", event.ID.String()))
		return
	}

	select {
	case s.events <- event:
	default:
		s.logger.Error("audit buffer full, event not persisted",
			slog.String("event_id", event.ID.String()),
			slog.String("event_type", event.EventType))
	}
}

func (s *AuditService) run() {
	defer close(s.done)

	for event := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), auditPersistTimeout)
		if err := s.repo.Create(ctx, event); err != nil {
			// Persistence failure must not affect callers
			s.logger.Error("failed to persist audit event",
				slog.String("event_id", event.ID.String()),
				slog.String("event_type", event.EventType),
				slog.Any("error", err))
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be persisted
func (s *AuditService) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
