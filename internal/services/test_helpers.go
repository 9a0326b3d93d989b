package services

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc           func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc        func(ctx context.Context, email string) (*models.User, error)
	CreateFunc            func(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePasswordFunc    func(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	MarkEmailVerifiedFunc func(ctx context.Context, id string, at time.Time) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash, changedAt)
	}
	return nil
}

func (m *MockUserRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	if m.MarkEmailVerifiedFunc != nil {
		return m.MarkEmailVerifiedFunc(ctx, id, at)
	}
	return nil
}

// MockTwoFactorRepository implements TwoFactorRepository for testing
type MockTwoFactorRepository struct {
	GetByUserIDFunc       func(ctx context.Context, userID string) (*models.TwoFactorFactor, error)
	SaveSetupFunc         func(ctx context.Context, factor *models.TwoFactorFactor) error
	EnableFunc            func(ctx context.Context, userID, verifiedSecret string, at time.Time) error
	DisableFunc           func(ctx context.Context, userID string, at time.Time) error
	ConsumeBackupCodeFunc func(ctx context.Context, userID, hash string) (bool, error)
}

func (m *MockTwoFactorRepository) GetByUserID(ctx context.Context, userID string) (*models.TwoFactorFactor, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockTwoFactorRepository) SaveSetup(ctx context.Context, factor *models.TwoFactorFactor) error {
	if m.SaveSetupFunc != nil {
		return m.SaveSetupFunc(ctx, factor)
	}
	return nil
}

func (m *MockTwoFactorRepository) Enable(ctx context.Context, userID, verifiedSecret string, at time.Time) error {
	if m.EnableFunc != nil {
		return m.EnableFunc(ctx, userID, verifiedSecret, at)
	}
	return nil
}

func (m *MockTwoFactorRepository) Disable(ctx context.Context, userID string, at time.Time) error {
	if m.DisableFunc != nil {
		return m.DisableFunc(ctx, userID, at)
	}
	return nil
}

func (m *MockTwoFactorRepository) ConsumeBackupCode(ctx context.Context, userID, hash string) (bool, error) {
	if m.ConsumeBackupCodeFunc != nil {
		return m.ConsumeBackupCodeFunc(ctx, userID, hash)
	}
	return false, nil
}

// MockTimeBoxedTokenRepository implements TimeBoxedTokenRepository for testing
type MockTimeBoxedTokenRepository struct {
	ReplaceFunc       func(ctx context.Context, token *models.TimeBoxedToken) error
	MarkUsedFunc      func(ctx context.Context, tokenHash string, purpose models.TokenPurpose, now time.Time) (*models.TimeBoxedToken, error)
	GetByHashFunc     func(ctx context.Context, tokenHash string, purpose models.TokenPurpose) (*models.TimeBoxedToken, error)
	DeleteExpiredFunc func(ctx context.Context, before time.Time) (int64, error)
}

func (m *MockTimeBoxedTokenRepository) Replace(ctx context.Context, token *models.TimeBoxedToken) error {
	if m.ReplaceFunc != nil {
		return m.ReplaceFunc(ctx, token)
	}
	return nil
}

func (m *MockTimeBoxedTokenRepository) MarkUsed(ctx context.Context, tokenHash string, purpose models.TokenPurpose, now time.Time) (*models.TimeBoxedToken, error) {
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, tokenHash, purpose, now)
	}
	return nil, models.ErrNotFound
}

func (m *MockTimeBoxedTokenRepository) GetByHash(ctx context.Context, tokenHash string, purpose models.TokenPurpose) (*models.TimeBoxedToken, error) {
	if m.GetByHashFunc != nil {
		return m.GetByHashFunc(ctx, tokenHash, purpose)
	}
	return nil, models.ErrNotFound
}

func (m *MockTimeBoxedTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx, before)
	}
	return 0, nil
}

// MockAuditRepository implements AuditRepository for testing
type MockAuditRepository struct {
	CreateFunc func(ctx context.Context, event *models.AuditEvent) error
}

func (m *MockAuditRepository) Create(ctx context.Context, event *models.AuditEvent) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, event)
	}
	return nil
}

// MockMailer implements Mailer for testing
type MockMailer struct {
	SendFunc func(ctx context.Context, msg Message) error
}

func (m *MockMailer) Send(ctx context.Context, msg Message) error {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	return nil
}

// MockVerificationSender implements VerificationSender for testing
type MockVerificationSender struct {
	SendFunc func(ctx context.Context, userID, email string) error
}

func (m *MockVerificationSender) Send(ctx context.Context, userID, email string) error {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, userID, email)
	}
	return nil
}

// MockTwoFactorVerifier implements TwoFactorVerifier for testing
type MockTwoFactorVerifier struct {
	IsEnabledFunc func(ctx context.Context, userID string) (bool, error)
	VerifyFunc    func(ctx context.Context, userID, code string) error
}

func (m *MockTwoFactorVerifier) IsEnabled(ctx context.Context, userID string) (bool, error) {
	if m.IsEnabledFunc != nil {
		return m.IsEnabledFunc(ctx, userID)
	}
	return false, nil
}

func (m *MockTwoFactorVerifier) Verify(ctx context.Context, userID, code string) error {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, userID, code)
	}
	return nil
}

// RecordedAuditEvent is one call captured by RecordingAuditRecorder
type RecordedAuditEvent struct {
	EventType   string
	Severity    models.AuditSeverity
	ActorID     string
	Description string
	Meta        models.AuditMetadata
}

// RecordingAuditRecorder implements AuditRecorder and keeps every event
type RecordingAuditRecorder struct {
	mu     sync.Mutex
	Events []RecordedAuditEvent
}

func (r *RecordingAuditRecorder) Record(_ context.Context, eventType string, severity models.AuditSeverity, actorID, description string, meta models.AuditMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, RecordedAuditEvent{
		EventType:   eventType,
		Severity:    severity,
		ActorID:     actorID,
		Description: description,
		Meta:        meta,
	})
}

// Types returns the recorded event types in order
func (r *RecordingAuditRecorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.Events))
	for i, e := range r.Events {
		types[i] = e.EventType
	}
	return types
}

// Last returns the most recent event
func (r *RecordingAuditRecorder) Last() RecordedAuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Events) == 0 {
		return RecordedAuditEvent{}
	}
	return r.Events[len(r.Events)-1]
}

// plainHasher is a fast PasswordHasher for tests that do not exercise bcrypt
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", models.ErrHashingFailure
	}
	return "hashed:" + password, nil
}

func (plainHasher) Verify(password, hash string) bool {
	return hash == "hashed:"+password
}

// testLogger discards output
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// testNow is the fixed instant most service tests run at
var testNow = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

// deterministicReader yields 0x00, 0x01, 0x02, ... forever
type deterministicReader struct {
	mu   sync.Mutex
	next byte
}

func (r *deterministicReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range p {
		p[i] = r.next
		r.next++
	}
	return len(p), nil
}

// NewTestUser builds a verified user with the given password hash
func NewTestUser(id, email, passwordHash string) *models.User {
	return &models.User{
		ID:            id,
		Email:         email,
		PasswordHash:  passwordHash,
		Role:          "user",
		EmailVerified: true,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
}

func newTestTokenManager(clock auth.Clock) *auth.TokenManager {
	tm, err := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  "test-access-secret-0123456789abcdef",
		RefreshSecret: "test-refresh-secret-0123456789abcdef",
	}, clock, auth.NewRandomTokenProvider(nil))
	if err != nil {
		panic(err)
	}
	return tm
}
