//go:build integration

package repositories_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/database"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/repositories"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *database.DB

// TestMain starts one PostgreSQL container for the package and applies the
// embedded migrations
func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("keystone"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	code := func() int {
		defer func() { _ = container.Terminate(ctx) }()

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to get connection string: %v\n", err)
			return 1
		}

		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create connection pool: %v\n", err)
			return 1
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool, nil); err != nil {
			fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
			return 1
		}

		testDB = database.NewFromPool(pool, nil)
		return m.Run()
	}()

	os.Exit(code)
}

// cleanupTables truncates all tables for test isolation
func cleanupTables(t *testing.T) {
	t.Helper()
	tables := []string{"audit_events", "time_boxed_tokens", "two_factor_factors", "users"}
	for _, table := range tables {
		_, err := testDB.Pool.Exec(context.Background(), fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		require.NoError(t, err, "truncate %s", table)
	}
}

func seedUser(t *testing.T, email string) *models.User {
	t.Helper()
	now := time.Now().UTC()
	user, err := repositories.NewUserRepository(testDB).Create(context.Background(), &models.User{
		Email:        email,
		PasswordHash: "$2a$04$abcdefghijklmnopqrstuv",
		Role:         "user",
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	require.NoError(t, err)
	return user
}

func TestUserRepository(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()
	repo := repositories.NewUserRepository(testDB)

	user := seedUser(t, "alice@example.com")
	require.NotEmpty(t, user.ID)

	t.Run("duplicate email conflicts", func(t *testing.T) {
		_, err := repo.Create(ctx, &models.User{Email: "alice@example.com", PasswordHash: "x", Role: "user"})
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("lookup", func(t *testing.T) {
		got, err := repo.GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)

		_, err = repo.GetByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("password and verification updates", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, repo.UpdatePassword(ctx, user.ID, "new-hash", at))
		require.NoError(t, repo.MarkEmailVerified(ctx, user.ID, at))

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.PasswordHash)
		assert.True(t, got.EmailVerified)
		require.NotNil(t, got.PasswordChangedAt)
		assert.True(t, at.Equal(*got.PasswordChangedAt))

		assert.ErrorIs(t, repo.UpdatePassword(ctx, uuid.NewString(), "h", at), models.ErrNotFound)
	})
}

func TestTwoFactorRepository(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()

	box, err := auth.NewSecretBox(make([]byte, 32), nil)
	require.NoError(t, err)
	repo := repositories.NewTwoFactorRepository(testDB, box)
	user := seedUser(t, "bob@example.com")

	codes := []string{"AAAA1111", "BBBB2222", "CCCC3333"}
	factor := &models.TwoFactorFactor{
		UserID:           user.ID,
		Secret:           "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP",
		BackupCodeHashes: auth.HashBackupCodes(codes),
	}

	t.Run("setup stores an encrypted secret", func(t *testing.T) {
		require.NoError(t, repo.SaveSetup(ctx, factor))

		var stored string
		require.NoError(t, testDB.Pool.QueryRow(ctx, `SELECT secret FROM two_factor_factors WHERE user_id = $1`, user.ID).Scan(&stored))
		assert.NotContains(t, stored, factor.Secret)

		got, err := repo.GetByUserID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, factor.Secret, got.Secret)
		assert.False(t, got.IsEnabled)
		assert.Len(t, got.BackupCodeHashes, 3)
	})

	t.Run("re-running setup before enable replaces the factor", func(t *testing.T) {
		require.NoError(t, repo.SaveSetup(ctx, factor))
	})

	t.Run("enable is conditional", func(t *testing.T) {
		now := time.Now().UTC()
		assert.ErrorIs(t, repo.Enable(ctx, user.ID, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", now), models.ErrConflict)
		require.NoError(t, repo.Enable(ctx, user.ID, factor.Secret, now))
		assert.ErrorIs(t, repo.Enable(ctx, user.ID, factor.Secret, now), models.ErrConflict)
		assert.ErrorIs(t, repo.Enable(ctx, uuid.NewString(), factor.Secret, now), models.ErrNotFound)

		got, err := repo.GetByUserID(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, got.IsEnabled)
		assert.NotNil(t, got.EnabledAt)
	})

	t.Run("setup is refused once enabled", func(t *testing.T) {
		assert.ErrorIs(t, repo.SaveSetup(ctx, factor), models.ErrConflict)
	})

	t.Run("a backup code is consumed exactly once under contention", func(t *testing.T) {
		hash := auth.HashBackupCode(codes[0])

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.ConsumeBackupCode(ctx, user.ID, hash)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())

		got, err := repo.GetByUserID(ctx, user.ID)
		require.NoError(t, err)
		assert.Len(t, got.BackupCodeHashes, 2)
		assert.NotContains(t, got.BackupCodeHashes, hash)
	})
}

func TestTimeBoxedTokenRepository(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()
	repo := repositories.NewTimeBoxedTokenRepository(testDB)
	user := seedUser(t, "carol@example.com")

	now := time.Now().UTC().Truncate(time.Microsecond)
	newToken := func(hash string, expiresAt time.Time) *models.TimeBoxedToken {
		return &models.TimeBoxedToken{
			ID:        uuid.NewString(),
			OwnerID:   user.ID,
			Purpose:   models.PurposePasswordReset,
			TokenHash: hash,
			ExpiresAt: expiresAt,
			CreatedAt: now,
		}
	}

	t.Run("replace supersedes the previous token", func(t *testing.T) {
		require.NoError(t, repo.Replace(ctx, newToken("hash-old", now.Add(time.Hour))))
		require.NoError(t, repo.Replace(ctx, newToken("hash-new", now.Add(time.Hour))))

		_, err := repo.GetByHash(ctx, "hash-old", models.PurposePasswordReset)
		assert.ErrorIs(t, err, models.ErrNotFound)

		_, err = repo.GetByHash(ctx, "hash-new", models.PurposePasswordReset)
		assert.NoError(t, err)

		_, err = repo.GetByHash(ctx, "hash-new", models.PurposeEmailVerification)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("concurrent redemption succeeds once", func(t *testing.T) {
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tok, err := repo.MarkUsed(ctx, "hash-new", models.PurposePasswordReset, now)
				if err == nil {
					assert.Equal(t, user.ID, tok.OwnerID)
					wins.Add(1)
					return
				}
				assert.ErrorIs(t, err, models.ErrNotFound)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())

		tok, err := repo.GetByHash(ctx, "hash-new", models.PurposePasswordReset)
		require.NoError(t, err)
		assert.True(t, tok.IsUsed())
	})

	t.Run("expired tokens cannot be redeemed and are purged", func(t *testing.T) {
		require.NoError(t, repo.Replace(ctx, newToken("hash-expiring", now.Add(time.Minute))))

		_, err := repo.MarkUsed(ctx, "hash-expiring", models.PurposePasswordReset, now.Add(time.Minute+time.Millisecond))
		assert.ErrorIs(t, err, models.ErrNotFound)

		deleted, err := repo.DeleteExpired(ctx, now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
	})
}

func TestAuditEventRepository(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()
	repo := repositories.NewAuditEventRepository(testDB)

	actor := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, eventType := range []string{models.AuditEventLoginFailed, models.AuditEventLoginSuccess} {
		event := models.NewAuditEvent(eventType, models.SeverityMedium, actor, "test event",
			models.AuditMetadata{"ip_address": "203.0.113.1"}, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, repo.Create(ctx, event))
	}
	require.NoError(t, repo.Create(ctx, models.NewAuditEvent(models.AuditEventLoginFailed, models.SeverityMedium, "", "anonymous", nil, base)))

	events, err := repo.ListByActor(ctx, actor, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.AuditEventLoginSuccess, events[0].EventType)
	assert.Equal(t, "203.0.113.1", events[0].Context["ip_address"])
	require.NotNil(t, events[0].ActorID)
	assert.Equal(t, actor, *events[0].ActorID)
}
