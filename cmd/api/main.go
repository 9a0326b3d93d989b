package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/background"
	"github.com/BradenHooton/keystone/internal/config"
	"github.com/BradenHooton/keystone/internal/database"
	"github.com/BradenHooton/keystone/internal/handlers"
	middlewareCustom "github.com/BradenHooton/keystone/internal/middleware"
	"github.com/BradenHooton/keystone/internal/ratelimit"
	"github.com/BradenHooton/keystone/internal/repositories"
	"github.com/BradenHooton/keystone/internal/repositories/memory"
	"github.com/BradenHooton/keystone/internal/routes"
	"github.com/BradenHooton/keystone/internal/services"
	pkgauth "github.com/BradenHooton/keystone/pkg/auth"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
	pkglogger "github.com/BradenHooton/keystone/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

const auditBufferSize = 256

// storage holds the repositories for the configured backend
type storage struct {
	users     services.UserRepository
	twoFactor services.TwoFactorRepository
	tokens    services.TimeBoxedTokenRepository
	audit     services.AuditRepository
	ping      handlers.Pinger
	close     func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := pkglogger.New(os.Stdout, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("storage", cfg.Database.Backend),
		slog.String("rate_limit_store", cfg.RateLimit.Backend),
		slog.String("email_provider", cfg.Email.Provider),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	clock := auth.SystemClock{}
	random := auth.NewRandomTokenProvider(nil)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	// Storage
	var box *auth.SecretBox
	if len(cfg.TOTP.EncryptionKey) > 0 {
		b, err := auth.NewSecretBox(cfg.TOTP.EncryptionKey, random)
		if err != nil {
			return fmt.Errorf("totp encryption key: %w", err)
		}
		box = b
	}

	store, err := openStorage(startupCtx, cfg, box, logger)
	if err != nil {
		return err
	}
	defer store.close()

	// Rate limiting
	windowStore, windowPing, closeWindows, err := openWindowStore(startupCtx, cfg.RateLimit, logger)
	if err != nil {
		return err
	}
	defer closeWindows()
	limiter := ratelimit.NewFixedWindowLimiter(windowStore, clock)

	// Mail
	var mailer services.Mailer
	switch cfg.Email.Provider {
	case config.EmailProviderSES:
		sesMailer, err := services.NewSESMailer(startupCtx, cfg.Email.AWSRegion, cfg.Email.From, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize email service: %w", err)
		}
		mailer = sesMailer
	default:
		mailer = services.NewLogMailer(logger)
	}

	// Token manager
	tokenManager, err := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  cfg.Auth.JWTAccessSecret,
		RefreshSecret: cfg.Auth.JWTRefreshSecret,
		AccessExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshExpiry: cfg.Auth.RefreshTokenExpiry,
	}, clock, random)
	if err != nil {
		return fmt.Errorf("failed to initialize token manager: %w", err)
	}

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Auth.TimingBaseDelayMs,
		RandomDelayMs:  cfg.Auth.TimingRandomMs,
		DelayOnSuccess: cfg.Auth.TimingDelayOnOK,
	}, random)

	hasher := pkgauth.NewPasswordHasher(cfg.Auth.BcryptCost)
	totpEngine := auth.NewTOTPEngine(cfg.TOTP.Issuer, clock, random)

	// Services
	auditService := services.NewAuditService(store.audit, pkglogger.NewAuditLogger(logger), logger, clock, auditBufferSize)

	tokenService := services.NewTimeBoxedTokenService(store.tokens, random, clock, services.TimeBoxedTokenConfig{
		EmailVerificationTTL: cfg.Tokens.EmailVerificationTTL,
		PasswordResetTTL:     cfg.Tokens.PasswordResetTTL,
		Retention:            cfg.Tokens.Retention,
		BaseURL:              cfg.Tokens.BaseURL,
	}, logger)

	emailVerificationService := services.NewEmailVerificationService(tokenService, store.users, mailer, auditService, logger)
	passwordResetService := services.NewPasswordResetService(tokenService, store.users, hasher, mailer, auditService, logger)
	userService := services.NewUserService(store.users, hasher, emailVerificationService, clock, logger)
	twoFactorService := services.NewTwoFactorService(store.twoFactor, store.users, hasher, totpEngine, auditService, clock, logger)

	verifier, err := services.NewCredentialVerifier(store.users, hasher, timingDelay, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize credential verifier: %w", err)
	}
	authService := services.NewAuthService(store.users, verifier, tokenManager, twoFactorService, auditService, logger)

	// Handlers
	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	checks := map[string]handlers.Pinger{}
	if store.ping != nil {
		checks["storage"] = store.ping
	}
	if windowPing != nil {
		checks["rate_limit_store"] = windowPing
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		Auth:      handlers.NewAuthHandler(authService, userService, ipConfig, logger),
		TwoFactor: handlers.NewTwoFactorHandler(twoFactorService, logger),
		Account:   handlers.NewAccountHandler(emailVerificationService, passwordResetService, ipConfig, logger),
		Health:    handlers.NewHealthHandler(checks),
		Verifier:  tokenManager,
		Limiter:   limiter,
		Rules: routes.RateLimitRules{
			Auth:  ruleFromConfig("auth", cfg.RateLimit.Auth),
			API:   ruleFromConfig("api", cfg.RateLimit.API),
			Reset: ruleFromConfig("reset", cfg.RateLimit.Reset),
		},
		IPConfig: ipConfig,
		Logger:   logger,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(tokenService, limiter, logger, cfg.Auth.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	// Start server
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Flush buffered audit events before storage closes
	if err := auditService.Close(shutdownCtx); err != nil {
		logger.Error("audit flush incomplete", slog.Any("error", err))
	}

	logger.Info("server stopped gracefully")
	return nil
}

func ruleFromConfig(name string, r config.RateLimitRule) ratelimit.Rule {
	return ratelimit.Rule{Name: name, Limit: r.Max, Window: r.Window}
}

func openStorage(ctx context.Context, cfg *config.Config, box *auth.SecretBox, logger *slog.Logger) (*storage, error) {
	if cfg.Database.Backend != config.BackendPostgres {
		logger.Warn("using in-memory storage; data is lost on restart")
		return &storage{
			users:     memory.NewUserRepository(),
			twoFactor: memory.NewTwoFactorRepository(),
			tokens:    memory.NewTimeBoxedTokenRepository(),
			audit:     memory.NewAuditRepository(),
			close:     func() {},
		}, nil
	}

	db, err := database.Open(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &storage{
		users:     repositories.NewUserRepository(db),
		twoFactor: repositories.NewTwoFactorRepository(db, box),
		tokens:    repositories.NewTimeBoxedTokenRepository(db),
		audit:     repositories.NewAuditEventRepository(db),
		ping:      db,
		close:     db.Close,
	}, nil
}

func openWindowStore(ctx context.Context, cfg config.RateLimitConfig, logger *slog.Logger) (ratelimit.WindowStore, handlers.Pinger, func(), error) {
	if cfg.Backend != config.BackendRedis {
		return ratelimit.NewMemoryWindowStore(), nil, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("rate limit store connected", slog.String("addr", cfg.RedisAddr))

	ping := handlers.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close redis client", slog.Any("error", err))
		}
	}
	return ratelimit.NewRedisWindowStore(client, ""), ping, closeFn, nil
}
