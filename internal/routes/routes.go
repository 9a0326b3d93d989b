package routes

import (
	"log/slog"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/handlers"
	"github.com/BradenHooton/keystone/internal/middleware"
	"github.com/BradenHooton/keystone/internal/ratelimit"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
	"github.com/go-chi/chi/v5"
)

// RateLimitRules are the per-class limits applied to routes
type RateLimitRules struct {
	Auth  ratelimit.Rule // login, register, refresh, verification
	API   ratelimit.Rule // authenticated endpoints
	Reset ratelimit.Rule // password reset
}

// Dependencies bundles what RegisterRoutes wires together
type Dependencies struct {
	Auth      *handlers.AuthHandler
	TwoFactor *handlers.TwoFactorHandler
	Account   *handlers.AccountHandler
	Health    *handlers.HealthHandler
	Verifier  auth.AccessTokenVerifier
	Limiter   middleware.RuleLimiter
	Rules     RateLimitRules
	IPConfig  *pkghttp.IPConfig
	Logger    *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, d Dependencies) {
	router.Get("/health", d.Health.Live)
	router.Get("/ready", d.Health.Ready)

	// Login only counts failures, so a user who signs in successfully is
	// never locked out by their own traffic
	loginRule := d.Rules.Auth
	loginRule.Name = d.Rules.Auth.Name + "-login"
	loginRule.SkipSuccessful = true
	router.With(middleware.RateLimit(d.Limiter, loginRule, d.IPConfig, d.Logger)).Post("/auth/login", d.Auth.Login)

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(d.Limiter, d.Rules.Auth, d.IPConfig, d.Logger))

		r.Post("/auth/register", d.Auth.Register)
		r.Post("/auth/refresh", d.Auth.RefreshToken)
		r.Post("/auth/verify-email", d.Account.VerifyEmail)
		r.Post("/auth/resend-verification", d.Account.ResendVerification)
	})

	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(d.Limiter, d.Rules.Reset, d.IPConfig, d.Logger))

		r.Post("/auth/forgot-password", d.Account.ForgotPassword)
		r.Post("/auth/reset-password", d.Account.ResetPassword)
	})

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(d.Verifier))
		r.Use(middleware.RateLimit(d.Limiter, d.Rules.API, d.IPConfig, d.Logger))

		r.Post("/auth/logout", d.Auth.Logout)
		r.Get("/users/me", d.Auth.Me)

		r.Route("/2fa", func(r chi.Router) {
			r.Get("/status", d.TwoFactor.Status)
			r.Post("/setup", d.TwoFactor.Setup)
			r.Post("/enable", d.TwoFactor.Enable)
			r.Post("/verify", d.TwoFactor.Verify)
			r.Post("/disable", d.TwoFactor.Disable)
		})
	})
}
