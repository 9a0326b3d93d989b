package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/keystone/internal/ratelimit"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

// RuleLimiter is the part of ratelimit.FixedWindowLimiter the middleware uses
type RuleLimiter interface {
	CheckRule(ctx context.Context, rule ratelimit.Rule, key string) (ratelimit.Result, error)
	ReleaseRule(ctx context.Context, rule ratelimit.Rule, key string) error
}

// RateLimit counts requests per endpoint and client IP against rule. When the
// store is unavailable the request is let through and the failure logged.
func RateLimit(limiter RuleLimiter, rule ratelimit.Rule, ipConfig *pkghttp.IPConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := rateLimitKey(r, ipConfig)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			res, err := limiter.CheckRule(r.Context(), rule, key)
			if err != nil {
				logger.Error("rate limit check failed, allowing request",
					slog.String("rule", rule.Name),
					slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, res)
			if !res.Allowed {
				logger.Warn("rate limit exceeded",
					slog.String("rule", rule.Name),
					slog.String("path", r.URL.Path))
				pkghttp.WriteRateLimited(w, retryAfterSeconds(res.RetryAfter))
				return
			}

			if !rule.SkipSuccessful {
				next.ServeHTTP(w, r)
				return
			}

			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)
			if status := wrapped.Status(); status >= 200 && status < 400 {
				if err := limiter.ReleaseRule(r.Context(), rule, key); err != nil {
					logger.Warn("failed to release rate limit hit", slog.String("rule", rule.Name), slog.Any("error", err))
				}
			}
		})
	}
}

func rateLimitKey(r *http.Request, ipConfig *pkghttp.IPConfig) (string, error) {
	endpoint, err := httprate.KeyByEndpoint(r)
	if err != nil {
		return "", err
	}
	return endpoint + ":" + pkghttp.ExtractClientIP(r, ipConfig), nil
}

func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", res.ResetAt.UTC().Format(time.RFC3339))
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
