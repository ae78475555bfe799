package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimiter provides rate limiting functionality
type RateLimiter struct {
	redis       redis.Cmdable
	gate        Classifier
	maxRequests int
	window      time.Duration
	enabled     bool
	logger      *logrus.Entry
	now         func() time.Time
}

// NewRateLimiter creates a new rate limiter. gate keys authenticated callers
// by account and may be nil. Limiting is skipped unless enabled.
func NewRateLimiter(client redis.Cmdable, gate Classifier, maxRequests int, window time.Duration, enabled bool, logger *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		redis:       client,
		gate:        gate,
		maxRequests: maxRequests,
		window:      window,
		enabled:     enabled,
		logger:      logger,
		now:         time.Now,
	}
}

// Limit returns a middleware that rate limits requests
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.enabled {
			next.ServeHTTP(w, r)
			return
		}

		identifier := rl.getIdentifier(r)

		allowed, err := rl.checkRateLimit(r.Context(), identifier)
		if err != nil {
			// Fail open on Redis errors.
			rl.logger.WithError(err).WithField("identifier", identifier).Warn("Rate limit check failed")
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeJSONError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getIdentifier returns the identifier for rate limiting
func (rl *RateLimiter) getIdentifier(r *http.Request) string {
	if rl.gate != nil {
		if id, err := rl.gate.Classify(r.Context(), extractBearerToken(r)); err == nil && !id.IsAnonymous() {
			return fmt.Sprintf("user:%s", id.AccountID)
		}
	}
	return fmt.Sprintf("ip:%s", clientIP(r))
}

// checkRateLimit counts the request in a sliding window and reports whether
// it is within the limit
func (rl *RateLimiter) checkRateLimit(ctx context.Context, identifier string) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s", identifier)
	now := rl.now()
	windowStart := now.Add(-rl.window).UnixNano()

	// Use Redis sorted set for sliding window
	pipe := rl.redis.Pipeline()

	// Remove old entries outside the window
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))

	// Count requests in current window
	countCmd := pipe.ZCard(ctx, key)

	// Members must be unique or requests in the same instant collapse.
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})

	pipe.Expire(ctx, key, rl.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return countCmd.Val() < int64(rl.maxRequests), nil
}

// clientIP prefers the first X-Forwarded-For hop, then RemoteAddr without port
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
