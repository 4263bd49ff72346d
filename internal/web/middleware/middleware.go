package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/flint/internal/web/auth"
	"github.com/foxzi/flint/internal/web/models"
)

// RateLimiter counts requests per key in fixed minute and hour windows.
type RateLimiter struct {
	mu       sync.Mutex
	counters map[string]*rateLimitCounter
	now      func() time.Time
}

type rateLimitCounter struct {
	minuteCount int
	hourCount   int
	minuteReset time.Time
	hourReset   time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		counters: make(map[string]*rateLimitCounter),
		now:      time.Now,
	}
}

// Allow checks if a request is allowed and increments counters
func (rl *RateLimiter) Allow(key string, limitMinute, limitHour int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	counter, exists := rl.counters[key]
	if !exists {
		counter = &rateLimitCounter{
			minuteReset: now.Add(time.Minute),
			hourReset:   now.Add(time.Hour),
		}
		rl.counters[key] = counter
	}

	if now.After(counter.minuteReset) {
		counter.minuteCount = 0
		counter.minuteReset = now.Add(time.Minute)
	}
	if now.After(counter.hourReset) {
		counter.hourCount = 0
		counter.hourReset = now.Add(time.Hour)
	}

	if limitMinute > 0 && counter.minuteCount >= limitMinute {
		return false
	}
	if limitHour > 0 && counter.hourCount >= limitHour {
		return false
	}

	counter.minuteCount++
	counter.hourCount++
	return true
}

// Prune drops counters whose windows have both expired.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, counter := range rl.counters {
		if now.After(counter.minuteReset) && now.After(counter.hourReset) {
			delete(rl.counters, key)
			removed++
		}
	}
	return removed
}

// RateLimit rejects clients exceeding the per-IP limits with 429.
func RateLimit(rl *RateLimiter, perMinute, perHour int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if (perMinute > 0 || perHour > 0) && !rl.Allow(ClientIP(r), perMinute, perHour) {
				sendError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type ctxKey string

const ctxKeyUser ctxKey = "user"

// Logger middleware logs HTTP requests
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration", time.Since(start),
				"ip", ClientIP(r),
				"request_id", chimw.GetReqID(r.Context()),
			)
		})
	}
}

// Recovery middleware recovers from panics
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					sendError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Authenticator resolves the user of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (*models.User, error)
}

// Auth rejects requests without a valid session cookie or bearer token.
func Auth(a Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := a.Authenticate(r)
			if err != nil {
				if !errors.Is(err, auth.ErrUnauthenticated) {
					logger.Error("authentication failed", "error", err)
					sendError(w, http.StatusInternalServerError, "authentication failed")
					return
				}
				sendError(w, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, ctxKeyUser, user)
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *models.User {
	if u, ok := ctx.Value(ctxKeyUser).(*models.User); ok {
		return u
	}
	return nil
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}

// ClientIP extracts the client IP from a request, handling proxies.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
