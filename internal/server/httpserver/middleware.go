package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// HeaderRequestID carries the request correlation id.
const HeaderRequestID = "X-Request-ID"

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so the first one runs outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

type requestInfoKey struct{}

// requestInfo is attached to the context by RequestID.
type requestInfo struct {
	id      string
	started time.Time
}

// RequestIDFrom returns the id assigned by RequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	if ri, ok := ctx.Value(requestInfoKey{}).(requestInfo); ok {
		return ri.id
	}
	return ""
}

func startedAt(ctx context.Context) time.Time {
	if ri, ok := ctx.Value(requestInfoKey{}).(requestInfo); ok {
		return ri.started
	}
	return time.Time{}
}

// RequestID echoes the caller's X-Request-ID or assigns "req-<uuid>".
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = "req-" + uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, id)
			ctx := context.WithValue(r.Context(), requestInfoKey{}, requestInfo{id: id, started: time.Now()})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// limiterIdle is how long an unused per-IP limiter is kept.
const limiterIdle = 5 * time.Minute

type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ipLimiters hands out one token bucket per client IP and drops buckets
// idle for longer than limiterIdle.
type ipLimiters struct {
	rps   int
	mu    sync.Mutex
	byIP  map[string]*ipLimiter
	swept time.Time
}

func (s *ipLimiters) allow(ip string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.swept) > limiterIdle {
		for k, l := range s.byIP {
			if now.Sub(l.lastSeen) > limiterIdle {
				delete(s.byIP, k)
			}
		}
		s.swept = now
	}
	l, ok := s.byIP[ip]
	if !ok {
		l = &ipLimiter{lim: rate.NewLimiter(rate.Limit(s.rps), s.rps)}
		s.byIP[ip] = l
	}
	l.lastSeen = now
	return l.lim.AllowN(now, 1)
}

// RateLimit allows each client IP rps requests per second with an equal
// burst. Rejected requests get 429 and Retry-After: 1.
func RateLimit(rps int) Middleware {
	limiters := &ipLimiters{rps: rps, byIP: make(map[string]*ipLimiter), swept: time.Now()}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(clientIP(r), time.Now()) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "CM-SRV-4290", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Audit logs each finished request: 5xx at error, 4xx at warn and the
// rest at debug.
func Audit(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			level, msg := slog.LevelDebug, "admin request"
			switch {
			case rec.status >= 500:
				level, msg = slog.LevelError, "admin request failed"
			case rec.status >= 400:
				level, msg = slog.LevelWarn, "admin request rejected"
			}
			var elapsed time.Duration
			if t := startedAt(r.Context()); !t.IsZero() {
				elapsed = time.Since(t)
			}
			logger.Log(r.Context(), level, msg,
				"request_id", RequestIDFrom(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"elapsed", elapsed,
				"client_ip", clientIP(r))
		})
	}
}

// Recover turns a handler panic into a 500 response.
func Recover(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					logger.Error("admin handler panicked",
						"request_id", RequestIDFrom(r.Context()),
						"path", r.URL.Path,
						"panic", v)
					writeError(w, http.StatusInternalServerError, "CM-SRV-5000", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Code: code, Message: message})
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the socket peer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
