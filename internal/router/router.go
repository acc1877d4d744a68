package router

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/havenlist/service-identity/internal/apperror"
	"github.com/havenlist/service-identity/internal/httpapi"
	"github.com/havenlist/service-identity/internal/identity"
	"github.com/havenlist/service-identity/internal/otp"
	"github.com/havenlist/service-identity/internal/ratelimit"
	"github.com/havenlist/service-identity/internal/session"
)

const prefix = "/havenlist-api-identity"

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware rejects callers over the per-IP budget before the
// handler runs. Every mutating route sits behind it; reads and the health
// check stay unmetered.
func RateLimitMiddleware(limiter *ratelimit.Limiter, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := limiter.Allow(r.Context(), httpapi.ClientIP(r))
			if err != nil {
				logger.Warnw("rate limiter unavailable", "err", err)
			}
			if !ok {
				httpapi.WriteError(logger, w, apperror.TooManyRequests("too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Handlers bundles the mounted handler sets.
type Handlers struct {
	Identity *identity.Handler
	OTP      *otp.Handler
	Session  *session.Handler
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, h Handlers, limiter *ratelimit.Limiter) http.Handler {
	mux := http.NewServeMux()

	gate := RateLimitMiddleware(limiter, logger)
	limited := func(fn http.HandlerFunc) http.Handler { return gate(fn) }

	mux.HandleFunc("GET "+prefix+"/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("POST "+prefix+"/otp/send", limited(h.OTP.Send))
	mux.Handle("POST "+prefix+"/otp/verify", limited(h.OTP.Verify))

	mux.Handle("POST "+prefix+"/register", limited(h.Identity.Register))
	mux.Handle("POST "+prefix+"/login", limited(h.Identity.Login))
	mux.Handle("POST "+prefix+"/password/forgot", limited(h.Identity.ForgotPassword))
	mux.Handle("POST "+prefix+"/password/reset", limited(h.Identity.ResetPassword))

	mux.Handle("POST "+prefix+"/logout", limited(h.Session.Logout))
	mux.HandleFunc("GET "+prefix+"/me", h.Session.Me)
	mux.HandleFunc("GET "+prefix+"/me/history", h.Identity.History)
	mux.Handle("DELETE "+prefix+"/me", limited(h.Identity.DeleteAccount))
	// The callback creates rows despite being a GET; it is mutating and gated.
	mux.Handle("GET "+prefix+"/oauth/{provider}/callback", limited(h.Session.OAuthCallback))

	handler := LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux))
	return handler
}
