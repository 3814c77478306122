package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/pribylovaa/cinelog-auth/internal/pkg/log"
)

// Logging кладёт в контекст логгер с request_id и ip клиента: эти поля
// получают все записи сервиса по запросу (вход, ротация, reuse).
// После ответа пишет одну запись http_request. Query не логируется:
// в нём бывают одноразовые токены (verify-email?token=...).
func Logging(l *slog.Logger) Middleware {
	if l == nil {
		l = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := RequestIDFrom(r.Context())
			if rid == "" {
				rid = r.Header.Get("X-Request-Id")
			}

			reqLogger := l.With(slog.String("ip", ClientIP(r)))
			if rid != "" {
				reqLogger = reqLogger.With(slog.String("request_id", rid))
			}
			r = r.WithContext(log.Into(r.Context(), reqLogger))

			sw := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)

			status := sw.Status()
			reqLogger.LogAttrs(r.Context(), levelFor(status), "http_request",
				slog.String("method", r.Method),
				slog.String("route", routePattern(r)),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("dur", time.Since(start)),
				slog.Int("bytes", sw.count),
			)
		})
	}
}

// levelFor: 5xx — Error; отказы в доступе и лимиты (подбор паролей, CSRF) — Warn.
func levelFor(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusTooManyRequests:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
