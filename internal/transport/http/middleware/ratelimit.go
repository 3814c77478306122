package middleware

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/pribylovaa/cinelog-auth/internal/metrics"
	"github.com/pribylovaa/cinelog-auth/internal/pkg/log"
	"github.com/pribylovaa/cinelog-auth/internal/pkg/redact"
	"github.com/pribylovaa/cinelog-auth/internal/ratelimit"
	apierrors "github.com/pribylovaa/cinelog-auth/internal/transport/http/errors"
)

// RateLimit ограничивает запросы одного клиента (по IP) в рамках scope:
// не больше limit за window. Превышение — 429 с Retry-After.
// Сбой лимитера — 500: запрос не пропускается.
func RateLimit(l ratelimit.Limiter, scope string, limit int, window time.Duration, m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		if l == nil || limit <= 0 || window <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)

			res, err := l.Allow(r.Context(), scope+":"+ip, limit, window)
			if err != nil {
				apierrors.WriteError(w, r, fmt.Errorf("ratelimit %s: %w", scope, err))
				return
			}

			h := w.Header()
			h.Set("RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("RateLimit-Remaining", strconv.Itoa(res.Remaining))

			if !res.Allowed {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))

				log.From(r.Context()).Warn("rate_limited",
					slog.String("scope", scope),
					slog.String("ip", redact.Fingerprint(ip)),
				)
				m.AuthRequest(scope, metrics.ResultRateLimited)

				apierrors.WriteError(w, r, apierrors.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
