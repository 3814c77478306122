package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pribylovaa/cinelog-auth/internal/pkg/log"
)

// Timeout ограничивает обработку запроса сроком d; более ранний deadline
// вызывающей стороны остаётся в силе. Ответ по истечении срока формирует
// хендлер (504/deadline_exceeded), здесь превышение только логируется.
// d <= 0 отключает мидлвар.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))

			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				log.From(ctx).Warn("request_timeout",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Duration("limit", d),
					slog.Duration("elapsed", time.Since(start)),
				)
			}
		})
	}
}
