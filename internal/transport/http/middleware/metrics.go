package middleware

import (
	"net/http"
	"time"

	"github.com/pribylovaa/cinelog-auth/internal/metrics"
)

// Metrics учитывает длительность запроса по шаблону маршрута chi
// (а не по сырому пути, чтобы не раздувать кардинальность).
func Metrics(m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)

			m.ObserveHTTP(routePattern(r), r.Method, sw.Status(), time.Since(start))
		})
	}
}
