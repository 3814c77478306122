package middleware

import (
	"log/slog"
	"net/http"

	"github.com/pribylovaa/cinelog-auth/internal/pkg/log"
	"github.com/pribylovaa/cinelog-auth/internal/transport/http/csrf"
	apierrors "github.com/pribylovaa/cinelog-auth/internal/transport/http/errors"
)

// CSRF требует X-CSRF-Token, равный cookie csrfToken, для небезопасных методов.
// GET/HEAD/OPTIONS пропускаются. p == nil выключает проверку.
func CSRF(p *csrf.Protector) Middleware {
	return func(next http.Handler) http.Handler {
		if p == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			var cookie string
			if c, err := r.Cookie(csrf.CookieName); err == nil {
				cookie = c.Value
			}

			if err := p.Verify(cookie, r.Header.Get(csrf.HeaderName)); err != nil {
				log.From(r.Context()).Warn("csrf_failed",
					slog.String("path", r.URL.Path),
					slog.Bool("has_cookie", cookie != ""),
				)
				apierrors.WriteError(w, r, apierrors.ErrCSRF)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
