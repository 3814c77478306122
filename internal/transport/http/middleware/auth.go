package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pribylovaa/cinelog-auth/internal/pkg/log"
	apierrors "github.com/pribylovaa/cinelog-auth/internal/transport/http/errors"
)

// AccessCookie — имя cookie с access-токеном.
const AccessCookie = "accessToken"

// Authenticator проверяет access-токен.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (uuid.UUID, error)
}

// RequireAuth берёт access-токен из cookie accessToken, а при её отсутствии —
// из Authorization: Bearer. Невалидный токен — 401/unauthenticated.
// ID пользователя кладётся в контекст (UserIDFrom) и в логгер запроса.
func RequireAuth(a Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid, err := a.Authenticate(r.Context(), accessToken(r))
			if err != nil {
				apierrors.WriteError(w, r, err)
				return
			}

			ctx := WithUserID(r.Context(), uid)
			ctx = log.With(ctx, "user_id", uid.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accessToken(r *http.Request) string {
	if c, err := r.Cookie(AccessCookie); err == nil && c.Value != "" {
		return c.Value
	}

	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, prefix) && len(auth) > len(prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}

	return ""
}
