package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/pribylovaa/cinelog-auth/internal/pkg/log"
	apierrors "github.com/pribylovaa/cinelog-auth/internal/transport/http/errors"
)

var errPanic = errors.New("handler panic")

// Recover превращает panic в 500/internal. Значение паники и стек уходят
// только в лог. Если ответ уже начат, тело не дописывается.
// http.ErrAbortHandler пробрасывается дальше: net/http обрывает соединение.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusWriter(w)

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				log.From(r.Context()).LogAttrs(r.Context(), slog.LevelError, "panic_recovered",
					slog.String("method", r.Method),
					slog.String("route", routePattern(r)),
					slog.Any("reason", rec),
					slog.String("stack", string(debug.Stack())),
				)

				if sw.started() {
					return
				}
				apierrors.WriteError(sw, r, errPanic)
			}()

			next.ServeHTTP(sw, r)
		})
	}
}
