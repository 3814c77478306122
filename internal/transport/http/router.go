package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pribylovaa/cinelog-auth/internal/metrics"
	"github.com/pribylovaa/cinelog-auth/internal/ratelimit"
	"github.com/pribylovaa/cinelog-auth/internal/transport/http/csrf"
	apierrors "github.com/pribylovaa/cinelog-auth/internal/transport/http/errors"
	"github.com/pribylovaa/cinelog-auth/internal/transport/http/handlers"
	"github.com/pribylovaa/cinelog-auth/internal/transport/http/middleware"
)

// Service — всё, что роутеру нужно от сервисного слоя.
type Service interface {
	handlers.AuthService
	middleware.Authenticator
}

// Limit — не больше Max запросов за Window с одного адреса.
type Limit struct {
	Max    int
	Window time.Duration
}

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	BasePath string // например, "/api/v1"; если пустой — роуты регистрируются на корне.

	AllowedOrigins []string
	// TrustProxy — брать адрес клиента из X-Forwarded-For/X-Real-IP.
	TrustProxy bool
	// HSTS — отдавать Strict-Transport-Security.
	HSTS bool

	Cookies handlers.CookieOptions
	// CSRFSecret подписывает CSRF-токены; DisableCSRF выключает проверку.
	CSRFSecret  string
	DisableCSRF bool

	Limiter     ratelimit.Limiter
	GlobalLimit Limit
	AuthLimit   Limit

	Metrics *metrics.Metrics
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc Service, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(middleware.Recover(), middleware.RequestID())
	if opts.TrustProxy {
		root.Use(chimw.RealIP) // до логирования и лимитов: они смотрят на RemoteAddr
	}
	root.Use(
		middleware.Logging(opts.Logger),
		middleware.Metrics(opts.Metrics),
		middleware.SecureHeaders(opts.HSTS),
		cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-Id", "X-CSRF-Token"},
			ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middleware.RateLimit(opts.Limiter, "global", opts.GlobalLimit.Max, opts.GlobalLimit.Window, opts.Metrics),
	)
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout))
	}

	root.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierrors.WriteError(w, r, apierrors.ErrNotFound)
	})
	root.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apierrors.WriteError(w, r, apierrors.ErrMethodNotAllowed)
	})

	protector := csrf.New(opts.CSRFSecret)
	var check *csrf.Protector
	if !opts.DisableCSRF {
		check = protector
	}

	h := handlers.New(svc, handlers.Options{
		Cookies: opts.Cookies,
		CSRF:    protector,
		Metrics: opts.Metrics,
	})

	register := func(r chi.Router) {
		r.Use(middleware.CSRF(check))
		registerRoutes(r, h, svc, opts)
	}

	if opts.BasePath != "" && opts.BasePath != "/" {
		root.Route(opts.BasePath, register)
		return root
	}

	root.Group(register)
	return root
}

// registerRoutes — единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, auth middleware.Authenticator, opts Options) {
	limited := func(scope string) func(http.Handler) http.Handler {
		return middleware.RateLimit(opts.Limiter, scope, opts.AuthLimit.Max, opts.AuthLimit.Window, opts.Metrics)
	}

	r.Get("/csrf-token", h.CSRFToken)

	r.Post("/auth/register", h.Register)
	r.With(limited("login")).Post("/auth/login", h.Login)
	r.With(limited("refresh")).Post("/auth/refresh", h.Refresh)
	r.Post("/auth/logout", h.Logout)

	r.Get("/auth/verify-email", h.VerifyEmail)
	r.With(limited("password_reset")).Post("/auth/password-reset/request", h.RequestPasswordReset)
	r.Post("/auth/password-reset/confirm", h.ConfirmPasswordReset)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(auth))

		r.Get("/auth/me", h.Me)
		r.Post("/auth/logout-all", h.LogoutAll)
		r.Post("/auth/email/update", h.UpdateEmail)
		r.Post("/auth/email/resend-verification", h.ResendVerification)
	})
}
