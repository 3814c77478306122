// handlers реализует REST-эндпойнты auth-сервиса поверх service.Service.
// Токены передаются только в HttpOnly cookie и никогда не попадают в JSON.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/pribylovaa/cinelog-auth/internal/metrics"
	"github.com/pribylovaa/cinelog-auth/internal/models"
	"github.com/pribylovaa/cinelog-auth/internal/service"
	"github.com/pribylovaa/cinelog-auth/internal/transport/http/csrf"
	apierrors "github.com/pribylovaa/cinelog-auth/internal/transport/http/errors"
	"github.com/pribylovaa/cinelog-auth/internal/transport/http/middleware"
)

const maxBodyBytes = 64 << 10

// AuthService — бизнес-операции, которые вызывают хендлеры.
type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput, meta models.SessionMeta) (*service.AuthResult, error)
	Login(ctx context.Context, identifier, password string, meta models.SessionMeta) (*service.AuthResult, error)
	Refresh(ctx context.Context, rawRefresh string, meta models.SessionMeta) (*models.TokenPair, error)
	Logout(ctx context.Context, rawRefresh string) error
	LogoutAll(ctx context.Context, userID uuid.UUID) error
	CurrentUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	VerifyEmail(ctx context.Context, rawToken string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, rawToken, newPassword string) error
	UpdateEmail(ctx context.Context, userID uuid.UUID, newEmail string) error
	ResendVerification(ctx context.Context, userID uuid.UUID) error
}

// Options — зависимости хендлеров помимо сервиса.
type Options struct {
	Cookies CookieOptions
	CSRF    *csrf.Protector
	Metrics *metrics.Metrics
}

// Handlers агрегирует зависимости.
type Handlers struct {
	svc     AuthService
	cookies CookieOptions
	csrf    *csrf.Protector
	metrics *metrics.Metrics
}

// New создаёт Handlers.
func New(svc AuthService, opts Options) *Handlers {
	return &Handlers{
		svc:     svc,
		cookies: opts.Cookies,
		csrf:    opts.CSRF,
		metrics: opts.Metrics,
	}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля,
// ограничиваем размер тела и не допускаем хвостов после объекта.
func decodeStrict(w http.ResponseWriter, r *http.Request, value any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(value); err != nil {
		return apierrors.ErrBadRequest
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apierrors.ErrBadRequest
	}

	return nil
}

func sessionMeta(r *http.Request) models.SessionMeta {
	ua := r.UserAgent()
	if len(ua) > 512 {
		ua = ua[:512]
	}

	return models.SessionMeta{
		IPAddress: middleware.ClientIP(r),
		UserAgent: ua,
	}
}

// fail пишет ошибку и учитывает исход операции op.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, _ := apierrors.ToHTTP(err)
	h.metrics.AuthRequest(op, metrics.ResultFromStatus(status))
	apierrors.WriteError(w, r, err)
}

// ok пишет успешный ответ и учитывает исход операции op.
func (h *Handlers) ok(w http.ResponseWriter, op string, status int, value any) {
	h.metrics.AuthRequest(op, metrics.ResultOK)
	writeJSON(w, status, value)
}

// userID достаёт ID пользователя, положенный middleware.RequireAuth.
func userID(r *http.Request) (uuid.UUID, error) {
	id, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		return uuid.Nil, service.ErrNotAuthenticated
	}
	return id, nil
}
