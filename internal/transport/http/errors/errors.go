// errors стандартизирует ответы об ошибках HTTP-слоя auth-сервиса.
// На вход он принимает ошибку сервисного слоя (обёртку над sentinel-ошибками
// internal/service), а на выход даёт:
//   - корректный HTTP-статус;
//   - стабильный машиночитаемый code и безопасное message без утечки деталей.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pribylovaa/cinelog-auth/internal/pkg/log"
	"github.com/pribylovaa/cinelog-auth/internal/service"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// Ошибки транспортного слоя.
var (
	// ErrBadRequest — тело/параметры запроса не разобраны.
	ErrBadRequest = errors.New("bad request")
	// ErrInvalidSession — refresh-токен отсутствует, неизвестен, просрочен или переиспользован.
	ErrInvalidSession = errors.New("invalid session")
	// ErrRateLimited — превышен лимит запросов.
	ErrRateLimited = errors.New("rate limited")
	// ErrCSRF — не пройдена проверка CSRF-токена.
	ErrCSRF = errors.New("csrf check failed")
	// ErrNotFound — маршрут не найден.
	ErrNotFound = errors.New("not found")
	// ErrMethodNotAllowed — метод не поддерживается маршрутом.
	ErrMethodNotAllowed = errors.New("method not allowed")
)

// APIError — единый формат для фронта.
// Code — короткий стабильный код для машиночитаемой обработки на FE.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

type mapping struct {
	target  error
	status  int
	code    string
	message string
}

// table — порядок важен: сессионные и транспортные ошибки проверяются раньше
// сервисных, которые они оборачивают.
var table = []mapping{
	{ErrInvalidSession, http.StatusUnauthorized, "invalid_session", "invalid or expired session"},
	{ErrRateLimited, http.StatusTooManyRequests, "rate_limited", "too many requests, please try again later"},
	{ErrCSRF, http.StatusForbidden, "csrf_failed", "invalid csrf token"},
	{ErrBadRequest, http.StatusBadRequest, "invalid_argument", "invalid request body"},
	{ErrNotFound, http.StatusNotFound, "not_found", "not found"},
	{ErrMethodNotAllowed, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed"},

	{service.ErrInvalidEmail, http.StatusBadRequest, "invalid_argument", "invalid email format"},
	{service.ErrWeakPassword, http.StatusBadRequest, "invalid_argument", "password does not meet requirements"},
	{service.ErrInvalidInput, http.StatusBadRequest, "invalid_argument", "invalid argument"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid credentials"},
	{service.ErrNotAuthenticated, http.StatusUnauthorized, "unauthenticated", "not authenticated"},
	{service.ErrTokenReused, http.StatusUnauthorized, "invalid_session", "invalid or expired session"},
	{service.ErrInvalidToken, http.StatusBadRequest, "invalid_token", "invalid or expired token"},
	{service.ErrTokenExpired, http.StatusBadRequest, "invalid_token", "invalid or expired token"},
	{service.ErrConflict, http.StatusConflict, "already_exists", "username or email already taken"},

	{context.Canceled, StatusClientClosedRequest, "canceled", "canceled"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"},
}

// ToHTTP конвертирует ошибку в HTTP-статус и унифицированный ответ.
//
// Поведение:
//   - err == nil — программная ошибка вызова: 500/internal, чтобы не послать
//     "200 OK" с телом ошибки;
//   - известная ошибка — статус и code из таблицы;
//   - прочее — 500/internal без утечки деталей.
func ToHTTP(err error) (int, ErrorResponse) {
	if err != nil {
		for _, m := range table {
			if errors.Is(err, m.target) {
				return m.status, ErrorResponse{Error: APIError{Code: m.code, Message: m.message}}
			}
		}
	}

	return http.StatusInternalServerError, ErrorResponse{
		Error: APIError{
			Code:    "internal",
			Message: "internal error",
		},
	}
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет корректный статус/тело, добавляет request_id из заголовка, если он есть.
// Ответы 5xx логируются с исходной ошибкой.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	// Прокидываем request_id для фронта, чтобы он мог репортить баги с привязкой.
	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout {
		msg := "<nil>"
		if err != nil {
			msg = err.Error()
		}
		log.From(r.Context()).Error("request_failed",
			slog.String("path", r.URL.Path),
			slog.String("err", msg),
		)
	}

	if status == http.StatusTooManyRequests {
		if ra := w.Header().Get("Retry-After"); ra == "" {
			w.Header().Set("Retry-After", "60")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
