// service содержит бизнес-логику auth-сервиса: регистрацию и вход,
// выпуск/ротацию токенов, подтверждение и смену e-mail, сброс пароля.
//
// Основные аспекты:
//   - Service не хранит состояние запроса и не кэширует пользователей:
//     каждая операция перечитывает хранилище, поэтому экземпляр безопасен
//     для конкурентного использования при потокобезопасном storage.Storage.
//   - Атомарность ротации refresh-токена и потребления одноразовых
//     токенов обеспечивается условными обновлениями в хранилище.
//   - Ошибки возвращаются как обёртки над переменными ниже и маппятся
//     транспортом на HTTP-статусы (internal/transport/http/errors.go).
package service

import (
	"errors"
	"time"

	"github.com/pribylovaa/cinelog-auth/internal/config"
	"github.com/pribylovaa/cinelog-auth/internal/mailer"
	"github.com/pribylovaa/cinelog-auth/internal/models"
	"github.com/pribylovaa/cinelog-auth/internal/storage"
)

var (
	// ErrInvalidCredentials — неизвестный логин или неверный пароль (HTTP 401).
	// Оба случая неразличимы снаружи.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrConflict — username или e-mail уже занят (HTTP 409).
	ErrConflict = errors.New("username or email already taken")

	// ErrInvalidToken — токен некорректен, неизвестен, просрочен или уже
	// использован (HTTP 400 для одноразовых токенов, 401 для сессии).
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия access/refresh-токена истёк.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenReused — предъявлен уже отозванный refresh-токен. К моменту
	// возврата ошибки все сессии пользователя отозваны (HTTP 401).
	ErrTokenReused = errors.New("refresh token reuse detected")

	// ErrNotAuthenticated — нет access-токена или он недействителен (HTTP 401).
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrInvalidInput — некорректные name/username (HTTP 400).
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidEmail — e-mail имеет некорректный формат (HTTP 400).
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrWeakPassword — пароль не удовлетворяет политике (HTTP 400).
	ErrWeakPassword = errors.New("password does not meet policy")

	// ErrMalformedHash — сохранённый хэш пароля повреждён. Ошибка конфигурации
	// или данных, а не пользователя (HTTP 500).
	ErrMalformedHash = errors.New("malformed password hash")

	// ErrRefreshTokenCollision — исчерпаны попытки сгенерировать уникальный
	// refresh-токен (HTTP 500).
	ErrRefreshTokenCollision = errors.New("refresh token collision")
)

// RegisterInput — данные регистрации.
type RegisterInput struct {
	Name     string
	Username string
	Email    string
	Password string
}

// AuthResult — результат регистрации/входа: публичный пользователь и пара токенов.
type AuthResult struct {
	User   *models.User
	Tokens *models.TokenPair
}

// Service описывает бизнес-логику auth-сервиса.
type Service struct {
	storage storage.Storage
	cfg     config.AuthConfig
	mailer  mailer.Sender
	now     func() time.Time

	hasher  *Hasher
	tokens  *TokenIssuer
	onetime *OneTimeTokens
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New создаёт новый экземпляр Service.
func New(st storage.Storage, cfg config.AuthConfig, m mailer.Sender, opts ...Option) *Service {
	s := &Service{
		storage: st,
		cfg:     cfg,
		mailer:  m,
		now:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	s.hasher = NewHasher(cfg.BcryptCost)
	s.tokens = NewTokenIssuer(st, cfg, s.now)
	s.onetime = NewOneTimeTokens([]byte(cfg.RefreshSecret), cfg.VerificationTokenTTL, cfg.ResetTokenTTL, s.now)

	return s
}
