// storage задаёт контракт хранилища пользователей и сессий (refresh-токенов).
//
// Реализации:
//   - postgres — основное хранилище (pgx);
//   - memory — in-memory вариант для локального запуска и тестов.
//
// Все реализации обязаны быть потокобезопасными: сервисный слой вызывает их
// из конкурентных HTTP-запросов и ничего не кэширует между ними.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/cinelog-auth/internal/models"
)

var (
	// ErrNotFound — запись не найдена (пользователь/токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (username/email/хэш токена).
	ErrAlreadyExists = errors.New("already exists")
	// ErrExpired — сущность просрочена (refresh-token).
	ErrExpired = errors.New("expired")
	// ErrRevoked — сущность отозвана (refresh-token).
	ErrRevoked = errors.New("revoked")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создаёт нового пользователя. Конфликт username/email -> ErrAlreadyExists.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UserByEmail находит пользователя по email (регистронезависимо).
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByUsername находит пользователя по username (регистронезависимо).
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	// UserByVerificationToken находит пользователя по хэшу токена подтверждения e-mail.
	UserByVerificationToken(ctx context.Context, tokenHash string) (*models.User, error)
	// UserByResetToken находит пользователя по хэшу токена сброса пароля.
	UserByResetToken(ctx context.Context, tokenHash string) (*models.User, error)

	// SetVerificationToken сохраняет хэш токена подтверждения и pendingEmail
	// (nil — подтверждается текущий адрес).
	SetVerificationToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time, pendingEmail *string, now time.Time) error
	// ConfirmEmail атомарно подтверждает e-mail, если токен всё ещё равен tokenHash:
	// email := email, email_verified := true, pending/токен очищаются.
	// Возвращает false, если токен уже потреблён (гонка). Конфликт email -> ErrAlreadyExists.
	ConfirmEmail(ctx context.Context, userID uuid.UUID, tokenHash, email string, now time.Time) (bool, error)
	// SetPasswordResetToken сохраняет хэш токена сброса пароля.
	SetPasswordResetToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt, now time.Time) error
	// ResetPassword атомарно меняет хэш пароля и очищает токен сброса,
	// если токен всё ещё равен tokenHash. false — токен уже потреблён.
	ResetPassword(ctx context.Context, userID uuid.UUID, tokenHash, passwordHash string, now time.Time) (bool, error)
}

// RefreshTokenStorage выполняет операции над refresh-токенами.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новый refresh-token. Коллизия хэша -> ErrAlreadyExists.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByHash находит refresh-токен по его хэшу.
	RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	// RotateRefreshToken одной транзакцией отзывает активный токен oldHash и
	// сохраняет next (UserID берётся из старой записи).
	//
	// Возвращает старую запись и:
	//	nil              — ротация выполнена;
	//	ErrNotFound      — токена нет (запись nil);
	//	ErrExpired       — токен просрочен (проверяется раньше отзыва);
	//	ErrRevoked       — токен уже отозван: признак повторного использования;
	//	ErrAlreadyExists — коллизия хэша next, старый токен не тронут.
	RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) (*models.RefreshToken, error)
	// RevokeRefreshToken отзывает токен. (true, nil) — отозван сейчас;
	// (false, nil) — уже был отозван; ErrNotFound — не найден.
	RevokeRefreshToken(ctx context.Context, hash string, now time.Time) (bool, error)
	// RevokeUserRefreshTokens отзывает все активные токены пользователя.
	RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
	// DeleteExpiredTokens удаляет все просроченные токены.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// Storage задаёт контракт работы с хранилищем.
type Storage interface {
	UserStorage
	RefreshTokenStorage
	// Ping проверяет доступность хранилища (readiness).
	Ping(ctx context.Context) error
	Close()
}
