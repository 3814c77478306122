// memory — in-memory реализация storage.Storage.
//
// Используется для локального запуска (storage.driver: memory) и в тестах.
// Все операции выполняются под одной мьютексной блокировкой, поэтому
// условные обновления (ротация, потребление токенов) атомарны так же,
// как одна транзакция в PostgreSQL. Наружу отдаются только копии записей.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/cinelog-auth/internal/models"
	"github.com/pribylovaa/cinelog-auth/internal/storage"
)

type Storage struct {
	mu     sync.RWMutex
	users  map[uuid.UUID]*models.User
	tokens map[string]*models.RefreshToken
}

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		users:  make(map[uuid.UUID]*models.User),
		tokens: make(map[string]*models.RefreshToken),
	}
}

// Ping всегда успешен.
func (s *Storage) Ping(context.Context) error { return nil }

// Close ничего не освобождает.
func (s *Storage) Close() {}

// SaveUser создаёт нового пользователя.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.memory.SaveUser"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) || strings.EqualFold(u.Username, user.Username) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}
	}

	s.users[user.ID] = user.Clone()

	return nil
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.memory.UserByID"

	return s.findUser(ctx, op, func(u *models.User) bool { return u.ID == id })
}

// UserByEmail находит пользователя по email.
func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.memory.UserByEmail"

	return s.findUser(ctx, op, func(u *models.User) bool { return strings.EqualFold(u.Email, email) })
}

// UserByUsername находит пользователя по username.
func (s *Storage) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	const op = "storage.memory.UserByUsername"

	return s.findUser(ctx, op, func(u *models.User) bool { return strings.EqualFold(u.Username, username) })
}

// UserByVerificationToken находит пользователя по хэшу токена подтверждения.
func (s *Storage) UserByVerificationToken(ctx context.Context, tokenHash string) (*models.User, error) {
	const op = "storage.memory.UserByVerificationToken"

	return s.findUser(ctx, op, func(u *models.User) bool {
		return u.EmailVerificationToken != nil && *u.EmailVerificationToken == tokenHash
	})
}

// UserByResetToken находит пользователя по хэшу токена сброса пароля.
func (s *Storage) UserByResetToken(ctx context.Context, tokenHash string) (*models.User, error) {
	const op = "storage.memory.UserByResetToken"

	return s.findUser(ctx, op, func(u *models.User) bool {
		return u.PasswordResetToken != nil && *u.PasswordResetToken == tokenHash
	})
}

// SetVerificationToken сохраняет токен подтверждения e-mail.
func (s *Storage) SetVerificationToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time, pendingEmail *string, now time.Time) error {
	const op = "storage.memory.SetVerificationToken"

	return s.updateUser(ctx, op, userID, func(u *models.User) {
		u.EmailVerificationToken = &tokenHash
		u.EmailVerificationExpires = &expiresAt
		if pendingEmail != nil {
			p := *pendingEmail
			u.PendingEmail = &p
		} else {
			u.PendingEmail = nil
		}
		u.UpdatedAt = now
	})
}

// ConfirmEmail подтверждает e-mail, если токен не был потреблён.
func (s *Storage) ConfirmEmail(ctx context.Context, userID uuid.UUID, tokenHash, email string, now time.Time) (bool, error) {
	const op = "storage.memory.ConfirmEmail"

	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	if u.EmailVerificationToken == nil || *u.EmailVerificationToken != tokenHash {
		return false, nil
	}

	for id, other := range s.users {
		if id != userID && strings.EqualFold(other.Email, email) {
			return false, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}
	}

	u.Email = email
	u.EmailVerified = true
	u.PendingEmail = nil
	u.EmailVerificationToken = nil
	u.EmailVerificationExpires = nil
	u.UpdatedAt = now

	return true, nil
}

// SetPasswordResetToken сохраняет токен сброса пароля.
func (s *Storage) SetPasswordResetToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt, now time.Time) error {
	const op = "storage.memory.SetPasswordResetToken"

	return s.updateUser(ctx, op, userID, func(u *models.User) {
		u.PasswordResetToken = &tokenHash
		u.PasswordResetExpires = &expiresAt
		u.UpdatedAt = now
	})
}

// ResetPassword меняет хэш пароля, если токен сброса не был потреблён.
func (s *Storage) ResetPassword(ctx context.Context, userID uuid.UUID, tokenHash, passwordHash string, now time.Time) (bool, error) {
	const op = "storage.memory.ResetPassword"

	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	if u.PasswordResetToken == nil || *u.PasswordResetToken != tokenHash {
		return false, nil
	}

	u.PasswordHash = passwordHash
	u.PasswordResetToken = nil
	u.PasswordResetExpires = nil
	u.UpdatedAt = now

	return true, nil
}

// SaveRefreshToken сохраняет новый refresh-токен.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.memory.SaveRefreshToken"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[token.UserID]; !ok {
		return fmt.Errorf("%s: unknown user: %w", op, storage.ErrNotFound)
	}

	if _, ok := s.tokens[token.TokenHash]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	c := *token
	s.tokens[token.TokenHash] = &c

	return nil
}

// RefreshTokenByHash находит refresh-токен по хэшу.
func (s *Storage) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.memory.RefreshTokenByHash"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[hash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	c := *t
	return &c, nil
}

// RotateRefreshToken отзывает oldHash и сохраняет next под одной блокировкой.
func (s *Storage) RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) (*models.RefreshToken, error) {
	const op = "storage.memory.RotateRefreshToken"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.tokens[oldHash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	snapshot := *old

	// Просрочка проверяется раньше отзыва.
	if !old.Active(now) {
		if old.Revoked && now.Before(old.ExpiresAt) {
			return &snapshot, fmt.Errorf("%s: %w", op, storage.ErrRevoked)
		}
		return &snapshot, fmt.Errorf("%s: %w", op, storage.ErrExpired)
	}

	if _, ok := s.tokens[next.TokenHash]; ok {
		return &snapshot, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	next.UserID = old.UserID
	c := *next
	s.tokens[next.TokenHash] = &c

	revokedAt := now
	replacedBy := next.ID
	old.Revoked = true
	old.RevokedAt = &revokedAt
	old.ReplacedBy = &replacedBy

	return &snapshot, nil
}

// RevokeRefreshToken отзывает один токен.
func (s *Storage) RevokeRefreshToken(ctx context.Context, hash string, now time.Time) (bool, error) {
	const op = "storage.memory.RevokeRefreshToken"

	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[hash]
	if !ok {
		return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	if t.Revoked {
		return false, nil
	}

	revokedAt := now
	t.Revoked = true
	t.RevokedAt = &revokedAt

	return true, nil
}

// RevokeUserRefreshTokens отзывает все активные токены пользователя.
func (s *Storage) RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	const op = "storage.memory.RevokeUserRefreshTokens"

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.tokens {
		if t.UserID == userID && !t.Revoked {
			revokedAt := now
			t.Revoked = true
			t.RevokedAt = &revokedAt
			n++
		}
	}

	return n, nil
}

// DeleteExpiredTokens удаляет просроченные токены (expires_at <= now).
func (s *Storage) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.memory.DeleteExpiredTokens"

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, t := range s.tokens {
		if !t.ExpiresAt.After(now) {
			delete(s.tokens, hash)
			n++
		}
	}

	return n, nil
}

func (s *Storage) findUser(ctx context.Context, op string, match func(*models.User) bool) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if match(u) {
			return u.Clone(), nil
		}
	}

	return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
}

func (s *Storage) updateUser(ctx context.Context, op string, userID uuid.UUID, apply func(*models.User)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	apply(u)

	return nil
}

// Проверка на соответствие интерфейсу Storage.
var _ storage.Storage = (*Storage)(nil)
