package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pribylovaa/cinelog-auth/internal/models"
	"github.com/pribylovaa/cinelog-auth/internal/storage"
)

const userColumns = `
	id, name, username, email, password_hash, avatar,
	email_verified, email_verification_token, email_verification_expires,
	password_reset_token, password_reset_expires, pending_email,
	created_at, updated_at
`

// SaveUser создает нового пользователя в БД.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users(` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.db.Exec(ctx, query,
		user.ID,
		user.Name,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Avatar,
		user.EmailVerified,
		user.EmailVerificationToken,
		user.EmailVerificationExpires,
		user.PasswordResetToken,
		user.PasswordResetExpires,
		user.PendingEmail,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.postgres.UserByID"

	return s.userBy(ctx, op, "id = $1", id)
}

// UserByEmail находит пользователя по email (CITEXT, регистронезависимо).
func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.postgres.UserByEmail"

	return s.userBy(ctx, op, "email = $1", email)
}

// UserByUsername находит пользователя по username (CITEXT, регистронезависимо).
func (s *Storage) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	const op = "storage.postgres.UserByUsername"

	return s.userBy(ctx, op, "username = $1", username)
}

// UserByVerificationToken находит пользователя по хэшу токена подтверждения.
func (s *Storage) UserByVerificationToken(ctx context.Context, tokenHash string) (*models.User, error) {
	const op = "storage.postgres.UserByVerificationToken"

	return s.userBy(ctx, op, "email_verification_token = $1", tokenHash)
}

// UserByResetToken находит пользователя по хэшу токена сброса пароля.
func (s *Storage) UserByResetToken(ctx context.Context, tokenHash string) (*models.User, error) {
	const op = "storage.postgres.UserByResetToken"

	return s.userBy(ctx, op, "password_reset_token = $1", tokenHash)
}

// SetVerificationToken сохраняет хэш токена подтверждения и pending_email.
func (s *Storage) SetVerificationToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time, pendingEmail *string, now time.Time) error {
	const op = "storage.postgres.SetVerificationToken"

	query := `
		UPDATE users
		SET email_verification_token = $2,
		    email_verification_expires = $3,
		    pending_email = $4,
		    updated_at = $5
		WHERE id = $1
	`

	tag, err := s.db.Exec(ctx, query, userID, tokenHash, expiresAt, pendingEmail, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// ConfirmEmail подтверждает e-mail условным UPDATE по хэшу токена.
func (s *Storage) ConfirmEmail(ctx context.Context, userID uuid.UUID, tokenHash, email string, now time.Time) (bool, error) {
	const op = "storage.postgres.ConfirmEmail"

	query := `
		UPDATE users
		SET email = $3,
		    email_verified = TRUE,
		    pending_email = NULL,
		    email_verification_token = NULL,
		    email_verification_expires = NULL,
		    updated_at = $4
		WHERE id = $1 AND email_verification_token = $2
	`

	tag, err := s.db.Exec(ctx, query, userID, tokenHash, email, now)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 1 {
		return true, nil
	}

	if err := s.userExists(ctx, userID); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return false, nil
}

// SetPasswordResetToken сохраняет хэш токена сброса пароля.
func (s *Storage) SetPasswordResetToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt, now time.Time) error {
	const op = "storage.postgres.SetPasswordResetToken"

	query := `
		UPDATE users
		SET password_reset_token = $2,
		    password_reset_expires = $3,
		    updated_at = $4
		WHERE id = $1
	`

	tag, err := s.db.Exec(ctx, query, userID, tokenHash, expiresAt, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// ResetPassword меняет хэш пароля условным UPDATE по хэшу токена сброса.
func (s *Storage) ResetPassword(ctx context.Context, userID uuid.UUID, tokenHash, passwordHash string, now time.Time) (bool, error) {
	const op = "storage.postgres.ResetPassword"

	query := `
		UPDATE users
		SET password_hash = $3,
		    password_reset_token = NULL,
		    password_reset_expires = NULL,
		    updated_at = $4
		WHERE id = $1 AND password_reset_token = $2
	`

	tag, err := s.db.Exec(ctx, query, userID, tokenHash, passwordHash, now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 1 {
		return true, nil
	}

	if err := s.userExists(ctx, userID); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return false, nil
}

func (s *Storage) userBy(ctx context.Context, op, where string, arg any) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where

	user, err := scanUser(s.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) userExists(ctx context.Context, userID uuid.UUID) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return err
	}

	if !exists {
		return storage.ErrNotFound
	}

	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Avatar,
		&user.EmailVerified,
		&user.EmailVerificationToken,
		&user.EmailVerificationExpires,
		&user.PasswordResetToken,
		&user.PasswordResetExpires,
		&user.PendingEmail,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
