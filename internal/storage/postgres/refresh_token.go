package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pribylovaa/cinelog-auth/internal/models"
	"github.com/pribylovaa/cinelog-auth/internal/storage"
)

const refreshColumns = `
	id, user_id, token_hash, issued_at, expires_at,
	ip_address, user_agent, revoked, revoked_at, replaced_by
`

// SaveRefreshToken сохраняет новый refresh-токен в БД.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.postgres.SaveRefreshToken"

	if err := insertRefreshToken(ctx, s.db, token); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RefreshTokenByHash находит refresh-токен по его хэшу.
func (s *Storage) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.postgres.RefreshTokenByHash"

	query := `SELECT ` + refreshColumns + ` FROM refresh_tokens WHERE token_hash = $1`

	token, err := scanRefreshToken(s.db.QueryRow(ctx, query, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

// RotateRefreshToken в одной транзакции отзывает активный токен oldHash
// и сохраняет next.
//
// Условный UPDATE берёт блокировку строки: конкурентная ротация того же
// токена дождётся коммита и увидит revoked = TRUE.
func (s *Storage) RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) (*models.RefreshToken, error) {
	const op = "storage.postgres.RotateRefreshToken"

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upd = `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE token_hash = $1 AND revoked = FALSE AND expires_at > $2
		RETURNING ` + refreshColumns

	old, err := scanRefreshToken(tx.QueryRow(ctx, upd, oldHash, now))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		return classifyInactive(ctx, tx, op, oldHash, now)
	}

	next.UserID = old.UserID
	if err := insertRefreshToken(ctx, tx, next); err != nil {
		if isUniqueViolation(err) {
			return old, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := tx.Exec(ctx, `UPDATE refresh_tokens SET replaced_by = $2 WHERE id = $1`, old.ID, next.ID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	replacedBy := next.ID
	old.ReplacedBy = &replacedBy

	return old, nil
}

// RevokeRefreshToken отзывает токен, если он ещё не был отозван.
// Возвращает:
//
//	(true, nil)  — токен был активен и отозван сейчас;
//	(false, nil) — токен существует, но уже был отозван;
//	(false, ErrNotFound) — токен не найден.
func (s *Storage) RevokeRefreshToken(ctx context.Context, hash string, now time.Time) (bool, error) {
	const op = "storage.postgres.RevokeRefreshToken"

	const upd = `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE token_hash = $1 AND revoked = FALSE
		RETURNING user_id
	`

	var userID uuid.UUID
	err := s.db.QueryRow(ctx, upd, hash, now).Scan(&userID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	var revoked bool
	err = s.db.QueryRow(ctx, `SELECT revoked FROM refresh_tokens WHERE token_hash = $1`, hash).Scan(&revoked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	return false, nil
}

// RevokeUserRefreshTokens отзывает все активные токены пользователя.
func (s *Storage) RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	const op = "storage.postgres.RevokeUserRefreshTokens"

	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE user_id = $1 AND revoked = FALSE
	`

	tag, err := s.db.Exec(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// DeleteExpiredTokens удаляет все просроченные токены.
func (s *Storage) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredTokens"

	query := `
        DELETE FROM refresh_tokens
        WHERE expires_at <= $1
    `

	tag, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// classifyInactive определяет, почему условный UPDATE не нашёл строку.
// Просрочка проверяется раньше отзыва.
func classifyInactive(ctx context.Context, tx pgx.Tx, op, hash string, now time.Time) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshColumns + ` FROM refresh_tokens WHERE token_hash = $1`

	token, err := scanRefreshToken(tx.QueryRow(ctx, query, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !now.Before(token.ExpiresAt) {
		return token, fmt.Errorf("%s: %w", op, storage.ErrExpired)
	}

	return token, fmt.Errorf("%s: %w", op, storage.ErrRevoked)
}

// execer — общий интерфейс pgxpool.Pool и pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertRefreshToken(ctx context.Context, db execer, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens(` + refreshColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := db.Exec(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.IssuedAt,
		token.ExpiresAt,
		token.IPAddress,
		token.UserAgent,
		token.Revoked,
		token.RevokedAt,
		token.ReplacedBy,
	)

	return err
}

func scanRefreshToken(row pgx.Row) (*models.RefreshToken, error) {
	var token models.RefreshToken
	err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.IssuedAt,
		&token.ExpiresAt,
		&token.IPAddress,
		&token.UserAgent,
		&token.Revoked,
		&token.RevokedAt,
		&token.ReplacedBy,
	)
	if err != nil {
		return nil, err
	}

	return &token, nil
}
