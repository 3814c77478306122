package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pribylovaa/cinelog-auth/internal/config"
	"github.com/pribylovaa/cinelog-auth/internal/models"
	"github.com/pribylovaa/cinelog-auth/internal/pkg/log"
	"github.com/pribylovaa/cinelog-auth/internal/pkg/redact"
	"github.com/pribylovaa/cinelog-auth/internal/storage"
)

const maxRefreshAttempts = 5

type accessClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// TokenIssuer выпускает access-токены (JWT HS256) и управляет
// refresh-токенами в хранилище. Сырые refresh-токены не сохраняются:
// в БД лежит только HMAC-SHA256(refresh_secret, token).
type TokenIssuer struct {
	storage storage.RefreshTokenStorage
	cfg     config.AuthConfig
	now     func() time.Time
}

// NewTokenIssuer создаёт TokenIssuer.
func NewTokenIssuer(st storage.RefreshTokenStorage, cfg config.AuthConfig, now func() time.Time) *TokenIssuer {
	return &TokenIssuer{storage: st, cfg: cfg, now: now}
}

// IssueAccessToken подписывает access-токен для userID.
func (t *TokenIssuer) IssueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	const op = "service.token.IssueAccessToken"

	now := t.now()
	exp := jwt.NewNumericDate(now.Add(t.cfg.AccessTokenTTL))

	claims := accessClaims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: exp,
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    t.cfg.Issuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings(t.cfg.Audience),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, exp.Time, nil
}

// VerifyAccessToken проверяет подпись, затем срок действия (без допуска).
// Истёкший токен — ErrTokenExpired, любая другая проблема — ErrInvalidToken.
func (t *TokenIssuer) VerifyAccessToken(tokenStr string) (uuid.UUID, error) {
	const op = "service.token.VerifyAccessToken"

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(t.cfg.Issuer),
	}
	if len(t.cfg.Audience) > 0 {
		opts = append(opts, jwt.WithAudience(t.cfg.Audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{},
		func(*jwt.Token) (any, error) {
			return []byte(t.cfg.JWTSecret), nil
		},
		opts...,
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil || claims.Subject != claims.UserID {
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return uid, nil
}

// HashRefreshToken возвращает HMAC-SHA256(refresh_secret, raw) в base64url.
func (t *TokenIssuer) HashRefreshToken(raw string) string {
	return keyedHash([]byte(t.cfg.RefreshSecret), raw)
}

// IssueRefreshToken создаёт и сохраняет новый refresh-токен.
// Сырой токен возвращается один раз и больше нигде не хранится.
func (t *TokenIssuer) IssueRefreshToken(ctx context.Context, userID uuid.UUID, meta models.SessionMeta) (string, time.Time, error) {
	const op = "service.token.IssueRefreshToken"

	lg := log.From(ctx)

	for attempt := 0; attempt < maxRefreshAttempts; attempt++ {
		raw, rec, err := t.newRecord(userID, meta)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
		}

		if err := t.storage.SaveRefreshToken(ctx, rec); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				// Редкая коллизия — пробуем сгенерировать заново.
				continue
			}

			lg.Error("save_refresh_token_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
		}

		return raw, rec.ExpiresAt, nil
	}

	lg.Error("refresh_collision_exceeded", slog.String("op", op))

	return "", time.Time{}, fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

// RotateRefreshToken атомарно отзывает raw и выпускает ему замену.
//
// Ошибки:
//
//	ErrInvalidToken — токен неизвестен;
//	ErrTokenExpired — токен просрочен;
//	ErrTokenReused  — токен уже был отозван: все сессии пользователя отозваны.
func (t *TokenIssuer) RotateRefreshToken(ctx context.Context, raw string, meta models.SessionMeta) (uuid.UUID, string, time.Time, error) {
	const op = "service.token.RotateRefreshToken"

	lg := log.From(ctx)
	oldHash := t.HashRefreshToken(raw)

	for attempt := 0; attempt < maxRefreshAttempts; attempt++ {
		nextRaw, next, err := t.newRecord(uuid.Nil, meta)
		if err != nil {
			return uuid.Nil, "", time.Time{}, fmt.Errorf("%s: %w", op, err)
		}

		old, err := t.storage.RotateRefreshToken(ctx, oldHash, next, t.now())
		if err != nil && old == nil && (errors.Is(err, storage.ErrExpired) || errors.Is(err, storage.ErrRevoked)) {
			return uuid.Nil, "", time.Time{}, fmt.Errorf("%s: storage returned no record: %w", op, err)
		}

		switch {
		case err == nil:
			return old.UserID, nextRaw, next.ExpiresAt, nil

		case errors.Is(err, storage.ErrAlreadyExists):
			continue

		case errors.Is(err, storage.ErrNotFound):
			lg.Warn("refresh_not_found",
				slog.String("op", op),
				slog.String("token", redact.Fingerprint(raw)),
			)
			return uuid.Nil, "", time.Time{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)

		case errors.Is(err, storage.ErrExpired):
			lg.Info("refresh_expired",
				slog.String("op", op),
				slog.String("user_id", old.UserID.String()),
			)
			return uuid.Nil, "", time.Time{}, fmt.Errorf("%s: %w", op, ErrTokenExpired)

		case errors.Is(err, storage.ErrRevoked):
			lg.Warn("refresh_reuse_detected",
				slog.String("op", op),
				slog.String("user_id", old.UserID.String()),
				slog.String("token", redact.Fingerprint(raw)),
			)

			n, rerr := t.RevokeAllForUser(ctx, old.UserID)
			if rerr != nil {
				return uuid.Nil, "", time.Time{}, fmt.Errorf("%s: revoke after reuse: %w", op, rerr)
			}

			lg.Warn("sessions_revoked",
				slog.String("op", op),
				slog.String("user_id", old.UserID.String()),
				slog.Int64("count", n),
			)
			return uuid.Nil, "", time.Time{}, fmt.Errorf("%s: %w", op, ErrTokenReused)

		default:
			lg.Error("refresh_rotate_failed",
				slog.String("op", op),
				slog.String("err", err.Error()),
			)
			return uuid.Nil, "", time.Time{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	lg.Error("refresh_collision_exceeded", slog.String("op", op))

	return uuid.Nil, "", time.Time{}, fmt.Errorf("%s: %w", op, ErrRefreshTokenCollision)
}

// RevokeRefreshToken отзывает один refresh-токен (logout).
// Повторный отзыв не ошибка; неизвестный токен — ErrInvalidToken.
func (t *TokenIssuer) RevokeRefreshToken(ctx context.Context, raw string) error {
	const op = "service.token.RevokeRefreshToken"

	if _, err := t.storage.RevokeRefreshToken(ctx, t.HashRefreshToken(raw), t.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RevokeAllForUser отзывает все активные refresh-токены пользователя.
func (t *TokenIssuer) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "service.token.RevokeAllForUser"

	n, err := t.storage.RevokeUserRefreshTokens(ctx, userID, t.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (t *TokenIssuer) newRecord(userID uuid.UUID, meta models.SessionMeta) (string, *models.RefreshToken, error) {
	raw, err := randomToken(base64.RawURLEncoding.EncodeToString)
	if err != nil {
		return "", nil, err
	}

	now := t.now()

	return raw, &models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: t.HashRefreshToken(raw),
		IssuedAt:  now,
		ExpiresAt: now.Add(t.cfg.RefreshTokenTTL),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}, nil
}

// randomToken возвращает 32 байта из crypto/rand в заданной кодировке.
func randomToken(encode func([]byte) string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return encode(b), nil
}

func keyedHash(secret []byte, raw string) string {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}
