package service

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pribylovaa/cinelog-auth/internal/models"
)

// Purpose — назначение одноразового токена.
type Purpose int

const (
	PurposeVerifyEmail Purpose = iota + 1
	PurposeResetPassword
)

func (p Purpose) String() string {
	switch p {
	case PurposeVerifyEmail:
		return "verify_email"
	case PurposeResetPassword:
		return "reset_password"
	default:
		return "unknown"
	}
}

// OneTimeTokens выпускает и потребляет одноразовые токены подтверждения
// e-mail и сброса пароля. На пользователе хранится только хэш токена.
type OneTimeTokens struct {
	secret    []byte
	verifyTTL time.Duration
	resetTTL  time.Duration
	now       func() time.Time
}

// NewOneTimeTokens создаёт менеджер одноразовых токенов.
func NewOneTimeTokens(secret []byte, verifyTTL, resetTTL time.Duration, now func() time.Time) *OneTimeTokens {
	return &OneTimeTokens{secret: secret, verifyTTL: verifyTTL, resetTTL: resetTTL, now: now}
}

// Generate возвращает новый сырой токен (32 байта, hex), его хэш и срок действия.
func (o *OneTimeTokens) Generate(purpose Purpose) (raw, hash string, expiresAt time.Time, err error) {
	const op = "service.onetime.Generate"

	ttl, err := o.ttl(purpose)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	raw, err = randomToken(hex.EncodeToString)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return raw, o.Hash(raw), o.now().Add(ttl), nil
}

// Hash возвращает хэш сырого токена, под которым он хранится.
func (o *OneTimeTokens) Hash(raw string) string {
	return keyedHash(o.secret, raw)
}

// Consume сверяет presented с токеном назначения purpose на user и проверяет
// срок (now < expires). При успехе очищает поля токена на user и возвращает true.
// Причина отказа наружу не сообщается.
func (o *OneTimeTokens) Consume(user *models.User, presented string, purpose Purpose) bool {
	var (
		stored  **string
		expires **time.Time
	)

	switch purpose {
	case PurposeVerifyEmail:
		stored, expires = &user.EmailVerificationToken, &user.EmailVerificationExpires
	case PurposeResetPassword:
		stored, expires = &user.PasswordResetToken, &user.PasswordResetExpires
	default:
		return false
	}

	if *stored == nil || *expires == nil || presented == "" {
		return false
	}

	if subtle.ConstantTimeCompare([]byte(o.Hash(presented)), []byte(**stored)) != 1 {
		return false
	}

	if !o.now().Before(**expires) {
		return false
	}

	*stored = nil
	*expires = nil

	return true
}

func (o *OneTimeTokens) ttl(purpose Purpose) (time.Duration, error) {
	switch purpose {
	case PurposeVerifyEmail:
		return o.verifyTTL, nil
	case PurposeResetPassword:
		return o.resetTTL, nil
	default:
		return 0, fmt.Errorf("unknown purpose %d", purpose)
	}
}
