package service

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher хэширует и проверяет пароли bcrypt.
type Hasher struct {
	cost  int
	dummy []byte
}

// NewHasher создаёт Hasher. Стоимость вне [bcrypt.MinCost, bcrypt.MaxCost]
// заменяется на bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	// Хэш для выравнивания времени ответа при неизвестном логине.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("cinelog-timing-equalizer"), cost)

	return &Hasher{cost: cost, dummy: dummy}
}

// Hash возвращает bcrypt-хэш пароля.
func (h *Hasher) Hash(password string) (string, error) {
	const op = "service.password.Hash"

	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(b), nil
}

// Verify сравнивает пароль с хэшем за постоянное время.
// Несовпадение — (false, nil); повреждённый хэш — ErrMalformedHash.
func (h *Hasher) Verify(hash, password string) (bool, error) {
	const op = "service.password.Verify"

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%s: %w: %v", op, ErrMalformedHash, err)
	}
}

// VerifyDummy тратит столько же CPU, сколько Verify, и всегда ложен.
func (h *Hasher) VerifyDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}
