// csrf реализует double-submit защиту: одно и то же значение приходит в cookie
// и в заголовке X-CSRF-Token. Значение подписано HMAC, поэтому подделать
// cookie без секрета нельзя.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

const (
	CookieName = "csrfToken"
	HeaderName = "X-CSRF-Token"

	nonceLen = 32
)

// ErrMismatch — токен отсутствует, не совпадает с cookie или подпись неверна.
var ErrMismatch = errors.New("csrf token mismatch")

// Protector выпускает и проверяет CSRF-токены вида nonce.sig.
type Protector struct {
	secret []byte
}

// New создаёт Protector с секретом подписи.
func New(secret string) *Protector {
	return &Protector{secret: []byte(secret)}
}

// Issue возвращает новый токен.
func (p *Protector) Issue() (string, error) {
	b := make([]byte, nonceLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	nonce := base64.RawURLEncoding.EncodeToString(b)

	return nonce + "." + p.sign(nonce), nil
}

// Verify сравнивает cookie и header за постоянное время и проверяет подпись.
func (p *Protector) Verify(cookie, header string) error {
	if cookie == "" || header == "" {
		return ErrMismatch
	}

	if subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
		return ErrMismatch
	}

	nonce, sig, ok := strings.Cut(cookie, ".")
	if !ok || nonce == "" {
		return ErrMismatch
	}

	if !hmac.Equal([]byte(sig), []byte(p.sign(nonce))) {
		return ErrMismatch
	}

	return nil
}

func (p *Protector) sign(nonce string) string {
	m := hmac.New(sha256.New, p.secret)
	m.Write([]byte(nonce))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}
