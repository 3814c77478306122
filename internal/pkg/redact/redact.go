// redact маскирует чувствительные данные (e-mail, токены) перед записью в лог.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Email маскирует e-mail: первые две руны локальной части + "***", домен без изменений.
// Строка без ровно одного '@' целиком заменяется на "***".
//
//	"foobar@example.com" -> "fo***@example.com"
//	"ab@ex.com"          -> "***@ex.com"
func Email(s string) string {
	if strings.Count(s, "@") != 1 {
		return "***"
	}

	i := strings.IndexByte(s, '@')
	local, domain := s[:i], s[i+1:]

	lr := []rune(local)
	if len(lr) > 2 {
		local = string(lr[:2]) + "***"
	} else {
		local = "***"
	}

	return local + "@" + domain
}

// Fingerprint возвращает короткий отпечаток секрета (8 hex-символов SHA-256).
// Позволяет сопоставлять записи логов об одном токене, не раскрывая его.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:4])
}
