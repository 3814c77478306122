package models

import "time"

// TokenPair — пара токенов, выдаваемая при регистрации/входе/ротации.
//
// Описание:
//   - AccessToken — короткоживущий JWT для доступа к API;
//   - RefreshToken — случайный секрет, который клиент хранит и предъявляет
//     для выпуска новой пары токенов; на сервере хранится только его хэш;
//   - AccessExpiresAt/RefreshExpiresAt — моменты истечения (UTC), из них
//     транспорт вычисляет Max-Age cookie.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}
