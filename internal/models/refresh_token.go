package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken — серверная запись одной сессии входа.
// Сам токен не хранится, только его хэш (TokenHash).
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
	Revoked   bool
	RevokedAt *time.Time
	// ReplacedBy — ID токена, выпущенного при ротации этого.
	ReplacedBy *uuid.UUID
}

// Active сообщает, действителен ли токен на момент now.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
