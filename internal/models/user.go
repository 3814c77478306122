package models

import (
	"time"

	"github.com/google/uuid"
)

// User — учётная запись пользователя.
//
// Поля токенов (EmailVerificationToken/PasswordResetToken) хранят не сырые
// значения, а их HMAC-хэши; сырые токены уходят только в письмах.
// PasswordHash наружу не отдаётся никогда.
type User struct {
	ID           uuid.UUID
	Name         string
	Username     string
	Email        string
	PasswordHash string
	Avatar       *string

	EmailVerified            bool
	EmailVerificationToken   *string
	EmailVerificationExpires *time.Time

	PasswordResetToken   *string
	PasswordResetExpires *time.Time

	// PendingEmail — новый адрес, ожидающий подтверждения (смена e-mail).
	PendingEmail *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone возвращает глубокую копию пользователя (указатели не разделяются).
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}

	c := *u
	c.Avatar = cloneString(u.Avatar)
	c.EmailVerificationToken = cloneString(u.EmailVerificationToken)
	c.EmailVerificationExpires = cloneTime(u.EmailVerificationExpires)
	c.PasswordResetToken = cloneString(u.PasswordResetToken)
	c.PasswordResetExpires = cloneTime(u.PasswordResetExpires)
	c.PendingEmail = cloneString(u.PendingEmail)

	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
