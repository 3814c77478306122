package handlers

import (
	"time"

	"github.com/pribylovaa/cinelog-auth/internal/models"
)

type registerRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginRequest — вход по username или email.
type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type passwordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type updateEmailRequest struct {
	NewEmail string `json:"newEmail"`
}

// userView — публичное представление пользователя.
type userView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Avatar        *string   `json:"avatar"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

type userData struct {
	User userView `json:"user"`
}

type messageResponse struct {
	Message string    `json:"message"`
	Data    *userData `json:"data,omitempty"`
}

type csrfResponse struct {
	CSRFToken string `json:"csrfToken"`
}

func toUserView(u *models.User) userView {
	return userView{
		ID:            u.ID.String(),
		Name:          u.Name,
		Username:      u.Username,
		Email:         u.Email,
		Avatar:        u.Avatar,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt.UTC(),
	}
}

func withUser(msg string, u *models.User) messageResponse {
	return messageResponse{Message: msg, Data: &userData{User: toUserView(u)}}
}

func message(msg string) messageResponse {
	return messageResponse{Message: msg}
}
