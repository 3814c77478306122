package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pribylovaa/cinelog-auth/internal/service"
	apierrors "github.com/pribylovaa/cinelog-auth/internal/transport/http/errors"
)

// CSRFToken выдаёт новый CSRF-токен: в cookie и в теле ответа.
func (h *Handlers) CSRFToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.csrf.Issue()
	if err != nil {
		apierrors.WriteError(w, r, fmt.Errorf("csrf issue: %w", err))
		return
	}

	h.setCSRF(w, tok)
	writeJSON(w, http.StatusOK, csrfResponse{CSRFToken: tok})
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	const op = "register"

	var in registerRequest
	if err := decodeStrict(w, r, &in); err != nil {
		h.fail(w, r, op, err)
		return
	}

	res, err := h.svc.Register(r.Context(), service.RegisterInput{
		Name:     in.Name,
		Username: in.Username,
		Email:    in.Email,
		Password: in.Password,
	}, sessionMeta(r))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	h.setSession(w, res.Tokens)
	h.ok(w, op, http.StatusCreated, withUser("User registered successfully", res.User))
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	const op = "login"

	var in loginRequest
	if err := decodeStrict(w, r, &in); err != nil {
		h.fail(w, r, op, err)
		return
	}

	identifier := strings.TrimSpace(in.Username)
	if identifier == "" {
		identifier = strings.TrimSpace(in.Email)
	}

	if identifier == "" || in.Password == "" {
		h.fail(w, r, op, apierrors.ErrBadRequest)
		return
	}

	res, err := h.svc.Login(r.Context(), identifier, in.Password, sessionMeta(r))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	h.setSession(w, res.Tokens)
	h.ok(w, op, http.StatusOK, withUser("Login successful", res.User))
}

// Refresh ротирует refresh-токен из cookie. Любая проблема с сессией —
// 401/invalid_session и удаление cookie.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	const op = "refresh"

	raw := refreshToken(r)
	if raw == "" {
		h.fail(w, r, op, apierrors.ErrBadRequest)
		return
	}

	pair, err := h.svc.Refresh(r.Context(), raw, sessionMeta(r))
	if err != nil {
		if errors.Is(err, service.ErrTokenReused) {
			h.metrics.RefreshReuse()
		}

		if errors.Is(err, service.ErrInvalidToken) ||
			errors.Is(err, service.ErrTokenExpired) ||
			errors.Is(err, service.ErrTokenReused) {
			h.clearSession(w)
			err = fmt.Errorf("%w: %w", apierrors.ErrInvalidSession, err)
		}

		h.fail(w, r, op, err)
		return
	}

	h.setSession(w, pair)
	h.ok(w, op, http.StatusOK, message("Token refreshed successfully"))
}

// Logout отзывает текущую сессию. Отсутствующий или неизвестный токен
// не ошибка: cookie удаляются в любом случае.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	const op = "logout"

	if raw := refreshToken(r); raw != "" {
		if err := h.svc.Logout(r.Context(), raw); err != nil && !errors.Is(err, service.ErrInvalidToken) {
			h.fail(w, r, op, err)
			return
		}
	}

	h.clearSession(w)
	h.ok(w, op, http.StatusOK, message("Logged out successfully"))
}

func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	const op = "logout_all"

	uid, err := userID(r)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	if err := h.svc.LogoutAll(r.Context(), uid); err != nil {
		h.fail(w, r, op, err)
		return
	}

	h.clearSession(w)
	h.ok(w, op, http.StatusOK, message("Logged out from all sessions"))
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	const op = "me"

	uid, err := userID(r)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	u, err := h.svc.CurrentUser(r.Context(), uid)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	h.ok(w, op, http.StatusOK, withUser("User profile retrieved successfully", u))
}

func (h *Handlers) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	const op = "verify_email"

	token := r.URL.Query().Get("token")
	if token == "" {
		h.fail(w, r, op, apierrors.ErrBadRequest)
		return
	}

	if err := h.svc.VerifyEmail(r.Context(), token); err != nil {
		h.fail(w, r, op, err)
		return
	}

	h.ok(w, op, http.StatusOK, message("Email verified successfully"))
}

// RequestPasswordReset отвечает одинаково для существующих и неизвестных адресов.
func (h *Handlers) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	const op = "password_reset_request"

	var in passwordResetRequest
	if err := decodeStrict(w, r, &in); err != nil {
		h.fail(w, r, op, err)
		return
	}

	if strings.TrimSpace(in.Email) == "" {
		h.fail(w, r, op, apierrors.ErrBadRequest)
		return
	}

	if err := h.svc.RequestPasswordReset(r.Context(), in.Email); err != nil {
		h.fail(w, r, op, err)
		return
	}

	h.ok(w, op, http.StatusOK, message("Password reset email sent if the email exists in our system"))
}

func (h *Handlers) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	const op = "password_reset_confirm"

	var in passwordResetConfirmRequest
	if err := decodeStrict(w, r, &in); err != nil {
		h.fail(w, r, op, err)
		return
	}

	if in.Token == "" || in.NewPassword == "" {
		h.fail(w, r, op, apierrors.ErrBadRequest)
		return
	}

	if err := h.svc.ResetPassword(r.Context(), in.Token, in.NewPassword); err != nil {
		h.fail(w, r, op, err)
		return
	}

	h.ok(w, op, http.StatusOK, message("Password reset successful"))
}

func (h *Handlers) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	const op = "update_email"

	uid, err := userID(r)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	var in updateEmailRequest
	if err := decodeStrict(w, r, &in); err != nil {
		h.fail(w, r, op, err)
		return
	}

	if strings.TrimSpace(in.NewEmail) == "" {
		h.fail(w, r, op, apierrors.ErrBadRequest)
		return
	}

	if err := h.svc.UpdateEmail(r.Context(), uid, in.NewEmail); err != nil {
		h.fail(w, r, op, err)
		return
	}

	h.ok(w, op, http.StatusOK, message("Email update initiated. Please verify your new email address."))
}

func (h *Handlers) ResendVerification(w http.ResponseWriter, r *http.Request) {
	const op = "resend_verification"

	uid, err := userID(r)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	if err := h.svc.ResendVerification(r.Context(), uid); err != nil {
		h.fail(w, r, op, err)
		return
	}

	h.ok(w, op, http.StatusOK, message("Verification email sent successfully"))
}
