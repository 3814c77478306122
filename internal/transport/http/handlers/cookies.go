package handlers

import (
	"net/http"
	"time"

	"github.com/pribylovaa/cinelog-auth/internal/models"
	"github.com/pribylovaa/cinelog-auth/internal/transport/http/csrf"
	"github.com/pribylovaa/cinelog-auth/internal/transport/http/middleware"
)

// RefreshCookie — имя cookie с refresh-токеном.
const RefreshCookie = "refreshToken"

// CookieOptions — атрибуты cookie сессии.
type CookieOptions struct {
	Secure     bool
	Domain     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (o CookieOptions) cookie(name, value string, maxAge time.Duration, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   o.Domain,
		MaxAge:   int(maxAge / time.Second),
		Secure:   o.Secure,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteStrictMode,
	}
}

// setSession выставляет accessToken и refreshToken.
func (h *Handlers) setSession(w http.ResponseWriter, pair *models.TokenPair) {
	http.SetCookie(w, h.cookies.cookie(middleware.AccessCookie, pair.AccessToken, h.cookies.AccessTTL, true))
	http.SetCookie(w, h.cookies.cookie(RefreshCookie, pair.RefreshToken, h.cookies.RefreshTTL, true))
}

// clearSession удаляет cookie сессии (Max-Age<0 даёт "Max-Age=0").
func (h *Handlers) clearSession(w http.ResponseWriter) {
	for _, name := range []string{middleware.AccessCookie, RefreshCookie} {
		c := h.cookies.cookie(name, "", 0, true)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

// setCSRF выставляет читаемую из JS cookie csrfToken.
func (h *Handlers) setCSRF(w http.ResponseWriter, token string) {
	http.SetCookie(w, h.cookies.cookie(csrf.CookieName, token, h.cookies.RefreshTTL, false))
}

func refreshToken(r *http.Request) string {
	c, err := r.Cookie(RefreshCookie)
	if err != nil {
		return ""
	}
	return c.Value
}
