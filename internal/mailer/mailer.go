// mailer отправляет письма подтверждения e-mail и сброса пароля.
//
// Реализации:
//   - SMTP — письмо собирается go-message и отправляется через net/smtp;
//   - Log — пишет ссылку в лог, для локального запуска.
package mailer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Sender — исходящая почта сервиса авторизации.
type Sender interface {
	// SendVerificationEmail отправляет ссылку подтверждения адреса to.
	SendVerificationEmail(ctx context.Context, to, name, token string) error
	// SendPasswordResetEmail отправляет ссылку сброса пароля.
	SendPasswordResetEmail(ctx context.Context, to, name, token string) error
}

// Links строит ссылки на страницы клиента.
type Links struct {
	AppURL string
}

// Verify возвращает ссылку подтверждения e-mail.
func (l Links) Verify(token string) string {
	return l.build("/verify-email", token)
}

// Reset возвращает ссылку сброса пароля.
func (l Links) Reset(token string) string {
	return l.build("/reset-password", token)
}

func (l Links) build(path, token string) string {
	return strings.TrimRight(l.AppURL, "/") + path + "?token=" + url.QueryEscape(token)
}

type message struct {
	subject string
	body    string
}

func verificationMessage(name, link string) message {
	return message{
		subject: "Confirm your CineLog email",
		body: fmt.Sprintf(
			"Hi %s,\r\n\r\nConfirm your email address by opening the link below:\r\n\r\n%s\r\n\r\nThe link expires in 24 hours. If you did not request it, ignore this email.\r\n",
			greetingName(name), link,
		),
	}
}

func resetMessage(name, link string) message {
	return message{
		subject: "Reset your CineLog password",
		body: fmt.Sprintf(
			"Hi %s,\r\n\r\nSomeone asked to reset the password of your account. Open the link below to choose a new one:\r\n\r\n%s\r\n\r\nThe link expires in 1 hour. If it was not you, ignore this email: your password stays the same.\r\n",
			greetingName(name), link,
		),
	}
}

func greetingName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "there"
	}

	return name
}
