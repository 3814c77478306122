package mailer

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/emersion/go-message/mail"
)

// SMTPConfig — параметры SMTP-сервера.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	AppURL   string
}

// sendFunc совпадает с сигнатурой smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTP отправляет письма через SMTP-сервер.
type SMTP struct {
	addr  string
	auth  smtp.Auth
	from  *mail.Address
	links Links
	send  sendFunc
	now   func() time.Time
}

// NewSMTP создаёт SMTP-отправителя. From разбирается как RFC 5322 адрес.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	const op = "mailer.NewSMTP"

	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("%s: parse from: %w", op, err)
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &SMTP{
		addr:  net.JoinHostPort(cfg.Host, cfg.Port),
		auth:  auth,
		from:  from,
		links: Links{AppURL: cfg.AppURL},
		send:  smtp.SendMail,
		now:   time.Now,
	}, nil
}

// SendVerificationEmail отправляет письмо подтверждения e-mail.
func (s *SMTP) SendVerificationEmail(ctx context.Context, to, name, token string) error {
	const op = "mailer.SMTP.SendVerificationEmail"

	if err := s.deliver(ctx, to, name, verificationMessage(name, s.links.Verify(token))); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SendPasswordResetEmail отправляет письмо сброса пароля.
func (s *SMTP) SendPasswordResetEmail(ctx context.Context, to, name, token string) error {
	const op = "mailer.SMTP.SendPasswordResetEmail"

	if err := s.deliver(ctx, to, name, resetMessage(name, s.links.Reset(token))); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *SMTP) deliver(ctx context.Context, to, name string, msg message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := s.compose(&mail.Address{Name: name, Address: to}, msg)
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}

	return s.send(s.addr, s.auth, s.from.Address, []string{to}, raw)
}

// compose собирает однотельное text/plain письмо.
func (s *SMTP) compose(to *mail.Address, msg message) ([]byte, error) {
	var h mail.Header
	h.SetDate(s.now())
	h.SetAddressList("From", []*mail.Address{s.from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(msg.subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write([]byte(msg.body)); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

var _ Sender = (*SMTP)(nil)
