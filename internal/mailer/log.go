package mailer

import (
	"context"
	"log/slog"

	"github.com/pribylovaa/cinelog-auth/internal/pkg/redact"
)

// Log не отправляет письма, а пишет ссылку в лог.
// Предназначен только для локального запуска: ссылка содержит токен.
type Log struct {
	logger *slog.Logger
	links  Links
}

// NewLog создаёт отправителя, пишущего в logger.
func NewLog(logger *slog.Logger, appURL string) *Log {
	return &Log{logger: logger, links: Links{AppURL: appURL}}
}

func (l *Log) SendVerificationEmail(ctx context.Context, to, name, token string) error {
	l.logger.InfoContext(ctx, "mail_verification",
		slog.String("to", redact.Email(to)),
		slog.String("link", l.links.Verify(token)),
	)

	return nil
}

func (l *Log) SendPasswordResetEmail(ctx context.Context, to, name, token string) error {
	l.logger.InfoContext(ctx, "mail_password_reset",
		slog.String("to", redact.Email(to)),
		slog.String("link", l.links.Reset(token)),
	)

	return nil
}

var _ Sender = (*Log)(nil)
