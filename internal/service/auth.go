package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/pribylovaa/cinelog-auth/internal/models"
	"github.com/pribylovaa/cinelog-auth/internal/pkg/log"
	"github.com/pribylovaa/cinelog-auth/internal/pkg/redact"
	"github.com/pribylovaa/cinelog-auth/internal/storage"
)

// Register создаёт пользователя с неподтверждённым e-mail, открывает сессию
// и отправляет письмо подтверждения.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta models.SessionMeta) (*AuthResult, error) {
	const op = "service.auth.Register"

	name, err := validateName(in.Name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	username, err := validateUsername(in.Username)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := validatePassword(in.Password, s.minPasswordLen()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.ensureFree(ctx, username, email); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rawVerify, verifyHash, verifyExp, err := s.onetime.Generate(PurposeVerifyEmail)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	user := &models.User{
		ID:                       uuid.New(),
		Name:                     name,
		Username:                 username,
		Email:                    email,
		PasswordHash:             hash,
		EmailVerified:            false,
		EmailVerificationToken:   &verifyHash,
		EmailVerificationExpires: &verifyExp,
		CreatedAt:                now,
		UpdatedAt:                now,
	}

	if err := s.storage.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrConflict)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.issuePair(ctx, user.ID, meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.sendVerification(ctx, user.Email, user.Name, rawVerify)

	log.From(ctx).Info("user_registered",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
		slog.String("email", redact.Email(user.Email)),
	)

	return &AuthResult{User: user, Tokens: pair}, nil
}

// Login открывает сессию по username или e-mail и паролю.
// Неизвестный логин и неверный пароль дают одну и ту же ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, identifier, password string, meta models.SessionMeta) (*AuthResult, error) {
	const op = "service.auth.Login"

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		s.hasher.VerifyDummy(password)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	var (
		user *models.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.storage.UserByEmail(ctx, strings.ToLower(identifier))
	} else {
		user, err = s.storage.UserByUsername(ctx, identifier)
	}

	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.hasher.VerifyDummy(password)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := s.hasher.Verify(user.PasswordHash, password)
	if err != nil {
		log.From(ctx).Error("password_hash_malformed",
			slog.String("op", op),
			slog.String("user_id", user.ID.String()),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	pair, err := s.issuePair(ctx, user.ID, meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &AuthResult{User: user, Tokens: pair}, nil
}

// Refresh ротирует refresh-токен и выпускает новый access-токен.
// Повторное предъявление отозванного токена отзывает все сессии пользователя
// и возвращает ErrTokenReused.
func (s *Service) Refresh(ctx context.Context, rawRefresh string, meta models.SessionMeta) (*models.TokenPair, error) {
	const op = "service.auth.Refresh"

	if rawRefresh == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	userID, nextRaw, refreshExp, err := s.tokens.RotateRefreshToken(ctx, rawRefresh, meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	access, accessExp, err := s.tokens.IssueAccessToken(userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     nextRaw,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Logout отзывает предъявленный refresh-токен.
func (s *Service) Logout(ctx context.Context, rawRefresh string) error {
	const op = "service.auth.Logout"

	if rawRefresh == "" {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if err := s.tokens.RevokeRefreshToken(ctx, rawRefresh); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// LogoutAll отзывает все сессии пользователя.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	const op = "service.auth.LogoutAll"

	n, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("sessions_revoked",
		slog.String("op", op),
		slog.String("user_id", userID.String()),
		slog.Int64("count", n),
	)

	return nil
}

// Authenticate проверяет access-токен и возвращает ID пользователя.
// Ошибка всегда оборачивает ErrNotAuthenticated и причину (ErrTokenExpired/ErrInvalidToken).
func (s *Service) Authenticate(ctx context.Context, accessToken string) (uuid.UUID, error) {
	const op = "service.auth.Authenticate"

	if accessToken == "" {
		return uuid.Nil, fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}

	uid, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w: %w", op, ErrNotAuthenticated, err)
	}

	return uid, nil
}

// CurrentUser перечитывает пользователя из хранилища.
func (s *Service) CurrentUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	const op = "service.auth.CurrentUser"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// VerifyEmail потребляет токен подтверждения: помечает e-mail подтверждённым
// и, если шла смена адреса, делает pending_email основным.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) error {
	const op = "service.auth.VerifyEmail"

	if rawToken == "" {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	user, err := s.storage.UserByVerificationToken(ctx, s.onetime.Hash(rawToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	storedHash := *user.EmailVerificationToken
	target := user.Email
	if user.PendingEmail != nil {
		target = *user.PendingEmail
	}

	if !s.onetime.Consume(user, rawToken, PurposeVerifyEmail) {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	ok, err := s.storage.ConfirmEmail(ctx, user.ID, storedHash, target, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("%s: %w", op, ErrConflict)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if !ok {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	log.From(ctx).Info("email_verified",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
		slog.Bool("changed", target != user.Email),
	)

	return nil
}

// RequestPasswordReset выпускает токен сброса и отправляет письмо, если
// аккаунт существует. Для корректного e-mail всегда возвращает nil.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	const op = "service.auth.RequestPasswordReset"

	// Ответ не зависит ни от существования аккаунта, ни от формата адреса.
	email, err := normalizeEmail(email)
	if err != nil {
		log.From(ctx).Info("password_reset_malformed_email", slog.String("op", op))
		return nil
	}

	user, err := s.storage.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.From(ctx).Info("password_reset_unknown_email",
				slog.String("op", op),
				slog.String("email", redact.Email(email)),
			)
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	raw, hash, exp, err := s.onetime.Generate(PurposeResetPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.SetPasswordResetToken(ctx, user.ID, hash, exp, s.now()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, user.Name, raw); err != nil {
		log.From(ctx).Error("mail_send_failed",
			slog.String("op", op),
			slog.String("kind", PurposeResetPassword.String()),
			slog.String("to", redact.Email(user.Email)),
			slog.String("err", err.Error()),
		)
	}

	return nil
}

// ResetPassword потребляет токен сброса, меняет пароль и отзывает все сессии.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	const op = "service.auth.ResetPassword"

	if rawToken == "" {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if err := validatePassword(newPassword, s.minPasswordLen()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByResetToken(ctx, s.onetime.Hash(rawToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	storedHash := *user.PasswordResetToken
	if !s.onetime.Consume(user, rawToken, PurposeResetPassword) {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ok, err := s.storage.ResetPassword(ctx, user.ID, storedHash, hash, s.now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !ok {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	n, err := s.tokens.RevokeAllForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("password_reset",
		slog.String("op", op),
		slog.String("user_id", user.ID.String()),
		slog.Int64("sessions_revoked", n),
	)

	return nil
}

// UpdateEmail начинает смену e-mail: новый адрес сохраняется как pending_email
// и получает письмо подтверждения. Основной e-mail не меняется до подтверждения.
func (s *Service) UpdateEmail(ctx context.Context, userID uuid.UUID, newEmail string) error {
	const op = "service.auth.UpdateEmail"

	email, err := normalizeEmail(newEmail)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if email == user.Email {
		return nil
	}

	other, err := s.storage.UserByEmail(ctx, email)
	switch {
	case err == nil && other.ID != user.ID:
		return fmt.Errorf("%s: %w", op, ErrConflict)
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.startVerification(ctx, user, email, &email); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ResendVerification выпускает новый токен подтверждения: на pending_email,
// если идёт смена адреса, иначе на текущий e-mail (в том числе уже подтверждённый).
func (s *Service) ResendVerification(ctx context.Context, userID uuid.UUID) error {
	const op = "service.auth.ResendVerification"

	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if user.PendingEmail != nil {
		pending := *user.PendingEmail
		err = s.startVerification(ctx, user, pending, &pending)
	} else {
		err = s.startVerification(ctx, user, user.Email, nil)
	}

	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// startVerification сохраняет новый токен подтверждения и отправляет письмо на to.
func (s *Service) startVerification(ctx context.Context, user *models.User, to string, pending *string) error {
	raw, hash, exp, err := s.onetime.Generate(PurposeVerifyEmail)
	if err != nil {
		return err
	}

	if err := s.storage.SetVerificationToken(ctx, user.ID, hash, exp, pending, s.now()); err != nil {
		return err
	}

	s.sendVerification(ctx, to, user.Name, raw)

	return nil
}

// sendVerification отправляет письмо подтверждения. Сбой доставки не
// откатывает изменения: он логируется, пользователь может запросить повтор.
func (s *Service) sendVerification(ctx context.Context, to, name, raw string) {
	if err := s.mailer.SendVerificationEmail(ctx, to, name, raw); err != nil {
		log.From(ctx).Error("mail_send_failed",
			slog.String("kind", PurposeVerifyEmail.String()),
			slog.String("to", redact.Email(to)),
			slog.String("err", err.Error()),
		)
	}
}

// issuePair выпускает access-токен и сохраняет новый refresh-токен.
func (s *Service) issuePair(ctx context.Context, userID uuid.UUID, meta models.SessionMeta) (*models.TokenPair, error) {
	access, accessExp, err := s.tokens.IssueAccessToken(userID)
	if err != nil {
		return nil, err
	}

	refresh, refreshExp, err := s.tokens.IssueRefreshToken(ctx, userID, meta)
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// ensureFree проверяет, что username и e-mail не заняты.
func (s *Service) ensureFree(ctx context.Context, username, email string) error {
	if _, err := s.storage.UserByUsername(ctx, username); err == nil {
		return ErrConflict
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if _, err := s.storage.UserByEmail(ctx, email); err == nil {
		return ErrConflict
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	return nil
}

func (s *Service) minPasswordLen() int {
	if s.cfg.PasswordMinLength < 1 {
		return 1
	}

	return s.cfg.PasswordMinLength
}
