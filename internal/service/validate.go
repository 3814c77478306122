package service

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxNameLen     = 100
	maxEmailLen    = 254
	maxPasswordLen = 72 // предел bcrypt в байтах
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// normalizeEmail обрезает пробелы, проверяет формат и приводит к нижнему регистру.
func normalizeEmail(raw string) (string, error) {
	const op = "service.validate.normalizeEmail"

	email := strings.TrimSpace(raw)
	if email == "" || len(email) > maxEmailLen {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	return strings.ToLower(email), nil
}

func validateName(raw string) (string, error) {
	const op = "service.validate.validateName"

	name := strings.TrimSpace(raw)
	if name == "" || utf8.RuneCountInString(name) > maxNameLen {
		return "", fmt.Errorf("%s: name: %w", op, ErrInvalidInput)
	}

	return name, nil
}

func validateUsername(raw string) (string, error) {
	const op = "service.validate.validateUsername"

	username := strings.TrimSpace(raw)
	if !usernameRe.MatchString(username) {
		return "", fmt.Errorf("%s: username: %w", op, ErrInvalidInput)
	}

	return username, nil
}

// validatePassword проверяет длину пароля: не короче minLen рун и не длиннее 72 байт.
func validatePassword(pw string, minLen int) error {
	const op = "service.validate.validatePassword"

	if utf8.RuneCountInString(pw) < minLen || len(pw) > maxPasswordLen {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	if strings.TrimSpace(pw) == "" {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	return nil
}
