package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pribylovaa/cinelog-auth/internal/config"
	"github.com/pribylovaa/cinelog-auth/internal/storage/memory"
	"github.com/pribylovaa/cinelog-auth/mocks"
	"golang.org/x/crypto/bcrypt"
)

func testCfg() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:            "unit-jwt-secret",
		RefreshSecret:        "unit-refresh-secret",
		CookieSecret:         "unit-cookie-secret",
		AccessTokenTTL:       15 * time.Minute,
		RefreshTokenTTL:      7 * 24 * time.Hour,
		VerificationTokenTTL: 24 * time.Hour,
		ResetTokenTTL:        time.Hour,
		Issuer:               "cinelog-auth",
		Audience:             []string{"cinelog"},
		BcryptCost:           bcrypt.MinCost,
		PasswordMinLength:    6,
	}
}

// fakeClock — управляемые часы с точностью до секунды (JWT хранит секунды).
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// sentMail — письмо, перехваченное captureMailer.
type sentMail struct {
	kind  string
	to    string
	token string
}

// captureMailer запоминает отправленные письма вместо доставки.
type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *captureMailer) SendVerificationEmail(_ context.Context, to, _, token string) error {
	return m.record("verify", to, token)
}

func (m *captureMailer) SendPasswordResetEmail(_ context.Context, to, _, token string) error {
	return m.record("reset", to, token)
}

func (m *captureMailer) record(kind, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{kind: kind, to: to, token: token})
	return m.err
}

// last возвращает последнее письмо указанного вида.
func (m *captureMailer) last(t *testing.T, kind string) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].kind == kind {
			return m.sent[i]
		}
	}
	t.Fatalf("no %s mail sent", kind)
	return sentMail{}
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// newMemorySvc — Service поверх in-memory хранилища.
func newMemorySvc(t *testing.T) (*Service, *memory.Storage, *captureMailer, *fakeClock) {
	t.Helper()
	st := memory.New()
	m := &captureMailer{}
	clock := newClock()
	return New(st, testCfg(), m, WithClock(clock.Now)), st, m, clock
}

// newMockSvc — Service поверх gomock-хранилища и gomock-почты.
func newMockSvc(t *testing.T) (*Service, *mocks.MockStorage, *mocks.MockSender, *fakeClock) {
	t.Helper()
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStorage(ctrl)
	m := mocks.NewMockSender(ctrl)
	clock := newClock()
	return New(st, testCfg(), m, WithClock(clock.Now)), st, m, clock
}
