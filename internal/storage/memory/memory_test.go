package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/cinelog-auth/internal/models"
	"github.com/pribylovaa/cinelog-auth/internal/storage"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, st *Storage, username, email string) *models.User {
	t.Helper()
	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.New(),
		Name:         username,
		Username:     username,
		Email:        email,
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.SaveUser(context.Background(), u))
	return u
}

func newToken(userID uuid.UUID, hash string, now time.Time, ttl time.Duration) *models.RefreshToken {
	return &models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestSaveUser_UniqueCaseInsensitive(t *testing.T) {
	t.Parallel()

	st := New()
	ctx := context.Background()
	u := seedUser(t, st, "alice", "alice@x.com")

	got, err := st.UserByEmail(ctx, "ALICE@x.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	got, err = st.UserByUsername(ctx, "Alice")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	dup := &models.User{ID: uuid.New(), Username: "ALICE", Email: "other@x.com"}
	require.ErrorIs(t, st.SaveUser(ctx, dup), storage.ErrAlreadyExists)

	dup = &models.User{ID: uuid.New(), Username: "bob", Email: "Alice@X.com"}
	require.ErrorIs(t, st.SaveUser(ctx, dup), storage.ErrAlreadyExists)

	_, err = st.UserByID(ctx, uuid.New())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUserByID_ReturnsCopy(t *testing.T) {
	t.Parallel()

	st := New()
	u := seedUser(t, st, "alice", "alice@x.com")

	got, err := st.UserByID(context.Background(), u.ID)
	require.NoError(t, err)
	got.Email = "mutated@x.com"

	again, err := st.UserByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, "alice@x.com", again.Email)
}

func TestConfirmEmail_SingleUseAndConflict(t *testing.T) {
	t.Parallel()

	st := New()
	ctx := context.Background()
	alice := seedUser(t, st, "alice", "alice@x.com")
	seedUser(t, st, "bob", "bob@x.com")

	pending := "bob@x.com"
	require.NoError(t, st.SetVerificationToken(ctx, alice.ID, "v1", time.Now().Add(time.Hour), &pending, time.Now().UTC()))

	_, err := st.ConfirmEmail(ctx, alice.ID, "v1", pending, time.Now())
	require.ErrorIs(t, err, storage.ErrAlreadyExists)

	pending = "alice2@x.com"
	require.NoError(t, st.SetVerificationToken(ctx, alice.ID, "v2", time.Now().Add(time.Hour), &pending, time.Now().UTC()))

	byToken, err := st.UserByVerificationToken(ctx, "v2")
	require.NoError(t, err)
	require.Equal(t, alice.ID, byToken.ID)

	ok, err := st.ConfirmEmail(ctx, alice.ID, "v2", pending, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.ConfirmEmail(ctx, alice.ID, "v2", pending, time.Now())
	require.NoError(t, err)
	require.False(t, ok)

	after, err := st.UserByID(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, "alice2@x.com", after.Email)
	require.True(t, after.EmailVerified)
	require.Nil(t, after.PendingEmail)
	require.Nil(t, after.EmailVerificationToken)

	_, err = st.UserByVerificationToken(ctx, "v2")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResetPassword_SingleUse(t *testing.T) {
	t.Parallel()

	st := New()
	ctx := context.Background()
	u := seedUser(t, st, "alice", "alice@x.com")

	require.NoError(t, st.SetPasswordResetToken(ctx, u.ID, "r1", time.Now().Add(time.Hour), time.Now().UTC()))

	ok, err := st.ResetPassword(ctx, u.ID, "r1", "new-hash", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.ResetPassword(ctx, u.ID, "r1", "other", time.Now())
	require.NoError(t, err)
	require.False(t, ok)

	after, err := st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "new-hash", after.PasswordHash)

	require.ErrorIs(t, st.SetPasswordResetToken(ctx, uuid.New(), "r", time.Now(), time.Now()), storage.ErrNotFound)
}

func TestSetTokens_UseCallerClock(t *testing.T) {
	t.Parallel()

	st := New()
	ctx := context.Background()
	u := seedUser(t, st, "alice", "alice@x.com")

	at := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.SetVerificationToken(ctx, u.ID, "v1", at.Add(time.Hour), nil, at))

	got, err := st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, at, got.UpdatedAt)

	later := at.Add(time.Minute)
	require.NoError(t, st.SetPasswordResetToken(ctx, u.ID, "r1", later.Add(time.Hour), later))

	got, err = st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, later, got.UpdatedAt)
}

func TestRotateRefreshToken_Outcomes(t *testing.T) {
	t.Parallel()

	st := New()
	ctx := context.Background()
	u := seedUser(t, st, "alice", "alice@x.com")
	now := time.Now()

	require.ErrorIs(t, st.SaveRefreshToken(ctx, newToken(uuid.New(), "orphan", now, time.Hour)), storage.ErrNotFound)

	require.NoError(t, st.SaveRefreshToken(ctx, newToken(u.ID, "old", now, time.Hour)))
	require.ErrorIs(t, st.SaveRefreshToken(ctx, newToken(u.ID, "old", now, time.Hour)), storage.ErrAlreadyExists)

	next := newToken(uuid.Nil, "new", now, time.Hour)
	old, err := st.RotateRefreshToken(ctx, "old", next, now)
	require.NoError(t, err)
	require.Equal(t, u.ID, old.UserID)
	require.Equal(t, u.ID, next.UserID)

	stored, err := st.RefreshTokenByHash(ctx, "old")
	require.NoError(t, err)
	require.True(t, stored.Revoked)
	require.NotNil(t, stored.RevokedAt)
	require.Equal(t, next.ID, *stored.ReplacedBy)

	_, err = st.RotateRefreshToken(ctx, "old", newToken(uuid.Nil, "n2", now, time.Hour), now)
	require.ErrorIs(t, err, storage.ErrRevoked)

	_, err = st.RotateRefreshToken(ctx, "missing", newToken(uuid.Nil, "n3", now, time.Hour), now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = st.RotateRefreshToken(ctx, "new", newToken(uuid.Nil, "old", now, time.Hour), now)
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
	still, err := st.RefreshTokenByHash(ctx, "new")
	require.NoError(t, err)
	require.False(t, still.Revoked)

	// Просрочка проверяется раньше отзыва.
	_, err = st.RevokeRefreshToken(ctx, "new", now)
	require.NoError(t, err)
	_, err = st.RotateRefreshToken(ctx, "new", newToken(uuid.Nil, "n4", now, time.Hour), now.Add(time.Hour))
	require.ErrorIs(t, err, storage.ErrExpired)
}

func TestRotateRefreshToken_ConcurrentExactlyOne(t *testing.T) {
	t.Parallel()

	st := New()
	ctx := context.Background()
	u := seedUser(t, st, "alice", "alice@x.com")
	now := time.Now()
	require.NoError(t, st.SaveRefreshToken(ctx, newToken(u.ID, "shared", now, time.Hour)))

	const n = 32
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = st.RotateRefreshToken(ctx, "shared", newToken(uuid.Nil, uuid.NewString(), now, time.Hour), now)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.True(t, errors.Is(err, storage.ErrRevoked), "unexpected error: %v", err)
	}
	require.Equal(t, 1, ok)
}

func TestRevokeAndDeleteExpired(t *testing.T) {
	t.Parallel()

	st := New()
	ctx := context.Background()
	alice := seedUser(t, st, "alice", "alice@x.com")
	bob := seedUser(t, st, "bob", "bob@x.com")
	now := time.Now()

	require.NoError(t, st.SaveRefreshToken(ctx, newToken(alice.ID, "a1", now, time.Hour)))
	require.NoError(t, st.SaveRefreshToken(ctx, newToken(alice.ID, "a2", now, time.Hour)))
	require.NoError(t, st.SaveRefreshToken(ctx, newToken(bob.ID, "b1", now, time.Minute)))

	ok, err := st.RevokeRefreshToken(ctx, "a1", now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.RevokeRefreshToken(ctx, "a1", now)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = st.RevokeRefreshToken(ctx, "missing", now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	n, err := st.RevokeUserRefreshTokens(ctx, alice.ID, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	deleted, err := st.DeleteExpiredTokens(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	_, err = st.RefreshTokenByHash(ctx, "b1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	st := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := st.UserByEmail(ctx, "a@x.com")
	require.ErrorIs(t, err, context.Canceled)

	_, err = st.RotateRefreshToken(ctx, "h", &models.RefreshToken{}, time.Now())
	require.ErrorIs(t, err, context.Canceled)
}
