package service

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/pribylovaa/cinelog-auth/internal/models"
	"github.com/pribylovaa/cinelog-auth/internal/storage"
	"github.com/stretchr/testify/require"
)

var errDB = errors.New("db down")

func validInput() RegisterInput {
	return RegisterInput{Name: "Alice", Username: "alice", Email: "alice@x.com", Password: "pw123!"}
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		mod  func(*RegisterInput)
		want error
	}{
		{"empty_name", func(in *RegisterInput) { in.Name = "  " }, ErrInvalidInput},
		{"short_username", func(in *RegisterInput) { in.Username = "al" }, ErrInvalidInput},
		{"bad_username", func(in *RegisterInput) { in.Username = "al ice" }, ErrInvalidInput},
		{"bad_email", func(in *RegisterInput) { in.Email = "not-an-email" }, ErrInvalidEmail},
		{"display_email", func(in *RegisterInput) { in.Email = "Alice <alice@x.com>" }, ErrInvalidEmail},
		{"short_password", func(in *RegisterInput) { in.Password = "pw1" }, ErrWeakPassword},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Хранилище не должно вызываться: gomock упадёт на неожиданном вызове.
			svc, _, _, _ := newMockSvc(t)

			in := validInput()
			tc.mod(&in)

			_, err := svc.Register(context.Background(), in, models.SessionMeta{})
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRegister_UsernameTaken(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newMockSvc(t)
	st.EXPECT().UserByUsername(gomock.Any(), "alice").Return(&models.User{ID: uuid.New()}, nil)

	_, err := svc.Register(context.Background(), validInput(), models.SessionMeta{})
	require.ErrorIs(t, err, ErrConflict)
}

func TestRegister_LookupError_Propagated(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newMockSvc(t)
	st.EXPECT().UserByUsername(gomock.Any(), "alice").Return(nil, storage.ErrNotFound)
	st.EXPECT().UserByEmail(gomock.Any(), "alice@x.com").Return(nil, errDB)

	_, err := svc.Register(context.Background(), validInput(), models.SessionMeta{})
	require.ErrorIs(t, err, errDB)
	require.NotErrorIs(t, err, ErrConflict)
}

// TestRegister_SaveRace — конкурентная регистрация проходит проверки, но
// проигрывает на уникальном индексе.
func TestRegister_SaveRace(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newMockSvc(t)
	st.EXPECT().UserByUsername(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	st.EXPECT().UserByEmail(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists)

	_, err := svc.Register(context.Background(), validInput(), models.SessionMeta{})
	require.ErrorIs(t, err, ErrConflict)
}

func TestRegister_MailFailure_NotFatal(t *testing.T) {
	t.Parallel()

	svc, st, m, _ := newMockSvc(t)
	st.EXPECT().UserByUsername(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	st.EXPECT().UserByEmail(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)
	m.EXPECT().SendVerificationEmail(gomock.Any(), "alice@x.com", "Alice", gomock.Any()).Return(errors.New("smtp down"))

	res, err := svc.Register(context.Background(), validInput(), models.SessionMeta{})
	require.NoError(t, err)
	require.NotNil(t, res.Tokens)
	require.False(t, res.User.EmailVerified)
}

func TestLogin_StorageError_Propagated(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newMockSvc(t)
	st.EXPECT().UserByEmail(gomock.Any(), "alice@x.com").Return(nil, errDB)

	_, err := svc.Login(context.Background(), "Alice@X.com", "pw123!", models.SessionMeta{})
	require.ErrorIs(t, err, errDB)
	require.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_MalformedHash(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newMockSvc(t)
	st.EXPECT().UserByUsername(gomock.Any(), "alice").
		Return(&models.User{ID: uuid.New(), PasswordHash: "not-bcrypt"}, nil)

	_, err := svc.Login(context.Background(), "alice", "pw123!", models.SessionMeta{})
	require.ErrorIs(t, err, ErrMalformedHash)
	require.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_EmptyFields(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newMockSvc(t)

	_, err := svc.Login(context.Background(), "  ", "pw", models.SessionMeta{})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "alice", "", models.SessionMeta{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_EmptyToken(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newMockSvc(t)

	_, err := svc.Refresh(context.Background(), "", models.SessionMeta{})
	require.ErrorIs(t, err, ErrInvalidToken)

	require.ErrorIs(t, svc.Logout(context.Background(), ""), ErrInvalidToken)
}

func TestCurrentUser_Mapping(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newMockSvc(t)
	uid := uuid.New()

	st.EXPECT().UserByID(gomock.Any(), uid).Return(nil, storage.ErrNotFound)
	_, err := svc.CurrentUser(context.Background(), uid)
	require.ErrorIs(t, err, ErrNotAuthenticated)

	st.EXPECT().UserByID(gomock.Any(), uid).Return(nil, errDB)
	_, err = svc.CurrentUser(context.Background(), uid)
	require.ErrorIs(t, err, errDB)
}

func TestVerifyEmail_ConfirmConflict(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newMockSvc(t)

	raw, hash, exp, err := svc.onetime.Generate(PurposeVerifyEmail)
	require.NoError(t, err)

	pending := "taken@x.com"
	u := &models.User{
		ID:                       uuid.New(),
		Email:                    "alice@x.com",
		PendingEmail:             &pending,
		EmailVerificationToken:   &hash,
		EmailVerificationExpires: &exp,
	}

	st.EXPECT().UserByVerificationToken(gomock.Any(), hash).Return(u, nil)
	st.EXPECT().ConfirmEmail(gomock.Any(), u.ID, hash, "taken@x.com", gomock.Any()).Return(false, storage.ErrAlreadyExists)

	require.ErrorIs(t, svc.VerifyEmail(context.Background(), raw), ErrConflict)
}

func TestVerifyEmail_LostRace(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newMockSvc(t)

	raw, hash, exp, err := svc.onetime.Generate(PurposeVerifyEmail)
	require.NoError(t, err)

	u := &models.User{
		ID:                       uuid.New(),
		Email:                    "alice@x.com",
		EmailVerificationToken:   &hash,
		EmailVerificationExpires: &exp,
	}

	st.EXPECT().UserByVerificationToken(gomock.Any(), hash).Return(u, nil)
	st.EXPECT().ConfirmEmail(gomock.Any(), u.ID, hash, "alice@x.com", gomock.Any()).Return(false, nil)

	require.ErrorIs(t, svc.VerifyEmail(context.Background(), raw), ErrInvalidToken)
}

func TestRequestPasswordReset_MailFailure_NotFatal(t *testing.T) {
	t.Parallel()

	svc, st, m, _ := newMockSvc(t)
	u := &models.User{ID: uuid.New(), Name: "Alice", Email: "alice@x.com"}

	st.EXPECT().UserByEmail(gomock.Any(), "alice@x.com").Return(u, nil)
	st.EXPECT().SetPasswordResetToken(gomock.Any(), u.ID, gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	m.EXPECT().SendPasswordResetEmail(gomock.Any(), "alice@x.com", "Alice", gomock.Any()).Return(errors.New("smtp down"))

	require.NoError(t, svc.RequestPasswordReset(context.Background(), "alice@x.com"))
}

func TestRequestPasswordReset_StorageError(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newMockSvc(t)
	st.EXPECT().UserByEmail(gomock.Any(), "alice@x.com").Return(nil, errDB)

	require.ErrorIs(t, svc.RequestPasswordReset(context.Background(), "alice@x.com"), errDB)
}

func TestResetPassword_WeakPasswordBeforeLookup(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newMockSvc(t)

	require.ErrorIs(t, svc.ResetPassword(context.Background(), "token", "123"), ErrWeakPassword)
	require.ErrorIs(t, svc.ResetPassword(context.Background(), "", "pw123456"), ErrInvalidToken)
}

func TestResetPassword_RevokeFailure_Propagated(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newMockSvc(t)

	raw, hash, exp, err := svc.onetime.Generate(PurposeResetPassword)
	require.NoError(t, err)

	u := &models.User{ID: uuid.New(), PasswordResetToken: &hash, PasswordResetExpires: &exp}

	st.EXPECT().UserByResetToken(gomock.Any(), hash).Return(u, nil)
	st.EXPECT().ResetPassword(gomock.Any(), u.ID, hash, gomock.Any(), gomock.Any()).Return(true, nil)
	st.EXPECT().RevokeUserRefreshTokens(gomock.Any(), u.ID, gomock.Any()).Return(int64(0), errDB)

	require.ErrorIs(t, svc.ResetPassword(context.Background(), raw, "newpass1"), errDB)
}

func TestUpdateEmail_TakenByOther(t *testing.T) {
	t.Parallel()

	svc, st, _, _ := newMockSvc(t)
	uid := uuid.New()

	st.EXPECT().UserByID(gomock.Any(), uid).Return(&models.User{ID: uid, Email: "alice@x.com"}, nil)
	st.EXPECT().UserByEmail(gomock.Any(), "bob@x.com").Return(&models.User{ID: uuid.New()}, nil)

	require.ErrorIs(t, svc.UpdateEmail(context.Background(), uid, "Bob@x.com"), ErrConflict)
}

func TestUpdateEmail_InvalidEmail(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newMockSvc(t)
	require.ErrorIs(t, svc.UpdateEmail(context.Background(), uuid.New(), "nope"), ErrInvalidEmail)
}
