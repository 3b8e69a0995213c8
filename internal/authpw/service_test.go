package authpw

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"glossary/api/internal/store"
)

type fakeUserStore struct {
	users       map[string]store.User // keyed by email
	resets      map[string]string     // token -> user id
	verified    []string
	resetUsed   []string
	newPassword string
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:  make(map[string]store.User),
		resets: make(map[string]string),
	}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := f.users[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	for _, user := range f.users {
		if user.ID == id {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.users[user.Email] = user
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(context.Context, string, string, time.Time) error {
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(_ context.Context, token string) error {
	f.verified = append(f.verified, token)
	return nil
}

func (f *fakeUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.newPassword = passwordHash
	return nil
}

func (f *fakeUserStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.resets[token] = userID
	return nil
}

func (f *fakeUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.resetUsed = append(f.resetUsed, token)
	return nil
}

func TestSignUpCreatesContributor(t *testing.T) {
	userStore := newFakeUserStore()
	service := NewService(userStore)

	resp, err := service.SignUp(context.Background(), SignUpRequest{
		Email:       "Thandi@Example.com",
		Password:    "long-enough",
		DisplayName: "Thandi",
	})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if resp.VerificationToken == "" {
		t.Error("expected verification token")
	}

	user, ok := userStore.users["thandi@example.com"]
	if !ok {
		t.Fatal("user not stored under lowercased email")
	}
	if user.Role != "contributor" {
		t.Errorf("expected contributor role, got %q", user.Role)
	}
	if user.PasswordHash == "long-enough" {
		t.Error("password stored unhashed")
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	service := NewService(newFakeUserStore())
	if _, err := service.SignUp(context.Background(), SignUpRequest{
		Email: "a@b.c", Password: "short", DisplayName: "A",
	}); err == nil {
		t.Error("expected error for short password")
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	userStore := newFakeUserStore()
	service := NewService(userStore)

	ctx := context.Background()
	if _, err := service.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "password1", DisplayName: "A"}); err != nil {
		t.Fatalf("first SignUp failed: %v", err)
	}
	if _, err := service.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "password2", DisplayName: "B"}); err == nil {
		t.Error("expected duplicate email error")
	}
}

func TestSignInWrongPassword(t *testing.T) {
	userStore := newFakeUserStore()
	service := NewService(userStore)

	ctx := context.Background()
	if _, err := service.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "password1", DisplayName: "A"}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if _, err := service.SignIn(ctx, SignInRequest{Email: "a@b.c", Password: "wrong-password"}); err == nil {
		t.Error("expected invalid credentials")
	}
}

func TestSignInUnverifiedEmail(t *testing.T) {
	userStore := newFakeUserStore()
	service := NewService(userStore)

	ctx := context.Background()
	if _, err := service.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "password1", DisplayName: "A"}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	resp, err := service.SignIn(ctx, SignInRequest{Email: "a@b.c", Password: "password1"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if !resp.RequiresVerify {
		t.Error("expected RequiresVerify for unverified account")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	userStore := newFakeUserStore()
	service := NewService(userStore)

	ctx := context.Background()
	if _, err := service.SignUp(ctx, SignUpRequest{Email: "a@b.c", Password: "password1", DisplayName: "A"}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	token, err := service.RequestPasswordReset(ctx, "a@b.c")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected reset token for known email")
	}

	if err := service.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "new-password"}); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if userStore.newPassword == "" || userStore.newPassword == "new-password" {
		t.Error("expected new hashed password to be stored")
	}
	if len(userStore.resetUsed) != 1 {
		t.Errorf("expected reset marked used once, got %d", len(userStore.resetUsed))
	}
}

func TestPasswordResetUnknownEmail(t *testing.T) {
	service := NewService(newFakeUserStore())
	token, err := service.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if token != "" {
		t.Error("expected empty token for unknown email")
	}
}
