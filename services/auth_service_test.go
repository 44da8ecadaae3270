package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/microvolunteer/platform/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestRegisterThenLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, email := range []string{"a@x.com", "b@x.com", "c@example.org"} {
		user, err := env.auth.Register(ctx, RegisterInput{Name: "User", Email: email, Password: "password123"})
		if err != nil {
			t.Fatalf("register %s: %v", email, err)
		}
		if user.Password == "password123" || user.Password == "" {
			t.Errorf("expected password to be hashed, got '%s'", user.Password)
		}

		res, err := env.auth.Login(ctx, LoginInput{Email: email, Password: "password123"})
		if err != nil {
			t.Fatalf("login %s: %v", email, err)
		}
		if res.Token == "" {
			t.Error("expected a token")
		}
		if res.User.ID != user.ID.Hex() {
			t.Errorf("expected user %s, got %s", user.ID.Hex(), res.User.ID)
		}
	}

	if got := env.notifier.to("a@x.com"); got != 1 {
		t.Errorf("expected one welcome email, got %d", got)
	}
}

func TestRegisterNormalizesEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.auth.Register(ctx, RegisterInput{Name: "A", Email: "  A@X.com ", Password: "password123"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.auth.Login(ctx, LoginInput{Email: "a@x.com", Password: "password123"}); err != nil {
		t.Errorf("expected login with normalized email to succeed, got: %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.auth.Register(ctx, RegisterInput{Name: "A", Email: "a@x.com", Password: "password123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = env.auth.Register(ctx, RegisterInput{Name: "Imposter", Email: "A@x.com", Password: "different123"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got: %v", err)
	}

	stored, err := env.users.GetUserByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.ID != first.ID || stored.Name != "A" {
		t.Errorf("expected original record to be untouched, got %+v", stored)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		input RegisterInput
		field string
	}{
		{"missing name", RegisterInput{Email: "a@x.com", Password: "password123"}, "name"},
		{"missing email", RegisterInput{Name: "A", Password: "password123"}, "email"},
		{"bad email", RegisterInput{Name: "A", Email: "not-an-email", Password: "password123"}, "email"},
		{"display name email", RegisterInput{Name: "A", Email: "A <a@x.com>", Password: "password123"}, "email"},
		{"short password", RegisterInput{Name: "A", Email: "a@x.com", Password: "short"}, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.auth.Register(context.Background(), tt.input)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got: %v", err)
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			if _, ok := verrs[tt.field]; !ok {
				t.Errorf("expected error on field '%s', got %v", tt.field, verrs)
			}
		})
	}
}

func TestRegisterStripsMarkupFromName(t *testing.T) {
	env := newTestEnv(t)

	user, err := env.auth.Register(context.Background(), RegisterInput{Name: " <b>Ann</b>  Lee ", Email: "a@x.com", Password: "password123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Name != "Ann Lee" {
		t.Errorf("expected 'Ann Lee', got '%s'", user.Name)
	}

	if _, err := env.auth.Register(context.Background(), RegisterInput{Name: "<script>x</script>", Email: "b@x.com", Password: "password123"}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for a name that is only markup, got: %v", err)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signUp(t, "A", "a@x.com")

	if _, err := env.auth.Login(ctx, LoginInput{Email: "a@x.com", Password: "wrongpassword"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for wrong password, got: %v", err)
	}
	if _, err := env.auth.Login(ctx, LoginInput{Email: "nobody@x.com", Password: "password123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown email, got: %v", err)
	}
	if _, err := env.auth.Login(ctx, LoginInput{Email: "a@x.com"}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for missing password, got: %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.signUp(t, "A", "a@x.com")

	id, err := env.auth.Authenticate(ctx, res.Token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Hex() != res.User.ID {
		t.Errorf("expected %s, got %s", res.User.ID, id.Hex())
	}

	for name, token := range map[string]string{
		"empty":   "",
		"garbage": "not.a.token",
	} {
		if _, err := env.auth.Authenticate(ctx, token); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%s: expected ErrUnauthorized, got: %v", name, err)
		}
	}
}

func TestAuthenticateRejectsUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	jwt := utils.NewJWTManager("test-secret", time.Hour)
	token, _, err := jwt.IssueToken(primitive.NewObjectID().Hex())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := env.auth.Authenticate(context.Background(), token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for a user that does not exist, got: %v", err)
	}
}

func TestAuthenticateRejectsOtherSecret(t *testing.T) {
	env := newTestEnv(t)
	res := env.signUp(t, "A", "a@x.com")

	other := utils.NewJWTManager("another-secret", time.Hour)
	token, _, err := other.IssueToken(res.User.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := env.auth.Authenticate(context.Background(), token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got: %v", err)
	}
}

func TestLoginWithGoogle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	profile := GoogleProfile{Email: "G@x.com", VerifiedEmail: true, Name: "Gee", Picture: "https://lh3.example.com/p.png"}
	first, err := env.auth.LoginWithGoogle(ctx, profile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.User.Email != "g@x.com" || first.User.ProfilePicture != profile.Picture {
		t.Errorf("unexpected user: %+v", first.User)
	}

	second, err := env.auth.LoginWithGoogle(ctx, profile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.User.ID != first.User.ID {
		t.Errorf("expected the same account on second sign-in, got %s and %s", first.User.ID, second.User.ID)
	}

	// Google accounts have no password to log in with.
	if _, err := env.auth.Login(ctx, LoginInput{Email: "g@x.com", Password: "anything123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got: %v", err)
	}

	profile.VerifiedEmail = false
	if _, err := env.auth.LoginWithGoogle(ctx, profile); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for unverified email, got: %v", err)
	}
}

func TestRegisterSurvivesNotifierFailure(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errors.New("smtp down")

	if _, err := env.auth.Register(context.Background(), RegisterInput{Name: "A", Email: "a@x.com", Password: "password123"}); err != nil {
		t.Errorf("expected registration to succeed when email fails, got: %v", err)
	}
}

// forgot requests a reset for email with a fixed code.
func (e *testEnv) forgot(t *testing.T, email, code string) {
	t.Helper()
	e.auth.resetCode = func() (string, error) { return code, nil }
	if err := e.auth.ForgotPassword(context.Background(), email); err != nil {
		t.Fatalf("forgot password: %v", err)
	}
}

func expectOTPError(t *testing.T, err error) {
	t.Helper()
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got: %v", err)
	}
	if _, ok := verrs["otp"]; !ok {
		t.Errorf("expected error on 'otp', got %v", verrs)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signUp(t, "A", "a@x.com")

	env.forgot(t, " A@x.com ", "123456")
	if got := env.notifier.to("a@x.com"); got != 2 {
		t.Fatalf("expected welcome and reset emails, got %d", got)
	}
	last := env.notifier.sent[len(env.notifier.sent)-1]
	if last.subject != "Reset Password OTP" || !strings.Contains(last.text, "123456") {
		t.Errorf("unexpected reset email: %+v", last)
	}
	stored, _ := env.users.GetUserByEmail(ctx, "a@x.com")
	if stored.ResetCodeHash == "" || strings.Contains(stored.ResetCodeHash, "123456") {
		t.Errorf("expected only a hash of the code to be stored, got '%s'", stored.ResetCodeHash)
	}

	if err := env.auth.VerifyResetCode(ctx, "a@x.com", "123456"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	// Verifying does not use the code up.
	if err := env.auth.ResetPassword(ctx, ResetPasswordInput{Email: "a@x.com", OTP: "123456", NewPassword: "brandnew99"}); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if _, err := env.auth.Login(ctx, LoginInput{Email: "a@x.com", Password: "password123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected old password to stop working, got: %v", err)
	}
	if _, err := env.auth.Login(ctx, LoginInput{Email: "a@x.com", Password: "brandnew99"}); err != nil {
		t.Errorf("expected login with new password, got: %v", err)
	}

	err := env.auth.ResetPassword(ctx, ResetPasswordInput{Email: "a@x.com", OTP: "123456", NewPassword: "another999"})
	expectOTPError(t, err)
}

func TestResetPasswordRejectsBadCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signUp(t, "A", "a@x.com")

	err := env.auth.ResetPassword(ctx, ResetPasswordInput{Email: "a@x.com", OTP: "123456", NewPassword: "brandnew99"})
	expectOTPError(t, err)

	env.forgot(t, "a@x.com", "123456")
	expectOTPError(t, env.auth.VerifyResetCode(ctx, "a@x.com", "654321"))
	expectOTPError(t, env.auth.VerifyResetCode(ctx, "nobody@x.com", "123456"))

	err = env.auth.ResetPassword(ctx, ResetPasswordInput{Email: "a@x.com", OTP: "123456", NewPassword: "short"})
	var verrs ValidationErrors
	if !errors.As(err, &verrs) || verrs["new_password"] == "" {
		t.Errorf("expected error on 'new_password', got: %v", err)
	}

	// A new request replaces the earlier code.
	env.forgot(t, "a@x.com", "111111")
	expectOTPError(t, env.auth.VerifyResetCode(ctx, "a@x.com", "123456"))
	if err := env.auth.VerifyResetCode(ctx, "a@x.com", "111111"); err != nil {
		t.Errorf("expected the newest code to work, got: %v", err)
	}
}

func TestResetCodeExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signUp(t, "A", "a@x.com")

	start := time.Now()
	env.auth.now = func() time.Time { return start }
	env.forgot(t, "a@x.com", "123456")

	env.auth.now = func() time.Time { return start.Add(resetCodeTTL + time.Second) }
	expectOTPError(t, env.auth.VerifyResetCode(ctx, "a@x.com", "123456"))
	err := env.auth.ResetPassword(ctx, ResetPasswordInput{Email: "a@x.com", OTP: "123456", NewPassword: "brandnew99"})
	expectOTPError(t, err)
}

func TestResetCodeLocksAfterWrongGuesses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signUp(t, "A", "a@x.com")
	env.forgot(t, "a@x.com", "123456")

	for i := 0; i < 5; i++ {
		expectOTPError(t, env.auth.VerifyResetCode(ctx, "a@x.com", "000000"))
	}
	// The right code no longer helps once the guesses are spent.
	err := env.auth.ResetPassword(ctx, ResetPasswordInput{Email: "a@x.com", OTP: "123456", NewPassword: "brandnew99"})
	expectOTPError(t, err)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	if err := env.auth.ForgotPassword(context.Background(), "nobody@x.com"); err != nil {
		t.Errorf("expected no error for an unknown email, got: %v", err)
	}
	if got := env.notifier.to("nobody@x.com"); got != 0 {
		t.Errorf("expected no email, got %d", got)
	}
	if err := env.auth.ForgotPassword(context.Background(), "not-an-email"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got: %v", err)
	}
}

func TestForgotPasswordReportsSendFailure(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "A", "a@x.com")
	env.notifier.err = errors.New("smtp down")

	err := env.auth.ForgotPassword(context.Background(), "a@x.com")
	if err == nil || errors.Is(err, ErrValidation) {
		t.Errorf("expected an internal error when the email cannot be sent, got: %v", err)
	}
}

func TestNewResetCodeIsSixDigits(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := newResetCode()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(code) != 6 || strings.Trim(code, "0123456789") != "" {
			t.Errorf("expected six digits, got '%s'", code)
		}
	}
}
