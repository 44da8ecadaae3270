package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/microvolunteer/platform/models"
	"github.com/microvolunteer/platform/store"
	"github.com/microvolunteer/platform/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

type AuthService struct {
	users    store.UserStore
	issuer   TokenIssuer
	verifier TokenVerifier
	notifier Notifier
	hashCost int
	now      func() time.Time

	// resetCode generates the code mailed by ForgotPassword.
	resetCode func() (string, error)
}

const resetCodeTTL = 15 * time.Minute

// NewAuthService wires the auth flows. notifier may be nil.
func NewAuthService(users store.UserStore, issuer TokenIssuer, verifier TokenVerifier, notifier Notifier) *AuthService {
	return &AuthService{
		users:    users,
		issuer:   issuer,
		verifier: verifier,
		notifier: notifier,
		hashCost:  bcrypt.DefaultCost,
		now:       time.Now,
		resetCode: newResetCode,
	}
}

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is what a successful login hands back to the client.
type LoginResult struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expires_at"`
	User      models.PublicUser `json:"user"`
}

type ResetPasswordInput struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}

// GoogleProfile is the subset of Google's user info the platform uses.
type GoogleProfile struct {
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Register creates a user with a bcrypt-hashed password.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	name := utils.PlainText(input.Name)
	email := normalizeEmail(input.Email)

	errs := make(ValidationErrors)
	validateName(name, errs)
	validateEmail(email, errs)
	validatePassword(input.Password, errs)
	if err := errs.Err(); err != nil {
		return nil, err
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, ErrDuplicateEmail
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := s.now()
	user := &models.User{
		ID:           primitive.NewObjectID(),
		Name:         name,
		Email:        email,
		Password:     string(hash),
		AuthProvider: models.AuthProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.sendWelcome(ctx, user)
	return user, nil
}

// Login verifies the password and issues a token.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	email := normalizeEmail(input.Email)

	errs := make(ValidationErrors)
	if email == "" {
		errs.Add("email", "Email is required")
	}
	if input.Password == "" {
		errs.Add("password", "Password is required")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}

	// Accounts created through Google have no password.
	if user.Password == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

// LoginWithGoogle signs in the account owning a verified Google email,
// creating it on first use.
func (s *AuthService) LoginWithGoogle(ctx context.Context, profile GoogleProfile) (*LoginResult, error) {
	email := normalizeEmail(profile.Email)
	if email == "" || !profile.VerifiedEmail {
		return nil, fmt.Errorf("%w: google account email is not verified", ErrUnauthorized)
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return s.issue(user)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("loading user: %w", err)
	}

	name := utils.PlainText(profile.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	now := s.now()
	user = &models.User{
		ID:             primitive.NewObjectID(),
		Name:           name,
		Email:          email,
		ProfilePicture: profile.Picture,
		AuthProvider:   models.AuthProviderGoogle,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("creating user: %w", err)
		}
		// Lost a race with a concurrent first sign-in.
		if user, err = s.users.GetUserByEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("loading user: %w", err)
		}
	} else {
		s.sendWelcome(ctx, user)
	}
	return s.issue(user)
}

// Authenticate resolves a bearer token to an existing user's id.
func (s *AuthService) Authenticate(ctx context.Context, token string) (primitive.ObjectID, error) {
	if token == "" {
		return primitive.NilObjectID, ErrUnauthorized
	}

	subject, err := s.verifier.VerifyToken(token)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	userID, err := primitive.ObjectIDFromHex(subject)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: malformed subject", ErrUnauthorized)
	}

	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return primitive.NilObjectID, fmt.Errorf("%w: user no longer exists", ErrUnauthorized)
		}
		return primitive.NilObjectID, fmt.Errorf("loading user: %w", err)
	}
	return userID, nil
}

// ForgotPassword mails a one-time reset code to the account owning email.
// An unknown email is not an error, so the reply never reveals which
// addresses are registered.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	errs := make(ValidationErrors)
	validateEmail(email, errs)
	if err := errs.Err(); err != nil {
		return err
	}
	if s.notifier == nil {
		return errors.New("email delivery is not configured")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("password reset requested for unknown email %s", email)
			return nil
		}
		return fmt.Errorf("loading user: %w", err)
	}

	code, err := s.resetCode()
	if err != nil {
		return fmt.Errorf("generating reset code: %w", err)
	}
	now := s.now()
	if err := s.users.SetResetCode(ctx, user.ID, hashResetCode(code), now.Add(resetCodeTTL), now); err != nil {
		return fmt.Errorf("storing reset code: %w", err)
	}

	err = s.notifier.SendEmail(ctx, user.Name, user.Email, "Reset Password OTP",
		fmt.Sprintf("Your OTP for password reset is: %s\n\nIt expires in %d minutes.", code, int(resetCodeTTL.Minutes())),
		fmt.Sprintf("<p>Your OTP for password reset is: <strong>%s</strong></p><p>It expires in %d minutes.</p>", code, int(resetCodeTTL.Minutes())))
	if err != nil {
		return fmt.Errorf("sending reset code: %w", err)
	}
	return nil
}

// VerifyResetCode checks a reset code without using it up.
func (s *AuthService) VerifyResetCode(ctx context.Context, email, otp string) error {
	_, err := s.checkResetCode(ctx, normalizeEmail(email), strings.TrimSpace(otp), make(ValidationErrors))
	return err
}

// ResetPassword sets a new password when otp is the live reset code for
// email. The code works once.
func (s *AuthService) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	errs := make(ValidationErrors)
	passwordErrs := make(ValidationErrors)
	validatePassword(input.NewPassword, passwordErrs)
	if msg, ok := passwordErrs["password"]; ok {
		errs.Add("new_password", msg)
	}

	user, err := s.checkResetCode(ctx, normalizeEmail(input.Email), strings.TrimSpace(input.OTP), errs)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.NewPassword), s.hashCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := s.users.ResetPassword(ctx, user.ID, user.ResetCodeHash, string(hash), s.now()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return invalidResetCode()
		}
		return fmt.Errorf("resetting password: %w", err)
	}
	log.Printf("password reset for user %s", user.ID.Hex())
	return nil
}

// checkResetCode loads the user for email and confirms otp matches its
// pending reset. A wrong code counts against the attempt limit.
func (s *AuthService) checkResetCode(ctx context.Context, email, otp string, errs ValidationErrors) (*models.User, error) {
	if email == "" {
		errs.Add("email", "Email is required")
	}
	if otp == "" {
		errs.Add("otp", "OTP is required")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalidResetCode()
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}

	if user.ResetCodeHash == "" || user.ResetCodeExpiresAt == nil ||
		!s.now().Before(*user.ResetCodeExpiresAt) || user.ResetAttempts >= models.MaxResetAttempts {
		return nil, invalidResetCode()
	}
	if subtle.ConstantTimeCompare([]byte(hashResetCode(otp)), []byte(user.ResetCodeHash)) != 1 {
		if err := s.users.RecordResetAttempt(ctx, user.ID); err != nil {
			log.Printf("recording reset attempt for %s failed: %v", user.ID.Hex(), err)
		}
		return nil, invalidResetCode()
	}
	return user, nil
}

func invalidResetCode() error {
	return ValidationErrors{"otp": "Invalid or expired OTP"}
}

// newResetCode returns six random digits.
func newResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashResetCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func (s *AuthService) issue(user *models.User) (*LoginResult, error) {
	token, expiresAt, err := s.issuer.IssueToken(user.ID.Hex())
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user.Public()}, nil
}

func (s *AuthService) sendWelcome(ctx context.Context, user *models.User) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.SendEmail(ctx, user.Name, user.Email, "Welcome to Micro Volunteer",
		fmt.Sprintf("Hi %s, thanks for joining. Browse open tasks near you or post one of your own.", user.Name),
		fmt.Sprintf("<p>Hi %s, thanks for joining.</p><p>Browse open tasks near you or post one of your own.</p>", html.EscapeString(user.Name)))
	if err != nil {
		log.Printf("welcome email to %s failed: %v", user.Email, err)
	}
}
