package api

import (
	"fmt"
	"net/http"

	"github.com/microvolunteer/platform/services"
	"github.com/microvolunteer/platform/utils"
	"golang.org/x/oauth2"
)

// AuthHandler serves registration, password login and reset, and Google
// sign-in.
type AuthHandler struct {
	auth        *services.AuthService
	google      *oauth2.Config
	userInfoURL string
}

// NewAuthHandler builds the auth endpoints. google may be nil, which turns
// Google sign-in off.
func NewAuthHandler(auth *services.AuthService, google *oauth2.Config) *AuthHandler {
	return &AuthHandler{auth: auth, google: google, userInfoURL: googleUserInfoURL}
}

// RegisterHandler handles user registration
func (h *AuthHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Register API]")
	defer flush()

	var req services.RegisterInput
	if !decodeJSON(w, r, logger, &req) {
		return
	}
	utils.AddToLogMessage(logger, fmt.Sprintf("Email: %s", req.Email))

	user, err := h.auth.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	utils.AddToLogMessage(logger, fmt.Sprintf("User %s registered", user.ID.Hex()))
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"id": user.ID.Hex()})
}

// LoginHandler handles password login
func (h *AuthHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Login API]")
	defer flush()

	var req services.LoginInput
	if !decodeJSON(w, r, logger, &req) {
		return
	}
	utils.AddToLogMessage(logger, fmt.Sprintf("Email: %s", req.Email))

	res, err := h.auth.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	utils.AddToLogMessage(logger, "Login successful")
	utils.RespondJSON(w, http.StatusOK, res)
}

// ForgotPasswordHandler mails a password reset OTP
func (h *AuthHandler) ForgotPasswordHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Forgot Password API]")
	defer flush()

	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, logger, &req) {
		return
	}
	utils.AddToLogMessage(logger, fmt.Sprintf("Email: %s", req.Email))

	if err := h.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		writeServiceError(w, logger, err)
		return
	}

	utils.AddToLogMessage(logger, "Reset requested")
	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "OTP sent to your email."})
}

// VerifyOTPHandler checks a reset OTP without using it
func (h *AuthHandler) VerifyOTPHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Verify OTP API]")
	defer flush()

	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if !decodeJSON(w, r, logger, &req) {
		return
	}
	utils.AddToLogMessage(logger, fmt.Sprintf("Email: %s", req.Email))

	if err := h.auth.VerifyResetCode(r.Context(), req.Email, req.OTP); err != nil {
		writeServiceError(w, logger, err)
		return
	}

	utils.AddToLogMessage(logger, "OTP verified")
	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "OTP verified successfully."})
}

// ResetPasswordHandler sets a new password using a reset OTP
func (h *AuthHandler) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Reset Password API]")
	defer flush()

	var req services.ResetPasswordInput
	if !decodeJSON(w, r, logger, &req) {
		return
	}
	utils.AddToLogMessage(logger, fmt.Sprintf("Email: %s", req.Email))

	if err := h.auth.ResetPassword(r.Context(), req); err != nil {
		writeServiceError(w, logger, err)
		return
	}

	utils.AddToLogMessage(logger, "Password reset")
	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully."})
}
