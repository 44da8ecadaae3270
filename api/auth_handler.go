package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/microvolunteer/platform/services"
	"github.com/microvolunteer/platform/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	oauthStateCookie  = "oauthstate"
)

// GoogleOAuthConfig returns the OAuth2 settings for Google sign-in.
func GoogleOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		RedirectURL:  redirectURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{"https://www.googleapis.com/auth/userinfo.email", "https://www.googleapis.com/auth/userinfo.profile"},
		Endpoint:     google.Endpoint,
	}
}

// GoogleLoginHandler redirects to Google's consent page
func (h *AuthHandler) GoogleLoginHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Google Login API]")
	defer flush()

	if h.google == nil {
		utils.RespondError(w, logger, http.StatusNotFound, KindNotFound, "Google sign-in is not enabled")
		return
	}

	state, err := randomState()
	if err != nil {
		writeServiceError(w, logger, fmt.Errorf("generating oauth state: %w", err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/auth/google",
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	utils.AddToLogMessage(logger, "Redirecting to Google Auth")
	http.Redirect(w, r, h.google.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallbackHandler finishes Google sign-in and issues a platform token
func (h *AuthHandler) GoogleCallbackHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Google Callback API]")
	defer flush()

	if h.google == nil {
		utils.RespondError(w, logger, http.StatusNotFound, KindNotFound, "Google sign-in is not enabled")
		return
	}

	cookie, err := r.Cookie(oauthStateCookie)
	state := r.FormValue("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		utils.RespondError(w, logger, http.StatusBadRequest, KindValidation, "Invalid oauth state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/api/auth/google", MaxAge: -1})

	code := r.FormValue("code")
	if code == "" {
		utils.RespondError(w, logger, http.StatusBadRequest, KindValidation, "Code not found")
		return
	}

	token, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		utils.AddToLogMessage(logger, fmt.Sprintf("Failed to exchange token: %v", err))
		utils.RespondError(w, logger, http.StatusBadGateway, KindUpstream, "Failed to exchange token")
		return
	}

	resp, err := h.google.Client(r.Context(), token).Get(h.userInfoURL)
	if err != nil {
		utils.AddToLogMessage(logger, fmt.Sprintf("Failed to get user info: %v", err))
		utils.RespondError(w, logger, http.StatusBadGateway, KindUpstream, "Failed to get user info")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		utils.AddToLogMessage(logger, fmt.Sprintf("User info returned status %d", resp.StatusCode))
		utils.RespondError(w, logger, http.StatusBadGateway, KindUpstream, "Failed to get user info")
		return
	}

	var profile services.GoogleProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		utils.AddToLogMessage(logger, fmt.Sprintf("Failed to read user info response: %v", err))
		utils.RespondError(w, logger, http.StatusBadGateway, KindUpstream, "Failed to read user info")
		return
	}
	utils.AddToLogMessage(logger, fmt.Sprintf("Google user: %s", profile.Email))

	res, err := h.auth.LoginWithGoogle(r.Context(), profile)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	utils.AddToLogMessage(logger, "Google sign-in successful")
	utils.RespondJSON(w, http.StatusOK, res)
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
