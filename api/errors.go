package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/microvolunteer/platform/services"
	"github.com/microvolunteer/platform/utils"
)

// Error kinds as they appear in response bodies.
const (
	KindValidation         = "ValidationError"
	KindDuplicateEmail     = "DuplicateEmail"
	KindInvalidCredentials = "InvalidCredentials"
	KindUnauthorized       = "Unauthorized"
	KindForbidden          = "Forbidden"
	KindNotFound           = "NotFound"
	KindInvalidState       = "InvalidState"
	KindUpstream           = "UpstreamError"
	KindInternal           = "Internal"
)

const maxJSONBody = 1 << 20

// writeServiceError maps a service error onto its HTTP status and kind.
// Anything unrecognised is logged and reported as Internal.
func writeServiceError(w http.ResponseWriter, logger *strings.Builder, err error) {
	var verrs services.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		utils.RespondErrorFields(w, logger, http.StatusBadRequest, KindValidation, "Invalid input", verrs)
	case errors.Is(err, services.ErrValidation):
		utils.RespondError(w, logger, http.StatusBadRequest, KindValidation, err.Error())
	case errors.Is(err, services.ErrDuplicateEmail):
		utils.RespondError(w, logger, http.StatusConflict, KindDuplicateEmail, "User with this email already exists")
	case errors.Is(err, services.ErrInvalidCredentials):
		utils.RespondError(w, logger, http.StatusUnauthorized, KindInvalidCredentials, "Invalid email or password")
	case errors.Is(err, services.ErrUnauthorized):
		utils.RespondError(w, logger, http.StatusUnauthorized, KindUnauthorized, "Missing or invalid token")
	case errors.Is(err, services.ErrForbidden):
		utils.RespondError(w, logger, http.StatusForbidden, KindForbidden, err.Error())
	case errors.Is(err, services.ErrNotFound):
		utils.RespondError(w, logger, http.StatusNotFound, KindNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidState):
		utils.RespondError(w, logger, http.StatusConflict, KindInvalidState, err.Error())
	default:
		if logger != nil {
			utils.AddToLogMessage(logger, fmt.Sprintf("Internal error: %v", err))
		}
		utils.RespondError(w, logger, http.StatusInternalServerError, KindInternal, "Something went wrong")
	}
}

// decodeJSON reads a JSON request body into v. It writes the 400 itself and
// reports false when the body is unusable.
func decodeJSON(w http.ResponseWriter, r *http.Request, logger *strings.Builder, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		utils.AddToLogMessage(logger, fmt.Sprintf("Invalid request body: %v", err))
		utils.RespondError(w, logger, http.StatusBadRequest, KindValidation, "Invalid request body")
		return false
	}
	return true
}
