package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/microvolunteer/platform/services"
	"github.com/microvolunteer/platform/utils"
)

// UserHandler serves profile reads and edits.
type UserHandler struct {
	profiles *services.ProfileService
}

func NewUserHandler(profiles *services.ProfileService) *UserHandler {
	return &UserHandler{profiles: profiles}
}

// GetUserHandler returns another user's public profile. The service checks
// the bearer token itself.
func (h *UserHandler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Get User API]")
	defer flush()

	id := r.PathValue("id")
	utils.AddToLogMessage(logger, fmt.Sprintf("User ID: %s", id))

	profile, err := h.profiles.GetUserProfile(r.Context(), id, bearerToken(r))
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, profile)
}

// GetMeHandler returns the caller's own profile
func (h *UserHandler) GetMeHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Get Profile API]")
	defer flush()

	userID, ok := callerID(w, r, logger)
	if !ok {
		return
	}

	profile, err := h.profiles.GetMyProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, profile)
}

// UpdateMeHandler edits name, gender and about
func (h *UserHandler) UpdateMeHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Update Profile API]")
	defer flush()

	userID, ok := callerID(w, r, logger)
	if !ok {
		return
	}

	var req services.ProfileInput
	if !decodeJSON(w, r, logger, &req) {
		return
	}

	profile, err := h.profiles.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	utils.AddToLogMessage(logger, "Profile updated successfully")
	utils.RespondJSON(w, http.StatusOK, profile)
}

// UploadPictureHandler replaces the caller's profile picture. Expects a
// multipart form with a "picture" file.
func (h *UserHandler) UploadPictureHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Upload Picture API]")
	defer flush()

	userID, ok := callerID(w, r, logger)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, services.MaxPictureBytes+(1<<20))
	if err := r.ParseMultipartForm(services.MaxPictureBytes); err != nil {
		utils.AddToLogMessage(logger, fmt.Sprintf("Error parsing form data: %v", err))
		utils.RespondErrorFields(w, logger, http.StatusBadRequest, KindValidation, "Invalid input",
			map[string]string{"picture": "Picture must be an image of at most 5 MB"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("picture")
	if err != nil {
		utils.AddToLogMessage(logger, fmt.Sprintf("Error retrieving file: %v", err))
		utils.RespondErrorFields(w, logger, http.StatusBadRequest, KindValidation, "Invalid input",
			map[string]string{"picture": "Picture is required"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		sniff := make([]byte, 512)
		n, _ := io.ReadFull(file, sniff)
		contentType = http.DetectContentType(sniff[:n])
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			writeServiceError(w, logger, fmt.Errorf("rewinding upload: %w", err))
			return
		}
	}
	utils.AddToLogMessage(logger, fmt.Sprintf("File: %s (%s, %d bytes)", header.Filename, contentType, header.Size))

	profile, err := h.profiles.UploadPicture(r.Context(), userID, services.PictureUpload{
		File:        file,
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
	})
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	utils.AddToLogMessage(logger, "Picture uploaded successfully")
	utils.RespondJSON(w, http.StatusOK, profile)
}
