package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microvolunteer/platform/models"
	"github.com/microvolunteer/platform/store"
	"github.com/microvolunteer/platform/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MaxPictureBytes caps a profile picture upload.
const MaxPictureBytes = 5 << 20

var pictureExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (primitive.ObjectID, error)
}

type ProfileService struct {
	users    store.UserStore
	auth     Authenticator
	pictures PictureStorage
	now      func() time.Time
}

// NewProfileService wires profile reads and edits. pictures may be nil, in
// which case uploads are refused.
func NewProfileService(users store.UserStore, auth Authenticator, pictures PictureStorage) *ProfileService {
	return &ProfileService{
		users:    users,
		auth:     auth,
		pictures: pictures,
		now:      time.Now,
	}
}

// ProfileInput is a partial profile edit; nil fields are left alone.
type ProfileInput struct {
	Name   *string `json:"name"`
	Gender *string `json:"gender"`
	About  *string `json:"about"`
}

// PictureUpload is a picture file as received from the client.
type PictureUpload struct {
	File        io.Reader
	Filename    string
	ContentType string
	Size        int64
}

// GetUserProfile authenticates token and returns the public profile of
// userID.
func (s *ProfileService) GetUserProfile(ctx context.Context, userID, token string) (*models.PublicUser, error) {
	if _, err := s.auth.Authenticate(ctx, token); err != nil {
		return nil, err
	}
	id, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: user does not exist", ErrNotFound)
	}
	return s.profile(ctx, id)
}

// GetMyProfile returns the caller's own profile.
func (s *ProfileService) GetMyProfile(ctx context.Context, userID primitive.ObjectID) (*models.PublicUser, error) {
	return s.profile(ctx, userID)
}

func (s *ProfileService) UpdateProfile(ctx context.Context, userID primitive.ObjectID, input ProfileInput) (*models.PublicUser, error) {
	var update models.ProfileUpdate
	errs := make(ValidationErrors)
	if input.Name != nil {
		name := utils.PlainText(*input.Name)
		validateName(name, errs)
		update.Name = &name
	}
	if input.Gender != nil {
		gender := strings.ToLower(strings.TrimSpace(*input.Gender))
		validateGender(gender, errs)
		update.Gender = &gender
	}
	if input.About != nil {
		about := utils.PlainText(*input.About)
		validateAbout(about, errs)
		update.About = &about
	}
	if update.Name == nil && update.Gender == nil && update.About == nil {
		errs.Add("body", "Nothing to update")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	user, err := s.users.UpdateProfile(ctx, userID, update, s.now())
	if err != nil {
		return nil, userError(err)
	}
	return s.public(ctx, user), nil
}

// UploadPicture stores a new profile picture for userID and points the
// profile at it.
func (s *ProfileService) UploadPicture(ctx context.Context, userID primitive.ObjectID, upload PictureUpload) (*models.PublicUser, error) {
	if s.pictures == nil {
		return nil, fmt.Errorf("picture storage is not configured")
	}

	ext := strings.ToLower(filepath.Ext(upload.Filename))
	errs := make(ValidationErrors)
	switch {
	case upload.Size <= 0:
		errs.Add("picture", "Picture is empty")
	case upload.Size > MaxPictureBytes:
		errs.Add("picture", "Picture must be at most 5 MB")
	case !strings.HasPrefix(upload.ContentType, "image/"):
		errs.Add("picture", "Picture must be an image")
	case !pictureExtensions[ext]:
		errs.Add("picture", "Picture must be a jpg, png, gif or webp file")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("profile_pictures/%s/%s%s", userID.Hex(), uuid.NewString(), ext)
	ref, err := s.pictures.SavePicture(ctx, io.LimitReader(upload.File, MaxPictureBytes), key, upload.ContentType)
	if err != nil {
		return nil, fmt.Errorf("saving picture: %w", err)
	}

	user, err := s.users.SetProfilePicture(ctx, userID, ref, s.now())
	if err != nil {
		return nil, userError(err)
	}
	return s.public(ctx, user), nil
}

func (s *ProfileService) profile(ctx context.Context, id primitive.ObjectID) (*models.PublicUser, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, userError(err)
	}
	return s.public(ctx, user), nil
}

// public projects user and resolves its picture reference to a loadable URL.
func (s *ProfileService) public(ctx context.Context, user *models.User) *models.PublicUser {
	p := user.Public()
	ref := p.ProfilePicture
	if ref == "" || s.pictures == nil || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return &p
	}
	url, err := s.pictures.PictureURL(ctx, ref)
	if err != nil {
		log.Printf("resolving picture %s: %v", ref, err)
		return &p
	}
	p.ProfilePicture = url
	return &p
}

func userError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: user does not exist", ErrNotFound)
	}
	return fmt.Errorf("loading user: %w", err)
}
