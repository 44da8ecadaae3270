package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Gender values accepted on a profile.
const (
	GenderMale      = "male"
	GenderFemale    = "female"
	GenderRatherNot = "rather not say"
)

// How an account signs in.
const (
	AuthProviderLocal  = "password"
	AuthProviderGoogle = "google"
)

// MaxResetAttempts is how many wrong reset codes an account tolerates before
// its pending code stops working.
const MaxResetAttempts = 5

// User represents a registered user
type User struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name           string             `bson:"name" json:"name"`
	Email          string             `bson:"email" json:"email"`
	Password       string             `bson:"password,omitempty" json:"-"` // Password is not returned in JSON
	Gender         string             `bson:"gender,omitempty" json:"gender,omitempty"`
	About          string             `bson:"about,omitempty" json:"about,omitempty"`
	ProfilePicture string             `bson:"profile_picture,omitempty" json:"profile_picture,omitempty"`
	AuthProvider   string             `bson:"auth_provider,omitempty" json:"-"`

	// Pending password reset. Only the code's hash is stored.
	ResetCodeHash      string     `bson:"reset_code_hash,omitempty" json:"-"`
	ResetCodeExpiresAt *time.Time `bson:"reset_code_expires_at,omitempty" json:"-"`
	ResetAttempts      int        `bson:"reset_attempts,omitempty" json:"-"`

	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at" json:"updated_at"`
}

// PublicUser is the projection of a User that is safe to hand to any caller.
type PublicUser struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Gender         string    `json:"gender,omitempty"`
	About          string    `json:"about,omitempty"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Public returns the public projection of u. The picture reference is copied
// as stored; callers resolve it to a URL.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:             u.ID.Hex(),
		Name:           u.Name,
		Email:          u.Email,
		Gender:         u.Gender,
		About:          u.About,
		ProfilePicture: u.ProfilePicture,
		CreatedAt:      u.CreatedAt,
	}
}

// ProfileUpdate carries the editable profile fields. Nil means unchanged.
type ProfileUpdate struct {
	Name   *string
	Gender *string
	About  *string
}
