package services

import (
	"context"
	"io"
	"time"
)

// TokenIssuer mints bearer tokens for a user id.
type TokenIssuer interface {
	IssueToken(userID string) (token string, expiresAt time.Time, err error)
}

// TokenVerifier checks a bearer token and returns the user id it was issued for.
type TokenVerifier interface {
	VerifyToken(token string) (userID string, err error)
}

// Notifier delivers email to users.
type Notifier interface {
	SendEmail(ctx context.Context, toName, toEmail, subject, textContent, htmlContent string) error
}

// Moderator reviews a task post before it goes public.
type Moderator interface {
	ReviewTask(ctx context.Context, title, description string) (approved bool, reason string, err error)
}

// PictureStorage keeps profile pictures and resolves stored references to
// URLs a browser can load.
type PictureStorage interface {
	SavePicture(ctx context.Context, file io.Reader, key, contentType string) (ref string, err error)
	PictureURL(ctx context.Context, ref string) (string, error)
}
