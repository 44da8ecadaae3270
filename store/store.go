// Package store persists users and tasks.
//
// Every state-changing task operation is a single conditional write: the
// precondition (current status, acting user) is part of the write's filter, so
// two callers racing on the same task cannot both succeed. A write whose
// precondition no longer holds returns ErrConflict.
package store

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/microvolunteer/platform/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	ErrConflict  = errors.New("record changed by another request")
)

// UserStore persists user records.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateProfile(ctx context.Context, id primitive.ObjectID, update models.ProfileUpdate, at time.Time) (*models.User, error)
	SetProfilePicture(ctx context.Context, id primitive.ObjectID, ref string, at time.Time) (*models.User, error)

	// SetResetCode stores a pending password reset, replacing any earlier
	// one and clearing its attempt count.
	SetResetCode(ctx context.Context, id primitive.ObjectID, codeHash string, expiresAt, at time.Time) error

	// RecordResetAttempt counts one wrong guess against the pending reset.
	RecordResetAttempt(ctx context.Context, id primitive.ObjectID) error

	// ResetPassword replaces the password and clears the pending reset, but
	// only while codeHash is still the live, unexpired code with attempts
	// left. Otherwise it returns ErrConflict.
	ResetPassword(ctx context.Context, id primitive.ObjectID, codeHash, passwordHash string, at time.Time) error
}

// TaskStore persists task records.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id primitive.ObjectID) (*models.Task, error)

	// ListTasks returns the tasks matching f, newest first. The query runs
	// when the sequence is ranged over and again on every new range.
	ListTasks(ctx context.Context, f TaskFilter) iter.Seq2[*models.Task, error]

	// ClaimTask moves an open task to claimed by claimant. Unless
	// allowCreator is set the creator cannot be the claimant.
	ClaimTask(ctx context.Context, id, claimant primitive.ObjectID, allowCreator bool, at time.Time) (*models.Task, error)

	// CompleteTask moves a claimed task to completed; actor must be the
	// creator or the claimant.
	CompleteTask(ctx context.Context, id, actor primitive.ObjectID, at time.Time) (*models.Task, error)

	// UpdateOpenTask applies edit to a task that is still open and owned by
	// creator.
	UpdateOpenTask(ctx context.Context, id, creator primitive.ObjectID, edit models.TaskEdit, at time.Time) (*models.Task, error)

	// DeleteOpenTask removes a task that is still open and owned by creator.
	DeleteOpenTask(ctx context.Context, id, creator primitive.ObjectID) error
}

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	Status      models.TaskStatus
	CreatorID   *primitive.ObjectID
	ClaimedByID *primitive.ObjectID
	Near        *GeoRadius
	Skip        int64
	Limit       int64
}

// GeoRadius selects tasks whose coordinates lie within RadiusKm of a point.
type GeoRadius struct {
	Lat      float64
	Lng      float64
	RadiusKm float64
}

var (
	_ UserStore = (*MongoUserStore)(nil)
	_ UserStore = (*MemoryUserStore)(nil)
	_ TaskStore = (*MongoTaskStore)(nil)
	_ TaskStore = (*MemoryTaskStore)(nil)
)
