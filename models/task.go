package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusOpen      TaskStatus = "open"
	TaskStatusClaimed   TaskStatus = "claimed"
	TaskStatusCompleted TaskStatus = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusClaimed, TaskStatusCompleted:
		return true
	}
	return false
}

// taskTransitions lists the statuses each status may move to. Deletion is
// not a status; only open tasks can be deleted.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusOpen:    {TaskStatusClaimed},
	TaskStatusClaimed: {TaskStatusCompleted},
}

// CanTransitionTo reports whether a task in status s may move to next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Location is where the task takes place. Lat and Lng are either both set or
// both nil.
type Location struct {
	Address string   `bson:"address" json:"address"`
	Lat     *float64 `bson:"lat,omitempty" json:"lat,omitempty"`
	Lng     *float64 `bson:"lng,omitempty" json:"lng,omitempty"`
}

// HasCoordinates reports whether both coordinates are present.
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lng != nil
}

// GeoPoint is a GeoJSON point, stored alongside the location so Mongo can run
// spherical queries on it.
type GeoPoint struct {
	Type        string    `bson:"type" json:"type"`
	Coordinates []float64 `bson:"coordinates" json:"coordinates"` // [lng, lat]
}

// NewGeoPoint builds the GeoJSON point for a location, or nil when the
// location has no coordinates.
func NewGeoPoint(l Location) *GeoPoint {
	if !l.HasCoordinates() {
		return nil
	}
	return &GeoPoint{Type: "Point", Coordinates: []float64{*l.Lng, *l.Lat}}
}

// Task represents a unit of volunteer work
type Task struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Title       string              `bson:"title" json:"title"`
	Description string              `bson:"description" json:"description"`
	Location    Location            `bson:"location" json:"location"`
	Geo         *GeoPoint           `bson:"geo,omitempty" json:"-"`
	CreatorID   primitive.ObjectID  `bson:"creator_id" json:"creator_id"`
	ClaimedByID *primitive.ObjectID `bson:"claimed_by_id,omitempty" json:"claimed_by_id,omitempty"`
	Status      TaskStatus          `bson:"status" json:"status"`
	CreatedAt   time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time           `bson:"updated_at" json:"updated_at"`
	ClaimedAt   *time.Time          `bson:"claimed_at,omitempty" json:"claimed_at,omitempty"`
	CompletedAt *time.Time          `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// IsParticipant reports whether userID created or claimed the task.
func (t *Task) IsParticipant(userID primitive.ObjectID) bool {
	if t.CreatorID == userID {
		return true
	}
	return t.ClaimedByID != nil && *t.ClaimedByID == userID
}

// TaskEdit carries the editable task fields. Nil means unchanged.
type TaskEdit struct {
	Title       *string
	Description *string
	Location    *Location
}
