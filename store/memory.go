package store

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/microvolunteer/platform/models"
	"github.com/microvolunteer/platform/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryUserStore is an in-process UserStore.
type MemoryUserStore struct {
	mu      sync.RWMutex
	users   map[primitive.ObjectID]*models.User
	byEmail map[string]primitive.ObjectID
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users:   make(map[primitive.ObjectID]*models.User),
		byEmail: make(map[string]primitive.ObjectID),
	}
}

func (s *MemoryUserStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[user.Email]; exists {
		return ErrDuplicate
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	stored := *user
	s.users[user.ID] = &stored
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *MemoryUserStore) GetUserByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *user
	return &out, nil
}

func (s *MemoryUserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[email]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetUserByID(ctx, id)
}

func (s *MemoryUserStore) UpdateProfile(_ context.Context, id primitive.ObjectID, update models.ProfileUpdate, at time.Time) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if update.Name != nil {
		user.Name = *update.Name
	}
	if update.Gender != nil {
		user.Gender = *update.Gender
	}
	if update.About != nil {
		user.About = *update.About
	}
	user.UpdatedAt = at
	out := *user
	return &out, nil
}

func (s *MemoryUserStore) SetProfilePicture(_ context.Context, id primitive.ObjectID, ref string, at time.Time) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	user.ProfilePicture = ref
	user.UpdatedAt = at
	out := *user
	return &out, nil
}

func (s *MemoryUserStore) SetResetCode(_ context.Context, id primitive.ObjectID, codeHash string, expiresAt, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	user.ResetCodeHash = codeHash
	user.ResetCodeExpiresAt = &expiresAt
	user.ResetAttempts = 0
	user.UpdatedAt = at
	return nil
}

func (s *MemoryUserStore) RecordResetAttempt(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	user.ResetAttempts++
	return nil
}

func (s *MemoryUserStore) ResetPassword(_ context.Context, id primitive.ObjectID, codeHash, passwordHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	if user.ResetCodeHash == "" || user.ResetCodeHash != codeHash ||
		user.ResetCodeExpiresAt == nil || !at.Before(*user.ResetCodeExpiresAt) ||
		user.ResetAttempts >= models.MaxResetAttempts {
		return ErrConflict
	}
	user.Password = passwordHash
	user.ResetCodeHash = ""
	user.ResetCodeExpiresAt = nil
	user.ResetAttempts = 0
	user.UpdatedAt = at
	return nil
}

// MemoryTaskStore is an in-process TaskStore. Each conditional operation
// checks and writes under one lock.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[primitive.ObjectID]*models.Task
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[primitive.ObjectID]*models.Task)}
}

func (s *MemoryTaskStore) CreateTask(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID.IsZero() {
		task.ID = primitive.NewObjectID()
	}
	task.Geo = models.NewGeoPoint(task.Location)
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryTaskStore) GetTask(_ context.Context, id primitive.ObjectID) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(task), nil
}

func (s *MemoryTaskStore) ListTasks(ctx context.Context, f TaskFilter) iter.Seq2[*models.Task, error] {
	return func(yield func(*models.Task, error) bool) {
		s.mu.RLock()
		var matched []*models.Task
		for _, task := range s.tasks {
			if matchesFilter(task, f) {
				matched = append(matched, cloneTask(task))
			}
		}
		s.mu.RUnlock()

		sort.Slice(matched, func(i, j int) bool {
			if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].CreatedAt.After(matched[j].CreatedAt)
			}
			return matched[i].ID.Hex() > matched[j].ID.Hex()
		})

		if f.Skip > 0 {
			if f.Skip >= int64(len(matched)) {
				return
			}
			matched = matched[f.Skip:]
		}
		if f.Limit > 0 && f.Limit < int64(len(matched)) {
			matched = matched[:f.Limit]
		}

		for _, task := range matched {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(task, nil) {
				return
			}
		}
	}
}

func matchesFilter(task *models.Task, f TaskFilter) bool {
	if f.Status != "" && task.Status != f.Status {
		return false
	}
	if f.CreatorID != nil && task.CreatorID != *f.CreatorID {
		return false
	}
	if f.ClaimedByID != nil && (task.ClaimedByID == nil || *task.ClaimedByID != *f.ClaimedByID) {
		return false
	}
	if f.Near != nil {
		if !task.Location.HasCoordinates() {
			return false
		}
		if utils.HaversineKm(f.Near.Lat, f.Near.Lng, *task.Location.Lat, *task.Location.Lng) > f.Near.RadiusKm {
			return false
		}
	}
	return true
}

func (s *MemoryTaskStore) ClaimTask(_ context.Context, id, claimant primitive.ObjectID, allowCreator bool, at time.Time) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if task.Status != models.TaskStatusOpen || (!allowCreator && task.CreatorID == claimant) {
		return nil, ErrConflict
	}

	claimedBy := claimant
	claimedAt := at
	task.Status = models.TaskStatusClaimed
	task.ClaimedByID = &claimedBy
	task.ClaimedAt = &claimedAt
	task.UpdatedAt = at
	return cloneTask(task), nil
}

func (s *MemoryTaskStore) CompleteTask(_ context.Context, id, actor primitive.ObjectID, at time.Time) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if task.Status != models.TaskStatusClaimed || !task.IsParticipant(actor) {
		return nil, ErrConflict
	}

	completedAt := at
	task.Status = models.TaskStatusCompleted
	task.CompletedAt = &completedAt
	task.UpdatedAt = at
	return cloneTask(task), nil
}

func (s *MemoryTaskStore) UpdateOpenTask(_ context.Context, id, creator primitive.ObjectID, edit models.TaskEdit, at time.Time) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if task.Status != models.TaskStatusOpen || task.CreatorID != creator {
		return nil, ErrConflict
	}

	if edit.Title != nil {
		task.Title = *edit.Title
	}
	if edit.Description != nil {
		task.Description = *edit.Description
	}
	if edit.Location != nil {
		task.Location = cloneLocation(*edit.Location)
		task.Geo = models.NewGeoPoint(task.Location)
	}
	task.UpdatedAt = at
	return cloneTask(task), nil
}

func (s *MemoryTaskStore) DeleteOpenTask(_ context.Context, id, creator primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if task.Status != models.TaskStatusOpen || task.CreatorID != creator {
		return ErrConflict
	}
	delete(s.tasks, id)
	return nil
}

func cloneTask(t *models.Task) *models.Task {
	out := *t
	out.Location = cloneLocation(t.Location)
	if t.Geo != nil {
		geo := *t.Geo
		geo.Coordinates = append([]float64(nil), t.Geo.Coordinates...)
		out.Geo = &geo
	}
	if t.ClaimedByID != nil {
		id := *t.ClaimedByID
		out.ClaimedByID = &id
	}
	if t.ClaimedAt != nil {
		at := *t.ClaimedAt
		out.ClaimedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}

func cloneLocation(l models.Location) models.Location {
	out := l
	if l.Lat != nil {
		lat := *l.Lat
		out.Lat = &lat
	}
	if l.Lng != nil {
		lng := *l.Lng
		out.Lng = &lng
	}
	return out
}
