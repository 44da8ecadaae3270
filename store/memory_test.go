package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/microvolunteer/platform/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func ptr[T any](v T) *T { return &v }

func newOpenTask(t *testing.T, s *MemoryTaskStore, creator primitive.ObjectID, createdAt time.Time) *models.Task {
	t.Helper()
	task := &models.Task{
		Title:       "Water my plants",
		Description: "Twice a week",
		Location:    models.Location{Address: "1 Main St"},
		CreatorID:   creator,
		Status:      models.TaskStatusOpen,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	if err := s.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func collect(t *testing.T, s *MemoryTaskStore, f TaskFilter) []*models.Task {
	t.Helper()
	var out []*models.Task
	for task, err := range s.ListTasks(context.Background(), f) {
		if err != nil {
			t.Fatalf("list tasks: %v", err)
		}
		out = append(out, task)
	}
	return out
}

func TestMemoryUserStore_DuplicateEmail(t *testing.T) {
	s := NewMemoryUserStore()
	ctx := context.Background()

	if err := s.CreateUser(ctx, &models.User{Name: "A", Email: "a@x.com"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := s.CreateUser(ctx, &models.User{Name: "A2", Email: "a@x.com"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got: %v", err)
	}
}

// checkResetPassword runs the reset code lifecycle against any UserStore.
func checkResetPassword(t *testing.T, s UserStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	user := &models.User{Name: "A", Email: "reset@x.com", Password: "old", CreatedAt: now}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.ResetPassword(ctx, user.ID, "hash", "new", now); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict without a pending code, got: %v", err)
	}

	if err := s.SetResetCode(ctx, user.ID, "hash", now.Add(time.Minute), now); err != nil {
		t.Fatalf("set code: %v", err)
	}
	if err := s.ResetPassword(ctx, user.ID, "other", "new", now); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for a different code, got: %v", err)
	}
	if err := s.ResetPassword(ctx, user.ID, "hash", "new", now.Add(2*time.Minute)); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict after expiry, got: %v", err)
	}

	for range models.MaxResetAttempts {
		if err := s.RecordResetAttempt(ctx, user.ID); err != nil {
			t.Fatalf("record attempt: %v", err)
		}
	}
	if err := s.ResetPassword(ctx, user.ID, "hash", "new", now); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict once attempts run out, got: %v", err)
	}

	// A fresh code starts a fresh attempt count.
	if err := s.SetResetCode(ctx, user.ID, "hash2", now.Add(time.Minute), now); err != nil {
		t.Fatalf("set code: %v", err)
	}
	if err := s.ResetPassword(ctx, user.ID, "hash2", "new", now); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, err := s.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Password != "new" || got.ResetCodeHash != "" || got.ResetCodeExpiresAt != nil {
		t.Errorf("expected new password and cleared code, got %+v", got)
	}
	if err := s.ResetPassword(ctx, user.ID, "hash2", "newer", now); !errors.Is(err, ErrConflict) {
		t.Errorf("expected a used code to be rejected, got: %v", err)
	}

	if err := s.SetResetCode(ctx, primitive.NewObjectID(), "hash", now, now); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing user, got: %v", err)
	}
}

func TestMemoryUserStore_ResetPassword(t *testing.T) {
	checkResetPassword(t, NewMemoryUserStore())
}

func TestMemoryUserStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryUserStore()
	ctx := context.Background()

	user := &models.User{Name: "A", Email: "a@x.com"}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.GetUserByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got.Name = "mutated"

	again, _ := s.GetUserByID(ctx, user.ID)
	if again.Name != "A" {
		t.Errorf("expected stored name to be unchanged, got '%s'", again.Name)
	}
}

func TestMemoryUserStore_UpdateProfile(t *testing.T) {
	s := NewMemoryUserStore()
	ctx := context.Background()

	user := &models.User{Name: "A", Email: "a@x.com"}
	_ = s.CreateUser(ctx, user)

	updated, err := s.UpdateProfile(ctx, user.ID, models.ProfileUpdate{About: ptr("Gardener")}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.About != "Gardener" || updated.Name != "A" {
		t.Errorf("unexpected profile after update: %+v", updated)
	}

	if _, err := s.UpdateProfile(ctx, primitive.NewObjectID(), models.ProfileUpdate{}, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestMemoryTaskStore_ListOrderAndPaging(t *testing.T) {
	s := NewMemoryTaskStore()
	creator := primitive.NewObjectID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := newOpenTask(t, s, creator, base)
	second := newOpenTask(t, s, creator, base.Add(time.Minute))
	third := newOpenTask(t, s, creator, base.Add(2*time.Minute))

	tasks := collect(t, s, TaskFilter{})
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != third.ID || tasks[1].ID != second.ID || tasks[2].ID != first.ID {
		t.Error("expected tasks newest first")
	}

	page := collect(t, s, TaskFilter{Skip: 1, Limit: 1})
	if len(page) != 1 || page[0].ID != second.ID {
		t.Errorf("expected second task on page, got %v", page)
	}

	if out := collect(t, s, TaskFilter{Skip: 10}); len(out) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(out))
	}
}

func TestMemoryTaskStore_ListIsRestartable(t *testing.T) {
	s := NewMemoryTaskStore()
	creator := primitive.NewObjectID()
	newOpenTask(t, s, creator, time.Now())

	seq := s.ListTasks(context.Background(), TaskFilter{})
	count := func() int {
		n := 0
		for _, err := range seq {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			n++
		}
		return n
	}

	if n := count(); n != 1 {
		t.Fatalf("expected 1 task, got %d", n)
	}
	newOpenTask(t, s, creator, time.Now())
	if n := count(); n != 2 {
		t.Errorf("expected re-ranging to see the new task, got %d", n)
	}
}

func TestMemoryTaskStore_ListNear(t *testing.T) {
	s := NewMemoryTaskStore()
	creator := primitive.NewObjectID()

	near := &models.Task{
		Title: "near", CreatorID: creator, Status: models.TaskStatusOpen, CreatedAt: time.Now(),
		Location: models.Location{Address: "Berlin", Lat: ptr(52.5200), Lng: ptr(13.4050)},
	}
	far := &models.Task{
		Title: "far", CreatorID: creator, Status: models.TaskStatusOpen, CreatedAt: time.Now(),
		Location: models.Location{Address: "Munich", Lat: ptr(48.1351), Lng: ptr(11.5820)},
	}
	noCoords := &models.Task{
		Title: "nowhere", CreatorID: creator, Status: models.TaskStatusOpen, CreatedAt: time.Now(),
		Location: models.Location{Address: "somewhere"},
	}
	for _, task := range []*models.Task{near, far, noCoords} {
		if err := s.CreateTask(context.Background(), task); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	tasks := collect(t, s, TaskFilter{Near: &GeoRadius{Lat: 52.5163, Lng: 13.3777, RadiusKm: 5}})
	if len(tasks) != 1 || tasks[0].ID != near.ID {
		t.Errorf("expected only the Berlin task, got %d tasks", len(tasks))
	}
	if near.Geo == nil || near.Geo.Coordinates[0] != 13.4050 {
		t.Error("expected geo point to be populated as [lng, lat]")
	}
}

func TestMemoryTaskStore_ClaimPreconditions(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()
	creator := primitive.NewObjectID()
	volunteer := primitive.NewObjectID()
	task := newOpenTask(t, s, creator, time.Now())

	if _, err := s.ClaimTask(ctx, task.ID, creator, false, time.Now()); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for creator claim, got: %v", err)
	}

	claimed, err := s.ClaimTask(ctx, task.ID, volunteer, false, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed.Status != models.TaskStatusClaimed || claimed.ClaimedByID == nil || *claimed.ClaimedByID != volunteer {
		t.Errorf("unexpected claimed task: %+v", claimed)
	}

	if _, err := s.ClaimTask(ctx, task.ID, primitive.NewObjectID(), false, time.Now()); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for second claim, got: %v", err)
	}
	if _, err := s.ClaimTask(ctx, primitive.NewObjectID(), volunteer, false, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestMemoryTaskStore_ConcurrentClaims(t *testing.T) {
	s := NewMemoryTaskStore()
	task := newOpenTask(t, s, primitive.NewObjectID(), time.Now())

	const callers = 32
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.ClaimTask(context.Background(), task.ID, primitive.NewObjectID(), false, time.Now())
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one successful claim, got %d", wins.Load())
	}
	if conflicts.Load() != callers-1 {
		t.Errorf("expected %d conflicts, got %d", callers-1, conflicts.Load())
	}
}

func TestMemoryTaskStore_CompleteRequiresParticipant(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()
	creator := primitive.NewObjectID()
	volunteer := primitive.NewObjectID()
	task := newOpenTask(t, s, creator, time.Now())

	if _, err := s.CompleteTask(ctx, task.ID, creator, time.Now()); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict completing an open task, got: %v", err)
	}
	if _, err := s.ClaimTask(ctx, task.ID, volunteer, false, time.Now()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.CompleteTask(ctx, task.ID, primitive.NewObjectID(), time.Now()); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for outsider, got: %v", err)
	}

	done, err := s.CompleteTask(ctx, task.ID, volunteer, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done.Status != models.TaskStatusCompleted || done.CompletedAt == nil {
		t.Errorf("unexpected completed task: %+v", done)
	}
}

func TestMemoryTaskStore_UpdateAndDeleteOpenOnly(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()
	creator := primitive.NewObjectID()
	task := newOpenTask(t, s, creator, time.Now())

	edited, err := s.UpdateOpenTask(ctx, task.ID, creator, models.TaskEdit{
		Title:    ptr("Feed the cat"),
		Location: &models.Location{Address: "2 Side St", Lat: ptr(1.0), Lng: ptr(2.0)},
	}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if edited.Title != "Feed the cat" || edited.Description != "Twice a week" || edited.Geo == nil {
		t.Errorf("unexpected edit result: %+v", edited)
	}

	if _, err := s.UpdateOpenTask(ctx, task.ID, primitive.NewObjectID(), models.TaskEdit{}, time.Now()); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for non-creator edit, got: %v", err)
	}

	if _, err := s.ClaimTask(ctx, task.ID, primitive.NewObjectID(), false, time.Now()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.DeleteOpenTask(ctx, task.ID, creator); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict deleting a claimed task, got: %v", err)
	}

	open := newOpenTask(t, s, creator, time.Now())
	if err := s.DeleteOpenTask(ctx, open.ID, creator); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.GetTask(ctx, open.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected deleted task to be gone, got: %v", err)
	}
}
