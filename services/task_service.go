package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"iter"
	"log"
	"math"
	"sync"
	"time"

	"github.com/microvolunteer/platform/models"
	"github.com/microvolunteer/platform/store"
	"github.com/microvolunteer/platform/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DefaultRadiusKm = 10.0
	MaxRadiusKm     = 500.0
	DefaultPageSize = 20
	MaxPageSize     = 100

	notifyTimeout = 15 * time.Second
)

// TaskPolicy holds the business rules that vary by deployment.
type TaskPolicy struct {
	// AllowSelfClaim lets a creator claim their own task.
	AllowSelfClaim bool
}

type TaskService struct {
	tasks     store.TaskStore
	users     store.UserStore
	policy    TaskPolicy
	notifier  Notifier
	moderator Moderator
	now       func() time.Time

	// inflight tracks notifications still being sent after a response.
	inflight sync.WaitGroup
}

// NewTaskService wires the task lifecycle. notifier and moderator may be nil.
func NewTaskService(tasks store.TaskStore, users store.UserStore, policy TaskPolicy, notifier Notifier, moderator Moderator) *TaskService {
	return &TaskService{
		tasks:     tasks,
		users:     users,
		policy:    policy,
		notifier:  notifier,
		moderator: moderator,
		now:       time.Now,
	}
}

type TaskInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Location    models.Location `json:"location"`
}

// TaskPatch is a partial edit; nil fields are left alone.
type TaskPatch struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Location    *models.Location `json:"location"`
}

// TaskQuery filters ListTasks. Page is 1-based.
type TaskQuery struct {
	Status      string
	CreatorID   string
	ClaimedByID string
	Near        *store.GeoRadius
	Page        int
	Limit       int
}

// CreateTask posts a new open task owned by userID.
func (s *TaskService) CreateTask(ctx context.Context, userID primitive.ObjectID, input TaskInput) (*models.Task, error) {
	title := utils.PlainText(input.Title)
	description := utils.PlainText(input.Description)
	location := cleanLocation(input.Location)

	errs := make(ValidationErrors)
	validateTitle(title, errs)
	validateDescription(description, errs)
	validateLocation(location, errs)
	if err := errs.Err(); err != nil {
		return nil, err
	}
	if err := s.moderate(ctx, title, description); err != nil {
		return nil, err
	}

	now := s.now()
	task := &models.Task{
		ID:          primitive.NewObjectID(),
		Title:       title,
		Description: description,
		Location:    location,
		CreatorID:   userID,
		Status:      models.TaskStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	return task, nil
}

func (s *TaskService) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	id, err := parseTaskID(taskID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// ListTasks validates q and returns the matching tasks newest first. Nothing
// is read until the sequence is ranged over; ranging again re-runs the query.
func (s *TaskService) ListTasks(ctx context.Context, q TaskQuery) (iter.Seq2[*models.Task, error], error) {
	filter, err := buildFilter(q)
	if err != nil {
		return nil, err
	}
	return s.tasks.ListTasks(ctx, filter), nil
}

// Paging fills in the default page and page size for zero values.
func Paging(page, limit int) (int, int) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultPageSize
	}
	return page, limit
}

func buildFilter(q TaskQuery) (store.TaskFilter, error) {
	errs := make(ValidationErrors)
	var f store.TaskFilter

	if q.Status != "" {
		status := models.TaskStatus(q.Status)
		if !status.Valid() {
			errs.Add("status", "Status must be one of: open, claimed, completed")
		}
		f.Status = status
	}
	if q.CreatorID != "" {
		id, err := primitive.ObjectIDFromHex(q.CreatorID)
		if err != nil {
			errs.Add("creator", "Invalid user id")
		}
		f.CreatorID = &id
	}
	if q.ClaimedByID != "" {
		id, err := primitive.ObjectIDFromHex(q.ClaimedByID)
		if err != nil {
			errs.Add("claimed_by", "Invalid user id")
		}
		f.ClaimedByID = &id
	}
	if q.Near != nil {
		near := *q.Near
		// Written as negated ranges so NaN fails them.
		if !(near.Lat >= -90 && near.Lat <= 90) || !(near.Lng >= -180 && near.Lng <= 180) {
			errs.Add("near", "Coordinates out of range")
		}
		if near.RadiusKm == 0 {
			near.RadiusKm = DefaultRadiusKm
		}
		if !(near.RadiusKm > 0 && near.RadiusKm <= MaxRadiusKm) {
			errs.Add("radius", "Radius must be between 0 and 500 km")
		}
		f.Near = &near
	}

	page, limit := Paging(q.Page, q.Limit)
	if page < 1 {
		errs.Add("page", "Page must be at least 1")
	}
	if limit < 1 || limit > MaxPageSize {
		errs.Add("limit", "Limit must be between 1 and 100")
	} else if page > 1 && int64(page-1) > math.MaxInt64/int64(limit) {
		errs.Add("page", "Page is out of range")
	}
	f.Skip = int64(page-1) * int64(limit)
	f.Limit = int64(limit)

	if err := errs.Err(); err != nil {
		return store.TaskFilter{}, err
	}
	return f, nil
}

// UpdateTask edits an open task. Only the creator may edit.
func (s *TaskService) UpdateTask(ctx context.Context, userID primitive.ObjectID, taskID string, patch TaskPatch) (*models.Task, error) {
	id, err := parseTaskID(taskID)
	if err != nil {
		return nil, err
	}

	var edit models.TaskEdit
	errs := make(ValidationErrors)
	if patch.Title != nil {
		title := utils.PlainText(*patch.Title)
		validateTitle(title, errs)
		edit.Title = &title
	}
	if patch.Description != nil {
		description := utils.PlainText(*patch.Description)
		validateDescription(description, errs)
		edit.Description = &description
	}
	if patch.Location != nil {
		location := cleanLocation(*patch.Location)
		validateLocation(location, errs)
		edit.Location = &location
	}
	if edit.Title == nil && edit.Description == nil && edit.Location == nil {
		errs.Add("body", "Nothing to update")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.CreatorID != userID {
		return nil, fmt.Errorf("%w: only the creator can edit this task", ErrForbidden)
	}
	if task.Status != models.TaskStatusOpen {
		return nil, fmt.Errorf("%w: task is %s, only open tasks can be edited", ErrInvalidState, task.Status)
	}

	title, description := task.Title, task.Description
	if edit.Title != nil {
		title = *edit.Title
	}
	if edit.Description != nil {
		description = *edit.Description
	}
	if edit.Title != nil || edit.Description != nil {
		if err := s.moderate(ctx, title, description); err != nil {
			return nil, err
		}
	}

	updated, err := s.tasks.UpdateOpenTask(ctx, id, userID, edit, s.now())
	if err != nil {
		return nil, s.transitionError(err, "edited")
	}
	return updated, nil
}

// ClaimTask reserves an open task for userID.
func (s *TaskService) ClaimTask(ctx context.Context, userID primitive.ObjectID, taskID string) (*models.Task, error) {
	id, err := parseTaskID(taskID)
	if err != nil {
		return nil, err
	}

	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !task.Status.CanTransitionTo(models.TaskStatusClaimed) {
		return nil, fmt.Errorf("%w: task is already %s", ErrInvalidState, task.Status)
	}
	if task.CreatorID == userID && !s.policy.AllowSelfClaim {
		return nil, fmt.Errorf("%w: you cannot claim your own task", ErrForbidden)
	}

	claimed, err := s.tasks.ClaimTask(ctx, id, userID, s.policy.AllowSelfClaim, s.now())
	if err != nil {
		return nil, s.transitionError(err, "claimed")
	}

	s.dispatch(ctx, func(ctx context.Context) { s.notifyClaimed(ctx, claimed, userID) })
	return claimed, nil
}

// CompleteTask marks a claimed task done. The creator or the claimant may
// complete it.
func (s *TaskService) CompleteTask(ctx context.Context, userID primitive.ObjectID, taskID string) (*models.Task, error) {
	id, err := parseTaskID(taskID)
	if err != nil {
		return nil, err
	}

	task, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !task.IsParticipant(userID) {
		return nil, fmt.Errorf("%w: only the creator or the volunteer can complete this task", ErrForbidden)
	}
	if !task.Status.CanTransitionTo(models.TaskStatusCompleted) {
		return nil, fmt.Errorf("%w: task is %s, only claimed tasks can be completed", ErrInvalidState, task.Status)
	}

	completed, err := s.tasks.CompleteTask(ctx, id, userID, s.now())
	if err != nil {
		return nil, s.transitionError(err, "completed")
	}

	s.dispatch(ctx, func(ctx context.Context) { s.notifyCompleted(ctx, completed, userID) })
	return completed, nil
}

// DeleteTask removes an open task. Only the creator may delete.
func (s *TaskService) DeleteTask(ctx context.Context, userID primitive.ObjectID, taskID string) error {
	id, err := parseTaskID(taskID)
	if err != nil {
		return err
	}

	task, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if task.CreatorID != userID {
		return fmt.Errorf("%w: only the creator can delete this task", ErrForbidden)
	}
	if task.Status != models.TaskStatusOpen {
		return fmt.Errorf("%w: task is %s, only open tasks can be deleted", ErrInvalidState, task.Status)
	}

	if err := s.tasks.DeleteOpenTask(ctx, id, userID); err != nil {
		return s.transitionError(err, "deleted")
	}
	return nil
}

func (s *TaskService) load(ctx context.Context, id primitive.ObjectID) (*models.Task, error) {
	task, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: task does not exist", ErrNotFound)
		}
		return nil, fmt.Errorf("loading task: %w", err)
	}
	return task, nil
}

// transitionError maps a failed conditional write. The checks before the write
// passed, so a conflict means another request changed the task in between.
func (s *TaskService) transitionError(err error, verb string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: task does not exist", ErrNotFound)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: task changed before it could be %s", ErrInvalidState, verb)
	default:
		return fmt.Errorf("task could not be %s: %w", verb, err)
	}
}

func (s *TaskService) moderate(ctx context.Context, title, description string) error {
	if s.moderator == nil {
		return nil
	}
	approved, reason, err := s.moderator.ReviewTask(ctx, title, description)
	if err != nil {
		log.Printf("task moderation unavailable, accepting post: %v", err)
		return nil
	}
	if !approved {
		return ValidationErrors{"description": "Post rejected by moderation: " + reason}
	}
	return nil
}

// dispatch runs fn after the caller returns, detached from the request's
// cancellation and bounded by notifyTimeout.
func (s *TaskService) dispatch(ctx context.Context, fn func(ctx context.Context)) {
	if s.notifier == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until every dispatched notification has finished.
func (s *TaskService) Wait() {
	s.inflight.Wait()
}

func (s *TaskService) notifyClaimed(ctx context.Context, task *models.Task, claimant primitive.ObjectID) {
	if s.notifier == nil {
		return
	}
	creator, volunteer, ok := s.participants(ctx, task.CreatorID, claimant)
	if !ok {
		return
	}
	s.send(ctx, creator, fmt.Sprintf("Your task \"%s\" was claimed", task.Title),
		fmt.Sprintf("%s volunteered for \"%s\". Reach them at %s.", volunteer.Name, task.Title, volunteer.Email),
		fmt.Sprintf("<p><strong>%s</strong> volunteered for \"%s\".</p><p>Reach them at %s.</p>",
			html.EscapeString(volunteer.Name), html.EscapeString(task.Title), html.EscapeString(volunteer.Email)))
}

func (s *TaskService) notifyCompleted(ctx context.Context, task *models.Task, actor primitive.ObjectID) {
	if s.notifier == nil || task.ClaimedByID == nil {
		return
	}
	other := task.CreatorID
	if actor == task.CreatorID {
		other = *task.ClaimedByID
	}
	if other == actor {
		return
	}
	recipient, completer, ok := s.participants(ctx, other, actor)
	if !ok {
		return
	}
	s.send(ctx, recipient, fmt.Sprintf("Task \"%s\" is complete", task.Title),
		fmt.Sprintf("%s marked \"%s\" as completed. Thank you!", completer.Name, task.Title),
		fmt.Sprintf("<p><strong>%s</strong> marked \"%s\" as completed. Thank you!</p>",
			html.EscapeString(completer.Name), html.EscapeString(task.Title)))
}

func (s *TaskService) participants(ctx context.Context, a, b primitive.ObjectID) (*models.User, *models.User, bool) {
	first, err := s.users.GetUserByID(ctx, a)
	if err != nil {
		log.Printf("notification skipped, loading user %s: %v", a.Hex(), err)
		return nil, nil, false
	}
	second, err := s.users.GetUserByID(ctx, b)
	if err != nil {
		log.Printf("notification skipped, loading user %s: %v", b.Hex(), err)
		return nil, nil, false
	}
	return first, second, true
}

func (s *TaskService) send(ctx context.Context, to *models.User, subject, text, htmlContent string) {
	if err := s.notifier.SendEmail(ctx, to.Name, to.Email, subject, text, htmlContent); err != nil {
		log.Printf("notification to %s failed: %v", to.Email, err)
	}
}

func parseTaskID(taskID string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(taskID)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: task does not exist", ErrNotFound)
	}
	return id, nil
}
