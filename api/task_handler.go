package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/microvolunteer/platform/models"
	"github.com/microvolunteer/platform/services"
	"github.com/microvolunteer/platform/store"
	"github.com/microvolunteer/platform/utils"
)

// TaskHandler serves the task lifecycle endpoints.
type TaskHandler struct {
	tasks *services.TaskService
}

func NewTaskHandler(tasks *services.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// taskResponse is a task plus a map link when it has coordinates.
type taskResponse struct {
	*models.Task
	MapURL string `json:"map_url,omitempty"`
}

// TaskListResponse is the body of GET /api/tasks.
type TaskListResponse struct {
	Tasks []taskResponse `json:"tasks"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

func newTaskResponse(t *models.Task) taskResponse {
	resp := taskResponse{Task: t}
	if t.Location.HasCoordinates() {
		resp.MapURL = utils.OpenStreetMapURL(*t.Location.Lat, *t.Location.Lng)
	}
	return resp
}

// ListTasksHandler lists tasks newest first. "me" is accepted for creator and
// claimed_by when the request carries a token.
func (h *TaskHandler) ListTasksHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[List Tasks API]")
	defer flush()

	q, errs := parseTaskQuery(r)
	if err := errs.Err(); err != nil {
		writeServiceError(w, logger, err)
		return
	}
	utils.AddToLogMessage(logger, fmt.Sprintf("Query: %s", r.URL.RawQuery))

	seq, err := h.tasks.ListTasks(r.Context(), q)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	out := []taskResponse{}
	for task, err := range seq {
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		out = append(out, newTaskResponse(task))
	}

	page, limit := services.Paging(q.Page, q.Limit)
	utils.AddToLogMessage(logger, fmt.Sprintf("Returned %d tasks", len(out)))
	utils.RespondJSON(w, http.StatusOK, TaskListResponse{Tasks: out, Page: page, Limit: limit})
}

func parseTaskQuery(r *http.Request) (services.TaskQuery, services.ValidationErrors) {
	values := r.URL.Query()
	errs := make(services.ValidationErrors)
	q := services.TaskQuery{
		Status:      values.Get("status"),
		CreatorID:   values.Get("creator"),
		ClaimedByID: values.Get("claimed_by"),
	}

	if q.CreatorID == "me" || q.ClaimedByID == "me" {
		userID, err := GetUserIDFromContext(r.Context())
		if q.CreatorID == "me" {
			if err != nil {
				errs.Add("creator", "Sign in to filter by your own tasks")
			} else {
				q.CreatorID = userID.Hex()
			}
		}
		if q.ClaimedByID == "me" {
			if err != nil {
				errs.Add("claimed_by", "Sign in to filter by your own tasks")
			} else {
				q.ClaimedByID = userID.Hex()
			}
		}
	}

	if near := values.Get("near"); near != "" {
		latStr, lngStr, ok := strings.Cut(near, ",")
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
		lng, lngErr := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
		if !ok || latErr != nil || lngErr != nil {
			errs.Add("near", "Near must be lat,lng")
		} else {
			q.Near = &store.GeoRadius{Lat: lat, Lng: lng}
		}
	}
	if radius := values.Get("radius"); radius != "" {
		km, err := strconv.ParseFloat(radius, 64)
		switch {
		case err != nil:
			errs.Add("radius", "Radius must be a number")
		case q.Near == nil:
			errs.Add("radius", "Radius needs near")
		default:
			q.Near.RadiusKm = km
		}
	}

	if page := values.Get("page"); page != "" {
		n, err := strconv.Atoi(page)
		if err != nil {
			errs.Add("page", "Page must be a number")
		}
		q.Page = n
	}
	if limit := values.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			errs.Add("limit", "Limit must be a number")
		}
		q.Limit = n
	}
	return q, errs
}

// GetTaskHandler returns one task
func (h *TaskHandler) GetTaskHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Get Task API]")
	defer flush()

	id := r.PathValue("id")
	utils.AddToLogMessage(logger, fmt.Sprintf("Task ID: %s", id))

	task, err := h.tasks.GetTask(r.Context(), id)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, newTaskResponse(task))
}

// CreateTaskHandler posts a new task
func (h *TaskHandler) CreateTaskHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Create Task API]")
	defer flush()

	userID, ok := callerID(w, r, logger)
	if !ok {
		return
	}

	var req services.TaskInput
	if !decodeJSON(w, r, logger, &req) {
		return
	}

	task, err := h.tasks.CreateTask(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	utils.AddToLogMessage(logger, fmt.Sprintf("Task %s created", task.ID.Hex()))
	utils.RespondJSON(w, http.StatusCreated, newTaskResponse(task))
}

// UpdateTaskHandler edits an open task
func (h *TaskHandler) UpdateTaskHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Update Task API]")
	defer flush()

	userID, ok := callerID(w, r, logger)
	if !ok {
		return
	}
	id := r.PathValue("id")
	utils.AddToLogMessage(logger, fmt.Sprintf("Task ID: %s", id))

	var req services.TaskPatch
	if !decodeJSON(w, r, logger, &req) {
		return
	}

	task, err := h.tasks.UpdateTask(r.Context(), userID, id, req)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	utils.AddToLogMessage(logger, "Task updated")
	utils.RespondJSON(w, http.StatusOK, newTaskResponse(task))
}

// ClaimTaskHandler volunteers the caller for a task
func (h *TaskHandler) ClaimTaskHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Claim Task API]")
	defer flush()

	userID, ok := callerID(w, r, logger)
	if !ok {
		return
	}
	id := r.PathValue("id")
	utils.AddToLogMessage(logger, fmt.Sprintf("Task ID: %s", id))

	task, err := h.tasks.ClaimTask(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	utils.AddToLogMessage(logger, "Task claimed")
	utils.RespondJSON(w, http.StatusOK, newTaskResponse(task))
}

// CompleteTaskHandler marks a claimed task completed
func (h *TaskHandler) CompleteTaskHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Complete Task API]")
	defer flush()

	userID, ok := callerID(w, r, logger)
	if !ok {
		return
	}
	id := r.PathValue("id")
	utils.AddToLogMessage(logger, fmt.Sprintf("Task ID: %s", id))

	task, err := h.tasks.CompleteTask(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, logger, err)
		return
	}

	utils.AddToLogMessage(logger, "Task completed")
	utils.RespondJSON(w, http.StatusOK, newTaskResponse(task))
}

// DeleteTaskHandler removes an open task
func (h *TaskHandler) DeleteTaskHandler(w http.ResponseWriter, r *http.Request) {
	logger, flush := utils.StartRequestLog("[Delete Task API]")
	defer flush()

	userID, ok := callerID(w, r, logger)
	if !ok {
		return
	}
	id := r.PathValue("id")
	utils.AddToLogMessage(logger, fmt.Sprintf("Task ID: %s", id))

	if err := h.tasks.DeleteTask(r.Context(), userID, id); err != nil {
		writeServiceError(w, logger, err)
		return
	}

	utils.AddToLogMessage(logger, "Task deleted")
	w.WriteHeader(http.StatusNoContent)
}
