package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/bobarin/scenecast/internal/models"
	"github.com/bobarin/scenecast/internal/queue"
	"github.com/bobarin/scenecast/internal/schedule"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// JobQueue is the queue surface the handlers drive.
type JobQueue interface {
	Submit(spec queue.JobSpec, task queue.Task) (*queue.Handle[*models.JobResult], error)
	Position(id string) int
	Cancel(id string) bool
	Clear() int
	ClearHistory() int
	ResetStats()
	Status() models.QueueStatus
	History(limit int) []models.HistoryEntry
}

type Schedules interface {
	List() []schedule.Entry
	Trigger(name string) error
}

// FileResolver maps a published file name to a local path.
type FileResolver interface {
	Resolve(name string) (string, error)
}

type Handler struct {
	queue     JobQueue
	tasks     schedule.TaskFactory
	schedules Schedules
	files     FileResolver
}

// NewHandler wires the handlers. schedules may be nil when no schedule file is configured.
func NewHandler(q JobQueue, tasks schedule.TaskFactory, schedules Schedules, files FileResolver) *Handler {
	return &Handler{
		queue:     q,
		tasks:     tasks,
		schedules: schedules,
		files:     files,
	}
}

// SubmitVideo handles POST /v1/videos
func (h *Handler) SubmitVideo(w http.ResponseWriter, r *http.Request) {
	var req models.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !req.Type.Valid() {
		respondError(w, http.StatusBadRequest, "Type must be one of: short, long, custom")
		return
	}
	if len(req.Scenes) == 0 && strings.TrimSpace(req.Topic) == "" {
		respondError(w, http.StatusBadRequest, "Either scenes or topic is required")
		return
	}
	if req.Orientation != "" && req.Orientation != models.OrientationVertical && req.Orientation != models.OrientationHorizontal {
		respondError(w, http.StatusBadRequest, "Orientation must be vertical or horizontal")
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if !models.ValidJobID(req.ID) {
		respondError(w, http.StatusBadRequest, "Job id may only contain letters, digits, '-' and '_'")
		return
	}
	if req.Title == "" {
		req.Title = req.Topic
	}
	if req.Title == "" {
		req.Title = "Untitled " + string(req.Type) + " video"
	}

	if source := KeySource(r.Context()); source != "" {
		if req.Metadata == nil {
			req.Metadata = models.JSONB{}
		}
		req.Metadata["auth"] = source
	}

	_, err := h.queue.Submit(queue.JobSpec{
		ID:       req.ID,
		Type:     req.Type,
		Title:    req.Title,
		Metadata: req.Metadata,
	}, h.tasks(req))
	switch {
	case errors.Is(err, queue.ErrDuplicateJob):
		respondError(w, http.StatusConflict, "A job with this id is already queued or running")
		return
	case errors.Is(err, queue.ErrInvalidJobID):
		respondError(w, http.StatusBadRequest, "Invalid job id")
		return
	case errors.Is(err, queue.ErrQueueShutdown):
		respondError(w, http.StatusServiceUnavailable, "Queue is shutting down")
		return
	case err != nil:
		log.Printf("[API] Failed to submit job %s: %v", req.ID, err)
		respondError(w, http.StatusInternalServerError, "Failed to submit job")
		return
	}

	respondJSON(w, http.StatusAccepted, models.SubmitJobResponse{
		JobID:         req.ID,
		Status:        models.JobStatusPending,
		QueuePosition: h.queue.Position(req.ID),
	})
}

// QueueStatus handles GET /v1/queue/status
func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.queue.Status())
}

// QueueHistory handles GET /v1/queue/history
// Query params:
//   - limit: max entries, newest first (default all retained)
func (h *Handler) QueueHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	respondJSON(w, http.StatusOK, h.queue.History(limit))
}

// CancelJob handles POST /v1/queue/cancel/{id}
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.queue.Cancel(id) {
		respondError(w, http.StatusNotFound, "Job not found or no longer pending")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// ClearQueue handles DELETE /v1/queue/clear
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.CountResponse{ClearedCount: h.queue.Clear()})
}

// ClearHistory handles DELETE /v1/queue/history
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.CountResponse{ClearedCount: h.queue.ClearHistory()})
}

// ResetStats handles POST /v1/queue/reset-stats
func (h *Handler) ResetStats(w http.ResponseWriter, r *http.Request) {
	h.queue.ResetStats()
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListSchedules handles GET /v1/schedules
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	if h.schedules == nil {
		respondJSON(w, http.StatusOK, []schedule.Entry{})
		return
	}
	respondJSON(w, http.StatusOK, h.schedules.List())
}

// TriggerSchedule handles POST /v1/schedules/{name}/trigger
func (h *Handler) TriggerSchedule(w http.ResponseWriter, r *http.Request) {
	if h.schedules == nil {
		respondError(w, http.StatusNotFound, "Schedule not found")
		return
	}
	if err := h.schedules.Trigger(chi.URLParam(r, "name")); err != nil {
		respondError(w, http.StatusNotFound, "Schedule not found")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// ServeVideo handles GET /v1/videos/files/{name}
func (h *Handler) ServeVideo(w http.ResponseWriter, r *http.Request) {
	path, err := h.files.Resolve(chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, http.StatusNotFound, "Video not found")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
