package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/luminacare/twinpulse/internal/alerts"
	"github.com/luminacare/twinpulse/internal/errs"
	"github.com/luminacare/twinpulse/internal/observability/metrics"
	"github.com/luminacare/twinpulse/internal/pipeline"
)

// CarePlanHandler handles alert, next-best-action, task and note endpoints.
type CarePlanHandler struct {
	pipe    *pipeline.Pipeline
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCarePlanHandler creates a new handler
func NewCarePlanHandler(pipe *pipeline.Pipeline, m *metrics.Metrics, logger *zap.Logger) *CarePlanHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CarePlanHandler{
		pipe:    pipe,
		metrics: m,
		logger:  logger,
	}
}

// Routes returns the handler routes
func (h *CarePlanHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}/alerts/history", h.AlertHistory)
	r.Post("/{id}/alerts/{alertID}/dismiss", h.DismissAlert)
	r.Post("/{id}/alerts/{alertID}/escalate", h.EscalateAlert)
	r.Post("/{id}/actions/{actionID}/assign", h.AssignAction)
	r.Post("/{id}/actions/{actionID}/snooze", h.SnoozeAction)
	r.Post("/{id}/actions/{actionID}/complete", h.CompleteAction)
	r.Post("/{id}/tasks", h.CreateTask)
	r.Post("/{id}/tasks/{taskID}/complete", h.CompleteTask)
	r.Post("/{id}/notes", h.AddNote)
	return r
}

// AlertHistory handles GET /patients/{id}/alerts/history
func (h *CarePlanHandler) AlertHistory(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")

	history, err := h.pipe.AlertHistory(patientID)
	if err != nil {
		h.jsonError(w, err.Error(), errs.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"alerts": history})
}

// DismissAlert handles POST /patients/{id}/alerts/{alertID}/dismiss
func (h *CarePlanHandler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")
	alertID := chi.URLParam(r, "alertID")

	if err := h.pipe.DismissAlert(patientID, alertID); err != nil {
		h.jsonError(w, err.Error(), errs.HTTPStatus(err))
		return
	}
	h.logger.Info("alert dismissed",
		zap.String("patient_id", patientID),
		zap.String("alert_id", alertID))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "dismissed"})
}

// EscalateAlertRequest is the request body for escalating an alert.
type EscalateAlertRequest struct {
	Priority string `json:"priority"`
}

// EscalateAlert handles POST /patients/{id}/alerts/{alertID}/escalate
func (h *CarePlanHandler) EscalateAlert(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")
	alertID := chi.URLParam(r, "alertID")

	var req EscalateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	priority := alerts.Priority(req.Priority)
	if priority.Rank() == 0 {
		h.jsonError(w, "unknown priority: "+req.Priority, http.StatusBadRequest)
		return
	}

	if err := h.pipe.EscalateAlert(patientID, alertID, priority); err != nil {
		h.jsonError(w, err.Error(), errs.HTTPStatus(err))
		return
	}
	h.logger.Info("alert escalated",
		zap.String("patient_id", patientID),
		zap.String("alert_id", alertID),
		zap.String("priority", req.Priority))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "escalated", "priority": req.Priority})
}

// AssignAction handles POST /patients/{id}/actions/{actionID}/assign
func (h *CarePlanHandler) AssignAction(w http.ResponseWriter, r *http.Request) {
	h.transitionAction(w, r, "assigned", h.pipe.AssignAction)
}

// SnoozeAction handles POST /patients/{id}/actions/{actionID}/snooze
func (h *CarePlanHandler) SnoozeAction(w http.ResponseWriter, r *http.Request) {
	h.transitionAction(w, r, "snoozed", h.pipe.SnoozeAction)
}

// CompleteAction handles POST /patients/{id}/actions/{actionID}/complete
func (h *CarePlanHandler) CompleteAction(w http.ResponseWriter, r *http.Request) {
	h.transitionAction(w, r, "completed", h.pipe.CompleteAction)
}

func (h *CarePlanHandler) transitionAction(w http.ResponseWriter, r *http.Request, status string, fn func(patientID, actionID string) error) {
	patientID := chi.URLParam(r, "id")
	actionID := chi.URLParam(r, "actionID")

	if err := fn(patientID, actionID); err != nil {
		h.jsonError(w, err.Error(), errs.HTTPStatus(err))
		return
	}
	h.logger.Info("action transitioned",
		zap.String("patient_id", patientID),
		zap.String("action_id", actionID),
		zap.String("status", status))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// CreateTaskRequest is the request body for creating a task.
type CreateTaskRequest struct {
	Title       string    `json:"title"`
	Owner       string    `json:"owner,omitempty"`
	Description string    `json:"description,omitempty"`
	Due         time.Time `json:"due,omitempty"`
}

// CreateTask handles POST /patients/{id}/tasks
func (h *CarePlanHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	task, err := h.pipe.CreateTask(patientID, req.Title, req.Owner, req.Description, req.Due)
	if err != nil {
		h.jsonError(w, err.Error(), errs.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(task)
}

// CompleteTask handles POST /patients/{id}/tasks/{taskID}/complete
func (h *CarePlanHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")
	taskID := chi.URLParam(r, "taskID")

	task, err := h.pipe.CompleteTask(patientID, taskID)
	if err != nil {
		h.jsonError(w, err.Error(), errs.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(task)
}

// AddNoteRequest is the request body for appending a care note.
type AddNoteRequest struct {
	Author string `json:"author"`
	Role   string `json:"role,omitempty"`
	Text   string `json:"text"`
}

// AddNote handles POST /patients/{id}/notes
func (h *CarePlanHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")

	var req AddNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	note, err := h.pipe.AddNote(patientID, req.Author, req.Role, req.Text)
	if err != nil {
		h.jsonError(w, err.Error(), errs.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(note)
}

func (h *CarePlanHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
