// Package handlers provides HTTP handlers for the portal API.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/luminacare/twinpulse/internal/domain/event"
	"github.com/luminacare/twinpulse/internal/domain/patient"
	"github.com/luminacare/twinpulse/internal/engagement"
	"github.com/luminacare/twinpulse/internal/errs"
	"github.com/luminacare/twinpulse/internal/observability/metrics"
	"github.com/luminacare/twinpulse/internal/pipeline"
	"github.com/luminacare/twinpulse/internal/readmodel"
)

// PatientHandler handles patient snapshot, event ingestion and survey endpoints.
type PatientHandler struct {
	registry  *patient.Registry
	pipe      *pipeline.Pipeline
	assembler *readmodel.Assembler
	surveys   *engagement.Store
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewPatientHandler creates a new handler
func NewPatientHandler(registry *patient.Registry, pipe *pipeline.Pipeline, assembler *readmodel.Assembler, surveys *engagement.Store, m *metrics.Metrics, logger *zap.Logger) *PatientHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatientHandler{
		registry:  registry,
		pipe:      pipe,
		assembler: assembler,
		surveys:   surveys,
		metrics:   m,
		logger:    logger,
	}
}

// Routes returns the handler routes
func (h *PatientHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}/snapshot", h.Snapshot)
	r.Post("/{id}/events", h.IngestEvent)
	r.Post("/{id}/surveys", h.RecordSurvey)
	r.Put("/{id}/careteam", h.UpdateCareTeam)
	return r
}

// Snapshot handles GET /patients/{id}/snapshot
func (h *PatientHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("patient-handler")
	ctx, span := tracer.Start(ctx, "assemble_snapshot")
	defer span.End()

	patientID := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("patient.id", patientID))

	start := time.Now()
	snap, err := h.assembler.Assemble(ctx, patientID)
	if err != nil {
		h.logger.Warn("snapshot assembly failed",
			zap.String("patient_id", patientID),
			zap.Error(err))
		h.jsonError(w, err.Error(), errs.HTTPStatus(err))
		return
	}
	if h.metrics != nil {
		h.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// IngestEventRequest is the request body for posting a care event. Exactly
// one of the payload fields must be set, matching the kind.
type IngestEventRequest struct {
	Kind          string               `json:"kind"`
	ID            string               `json:"id,omitempty"`
	Dose          *event.Dose          `json:"dose,omitempty"`
	Vital         *event.Vital         `json:"vital,omitempty"`
	Communication *event.Communication `json:"communication,omitempty"`
}

// IngestEventResponse is the response for posting a care event.
type IngestEventResponse struct {
	ID        string `json:"id"`
	PatientID string `json:"patient_id"`
	Kind      string `json:"kind"`
}

// IngestEvent handles POST /patients/{id}/events
func (h *PatientHandler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("patient-handler")
	ctx, span := tracer.Start(ctx, "ingest_event")
	defer span.End()

	patientID := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("patient.id", patientID))

	var req IngestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var (
		ce  event.CareEvent
		err error
	)
	switch event.Kind(req.Kind) {
	case event.KindDose:
		if req.Dose == nil {
			h.jsonError(w, "dose payload is required", http.StatusBadRequest)
			return
		}
		ce, err = event.NewDose(patientID, *req.Dose)
	case event.KindVital:
		if req.Vital == nil {
			h.jsonError(w, "vital payload is required", http.StatusBadRequest)
			return
		}
		ce, err = event.NewVital(patientID, *req.Vital)
	case event.KindCommunication:
		if req.Communication == nil {
			h.jsonError(w, "communication payload is required", http.StatusBadRequest)
			return
		}
		ce, err = event.NewCommunication(patientID, *req.Communication)
	default:
		h.jsonError(w, "unknown event kind: "+req.Kind, http.StatusBadRequest)
		return
	}
	if err != nil {
		h.jsonError(w, err.Error(), errs.HTTPStatus(err))
		return
	}
	// Clients may supply their own id so retried posts land on the same row.
	if req.ID != "" {
		ce.ID = req.ID
	}
	span.SetAttributes(attribute.String("event.id", ce.ID))

	id, err := h.pipe.IngestEvent(ctx, ce)
	if err != nil {
		h.logger.Error("event ingestion failed",
			zap.String("patient_id", patientID),
			zap.String("event_id", ce.ID),
			zap.Error(err))
		h.jsonError(w, err.Error(), errs.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(IngestEventResponse{
		ID:        id,
		PatientID: patientID,
		Kind:      req.Kind,
	})
}

// RecordSurveyRequest is the request body for recording a satisfaction survey.
type RecordSurveyRequest struct {
	EpisodeID string `json:"episode_id,omitempty"`
	NPS       *int   `json:"nps,omitempty"`
	CSAT      *int   `json:"csat,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// RecordSurvey handles POST /patients/{id}/surveys
func (h *PatientHandler) RecordSurvey(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")

	var req RecordSurveyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp := engagement.Response{
		PatientID: patientID,
		EpisodeID: req.EpisodeID,
		NPS:       req.NPS,
		CSAT:      req.CSAT,
		Comment:   req.Comment,
		At:        time.Now().UTC(),
	}
	if err := h.surveys.Record(resp); err != nil {
		h.jsonError(w, err.Error(), errs.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"status": "recorded"})
}

// UpdateCareTeamRequest is the request body for replacing the care team.
type UpdateCareTeamRequest struct {
	CareTeam []patient.Caregiver `json:"care_team"`
}

// UpdateCareTeam handles PUT /patients/{id}/careteam. Replacing the roster
// is the one mutation a patient record permits after creation.
func (h *PatientHandler) UpdateCareTeam(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")

	var req UpdateCareTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.registry.SetCareTeam(patientID, req.CareTeam); err != nil {
		h.jsonError(w, err.Error(), errs.HTTPStatus(err))
		return
	}
	h.logger.Info("care team updated",
		zap.String("patient_id", patientID),
		zap.Int("members", len(req.CareTeam)))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "updated", "members": len(req.CareTeam)})
}

func (h *PatientHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
