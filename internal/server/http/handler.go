package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"evaluation_service/internal/domain"
	"evaluation_service/internal/repository"
	"evaluation_service/internal/scheduler"
	"evaluation_service/internal/service"
	"evaluation_service/pkg/logger"
)

// EvaluationHandler exposes the authoring callbacks over HTTP. These routes
// are the only way an editor UI or import job should touch the schedule.
type EvaluationHandler struct {
	svc *service.EvaluationService
	log *logger.Logger
}

func NewEvaluationHandler(svc *service.EvaluationService, log *logger.Logger) *EvaluationHandler {
	return &EvaluationHandler{svc: svc, log: log}
}

func (h *EvaluationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/evaluations", h.Create)
	r.Get("/evaluations/{id}", h.Get)
	r.Patch("/evaluations/{id}/dates", h.UpdateDates)
	r.Delete("/evaluations/{id}", h.Delete)
}

type createRequest struct {
	OwnerID             string     `json:"owner_id"`
	Title               string     `json:"title"`
	StartDate           time.Time  `json:"start_date"`
	DueDate             *time.Time `json:"due_date,omitempty"`
	StopDate            *time.Time `json:"stop_date,omitempty"`
	ViewDate            *time.Time `json:"view_date,omitempty"`
	InstructorsViewDate *time.Time `json:"instructors_view_date,omitempty"`
	StudentsViewDate    *time.Time `json:"students_view_date,omitempty"`
	ReminderDays        int        `json:"reminder_days"`
	ResultsPrivate      bool       `json:"results_private"`
}

type updateDatesRequest struct {
	StartDate           time.Time  `json:"start_date"`
	DueDate             *time.Time `json:"due_date,omitempty"`
	StopDate            *time.Time `json:"stop_date,omitempty"`
	ViewDate            *time.Time `json:"view_date,omitempty"`
	InstructorsViewDate *time.Time `json:"instructors_view_date,omitempty"`
	StudentsViewDate    *time.Time `json:"students_view_date,omitempty"`
	ReminderDays        int        `json:"reminder_days"`
	ResultsPrivate      bool       `json:"results_private"`
}

type evaluationResponse struct {
	ID                  string     `json:"id"`
	OwnerID             string     `json:"owner_id"`
	Title               string     `json:"title"`
	StartDate           time.Time  `json:"start_date"`
	DueDate             *time.Time `json:"due_date,omitempty"`
	StopDate            *time.Time `json:"stop_date,omitempty"`
	ViewDate            *time.Time `json:"view_date,omitempty"`
	InstructorsViewDate *time.Time `json:"instructors_view_date,omitempty"`
	StudentsViewDate    *time.Time `json:"students_view_date,omitempty"`
	State               string     `json:"state"`
	ReminderDays        int        `json:"reminder_days"`
	ResultsPrivate      bool       `json:"results_private"`
	CreatedAt           time.Time  `json:"created_at"`
	EditedAt            time.Time  `json:"edited_at"`
}

func (h *EvaluationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" || req.Title == "" {
		writeErrorJSON(w, http.StatusBadRequest, "owner_id and title are required")
		return
	}

	eval := &domain.Evaluation{
		OwnerID:             req.OwnerID,
		Title:               req.Title,
		StartDate:           req.StartDate,
		DueDate:             req.DueDate,
		StopDate:            req.StopDate,
		ViewDate:            req.ViewDate,
		InstructorsViewDate: req.InstructorsViewDate,
		StudentsViewDate:    req.StudentsViewDate,
		ReminderDays:        req.ReminderDays,
		ResultsPrivate:      req.ResultsPrivate,
	}

	created, err := h.svc.Create(r.Context(), eval)
	if err != nil {
		h.log.Error("failed to create evaluation", zap.Error(err))
		writeErrorJSON(w, mapErr(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(created))
}

func (h *EvaluationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	eval, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeErrorJSON(w, mapErr(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toResponse(eval))
}

func (h *EvaluationHandler) UpdateDates(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req updateDatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}

	eval, err := h.svc.UpdateDates(r.Context(), id, service.DateChange{
		StartDate:           req.StartDate,
		DueDate:             req.DueDate,
		StopDate:            req.StopDate,
		ViewDate:            req.ViewDate,
		InstructorsViewDate: req.InstructorsViewDate,
		StudentsViewDate:    req.StudentsViewDate,
		ReminderDays:        req.ReminderDays,
		ResultsPrivate:      req.ResultsPrivate,
	})
	if err != nil {
		// The edit is not applied until reconciliation succeeds.
		h.log.Error("failed to update evaluation dates",
			zap.String("evaluation_id", id), zap.Error(err))
		writeErrorJSON(w, mapErr(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toResponse(eval))
}

func (h *EvaluationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeErrorJSON(w, mapErr(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := uuid.Validate(id); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid evaluation id")
		return "", false
	}
	return id, true
}

func mapErr(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidDates),
		errors.Is(err, service.ErrInvalidStart),
		errors.Is(err, scheduler.ErrNotInQueue),
		errors.Is(err, scheduler.ErrUnknownState):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrEvaluationLocked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func toResponse(eval *domain.Evaluation) evaluationResponse {
	return evaluationResponse{
		ID:                  eval.ID,
		OwnerID:             eval.OwnerID,
		Title:               eval.Title,
		StartDate:           eval.StartDate,
		DueDate:             eval.DueDate,
		StopDate:            eval.StopDate,
		ViewDate:            eval.ViewDate,
		InstructorsViewDate: eval.InstructorsViewDate,
		StudentsViewDate:    eval.StudentsViewDate,
		State:               string(eval.State),
		ReminderDays:        eval.ReminderDays,
		ResultsPrivate:      eval.ResultsPrivate,
		CreatedAt:           eval.CreatedAt,
		EditedAt:            eval.EditedAt,
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorJSON(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp, _ := json.Marshal(map[string]string{"error": message})
	_, _ = w.Write(resp)
}
