package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cashtrack/internal/core"
	"cashtrack/internal/storage"
)

type scheduleDTO struct {
	ID          int64  `json:"id"`
	Frequency   string `json:"frequency"`
	Amount      string `json:"amount"`
	Category    string `json:"category"`
	Description string `json:"description"`
	DayOfWeek   *int   `json:"day_of_week,omitempty"`
	DayOfMonth  *int   `json:"day_of_month,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toScheduleDTO(r core.ScheduleRule) scheduleDTO {
	return scheduleDTO{
		ID:          r.ID,
		Frequency:   string(r.Frequency),
		Amount:      r.Amount.StringFixed(2),
		Category:    r.Category,
		Description: r.Description,
		DayOfWeek:   r.DayOfWeek,
		DayOfMonth:  r.DayOfMonth,
		CreatedAt:   r.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
	}
}

type createScheduleRequest struct {
	Frequency   string `json:"frequency"`
	Amount      string `json:"amount"`
	Category    string `json:"category"`
	Description string `json:"description"`
	DayOfWeek   *int   `json:"day_of_week"`
	DayOfMonth  *int   `json:"day_of_month"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule := core.ScheduleRule{
		UserID:      userID(r.Context()),
		Frequency:   core.Frequency(req.Frequency),
		Amount:      amount,
		Category:    req.Category,
		Description: req.Description,
		DayOfWeek:   req.DayOfWeek,
		DayOfMonth:  req.DayOfMonth,
		CreatedAt:   s.clock.Now(),
	}
	if err := rule.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.store.CreateRule(r.Context(), rule)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to create schedule", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	rule.ID = id
	writeJSON(w, http.StatusCreated, toScheduleDTO(rule))
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRulesByUser(r.Context(), userID(r.Context()))
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list schedules", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]scheduleDTO, len(rules))
	for i, rule := range rules {
		out[i] = toScheduleDTO(rule)
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": out})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}

	err = s.store.DeleteRule(r.Context(), userID(r.Context()), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to delete schedule", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}
