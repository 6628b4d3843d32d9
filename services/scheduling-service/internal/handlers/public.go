package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/booking"
)

// PublicHandler serves the token-based customer self-service surface. It sits
// behind the public rate limiter and never exposes internal ids beyond the
// appointment's own.
type PublicHandler struct {
	orchestrator *booking.Orchestrator
	logger       *slog.Logger
}

func NewPublicHandler(orchestrator *booking.Orchestrator, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{orchestrator: orchestrator, logger: logger}
}

type publicAppointmentResponse struct {
	AppointmentID int64  `json:"appointment_id"`
	ServiceID     int64  `json:"service_id"`
	ProviderID    int64  `json:"provider_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	LocationName  string `json:"location_name,omitempty"`
}

// Lookup serves GET /public/appointments?token=.
func (h *PublicHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	appt, err := h.orchestrator.GetByPublicToken(r.Context(), token)
	if err != nil {
		h.logger.Error("public lookup failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if appt == nil {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(publicAppointmentResponse{
		AppointmentID: appt.ID,
		ServiceID:     appt.ServiceID,
		ProviderID:    appt.ProviderID,
		StartTime:     appt.StartAt.Format(time.RFC3339),
		EndTime:       appt.EndAt.Format(time.RFC3339),
		Status:        string(appt.Status),
		LocationName:  appt.LocationName,
	})
}

type publicRescheduleRequest struct {
	Token           string `json:"token"`
	AppointmentDate string `json:"appointment_date"`
	AppointmentTime string `json:"appointment_time"`
	Timezone        string `json:"timezone"`
}

// Reschedule serves POST /public/appointments/reschedule. The minimum-notice
// window applies here but not to staff reschedules.
func (h *PublicHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req publicRescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" || req.AppointmentDate == "" || req.AppointmentTime == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	appt, err := h.orchestrator.GetByPublicToken(r.Context(), req.Token)
	if err != nil {
		h.logger.Error("public lookup failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if appt == nil {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}

	res, err := h.orchestrator.Reschedule(r.Context(), booking.RescheduleInput{
		AppointmentID: appt.ID,
		Date:          strings.TrimSpace(req.AppointmentDate),
		Time:          strings.TrimSpace(req.AppointmentTime),
		Timezone:      req.Timezone,
		SelfService:   true,
	})
	if err != nil {
		h.logger.Error("public reschedule failed", "err", err, "appointment_id", appt.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeResult(w, res, http.StatusOK)
}

// Cancel serves POST /public/appointments/cancel.
func (h *PublicHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	appt, err := h.orchestrator.GetByPublicToken(r.Context(), req.Token)
	if err != nil {
		h.logger.Error("public lookup failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if appt == nil {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}

	res, err := h.orchestrator.Cancel(r.Context(), 0, appt.ID, nil)
	if err != nil {
		h.logger.Error("public cancel failed", "err", err, "appointment_id", appt.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeResult(w, res, http.StatusOK)
}
