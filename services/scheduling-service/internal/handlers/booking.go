package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/availability"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/booking"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/model"
)

type BookingHandler struct {
	orchestrator *booking.Orchestrator
	engine       *availability.Engine
	calendar     *availability.CalendarCache
	buffer       BufferLookup
	logger       *slog.Logger
}

// BufferLookup reads the configured gap between appointments.
type BufferLookup interface {
	BufferMinutes(ctx context.Context) (int, error)
}

func NewBookingHandler(orchestrator *booking.Orchestrator, engine *availability.Engine, calendar *availability.CalendarCache, buffer BufferLookup, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		orchestrator: orchestrator,
		engine:       engine,
		calendar:     calendar,
		buffer:       buffer,
		logger:       logger,
	}
}

type createRequest struct {
	BusinessID        int64    `json:"business_id"`
	ServiceID         int64    `json:"service_id"`
	ProviderID        int64    `json:"provider_id"`
	AppointmentDate   string   `json:"appointment_date"`
	AppointmentTime   string   `json:"appointment_time"`
	Timezone          string   `json:"timezone"`
	LocationID        *int64   `json:"location_id"`
	Notes             string   `json:"notes"`
	CustomerID        *int64   `json:"customer_id"`
	CustomerEmail     string   `json:"customer_email"`
	CustomerPhone     string   `json:"customer_phone"`
	CustomerFirstName string   `json:"customer_first_name"`
	CustomerLastName  string   `json:"customer_last_name"`
	NotificationTypes []string `json:"notification_types"`
}

type bookingResponse struct {
	Success       bool              `json:"success"`
	AppointmentID int64             `json:"appointment_id,omitempty"`
	Message       string            `json:"message"`
	Errors        []string          `json:"errors,omitempty"`
	Conflicts     []conflictSummary `json:"conflicts,omitempty"`
}

type conflictSummary struct {
	AppointmentID int64  `json:"appointment_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

func conflictSummaries(conflicts []model.Appointment) []conflictSummary {
	out := make([]conflictSummary, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, conflictSummary{
			AppointmentID: c.ID,
			StartTime:     c.StartAt.Format(time.RFC3339),
			EndTime:       c.EndAt.Format(time.RFC3339),
		})
	}
	return out
}

func writeResult(w http.ResponseWriter, res booking.Result, successCode int) {
	w.Header().Set("Content-Type", "application/json")
	if res.Success {
		w.WriteHeader(successCode)
	} else if len(res.Conflicts) > 0 {
		w.WriteHeader(http.StatusConflict)
	} else {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	_ = json.NewEncoder(w).Encode(bookingResponse{
		Success:       res.Success,
		AppointmentID: res.AppointmentID,
		Message:       res.Message,
		Errors:        res.Errors,
		Conflicts:     conflictSummaries(res.Conflicts),
	})
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.ServiceID == 0 || req.ProviderID == 0 || req.AppointmentDate == "" || req.AppointmentTime == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	res, err := h.orchestrator.CreateAppointment(r.Context(), booking.CreateInput{
		BusinessID:        req.BusinessID,
		ServiceID:         req.ServiceID,
		ProviderID:        req.ProviderID,
		Date:              strings.TrimSpace(req.AppointmentDate),
		Time:              strings.TrimSpace(req.AppointmentTime),
		Timezone:          req.Timezone,
		LocationID:        req.LocationID,
		Notes:             req.Notes,
		CustomerID:        req.CustomerID,
		CustomerEmail:     strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:     strings.TrimSpace(req.CustomerPhone),
		CustomerFirstName: req.CustomerFirstName,
		CustomerLastName:  req.CustomerLastName,
		NotificationTypes: req.NotificationTypes,
	})
	if err != nil {
		h.logger.Error("create appointment failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeResult(w, res, http.StatusCreated)
}

type cancelRequest struct {
	BusinessID        int64    `json:"business_id"`
	AppointmentID     int64    `json:"appointment_id"`
	NotificationTypes []string `json:"notification_types"`
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.AppointmentID == 0 {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	res, err := h.orchestrator.Cancel(r.Context(), req.BusinessID, req.AppointmentID, req.NotificationTypes)
	if err != nil {
		h.logger.Error("cancel appointment failed", "err", err, "appointment_id", req.AppointmentID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeResult(w, res, http.StatusOK)
}

type updateRequest struct {
	BusinessID        int64    `json:"business_id"`
	AppointmentID     int64    `json:"appointment_id"`
	ServiceID         *int64   `json:"service_id"`
	ProviderID        *int64   `json:"provider_id"`
	AppointmentDate   string   `json:"appointment_date"`
	AppointmentTime   string   `json:"appointment_time"`
	Timezone          string   `json:"timezone"`
	Notes             *string  `json:"notes"`
	NotificationTypes []string `json:"notification_types"`
}

func (h *BookingHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.AppointmentID == 0 {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	res, err := h.orchestrator.UpdateAppointment(r.Context(), booking.UpdateInput{
		BusinessID:        req.BusinessID,
		AppointmentID:     req.AppointmentID,
		ServiceID:         req.ServiceID,
		ProviderID:        req.ProviderID,
		Date:              strings.TrimSpace(req.AppointmentDate),
		Time:              strings.TrimSpace(req.AppointmentTime),
		Timezone:          req.Timezone,
		Notes:             req.Notes,
		NotificationTypes: req.NotificationTypes,
	})
	if err != nil {
		h.logger.Error("update appointment failed", "err", err, "appointment_id", req.AppointmentID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeResult(w, res, http.StatusOK)
}

type rescheduleRequest struct {
	BusinessID        int64    `json:"business_id"`
	AppointmentID     int64    `json:"appointment_id"`
	AppointmentDate   string   `json:"appointment_date"`
	AppointmentTime   string   `json:"appointment_time"`
	Timezone          string   `json:"timezone"`
	NotificationTypes []string `json:"notification_types"`
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.AppointmentID == 0 || req.AppointmentDate == "" || req.AppointmentTime == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	res, err := h.orchestrator.Reschedule(r.Context(), booking.RescheduleInput{
		BusinessID:        req.BusinessID,
		AppointmentID:     req.AppointmentID,
		Date:              strings.TrimSpace(req.AppointmentDate),
		Time:              strings.TrimSpace(req.AppointmentTime),
		Timezone:          req.Timezone,
		NotificationTypes: req.NotificationTypes,
	})
	if err != nil {
		h.logger.Error("reschedule failed", "err", err, "appointment_id", req.AppointmentID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeResult(w, res, http.StatusOK)
}

type statusRequest struct {
	BusinessID    int64  `json:"business_id"`
	AppointmentID int64  `json:"appointment_id"`
	Status        string `json:"status"`
}

func (h *BookingHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.AppointmentID == 0 || req.Status == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	res, err := h.orchestrator.ChangeStatus(r.Context(), req.BusinessID, req.AppointmentID, model.Status(req.Status))
	if err != nil {
		h.logger.Error("status change failed", "err", err, "appointment_id", req.AppointmentID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeResult(w, res, http.StatusOK)
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Label     string `json:"label"`
}

// Slots serves GET /slots?provider_id=&service_id=&date=&timezone=.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	providerID, err1 := strconv.ParseInt(q.Get("provider_id"), 10, 64)
	serviceID, err2 := strconv.ParseInt(q.Get("service_id"), 10, 64)
	date := q.Get("date")
	if err1 != nil || err2 != nil || date == "" {
		http.Error(w, "provider_id, service_id and date are required", http.StatusBadRequest)
		return
	}
	zone := q.Get("timezone")

	buffer, err := h.buffer.BufferMinutes(r.Context())
	if err != nil {
		h.logger.Error("buffer lookup failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	slots, err := h.engine.AvailableSlots(r.Context(), providerID, date, serviceID, buffer, zone)
	if err != nil {
		h.logger.Error("slot query failed", "err", err, "provider_id", providerID, "date", date)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StartTime: s.Start.Format(time.RFC3339),
			EndTime:   s.End.Format(time.RFC3339),
			Label:     s.Label,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"slots": items})
}

// Calendar serves GET /calendar?provider_id=&service_id=&from=&days=&timezone=,
// returning open-slot counts per date for calendar views.
func (h *BookingHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	providerID, err1 := strconv.ParseInt(q.Get("provider_id"), 10, 64)
	serviceID, err2 := strconv.ParseInt(q.Get("service_id"), 10, 64)
	from := q.Get("from")
	if err1 != nil || err2 != nil || from == "" {
		http.Error(w, "provider_id, service_id and from are required", http.StatusBadRequest)
		return
	}
	days, _ := strconv.Atoi(q.Get("days"))
	if days <= 0 {
		days = 30
	}
	zone := q.Get("timezone")

	buffer, err := h.buffer.BufferMinutes(r.Context())
	if err != nil {
		h.logger.Error("buffer lookup failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	counts, err := h.calendar.CalendarAvailability(r.Context(), providerID, serviceID, from, days, buffer, zone)
	if err != nil {
		h.logger.Error("calendar query failed", "err", err, "provider_id", providerID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"availability": counts})
}
