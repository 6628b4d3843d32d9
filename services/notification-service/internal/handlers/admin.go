// Package handlers is the notification service's thin HTTP surface: opt-out
// registration and template preview. Everything else in this service is
// driven by Kafka and the worker loop.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/webschedulr/webschedulr/services/notification-service/internal/channel"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/rules"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/template"
)

type AdminHandler struct {
	rules  *rules.Repository
	logger *slog.Logger
}

func NewAdminHandler(rulesRepo *rules.Repository, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{rules: rulesRepo, logger: logger}
}

type optOutRequest struct {
	BusinessID int64  `json:"business_id"`
	Channel    string `json:"channel"`
	Recipient  string `json:"recipient"`
}

// OptOut registers a recipient opt-out. Repeats are accepted silently.
func (h *AdminHandler) OptOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req optOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.BusinessID == 0 || req.Recipient == "" || !channel.Supported(req.Channel) {
		http.Error(w, "business_id, channel and recipient are required", http.StatusBadRequest)
		return
	}
	if err := h.rules.OptOut(r.Context(), req.BusinessID, req.Channel, req.Recipient); err != nil {
		h.logger.Error("opt-out write failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"opted_out": true})
}

// PreviewTemplate renders a channel's default template with sample data.
func (h *AdminHandler) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	eventType := r.URL.Query().Get("event_type")
	ch := r.URL.Query().Get("channel")
	if eventType == "" || !channel.Supported(ch) {
		http.Error(w, "event_type and channel are required", http.StatusBadRequest)
		return
	}
	tpl, err := template.Preview(eventType, ch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"subject": tpl.Subject,
		"body":    tpl.Body,
	})
}
