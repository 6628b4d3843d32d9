package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TemplateStore maps event types to pre-registered WhatsApp templates.
// WhatsApp is template-only: a missing or inactive template is a send
// failure, never a fallback to free-form text.
type TemplateStore interface {
	ActiveTemplate(ctx context.Context, businessID int64, eventType string) (*WhatsAppTemplate, error)
}

type WhatsAppTemplate struct {
	Name         string
	LanguageCode string
}

// WhatsAppCloudSender sends template messages via the Meta Cloud API.
type WhatsAppCloudSender struct {
	accessToken   string
	phoneNumberID string
	templates     TemplateStore
	http          *http.Client
	baseURL       string
}

func NewWhatsAppCloudSender(accessToken, phoneNumberID string, templates TemplateStore) *WhatsAppCloudSender {
	return &WhatsAppCloudSender{
		accessToken:   strings.TrimSpace(accessToken),
		phoneNumberID: strings.TrimSpace(phoneNumberID),
		templates:     templates,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: "https://graph.facebook.com/v18.0",
	}
}

func (w *WhatsAppCloudSender) Provider() string {
	return "whatsapp-cloud"
}

type whatsappTemplateMessage struct {
	MessagingProduct string               `json:"messaging_product"`
	RecipientType    string               `json:"recipient_type"`
	To               string               `json:"to"`
	Type             string               `json:"type"`
	Template         whatsappTemplateBody `json:"template"`
}

type whatsappTemplateBody struct {
	Name       string              `json:"name"`
	Language   whatsappLanguage    `json:"language"`
	Components []whatsappComponent `json:"components,omitempty"`
}

type whatsappLanguage struct {
	Code string `json:"code"`
}

type whatsappComponent struct {
	Type       string              `json:"type"`
	Parameters []whatsappParameter `json:"parameters"`
}

type whatsappParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (w *WhatsAppCloudSender) Send(ctx context.Context, msg Message) error {
	if w.accessToken == "" || w.phoneNumberID == "" {
		return fmt.Errorf("whatsapp integration not configured")
	}
	if !IsValidE164(msg.Recipient) {
		return fmt.Errorf("invalid E.164 recipient %q", msg.Recipient)
	}

	tpl, err := w.templates.ActiveTemplate(ctx, msg.BusinessID, msg.EventType)
	if err != nil {
		return err
	}
	if tpl == nil {
		return fmt.Errorf("no active whatsapp template for event %q", msg.EventType)
	}

	payload := whatsappTemplateMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(strings.TrimSpace(msg.Recipient), "+"),
		Type:             "template",
		Template: whatsappTemplateBody{
			Name:     tpl.Name,
			Language: whatsappLanguage{Code: tpl.LanguageCode},
			Components: []whatsappComponent{{
				Type: "body",
				Parameters: []whatsappParameter{{
					Type: "text",
					Text: msg.Body,
				}},
			}},
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.accessToken)

	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp api returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
