package rules

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/channel"
)

// ActiveTemplate returns the registered WhatsApp template for an event type,
// or nil when none is active. Satisfies channel.TemplateStore.
func (r *Repository) ActiveTemplate(ctx context.Context, businessID int64, eventType string) (*channel.WhatsAppTemplate, error) {
	var tpl channel.WhatsAppTemplate
	err := r.pool.QueryRow(ctx, `
		SELECT template_name, language_code
		FROM whatsapp_templates
		WHERE business_id = $1 AND event_type = $2 AND active
	`, businessID, eventType).Scan(&tpl.Name, &tpl.LanguageCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}
