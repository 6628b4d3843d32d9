// Package template renders notification content per event and channel using
// {placeholder} substitution, with built-in defaults when a business has not
// customized a template.
package template

import (
	"fmt"
	"strings"
)

// Data holds the substitution values for one rendering. Keys are placeholder
// names without braces.
type Data map[string]string

type Template struct {
	Subject string
	Body    string
}

var defaults = map[string]map[string]Template{
	"appointment_confirmed": {
		"email": {
			Subject: "Appointment Confirmed - {service_name}",
			Body:    "Hi {customer_name},\n\nYour appointment has been confirmed!\n\nDate: {appointment_date}\nTime: {appointment_time}\nService: {service_name}\nWith: {provider_name}\n\nThank you for booking with {business_name}!",
		},
		"sms": {
			Body: "Appt confirmed: {service_name} on {appointment_date} at {appointment_time} with {provider_name}. {business_name}",
		},
		"whatsapp": {
			Body: "Appointment confirmed: {service_name} on {appointment_date} at {appointment_time} with {provider_name}. {business_name}",
		},
	},
	"appointment_reminder": {
		"email": {
			Subject: "Reminder: Your Upcoming Appointment - {service_name}",
			Body:    "Hi {customer_name},\n\nThis is a friendly reminder about your upcoming appointment:\n\nDate: {appointment_date}\nTime: {appointment_time}\nService: {service_name}\nWith: {provider_name}\n\nWe look forward to seeing you!\n\n{business_name}",
		},
		"sms": {
			Body: "Reminder: {service_name} on {appointment_date} at {appointment_time}. {business_name}",
		},
		"whatsapp": {
			Body: "Appointment reminder: {service_name} on {appointment_date} at {appointment_time} with {provider_name}. {business_name}",
		},
	},
	"appointment_cancelled": {
		"email": {
			Subject: "Appointment Cancelled - {service_name}",
			Body:    "Hi {customer_name},\n\nYour appointment on {appointment_date} at {appointment_time} has been cancelled.\n\nIf this was unexpected, please contact us.\n\n{business_name}",
		},
		"sms": {
			Body: "Your {service_name} appt on {appointment_date} at {appointment_time} was cancelled. {business_name}",
		},
		"whatsapp": {
			Body: "Appointment cancelled: {service_name} on {appointment_date} at {appointment_time}. {business_name}",
		},
	},
	"appointment_rescheduled": {
		"email": {
			Subject: "Appointment Rescheduled - {service_name}",
			Body:    "Hi {customer_name},\n\nYour appointment has been moved:\n\nNew date: {appointment_date}\nNew time: {appointment_time}\nService: {service_name}\nWith: {provider_name}\n\n{business_name}",
		},
		"sms": {
			Body: "Appt moved: {service_name} now on {appointment_date} at {appointment_time}. {business_name}",
		},
		"whatsapp": {
			Body: "Appointment rescheduled: {service_name} now on {appointment_date} at {appointment_time} with {provider_name}. {business_name}",
		},
	},
}

// Default returns the built-in template for an event/channel pair.
func Default(eventType, channel string) (Template, bool) {
	byChannel, ok := defaults[eventType]
	if !ok {
		return Template{}, false
	}
	tpl, ok := byChannel[channel]
	return tpl, ok
}

// Render substitutes {placeholder} occurrences with values from data.
// Unknown placeholders are left intact so a typo is visible, not silently
// blanked.
func Render(text string, data Data) string {
	if len(data) == 0 {
		return text
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// RenderTemplate renders subject and body for an event/channel pair.
func RenderTemplate(eventType, channel string, data Data) (Template, error) {
	tpl, ok := Default(eventType, channel)
	if !ok {
		return Template{}, fmt.Errorf("no template for event %q channel %q", eventType, channel)
	}
	return Template{
		Subject: Render(tpl.Subject, data),
		Body:    Render(tpl.Body, data),
	}, nil
}

// Preview renders a template with sample values, for settings screens.
func Preview(eventType, channel string) (Template, error) {
	return RenderTemplate(eventType, channel, Data{
		"customer_name":    "Jamie Doe",
		"service_name":     "Consultation",
		"provider_name":    "Dr. Smith",
		"appointment_date": "Monday, June 2, 2025",
		"appointment_time": "10:00 AM",
		"business_name":    "WebSchedulr",
	})
}
