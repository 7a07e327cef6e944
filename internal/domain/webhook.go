package domain

import (
	"context"
	"time"
)

// Webhook is a user-configured delivery target. Payloads are signed with the
// secret when one is set; the template, when present, replaces the default
// structured payload via {{variable}} substitution.
type Webhook struct {
	ID              string
	UserID          string
	URL             string
	Secret          string
	PayloadTemplate string
	Events          []string
	Active          bool
	CreatedAt       time.Time
}

// Subscribed reports whether the webhook's event set contains the event.
func (w Webhook) Subscribed(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// WebhookDelivery records one delivery of one event to one webhook. The
// rendered payload is persisted verbatim so that a manual retry re-sends the
// exact same bytes.
type WebhookDelivery struct {
	ID           string
	WebhookID    string
	EventType    string
	Payload      string
	Status       DeliveryStatus
	ResponseCode int
	ResponseBody string
	Attempts     int
	DeliveredAt  *time.Time
	CreatedAt    time.Time
}

type WebhookStore interface {
	GetWebhook(ctx context.Context, id string) (Webhook, error)
	// ListActiveWebhooksForEvent returns the user's active webhooks whose
	// subscribed-event set contains the event.
	ListActiveWebhooksForEvent(ctx context.Context, userID, event string) ([]Webhook, error)
}

type DeliveryStore interface {
	GetDelivery(ctx context.Context, id string) (WebhookDelivery, error)
	CreateDelivery(ctx context.Context, delivery WebhookDelivery) error
	UpdateDelivery(ctx context.Context, delivery WebhookDelivery) error
}
