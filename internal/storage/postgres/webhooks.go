package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/toolbridge/toolbridge/internal/domain"
)

const webhookColumns = `id, user_id, url, secret, payload_template, events, active, created_at`

func (s *Store) GetWebhook(ctx context.Context, id string) (domain.Webhook, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id)
	return scanWebhook(row)
}

func (s *Store) ListActiveWebhooksForEvent(ctx context.Context, userID, event string) ([]domain.Webhook, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+webhookColumns+` FROM webhooks
		WHERE user_id = $1 AND active AND $2 = ANY(events)
		ORDER BY created_at`, userID, event)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []domain.Webhook
	for rows.Next() {
		webhook, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, webhook)
	}

	return webhooks, rows.Err()
}

func scanWebhook(row pgx.Row) (domain.Webhook, error) {
	var webhook domain.Webhook

	err := row.Scan(&webhook.ID, &webhook.UserID, &webhook.URL, &webhook.Secret,
		&webhook.PayloadTemplate, &webhook.Events, &webhook.Active, &webhook.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Webhook{}, domain.NewNotFoundError("webhook not found")
		}
		return domain.Webhook{}, fmt.Errorf("failed to scan webhook: %w", err)
	}

	return webhook, nil
}

func (s *Store) GetDelivery(ctx context.Context, id string) (domain.WebhookDelivery, error) {
	var delivery domain.WebhookDelivery
	var status string

	err := s.pool.QueryRow(ctx, `
		SELECT id, webhook_id, event_type, payload, status, response_code, response_body, attempts, delivered_at, created_at
		FROM webhook_deliveries WHERE id = $1`, id).
		Scan(&delivery.ID, &delivery.WebhookID, &delivery.EventType, &delivery.Payload,
			&status, &delivery.ResponseCode, &delivery.ResponseBody, &delivery.Attempts,
			&delivery.DeliveredAt, &delivery.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WebhookDelivery{}, domain.NewNotFoundError("delivery not found")
		}
		return domain.WebhookDelivery{}, fmt.Errorf("failed to scan delivery: %w", err)
	}

	delivery.Status = domain.DeliveryStatus(status)
	return delivery, nil
}

func (s *Store) CreateDelivery(ctx context.Context, delivery domain.WebhookDelivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, event_type, payload, status, response_code, response_body, attempts, delivered_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		delivery.ID, delivery.WebhookID, delivery.EventType, delivery.Payload,
		string(delivery.Status), delivery.ResponseCode, delivery.ResponseBody,
		delivery.Attempts, delivery.DeliveredAt, delivery.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert delivery: %w", err)
	}
	return nil
}

func (s *Store) UpdateDelivery(ctx context.Context, delivery domain.WebhookDelivery) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, response_code = $3, response_body = $4, attempts = $5, delivered_at = $6
		WHERE id = $1`,
		delivery.ID, string(delivery.Status), delivery.ResponseCode,
		delivery.ResponseBody, delivery.Attempts, delivery.DeliveredAt)
	if err != nil {
		return fmt.Errorf("failed to update delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("delivery not found")
	}
	return nil
}
