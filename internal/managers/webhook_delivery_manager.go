package managers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"

	"github.com/toolbridge/toolbridge/internal/crypto"
	"github.com/toolbridge/toolbridge/internal/domain"
)

const (
	maxDeliveryAttempts = 3
	responseBodyLimit   = 1000
	testSendTimeout     = 10 * time.Second
)

type webhookDeliveryManager struct {
	webhooks    domain.WebhookStore
	deliveries  domain.DeliveryStore
	client      *http.Client
	backoffBase time.Duration
}

type WebhookDeliveryManagerDependencies struct {
	WebhookStore  domain.WebhookStore
	DeliveryStore domain.DeliveryStore
	HTTPClient    *http.Client
	// BackoffBase overrides the first retry delay; zero means 1s.
	BackoffBase time.Duration
}

func NewWebhookDeliveryManager(deps WebhookDeliveryManagerDependencies) domain.WebhookDeliveryService {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: testSendTimeout}
	}

	backoffBase := deps.BackoffBase
	if backoffBase == 0 {
		backoffBase = time.Second
	}

	return &webhookDeliveryManager{
		webhooks:    deps.WebhookStore,
		deliveries:  deps.DeliveryStore,
		client:      client,
		backoffBase: backoffBase,
	}
}

// DeliverEvent fans an event out to every matching webhook. Deliveries to
// different webhooks run concurrently with no ordering guarantee; attempts
// within one delivery are strictly sequential.
func (m *webhookDeliveryManager) DeliverEvent(ctx context.Context, p domain.DeliverEventParams) ([]domain.DeliverySummary, error) {
	webhooks, err := m.webhooks.ListActiveWebhooksForEvent(ctx, p.UserID, p.Event)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}

	variables := map[string]string{
		"event":     p.Event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for key, value := range p.Context {
		variables[key] = value
	}

	var (
		mu        sync.Mutex
		summaries []domain.DeliverySummary
		wg        sync.WaitGroup
	)

	for _, webhook := range webhooks {
		payload, err := m.renderPayload(webhook, p, variables)
		if err != nil {
			log.Error().Err(err).Str("webhook_id", webhook.ID).Msg("Failed to render webhook payload")
			continue
		}

		// The pending row is written before the first attempt so an audit
		// record exists even if the process dies mid-delivery.
		delivery := domain.WebhookDelivery{
			ID:        xid.New().String(),
			WebhookID: webhook.ID,
			EventType: p.Event,
			Payload:   payload,
			Status:    domain.DeliveryStatusPending,
			CreatedAt: time.Now().UTC(),
		}

		if err := m.deliveries.CreateDelivery(ctx, delivery); err != nil {
			log.Error().Err(err).Str("webhook_id", webhook.ID).Msg("Failed to create delivery record")
			continue
		}

		wg.Add(1)
		go func(webhook domain.Webhook, delivery domain.WebhookDelivery) {
			defer wg.Done()

			outcome := m.attemptDelivery(ctx, webhook.URL, webhook.Secret, delivery.Payload, maxDeliveryAttempts)
			m.recordOutcome(ctx, &delivery, outcome)

			mu.Lock()
			summaries = append(summaries, domain.DeliverySummary{
				DeliveryID: delivery.ID,
				WebhookID:  webhook.ID,
				Status:     delivery.Status,
				Attempts:   delivery.Attempts,
				StatusCode: delivery.ResponseCode,
			})
			mu.Unlock()
		}(webhook, delivery)
	}

	wg.Wait()

	return summaries, nil
}

func (m *webhookDeliveryManager) renderPayload(webhook domain.Webhook, p domain.DeliverEventParams, variables map[string]string) (string, error) {
	if webhook.PayloadTemplate != "" {
		rendered, unknown := renderWebhookTemplate(webhook.PayloadTemplate, variables)
		if len(unknown) > 0 {
			log.Warn().
				Str("webhook_id", webhook.ID).
				Strs("placeholders", unknown).
				Msg("Webhook template references unknown placeholders")
		}
		return rendered, nil
	}

	payload, err := json.Marshal(map[string]any{
		"event":     p.Event,
		"timestamp": variables["timestamp"],
		"data":      p.Context,
	})
	if err != nil {
		return "", err
	}

	return string(payload), nil
}

// RetryDelivery re-runs a delivery with its persisted payload bytes. The
// signature is recomputed over identical content, so a retry is exactly the
// original send.
func (m *webhookDeliveryManager) RetryDelivery(ctx context.Context, deliveryID string) (domain.RetryDeliveryResult, error) {
	delivery, err := m.deliveries.GetDelivery(ctx, deliveryID)
	if err != nil {
		return domain.RetryDeliveryResult{}, err
	}

	webhook, err := m.webhooks.GetWebhook(ctx, delivery.WebhookID)
	if err != nil {
		return domain.RetryDeliveryResult{}, err
	}

	delivery.Status = domain.DeliveryStatusPending
	delivery.Attempts = 0
	delivery.ResponseCode = 0
	delivery.ResponseBody = ""
	delivery.DeliveredAt = nil

	if err := m.deliveries.UpdateDelivery(ctx, delivery); err != nil {
		return domain.RetryDeliveryResult{}, fmt.Errorf("failed to reset delivery: %w", err)
	}

	outcome := m.attemptDelivery(ctx, webhook.URL, webhook.Secret, delivery.Payload, maxDeliveryAttempts)
	m.recordOutcome(ctx, &delivery, outcome)

	return domain.RetryDeliveryResult{
		Success:    delivery.Status == domain.DeliveryStatusDelivered,
		Attempts:   delivery.Attempts,
		StatusCode: delivery.ResponseCode,
	}, nil
}

// TestWebhook is a dry run: one attempt, bounded wait, nothing persisted.
func (m *webhookDeliveryManager) TestWebhook(ctx context.Context, p domain.TestWebhookParams) domain.TestWebhookResult {
	payload := p.Payload
	if payload == nil {
		payload = map[string]any{
			"event":     "test",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.TestWebhookResult{Success: false, Error: "invalid payload"}
	}

	ctx, cancel := context.WithTimeout(ctx, testSendTimeout)
	defer cancel()

	outcome := m.attemptDelivery(ctx, p.URL, p.Secret, string(body), 1)

	result := domain.TestWebhookResult{
		Success:    outcome.status == domain.DeliveryStatusDelivered,
		StatusCode: outcome.statusCode,
		Body:       outcome.responseBody,
	}
	if !result.Success {
		result.Error = outcome.errorText
	}

	return result
}

type deliveryOutcome struct {
	status       domain.DeliveryStatus
	statusCode   int
	responseBody string
	attempts     int
	errorText    string
}

// attemptDelivery runs the shared attempt loop: a 2xx ends it as success,
// a non-429 4xx ends it as terminal failure, anything else retries with
// exponential backoff until the attempt cap.
func (m *webhookDeliveryManager) attemptDelivery(ctx context.Context, url, secret, payload string, maxAttempts int) deliveryOutcome {
	outcome := deliveryOutcome{status: domain.DeliveryStatusFailed}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome.attempts = attempt

		statusCode, body, err := m.send(ctx, url, secret, payload, attempt)
		if err == nil {
			outcome.statusCode = statusCode
			outcome.responseBody = body

			if statusCode >= 200 && statusCode < 300 {
				outcome.status = domain.DeliveryStatusDelivered
				return outcome
			}

			if !domain.RetryableStatus(statusCode) {
				outcome.errorText = fmt.Sprintf("target returned %d", statusCode)
				return outcome
			}

			outcome.errorText = fmt.Sprintf("target returned %d", statusCode)
		} else {
			outcome.errorText = err.Error()
		}

		if attempt == maxAttempts {
			break
		}

		delay := m.backoffBase << (attempt - 1)
		select {
		case <-ctx.Done():
			outcome.errorText = ctx.Err().Error()
			return outcome
		case <-time.After(delay):
		}
	}

	return outcome
}

func (m *webhookDeliveryManager) send(ctx context.Context, url, secret, payload string, attempt int) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Attempt", strconv.Itoa(attempt))
	if secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+crypto.SignPayload(secret, []byte(payload)))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return resp.StatusCode, "", nil
	}

	return resp.StatusCode, string(body), nil
}

func (m *webhookDeliveryManager) recordOutcome(ctx context.Context, delivery *domain.WebhookDelivery, outcome deliveryOutcome) {
	delivery.Status = outcome.status
	delivery.ResponseCode = outcome.statusCode
	delivery.ResponseBody = outcome.responseBody
	delivery.Attempts = outcome.attempts

	if outcome.status == domain.DeliveryStatusDelivered {
		now := time.Now().UTC()
		delivery.DeliveredAt = &now
	}

	if err := m.deliveries.UpdateDelivery(ctx, *delivery); err != nil {
		log.Error().Err(err).Str("delivery_id", delivery.ID).Msg("Failed to record delivery outcome")
	}

	if outcome.status == domain.DeliveryStatusDelivered {
		log.Info().
			Str("delivery_id", delivery.ID).
			Int("attempts", outcome.attempts).
			Msg("Webhook delivered")
	} else {
		log.Warn().
			Str("delivery_id", delivery.ID).
			Int("attempts", outcome.attempts).
			Str("error", outcome.errorText).
			Msg("Webhook delivery failed")
	}
}
