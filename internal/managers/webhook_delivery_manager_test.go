package managers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbridge/toolbridge/internal/crypto"
	"github.com/toolbridge/toolbridge/internal/domain"
)

type capturedRequest struct {
	body      string
	signature string
	attempt   string
}

// webhookTarget is an httptest endpoint that records every request and answers
// with a scripted status sequence, repeating the last status once exhausted.
type webhookTarget struct {
	mu       sync.Mutex
	requests []capturedRequest
	statuses []int
	server   *httptest.Server
}

func newWebhookTarget(t *testing.T, statuses ...int) *webhookTarget {
	t.Helper()

	target := &webhookTarget{statuses: statuses}
	target.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		target.mu.Lock()
		target.requests = append(target.requests, capturedRequest{
			body:      string(body),
			signature: r.Header.Get("X-Webhook-Signature"),
			attempt:   r.Header.Get("X-Webhook-Attempt"),
		})
		index := len(target.requests) - 1
		if index >= len(target.statuses) {
			index = len(target.statuses) - 1
		}
		status := target.statuses[index]
		target.mu.Unlock()

		w.WriteHeader(status)
	}))
	t.Cleanup(target.server.Close)
	return target
}

func (target *webhookTarget) captured() []capturedRequest {
	target.mu.Lock()
	defer target.mu.Unlock()
	return append([]capturedRequest(nil), target.requests...)
}

func newDeliveryManager(store *memStore) domain.WebhookDeliveryService {
	return NewWebhookDeliveryManager(WebhookDeliveryManagerDependencies{
		WebhookStore:  store,
		DeliveryStore: store,
		BackoffBase:   5 * time.Millisecond,
	})
}

func TestDeliverEvent_SignsAndPersists(t *testing.T) {
	target := newWebhookTarget(t, http.StatusOK)

	store := newMemStore()
	store.webhooks["wh1"] = domain.Webhook{
		ID:     "wh1",
		UserID: "user-1",
		URL:    target.server.URL,
		Secret: "whsec-1",
		Events: []string{"job.completed"},
		Active: true,
	}
	manager := newDeliveryManager(store)

	summaries, err := manager.DeliverEvent(context.Background(), domain.DeliverEventParams{
		UserID:  "user-1",
		Event:   "job.completed",
		Context: map[string]string{"job_id": "job-1"},
	})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, domain.DeliveryStatusDelivered, summaries[0].Status)
	assert.Equal(t, 1, summaries[0].Attempts)
	assert.Equal(t, http.StatusOK, summaries[0].StatusCode)

	requests := target.captured()
	require.Len(t, requests, 1)
	assert.Equal(t, "1", requests[0].attempt)
	assert.Equal(t, "sha256="+crypto.SignPayload("whsec-1", []byte(requests[0].body)), requests[0].signature)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(requests[0].body), &payload))
	assert.Equal(t, "job.completed", payload["event"])
	assert.Equal(t, map[string]any{"job_id": "job-1"}, payload["data"])

	delivery, err := store.GetDelivery(context.Background(), summaries[0].DeliveryID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatusDelivered, delivery.Status)
	assert.Equal(t, requests[0].body, delivery.Payload)
	require.NotNil(t, delivery.DeliveredAt)
}

func TestDeliverEvent_TemplateRendering(t *testing.T) {
	target := newWebhookTarget(t, http.StatusOK)

	store := newMemStore()
	store.webhooks["wh1"] = domain.Webhook{
		ID:              "wh1",
		UserID:          "user-1",
		URL:             target.server.URL,
		Events:          []string{"connection.expired"},
		PayloadTemplate: `{"kind":"{{event}}","connection":"{{connection_id}}","oops":"{{missing}}"}`,
		Active:          true,
	}
	manager := newDeliveryManager(store)

	summaries, err := manager.DeliverEvent(context.Background(), domain.DeliverEventParams{
		UserID:  "user-1",
		Event:   "connection.expired",
		Context: map[string]string{"connection_id": "cn-9"},
	})
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	requests := target.captured()
	require.Len(t, requests, 1)
	assert.Equal(t, `{"kind":"connection.expired","connection":"cn-9","oops":""}`, requests[0].body)

	// No secret configured, so no signature header.
	assert.Empty(t, requests[0].signature)
}

func TestDeliverEvent_FanOutSkipsUnsubscribed(t *testing.T) {
	first := newWebhookTarget(t, http.StatusOK)
	second := newWebhookTarget(t, http.StatusOK)
	uninvolved := newWebhookTarget(t, http.StatusOK)

	store := newMemStore()
	store.webhooks["wh1"] = domain.Webhook{
		ID: "wh1", UserID: "user-1", URL: first.server.URL,
		Events: []string{"job.completed"}, Active: true,
	}
	store.webhooks["wh2"] = domain.Webhook{
		ID: "wh2", UserID: "user-1", URL: second.server.URL,
		Events: []string{"job.completed", "job.failed"}, Active: true,
	}
	store.webhooks["wh3"] = domain.Webhook{
		ID: "wh3", UserID: "user-1", URL: uninvolved.server.URL,
		Events: []string{"connection.expired"}, Active: true,
	}
	store.webhooks["wh4"] = domain.Webhook{
		ID: "wh4", UserID: "user-1", URL: uninvolved.server.URL,
		Events: []string{"job.completed"}, Active: false,
	}
	manager := newDeliveryManager(store)

	summaries, err := manager.DeliverEvent(context.Background(), domain.DeliverEventParams{
		UserID: "user-1",
		Event:  "job.completed",
	})
	require.NoError(t, err)
	assert.Len(t, summaries, 2)
	assert.Len(t, first.captured(), 1)
	assert.Len(t, second.captured(), 1)
	assert.Empty(t, uninvolved.captured())
	assert.Len(t, store.deliveries, 2)
}

func TestDeliverEvent_RetriesWithBackoffOn503(t *testing.T) {
	target := newWebhookTarget(t, http.StatusServiceUnavailable)

	store := newMemStore()
	store.webhooks["wh1"] = domain.Webhook{
		ID: "wh1", UserID: "user-1", URL: target.server.URL,
		Events: []string{"job.completed"}, Active: true,
	}
	backoffBase := 20 * time.Millisecond
	manager := NewWebhookDeliveryManager(WebhookDeliveryManagerDependencies{
		WebhookStore:  store,
		DeliveryStore: store,
		BackoffBase:   backoffBase,
	})

	started := time.Now()
	summaries, err := manager.DeliverEvent(context.Background(), domain.DeliverEventParams{
		UserID: "user-1",
		Event:  "job.completed",
	})
	elapsed := time.Since(started)

	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, domain.DeliveryStatusFailed, summaries[0].Status)
	assert.Equal(t, maxDeliveryAttempts, summaries[0].Attempts)

	requests := target.captured()
	require.Len(t, requests, maxDeliveryAttempts)
	assert.Equal(t, "1", requests[0].attempt)
	assert.Equal(t, "2", requests[1].attempt)
	assert.Equal(t, "3", requests[2].attempt)

	// Two waits separate three attempts: base, then base doubled.
	assert.GreaterOrEqual(t, elapsed, 3*backoffBase)
}

func TestDeliverEvent_NoRetryOnTerminal4xx(t *testing.T) {
	target := newWebhookTarget(t, http.StatusNotFound)

	store := newMemStore()
	store.webhooks["wh1"] = domain.Webhook{
		ID: "wh1", UserID: "user-1", URL: target.server.URL,
		Events: []string{"job.completed"}, Active: true,
	}
	manager := newDeliveryManager(store)

	summaries, err := manager.DeliverEvent(context.Background(), domain.DeliverEventParams{
		UserID: "user-1",
		Event:  "job.completed",
	})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, domain.DeliveryStatusFailed, summaries[0].Status)
	assert.Equal(t, 1, summaries[0].Attempts)
	assert.Len(t, target.captured(), 1)
}

func TestDeliverEvent_429IsRetryable(t *testing.T) {
	target := newWebhookTarget(t, http.StatusTooManyRequests, http.StatusOK)

	store := newMemStore()
	store.webhooks["wh1"] = domain.Webhook{
		ID: "wh1", UserID: "user-1", URL: target.server.URL,
		Events: []string{"job.completed"}, Active: true,
	}
	manager := newDeliveryManager(store)

	summaries, err := manager.DeliverEvent(context.Background(), domain.DeliverEventParams{
		UserID: "user-1",
		Event:  "job.completed",
	})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, domain.DeliveryStatusDelivered, summaries[0].Status)
	assert.Equal(t, 2, summaries[0].Attempts)
}

func TestRetryDelivery_ResendsPersistedPayloadVerbatim(t *testing.T) {
	target := newWebhookTarget(t, http.StatusOK)

	payload := `{"event":"job.completed","timestamp":"2026-08-30T11:00:00Z","data":{"job_id":"job-7"}}`
	store := newMemStore()
	store.webhooks["wh1"] = domain.Webhook{
		ID: "wh1", UserID: "user-1", URL: target.server.URL,
		Secret: "whsec-1", Events: []string{"job.completed"}, Active: true,
	}
	store.deliveries["d1"] = domain.WebhookDelivery{
		ID:           "d1",
		WebhookID:    "wh1",
		EventType:    "job.completed",
		Payload:      payload,
		Status:       domain.DeliveryStatusFailed,
		Attempts:     3,
		ResponseCode: http.StatusServiceUnavailable,
		ResponseBody: "try later",
	}
	manager := newDeliveryManager(store)

	result, err := manager.RetryDelivery(context.Background(), "d1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)

	requests := target.captured()
	require.Len(t, requests, 1)
	// Identical bytes, signature recomputed over the same content.
	assert.Equal(t, payload, requests[0].body)
	assert.Equal(t, "sha256="+crypto.SignPayload("whsec-1", []byte(payload)), requests[0].signature)

	delivery := store.deliveries["d1"]
	assert.Equal(t, domain.DeliveryStatusDelivered, delivery.Status)
	assert.Equal(t, 1, delivery.Attempts)
	assert.Equal(t, http.StatusOK, delivery.ResponseCode)
}

func TestRetryDelivery_UnknownDelivery(t *testing.T) {
	manager := newDeliveryManager(newMemStore())

	_, err := manager.RetryDelivery(context.Background(), "missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestTestWebhook_DoesNotPersist(t *testing.T) {
	target := newWebhookTarget(t, http.StatusNoContent)

	store := newMemStore()
	manager := newDeliveryManager(store)

	result := manager.TestWebhook(context.Background(), domain.TestWebhookParams{
		URL:     target.server.URL,
		Secret:  "whsec-test",
		Payload: map[string]any{"hello": "world"},
	})
	assert.True(t, result.Success)
	assert.Equal(t, http.StatusNoContent, result.StatusCode)

	requests := target.captured()
	require.Len(t, requests, 1)
	assert.JSONEq(t, `{"hello":"world"}`, requests[0].body)
	assert.Equal(t, "sha256="+crypto.SignPayload("whsec-test", []byte(requests[0].body)), requests[0].signature)

	assert.Empty(t, store.deliveries)
}

func TestTestWebhook_FailureReportsStatus(t *testing.T) {
	target := newWebhookTarget(t, http.StatusServiceUnavailable)

	manager := newDeliveryManager(newMemStore())

	result := manager.TestWebhook(context.Background(), domain.TestWebhookParams{URL: target.server.URL})
	assert.False(t, result.Success)
	assert.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
	assert.NotEmpty(t, result.Error)

	// A single dry-run attempt, even for a retryable-looking failure class.
	assert.Len(t, target.captured(), 1)
}
