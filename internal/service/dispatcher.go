package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"chatflow/internal/constants"
	"chatflow/internal/database"
	"chatflow/internal/models"
	"chatflow/internal/security"

	"github.com/sirupsen/logrus"
)

// WebhookDispatcher fans outbound events to subscribed endpoints. Delivery
// is best-effort: a dead endpoint slows nothing down, and after enough
// consecutive failures it is disabled automatically.
type WebhookDispatcher struct {
	db     *database.Database
	client *http.Client
	logger *logrus.Logger
	now    func() time.Time
}

func NewWebhookDispatcher(db *database.Database, logger *logrus.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		db:     db,
		client: &http.Client{Timeout: constants.WebhookDispatchTimeout},
		logger: logger,
		now:    time.Now,
	}
}

// Publish delivers one event to every active endpoint subscribed to its
// type. Endpoints are called in parallel; Publish returns once all
// deliveries have been attempted and never reports an error.
func (d *WebhookDispatcher) Publish(ctx context.Context, workspaceID int64, eventType string, data interface{}) {
	endpoints, err := d.db.ListEndpointsForEvent(ctx, workspaceID, eventType)
	if err != nil {
		d.logger.WithError(err).WithField("event_type", eventType).Warn("Failed to list webhook endpoints")
		return
	}
	if len(endpoints) == 0 {
		return
	}

	body, err := json.Marshal(models.WebhookEvent{
		Event:     eventType,
		Timestamp: d.now().UTC(),
		Data:      data,
	})
	if err != nil {
		d.logger.WithError(err).WithField("event_type", eventType).Warn("Failed to encode webhook event")
		return
	}

	var wg sync.WaitGroup
	for _, endpoint := range endpoints {
		wg.Add(1)
		go func(ep *models.WebhookEndpoint) {
			defer wg.Done()
			d.deliver(ctx, ep, eventType, body)
		}(endpoint)
	}
	wg.Wait()
}

func (d *WebhookDispatcher) deliver(ctx context.Context, endpoint *models.WebhookEndpoint, eventType string, body []byte) {
	reqCtx, cancel := context.WithTimeout(ctx, constants.WebhookDispatchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		d.logger.WithError(err).WithField("endpoint_id", endpoint.ID).Warn("Failed to build webhook request")
		d.recordFailure(ctx, endpoint)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if endpoint.Secret != "" {
		req.Header.Set(constants.WebhookSignatureHeader, security.SignPayload(body, endpoint.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"endpoint_id": endpoint.ID,
			"event_type":  eventType,
		}).Warn("Webhook delivery failed")
		d.recordFailure(ctx, endpoint)
		return
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logger.WithFields(logrus.Fields{
			"endpoint_id": endpoint.ID,
			"event_type":  eventType,
			"status":      resp.StatusCode,
		}).Warn("Webhook delivery rejected")
		d.recordFailure(ctx, endpoint)
		return
	}

	if err := d.db.RecordEndpointSuccess(ctx, endpoint.ID); err != nil {
		d.logger.WithError(err).WithField("endpoint_id", endpoint.ID).Warn("Failed to record webhook success")
	}
}

func (d *WebhookDispatcher) recordFailure(ctx context.Context, endpoint *models.WebhookEndpoint) {
	disabled, err := d.db.RecordEndpointFailure(ctx, endpoint.ID)
	if err != nil {
		d.logger.WithError(err).WithField("endpoint_id", endpoint.ID).Warn("Failed to record webhook failure")
		return
	}
	if disabled {
		d.logger.WithFields(logrus.Fields{
			"endpoint_id": endpoint.ID,
			"url":         endpoint.URL,
		}).Warn("Webhook endpoint disabled after repeated failures")
	}
}
