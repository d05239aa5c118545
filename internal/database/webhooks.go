package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chatflow/internal/constants"
	"chatflow/internal/models"
)

func (d *Database) CreateWebhookEndpoint(ctx context.Context, e *models.WebhookEndpoint) (int64, error) {
	events, err := json.Marshal(e.Events)
	if err != nil {
		return 0, fmt.Errorf("failed to encode events: %w", err)
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO webhook_endpoints (workspace_id, url, secret, events, is_active)
		VALUES (?, ?, ?, ?, ?)
	`, e.WorkspaceID, e.URL, e.Secret, string(events), e.IsActive)
	if err != nil {
		return 0, fmt.Errorf("failed to create webhook endpoint: %w", err)
	}
	return res.LastInsertId()
}

func (d *Database) GetWebhookEndpoint(ctx context.Context, id int64) (*models.WebhookEndpoint, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, workspace_id, url, secret, events, is_active, failure_count, last_triggered_at, created_at, updated_at
		FROM webhook_endpoints WHERE id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook endpoint: %w", err)
	}
	defer rows.Close()

	endpoints, err := collectEndpoints(rows)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, nil
	}
	return endpoints[0], nil
}

// ListEndpointsForEvent returns active endpoints subscribed to eventType.
func (d *Database) ListEndpointsForEvent(ctx context.Context, workspaceID int64, eventType string) ([]*models.WebhookEndpoint, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, workspace_id, url, secret, events, is_active, failure_count, last_triggered_at, created_at, updated_at
		FROM webhook_endpoints WHERE workspace_id = ? AND is_active = 1
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook endpoints: %w", err)
	}
	defer rows.Close()

	endpoints, err := collectEndpoints(rows)
	if err != nil {
		return nil, err
	}

	var subscribed []*models.WebhookEndpoint
	for _, e := range endpoints {
		for _, ev := range e.Events {
			if ev == eventType {
				subscribed = append(subscribed, e)
				break
			}
		}
	}
	return subscribed, nil
}

type rowIterator interface {
	Next() bool
	Scan(...interface{}) error
	Err() error
}

func collectEndpoints(rows rowIterator) ([]*models.WebhookEndpoint, error) {
	var endpoints []*models.WebhookEndpoint
	for rows.Next() {
		var e models.WebhookEndpoint
		var events string
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.URL, &e.Secret, &events,
			&e.IsActive, &e.FailureCount, &e.LastTriggeredAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook endpoint: %w", err)
		}
		if err := json.Unmarshal([]byte(events), &e.Events); err != nil {
			return nil, fmt.Errorf("failed to decode endpoint events: %w", err)
		}
		endpoints = append(endpoints, &e)
	}
	return endpoints, rows.Err()
}

// RecordEndpointSuccess resets the consecutive failure counter.
func (d *Database) RecordEndpointSuccess(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE webhook_endpoints SET failure_count = 0, last_triggered_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record endpoint success: %w", err)
	}
	return nil
}

// RecordEndpointFailure increments the consecutive failure counter and
// auto-disables the endpoint at the cap. Returns true when the endpoint was
// disabled by this failure.
func (d *Database) RecordEndpointFailure(ctx context.Context, id int64) (bool, error) {
	var failureCount int
	err := d.db.QueryRowContext(ctx, `
		UPDATE webhook_endpoints SET failure_count = failure_count + 1 WHERE id = ?
		RETURNING failure_count
	`, id).Scan(&failureCount)
	if err != nil {
		return false, fmt.Errorf("failed to record endpoint failure: %w", err)
	}

	if failureCount < constants.WebhookMaxFailures {
		return false, nil
	}

	if _, err := d.db.ExecContext(ctx, `
		UPDATE webhook_endpoints SET is_active = 0 WHERE id = ?
	`, id); err != nil {
		return false, fmt.Errorf("failed to disable endpoint: %w", err)
	}
	return true, nil
}
