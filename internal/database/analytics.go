package database

import (
	"context"
	"fmt"

	"chatflow/internal/models"
)

func (d *Database) InsertAnalyticsEvent(ctx context.Context, e *models.AnalyticsEvent) error {
	var data interface{}
	if len(e.Data) > 0 {
		data = string(e.Data)
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO analytics_events (workspace_id, type, contact_id, flow_id, data)
		VALUES (?, ?, ?, ?, ?)
	`, e.WorkspaceID, e.Type, e.ContactID, e.FlowID, data)
	if err != nil {
		return fmt.Errorf("failed to insert analytics event: %w", err)
	}
	return nil
}

func (d *Database) CountAnalyticsEvents(ctx context.Context, workspaceID int64, eventType string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM analytics_events WHERE workspace_id = ? AND type = ?
	`, workspaceID, eventType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count analytics events: %w", err)
	}
	return count, nil
}
