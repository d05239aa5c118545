package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"chatflow/internal/models"
)

func (d *Database) CreateFlow(ctx context.Context, f *models.Flow) (int64, error) {
	nodes, err := json.Marshal(f.Nodes)
	if err != nil {
		return 0, fmt.Errorf("failed to encode nodes: %w", err)
	}
	edges, err := json.Marshal(f.Edges)
	if err != nil {
		return 0, fmt.Errorf("failed to encode edges: %w", err)
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO flows (workspace_id, name, status, entry_node_id, nodes, edges)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.WorkspaceID, f.Name, f.Status, f.EntryNodeID, string(nodes), string(edges))
	if err != nil {
		return 0, fmt.Errorf("failed to create flow: %w", err)
	}
	return res.LastInsertId()
}

func (d *Database) GetFlow(ctx context.Context, id int64) (*models.Flow, error) {
	var f models.Flow
	var nodes, edges string
	err := d.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, status, entry_node_id, nodes, edges, created_at, updated_at
		FROM flows WHERE id = ?
	`, id).Scan(&f.ID, &f.WorkspaceID, &f.Name, &f.Status, &f.EntryNodeID, &nodes, &edges, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}

	if err := json.Unmarshal([]byte(nodes), &f.Nodes); err != nil {
		return nil, fmt.Errorf("failed to decode nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(edges), &f.Edges); err != nil {
		return nil, fmt.Errorf("failed to decode edges: %w", err)
	}
	return &f, nil
}

func (d *Database) SetFlowStatus(ctx context.Context, id int64, status models.FlowStatus) error {
	_, err := d.db.ExecContext(ctx, `UPDATE flows SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update flow status: %w", err)
	}
	return nil
}

func (d *Database) CreateTrigger(ctx context.Context, t *models.Trigger) (int64, error) {
	keywords, err := json.Marshal(t.Keywords)
	if err != nil {
		return 0, fmt.Errorf("failed to encode keywords: %w", err)
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO triggers (workspace_id, flow_id, channel_id, type, node_id, keywords, payload, priority, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.WorkspaceID, t.FlowID, t.ChannelID, t.Type, t.NodeID, string(keywords), t.Payload, t.Priority, t.IsActive)
	if err != nil {
		return 0, fmt.Errorf("failed to create trigger: %w", err)
	}
	return res.LastInsertId()
}

func (d *Database) SetTriggerActive(ctx context.Context, id int64, active bool) error {
	_, err := d.db.ExecContext(ctx, `UPDATE triggers SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update trigger: %w", err)
	}
	return nil
}

// ListCandidateTriggers returns active triggers on published flows that are
// either global or scoped to the given channel, ordered by priority within
// insertion order. Tier ordering across trigger types is the matcher's job.
func (d *Database) ListCandidateTriggers(ctx context.Context, workspaceID, channelID int64) ([]*models.Trigger, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT t.id, t.workspace_id, t.flow_id, t.channel_id, t.type, t.node_id,
		       t.keywords, t.payload, t.priority, t.is_active, t.created_at
		FROM triggers t
		JOIN flows f ON f.id = t.flow_id
		WHERE t.workspace_id = ?
		  AND t.is_active = 1
		  AND f.status = ?
		  AND (t.channel_id IS NULL OR t.channel_id = ?)
		ORDER BY t.priority DESC, t.id
	`, workspaceID, models.FlowStatusPublished, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*models.Trigger
	for rows.Next() {
		var t models.Trigger
		var keywords string
		if err := rows.Scan(&t.ID, &t.WorkspaceID, &t.FlowID, &t.ChannelID, &t.Type,
			&t.NodeID, &keywords, &t.Payload, &t.Priority, &t.IsActive, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		if err := json.Unmarshal([]byte(keywords), &t.Keywords); err != nil {
			return nil, fmt.Errorf("failed to decode keywords: %w", err)
		}
		triggers = append(triggers, &t)
	}
	return triggers, rows.Err()
}
