package database

import (
	"context"
	"database/sql"
	"fmt"

	"chatflow/internal/models"
)

func (d *Database) CreateWorkspace(ctx context.Context, name string) (int64, error) {
	res, err := d.db.ExecContext(ctx, `INSERT INTO workspaces (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to create workspace: %w", err)
	}
	return res.LastInsertId()
}

func (d *Database) GetWorkspace(ctx context.Context, id int64) (*models.Workspace, error) {
	var ws models.Workspace
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, last_assigned_member_index, created_at, updated_at
		FROM workspaces WHERE id = ?
	`, id).Scan(&ws.ID, &ws.Name, &ws.LastAssignedMemberIndex, &ws.CreatedAt, &ws.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return &ws, nil
}

func (d *Database) AddWorkspaceMember(ctx context.Context, workspaceID int64, name, email string) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, name, email) VALUES (?, ?, ?)
	`, workspaceID, name, email)
	if err != nil {
		return 0, fmt.Errorf("failed to add workspace member: %w", err)
	}
	return res.LastInsertId()
}

// ListMemberIDs returns member ids in stable creation order, the order the
// round-robin assignment cycles through.
func (d *Database) ListMemberIDs(ctx context.Context, workspaceID int64) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id FROM workspace_members WHERE workspace_id = ? ORDER BY id
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// NextAssignmentIndex advances the workspace round-robin counter with a
// database-side atomic increment and returns the index to assign. Two
// concurrent first messages therefore never observe the same index.
func (d *Database) NextAssignmentIndex(ctx context.Context, workspaceID int64) (int, error) {
	var next int
	err := d.db.QueryRowContext(ctx, `
		UPDATE workspaces
		SET last_assigned_member_index = last_assigned_member_index + 1
		WHERE id = ?
		RETURNING last_assigned_member_index
	`, workspaceID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to advance assignment counter: %w", err)
	}
	return next - 1, nil
}
