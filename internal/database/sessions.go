package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"chatflow/internal/models"
)

const sessionColumns = `id, workspace_id, flow_id, contact_id, conversation_id, channel_id, current_node_id, status, variables, created_at, updated_at`

func scanSession(row interface{ Scan(...interface{}) error }) (*models.FlowSession, error) {
	var s models.FlowSession
	var variables string
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.FlowID, &s.ContactID, &s.ConversationID,
		&s.ChannelID, &s.CurrentNodeID, &s.Status, &variables, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan flow session: %w", err)
	}
	if err := json.Unmarshal([]byte(variables), &s.Variables); err != nil {
		return nil, fmt.Errorf("failed to decode session variables: %w", err)
	}
	return &s, nil
}

func (d *Database) CreateFlowSession(ctx context.Context, s *models.FlowSession) (int64, error) {
	variables, err := json.Marshal(s.Variables)
	if err != nil {
		return 0, fmt.Errorf("failed to encode session variables: %w", err)
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO flow_sessions (workspace_id, flow_id, contact_id, conversation_id, channel_id, current_node_id, status, variables)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.WorkspaceID, s.FlowID, s.ContactID, s.ConversationID, s.ChannelID, s.CurrentNodeID, s.Status, string(variables))
	if err != nil {
		return 0, fmt.Errorf("failed to create flow session: %w", err)
	}
	return res.LastInsertId()
}

func (d *Database) GetFlowSession(ctx context.Context, id int64) (*models.FlowSession, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM flow_sessions WHERE id = ?`, id)
	return scanSession(row)
}

// GetActiveSessionByConversation returns the active session for a
// conversation, or nil. Suspension logic guarantees at most one.
func (d *Database) GetActiveSessionByConversation(ctx context.Context, conversationID int64) (*models.FlowSession, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM flow_sessions
		WHERE conversation_id = ? AND status = ?
		ORDER BY id DESC LIMIT 1
	`, conversationID, models.SessionStatusActive)
	return scanSession(row)
}

// SaveSessionCursor persists the execution cursor and variables.
func (d *Database) SaveSessionCursor(ctx context.Context, id int64, currentNodeID string, variables map[string]string) error {
	encoded, err := json.Marshal(variables)
	if err != nil {
		return fmt.Errorf("failed to encode session variables: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		UPDATE flow_sessions SET current_node_id = ?, variables = ? WHERE id = ?
	`, currentNodeID, string(encoded), id)
	if err != nil {
		return fmt.Errorf("failed to save session cursor: %w", err)
	}
	return nil
}

// FinishSession moves an active session to a terminal status. Returns false
// when the session was already terminal, so an out-of-band cancellation and
// a resume job never both win.
func (d *Database) FinishSession(ctx context.Context, id int64, status string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE flow_sessions SET status = ? WHERE id = ? AND status = ?
	`, status, id, models.SessionStatusActive)
	if err != nil {
		return false, fmt.Errorf("failed to finish session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// CancelActiveSessionsForContact cancels every active session of a contact,
// used when the contact opts out.
func (d *Database) CancelActiveSessionsForContact(ctx context.Context, contactID int64) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE flow_sessions SET status = ? WHERE contact_id = ? AND status = ?
	`, models.SessionStatusCancelled, contactID, models.SessionStatusActive)
	if err != nil {
		return fmt.Errorf("failed to cancel sessions: %w", err)
	}
	return nil
}
