package database

import (
	"context"
	"database/sql"
	"fmt"

	"chatflow/internal/models"
)

func (d *Database) CreateChannel(ctx context.Context, ch *models.Channel) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO channels (workspace_id, platform, external_account_id, name, is_active, webhook_secret)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ch.WorkspaceID, ch.Platform, ch.ExternalAccountID, ch.Name, ch.IsActive, ch.WebhookSecret)
	if err != nil {
		return 0, fmt.Errorf("failed to create channel: %w", err)
	}
	return res.LastInsertId()
}

const channelColumns = `id, workspace_id, platform, external_account_id, name, is_active, webhook_secret, comments_cursor, created_at, updated_at`

func scanChannel(row interface{ Scan(...interface{}) error }) (*models.Channel, error) {
	var ch models.Channel
	err := row.Scan(&ch.ID, &ch.WorkspaceID, &ch.Platform, &ch.ExternalAccountID,
		&ch.Name, &ch.IsActive, &ch.WebhookSecret, &ch.CommentsCursor, &ch.CreatedAt, &ch.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan channel: %w", err)
	}
	return &ch, nil
}

func (d *Database) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	return scanChannel(row)
}

// GetChannelByAccount resolves a channel from the provider account identity
// carried on every inbound event.
func (d *Database) GetChannelByAccount(ctx context.Context, platform, externalAccountID string) (*models.Channel, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+channelColumns+` FROM channels WHERE platform = ? AND external_account_id = ?
	`, platform, externalAccountID)
	return scanChannel(row)
}

// IsWorkspaceAccount reports whether the given sender id belongs to any of
// the workspace's connected channels. Used as the self-loop guard.
func (d *Database) IsWorkspaceAccount(ctx context.Context, workspaceID int64, senderID string) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM channels WHERE workspace_id = ? AND external_account_id = ?
	`, workspaceID, senderID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check workspace accounts: %w", err)
	}
	return count > 0, nil
}

func (d *Database) SetChannelActive(ctx context.Context, id int64, active bool) error {
	_, err := d.db.ExecContext(ctx, `UPDATE channels SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update channel: %w", err)
	}
	return nil
}

// SetCommentsCursor stores the comment polling position for a channel.
func (d *Database) SetCommentsCursor(ctx context.Context, id int64, cursor string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE channels SET comments_cursor = ? WHERE id = ?`, cursor, id)
	if err != nil {
		return fmt.Errorf("failed to update comments cursor: %w", err)
	}
	return nil
}
