package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatflow/internal/models"
)

const conversationColumns = `id, workspace_id, channel_id, contact_id, provider_conversation_id, is_automation_paused, assigned_member_id, last_message_preview, unread_count, last_message_at, created_at, updated_at`

func scanConversation(row interface{ Scan(...interface{}) error }) (*models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.ChannelID, &c.ContactID,
		&c.ProviderConversationID, &c.IsAutomationPaused, &c.AssignedMemberID, &c.LastMessagePreview,
		&c.UnreadCount, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	return &c, nil
}

func (d *Database) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// GetOrCreateConversation upserts the single open thread for a
// (channel, contact) pair. The insert is conflict-safe against the unique
// index; the losing writer simply reads the winner's row.
func (d *Database) GetOrCreateConversation(ctx context.Context, workspaceID, channelID, contactID int64, providerConversationID string) (*models.Conversation, error) {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO conversations (workspace_id, channel_id, contact_id, provider_conversation_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel_id, contact_id) DO UPDATE SET provider_conversation_id = excluded.provider_conversation_id
		WHERE excluded.provider_conversation_id != ''
	`, workspaceID, channelID, contactID, providerConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert conversation: %w", err)
	}

	row := d.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE channel_id = ? AND contact_id = ?
	`, channelID, contactID)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation missing after upsert")
	}
	return conv, nil
}

func (d *Database) CountConversations(ctx context.Context, workspaceID int64) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conversations WHERE workspace_id = ?
	`, workspaceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return count, nil
}

func (d *Database) SetAutomationPaused(ctx context.Context, conversationID int64, paused bool) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE conversations SET is_automation_paused = ? WHERE id = ?
	`, paused, conversationID)
	if err != nil {
		return fmt.Errorf("failed to update automation pause: %w", err)
	}
	return nil
}

func (d *Database) AssignConversation(ctx context.Context, conversationID, memberID int64) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE conversations SET assigned_member_id = ? WHERE id = ?
	`, memberID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to assign conversation: %w", err)
	}
	return nil
}

// UpdateInboxPreview maintains the denormalized inbox columns. Inbound
// messages bump the unread counter; outbound ones only move the preview.
func (d *Database) UpdateInboxPreview(ctx context.Context, conversationID int64, preview string, at time.Time, inbound bool) error {
	unreadDelta := 0
	if inbound {
		unreadDelta = 1
	}
	_, err := d.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_preview = ?, last_message_at = ?, unread_count = unread_count + ?
		WHERE id = ?
	`, preview, at.UTC(), unreadDelta, conversationID)
	if err != nil {
		return fmt.Errorf("failed to update inbox preview: %w", err)
	}
	return nil
}
