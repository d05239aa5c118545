package database

import (
	"context"
	"database/sql"
	"fmt"

	"chatflow/internal/models"
)

// GetMessageByProviderID looks up a message by the provider's id, the
// idempotency key for inbound ingestion.
func (d *Database) GetMessageByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	var m models.Message
	err := d.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, direction, provider_message_id, text, status, sent_at, created_at
		FROM messages WHERE provider_message_id = ?
	`, providerMessageID).Scan(&m.ID, &m.ConversationID, &m.Direction,
		&m.ProviderMessageID, &m.Text, &m.Status, &m.SentAt, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &m, nil
}

func (d *Database) SaveMessage(ctx context.Context, m *models.Message) (int64, error) {
	var id int64
	err := retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, `
			INSERT INTO messages (conversation_id, direction, provider_message_id, text, status, sent_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, m.ConversationID, m.Direction, m.ProviderMessageID, m.Text, m.Status, m.SentAt.UTC())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	}, "save message")
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CountInboundMessages counts stored inbound messages in a conversation.
// The welcome trigger fires only when this is exactly 1.
func (d *Database) CountInboundMessages(ctx context.Context, conversationID int64) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND direction = ?
	`, conversationID, models.DirectionInbound).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count inbound messages: %w", err)
	}
	return count, nil
}

func (d *Database) CountMessages(ctx context.Context) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
