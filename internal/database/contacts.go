package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chatflow/internal/models"
)

const contactColumns = `id, workspace_id, name, username, avatar_url, is_subscribed, custom_fields, last_interaction_at, created_at, updated_at`

func scanContact(row interface{ Scan(...interface{}) error }) (*models.Contact, error) {
	var c models.Contact
	var fields string
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Username, &c.AvatarURL,
		&c.IsSubscribed, &fields, &c.LastInteractionAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan contact: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &c.CustomFields); err != nil {
		return nil, fmt.Errorf("failed to decode custom fields: %w", err)
	}
	return &c, nil
}

func (d *Database) GetContact(ctx context.Context, id int64) (*models.Contact, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id)
	return scanContact(row)
}

// GetContactByChannelSender resolves a contact through the contact_channels
// identity key, or returns nil when this sender has never been seen.
func (d *Database) GetContactByChannelSender(ctx context.Context, channelID int64, platformSenderID string) (*models.Contact, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT c.id, c.workspace_id, c.name, c.username, c.avatar_url, c.is_subscribed,
		       c.custom_fields, c.last_interaction_at, c.created_at, c.updated_at
		FROM contacts c
		JOIN contact_channels cc ON cc.contact_id = c.id
		WHERE cc.channel_id = ? AND cc.platform_sender_id = ?
	`, channelID, platformSenderID)
	return scanContact(row)
}

// CreateContactWithChannel creates a contact and its channel link. The
// unique index on (channel_id, platform_sender_id) makes a concurrent
// duplicate insert fail; the caller re-resolves through
// GetContactByChannelSender in that case.
func (d *Database) CreateContactWithChannel(ctx context.Context, contact *models.Contact, channelID int64, platformSenderID string) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO contacts (workspace_id, name, username, avatar_url, is_subscribed, custom_fields)
		VALUES (?, ?, ?, ?, 1, '{}')
	`, contact.WorkspaceID, contact.Name, contact.Username, contact.AvatarURL)
	if err != nil {
		return 0, fmt.Errorf("failed to create contact: %w", err)
	}
	contactID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get contact id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO contact_channels (contact_id, channel_id, platform_sender_id)
		VALUES (?, ?, ?)
	`, contactID, channelID, platformSenderID); err != nil {
		return 0, fmt.Errorf("failed to create contact channel link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit contact: %w", err)
	}
	return contactID, nil
}

func (d *Database) CountContacts(ctx context.Context, workspaceID int64) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM contacts WHERE workspace_id = ?
	`, workspaceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count contacts: %w", err)
	}
	return count, nil
}

func (d *Database) TouchContactInteraction(ctx context.Context, contactID int64, at time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE contacts SET last_interaction_at = ? WHERE id = ?
	`, at.UTC(), contactID)
	if err != nil {
		return fmt.Errorf("failed to update last interaction: %w", err)
	}
	return nil
}

func (d *Database) SetContactSubscribed(ctx context.Context, contactID int64, subscribed bool) error {
	_, err := d.db.ExecContext(ctx, `UPDATE contacts SET is_subscribed = ? WHERE id = ?`, subscribed, contactID)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

func (d *Database) AddContactTag(ctx context.Context, contactID int64, tag string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO contact_tags (contact_id, tag) VALUES (?, ?)
	`, contactID, tag)
	if err != nil {
		return fmt.Errorf("failed to add tag: %w", err)
	}
	return nil
}

func (d *Database) RemoveContactTag(ctx context.Context, contactID int64, tag string) error {
	_, err := d.db.ExecContext(ctx, `
		DELETE FROM contact_tags WHERE contact_id = ? AND tag = ?
	`, contactID, tag)
	if err != nil {
		return fmt.Errorf("failed to remove tag: %w", err)
	}
	return nil
}

func (d *Database) GetContactTags(ctx context.Context, contactID int64) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT tag FROM contact_tags WHERE contact_id = ? ORDER BY tag
	`, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (d *Database) SetContactField(ctx context.Context, contactID int64, field, value string) error {
	contact, err := d.GetContact(ctx, contactID)
	if err != nil {
		return err
	}
	if contact == nil {
		return fmt.Errorf("contact %d not found", contactID)
	}

	if contact.CustomFields == nil {
		contact.CustomFields = map[string]string{}
	}
	contact.CustomFields[field] = value

	encoded, err := json.Marshal(contact.CustomFields)
	if err != nil {
		return fmt.Errorf("failed to encode custom fields: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, `
		UPDATE contacts SET custom_fields = ? WHERE id = ?
	`, string(encoded), contactID); err != nil {
		return fmt.Errorf("failed to update custom fields: %w", err)
	}
	return nil
}

// FirstChannelLink returns the first channel link for a contact, the one a
// broadcast delivers through when a contact is reachable on several
// channels.
func (d *Database) FirstChannelLink(ctx context.Context, contactID int64) (*models.ContactChannel, error) {
	var cc models.ContactChannel
	err := d.db.QueryRowContext(ctx, `
		SELECT id, contact_id, channel_id, platform_sender_id, created_at
		FROM contact_channels WHERE contact_id = ? ORDER BY id LIMIT 1
	`, contactID).Scan(&cc.ID, &cc.ContactID, &cc.ChannelID, &cc.PlatformSenderID, &cc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel link: %w", err)
	}
	return &cc, nil
}
