package database

import (
	"context"
	"fmt"

	"chatflow/internal/models"
)

// ListSubscribedContactIDs returns the base audience for segment
// resolution: every subscribed contact in the workspace.
func (d *Database) ListSubscribedContactIDs(ctx context.Context, workspaceID int64) ([]int64, error) {
	return d.collectIDs(ctx, `
		SELECT id FROM contacts WHERE workspace_id = ? AND is_subscribed = 1 ORDER BY id
	`, workspaceID)
}

// ContactIDsWithTag returns subscribed contacts carrying the tag.
func (d *Database) ContactIDsWithTag(ctx context.Context, workspaceID int64, tag string) ([]int64, error) {
	return d.collectIDs(ctx, `
		SELECT c.id FROM contacts c
		JOIN contact_tags t ON t.contact_id = c.id
		WHERE c.workspace_id = ? AND t.tag = ?
		ORDER BY c.id
	`, workspaceID, tag)
}

// ContactIDsOnPlatform returns contacts linked to a channel on the platform.
func (d *Database) ContactIDsOnPlatform(ctx context.Context, workspaceID int64, platform string) ([]int64, error) {
	return d.collectIDs(ctx, `
		SELECT DISTINCT c.id FROM contacts c
		JOIN contact_channels cc ON cc.contact_id = c.id
		JOIN channels ch ON ch.id = cc.channel_id
		WHERE c.workspace_id = ? AND ch.platform = ?
		ORDER BY c.id
	`, workspaceID, platform)
}

// ContactIDsBySubscription returns contacts by subscription state.
func (d *Database) ContactIDsBySubscription(ctx context.Context, workspaceID int64, subscribed bool) ([]int64, error) {
	return d.collectIDs(ctx, `
		SELECT id FROM contacts WHERE workspace_id = ? AND is_subscribed = ? ORDER BY id
	`, workspaceID, subscribed)
}

// ContactIDsByInteraction compares last_interaction_at against a cutoff.
// Contacts that never interacted match neither direction.
func (d *Database) ContactIDsByInteraction(ctx context.Context, workspaceID int64, after bool, cutoff string) ([]int64, error) {
	op := "<"
	if after {
		op = ">"
	}
	return d.collectIDs(ctx, `
		SELECT id FROM contacts
		WHERE workspace_id = ? AND last_interaction_at IS NOT NULL AND last_interaction_at `+op+` ?
		ORDER BY id
	`, workspaceID, cutoff)
}

// ListContactsWithFields returns all workspace contacts with their custom
// fields decoded, for rules evaluated in process.
func (d *Database) ListContactsWithFields(ctx context.Context, workspaceID int64) ([]*models.Contact, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+contactColumns+` FROM contacts WHERE workspace_id = ? ORDER BY id
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (d *Database) collectIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contact ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan contact id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
