package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatflow/internal/models"
)

func (d *Database) CreateBroadcast(ctx context.Context, b *models.Broadcast) (int64, error) {
	var filter *string
	if b.SegmentFilter != nil {
		encoded, err := json.Marshal(b.SegmentFilter)
		if err != nil {
			return 0, fmt.Errorf("failed to encode segment filter: %w", err)
		}
		s := string(encoded)
		filter = &s
	}

	var scheduledFor interface{}
	if b.ScheduledFor != nil {
		scheduledFor = b.ScheduledFor.UTC()
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO broadcasts (workspace_id, name, message_text, segment_filter, status, scheduled_for)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.WorkspaceID, b.Name, b.MessageText, filter, b.Status, scheduledFor)
	if err != nil {
		return 0, fmt.Errorf("failed to create broadcast: %w", err)
	}
	return res.LastInsertId()
}

func (d *Database) GetBroadcast(ctx context.Context, id int64) (*models.Broadcast, error) {
	var b models.Broadcast
	var filter *string
	err := d.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, message_text, segment_filter, status, scheduled_for,
		       total_recipients, sent_count, failed_count, created_at, updated_at
		FROM broadcasts WHERE id = ?
	`, id).Scan(&b.ID, &b.WorkspaceID, &b.Name, &b.MessageText, &filter, &b.Status,
		&b.ScheduledFor, &b.TotalRecipients, &b.SentCount, &b.FailedCount, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get broadcast: %w", err)
	}
	if filter != nil {
		if err := json.Unmarshal([]byte(*filter), &b.SegmentFilter); err != nil {
			return nil, fmt.Errorf("failed to decode segment filter: %w", err)
		}
	}
	return &b, nil
}

// SetBroadcastStatus moves a broadcast to the given status unconditionally.
func (d *Database) SetBroadcastStatus(ctx context.Context, id int64, status string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE broadcasts SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update broadcast status: %w", err)
	}
	return nil
}

// ClaimBroadcastForSending promotes a broadcast with a compare-and-swap on
// its current status, the same pattern the job store uses. Zero rows
// affected means another tick already promoted it.
func (d *Database) ClaimBroadcastForSending(ctx context.Context, id int64, fromStatus string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE broadcasts SET status = ? WHERE id = ? AND status = ?
	`, models.BroadcastStatusSending, id, fromStatus)
	if err != nil {
		return false, fmt.Errorf("failed to claim broadcast: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// ListDueScheduledBroadcasts returns ids of scheduled broadcasts whose
// scheduled_for has passed.
func (d *Database) ListDueScheduledBroadcasts(ctx context.Context, limit int) ([]int64, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id FROM broadcasts
		WHERE status = ? AND scheduled_for IS NOT NULL AND scheduled_for <= ?
		ORDER BY scheduled_for LIMIT ?
	`, models.BroadcastStatusScheduled, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due broadcasts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan broadcast id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertRecipients bulk-inserts recipient rows in one statement. Callers
// bound the batch size to respect payload limits.
func (d *Database) InsertRecipients(ctx context.Context, broadcastID int64, recipients []models.BroadcastRecipient) ([]int64, error) {
	if len(recipients) == 0 {
		return nil, nil
	}

	placeholders := make([]string, 0, len(recipients))
	args := make([]interface{}, 0, len(recipients)*4)
	for _, r := range recipients {
		placeholders = append(placeholders, "(?, ?, ?, ?)")
		args = append(args, broadcastID, r.ContactID, r.ChannelID, models.RecipientStatusPending)
	}

	query := `INSERT INTO broadcast_recipients (broadcast_id, contact_id, channel_id, status) VALUES ` +
		strings.Join(placeholders, ", ")
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert recipients: %w", err)
	}

	lastID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last recipient id: %w", err)
	}

	// SQLite assigns contiguous rowids for a single multi-row insert.
	ids := make([]int64, len(recipients))
	firstID := lastID - int64(len(recipients)) + 1
	for i := range ids {
		ids[i] = firstID + int64(i)
	}
	return ids, nil
}

func (d *Database) GetRecipient(ctx context.Context, id int64) (*models.BroadcastRecipient, error) {
	var r models.BroadcastRecipient
	err := d.db.QueryRowContext(ctx, `
		SELECT id, broadcast_id, contact_id, channel_id, status, error, created_at
		FROM broadcast_recipients WHERE id = ?
	`, id).Scan(&r.ID, &r.BroadcastID, &r.ContactID, &r.ChannelID, &r.Status, &r.Error, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}
	return &r, nil
}

func (d *Database) SetRecipientStatus(ctx context.Context, id int64, status string, deliveryErr *string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE broadcast_recipients SET status = ?, error = ? WHERE id = ?
	`, status, deliveryErr, id)
	if err != nil {
		return fmt.Errorf("failed to update recipient: %w", err)
	}
	return nil
}

// SetBroadcastTotal records the resolved audience size when sending starts.
func (d *Database) SetBroadcastTotal(ctx context.Context, id int64, total int) error {
	_, err := d.db.ExecContext(ctx, `UPDATE broadcasts SET total_recipients = ? WHERE id = ?`, total, id)
	if err != nil {
		return fmt.Errorf("failed to set broadcast total: %w", err)
	}
	return nil
}

// RecordDeliveryResult atomically increments the sent or failed counter and
// finalizes the broadcast status once every recipient has resolved, without
// re-scanning recipient rows. It returns true for the single call that
// performed the finalization.
func (d *Database) RecordDeliveryResult(ctx context.Context, broadcastID int64, sent bool) (bool, error) {
	column := "failed_count"
	if sent {
		column = "sent_count"
	}

	if _, err := d.db.ExecContext(ctx,
		`UPDATE broadcasts SET `+column+` = `+column+` + 1 WHERE id = ?`, broadcastID); err != nil {
		return false, fmt.Errorf("failed to record delivery result: %w", err)
	}

	res, err := d.db.ExecContext(ctx, `
		UPDATE broadcasts
		SET status = CASE WHEN sent_count = 0 THEN ? ELSE ? END
		WHERE id = ? AND status = ? AND sent_count + failed_count >= total_recipients
	`, models.BroadcastStatusFailed, models.BroadcastStatusCompleted,
		broadcastID, models.BroadcastStatusSending)
	if err != nil {
		return false, fmt.Errorf("failed to finalize broadcast: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}
