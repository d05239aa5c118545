package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chatflow/internal/models"
)

func (d *Database) CreateSequence(ctx context.Context, s *models.Sequence) (int64, error) {
	steps, err := json.Marshal(s.Steps)
	if err != nil {
		return 0, fmt.Errorf("failed to encode steps: %w", err)
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO sequences (workspace_id, name, status, steps) VALUES (?, ?, ?, ?)
	`, s.WorkspaceID, s.Name, s.Status, string(steps))
	if err != nil {
		return 0, fmt.Errorf("failed to create sequence: %w", err)
	}
	return res.LastInsertId()
}

func (d *Database) GetSequence(ctx context.Context, id int64) (*models.Sequence, error) {
	var s models.Sequence
	var steps string
	err := d.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, status, steps, created_at, updated_at
		FROM sequences WHERE id = ?
	`, id).Scan(&s.ID, &s.WorkspaceID, &s.Name, &s.Status, &steps, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sequence: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &s.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps: %w", err)
	}
	return &s, nil
}

func (d *Database) SetSequenceStatus(ctx context.Context, id int64, status string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE sequences SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update sequence status: %w", err)
	}
	return nil
}

// EnrollContact creates an active enrollment cursor. Re-enrolling a contact
// already in the sequence is a no-op.
func (d *Database) EnrollContact(ctx context.Context, e *models.SequenceEnrollment) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO sequence_enrollments (sequence_id, contact_id, channel_id, conversation_id, current_step_index, next_step_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sequence_id, contact_id) DO NOTHING
	`, e.SequenceID, e.ContactID, e.ChannelID, e.ConversationID, e.CurrentStepIndex, e.NextStepAt.UTC(), e.Status)
	if err != nil {
		return 0, fmt.Errorf("failed to enroll contact: %w", err)
	}
	return res.LastInsertId()
}

const enrollmentColumns = `id, sequence_id, contact_id, channel_id, conversation_id, current_step_index, next_step_at, status, created_at, updated_at`

func scanEnrollment(row interface{ Scan(...interface{}) error }) (*models.SequenceEnrollment, error) {
	var e models.SequenceEnrollment
	err := row.Scan(&e.ID, &e.SequenceID, &e.ContactID, &e.ChannelID, &e.ConversationID,
		&e.CurrentStepIndex, &e.NextStepAt, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}
	return &e, nil
}

func (d *Database) GetEnrollment(ctx context.Context, id int64) (*models.SequenceEnrollment, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM sequence_enrollments WHERE id = ?`, id)
	return scanEnrollment(row)
}

// GetEnrollmentBySequenceContact resolves an enrollment through the unique
// (sequence, contact) pair.
func (d *Database) GetEnrollmentBySequenceContact(ctx context.Context, sequenceID, contactID int64) (*models.SequenceEnrollment, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+enrollmentColumns+` FROM sequence_enrollments
		WHERE sequence_id = ? AND contact_id = ?
	`, sequenceID, contactID)
	return scanEnrollment(row)
}

// DueEnrollments returns active enrollments whose next step is due.
func (d *Database) DueEnrollments(ctx context.Context, limit int) ([]*models.SequenceEnrollment, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+enrollmentColumns+` FROM sequence_enrollments
		WHERE status = ? AND next_step_at <= ?
		ORDER BY next_step_at, id
		LIMIT ?
	`, models.EnrollmentStatusActive, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due enrollments: %w", err)
	}
	defer rows.Close()

	var due []*models.SequenceEnrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, e)
	}
	return due, rows.Err()
}

// AdvanceEnrollment moves the cursor forward and schedules the next wake.
func (d *Database) AdvanceEnrollment(ctx context.Context, id int64, stepIndex int, nextStepAt time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE sequence_enrollments SET current_step_index = ?, next_step_at = ? WHERE id = ?
	`, stepIndex, nextStepAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to advance enrollment: %w", err)
	}
	return nil
}

func (d *Database) FinishEnrollment(ctx context.Context, id int64, status string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE sequence_enrollments SET status = ? WHERE id = ?
	`, status, id)
	if err != nil {
		return fmt.Errorf("failed to finish enrollment: %w", err)
	}
	return nil
}

// CancelActiveEnrollmentsForContact cancels a contact's active drip
// enrollments, used when the contact opts out.
func (d *Database) CancelActiveEnrollmentsForContact(ctx context.Context, contactID int64) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE sequence_enrollments SET status = ? WHERE contact_id = ? AND status = ?
	`, models.EnrollmentStatusCancelled, contactID, models.EnrollmentStatusActive)
	if err != nil {
		return fmt.Errorf("failed to cancel enrollments: %w", err)
	}
	return nil
}
