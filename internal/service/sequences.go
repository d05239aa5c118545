package service

import (
	"context"
	"fmt"
	"time"

	"chatflow/internal/constants"
	"chatflow/internal/database"
	"chatflow/internal/models"
	"chatflow/pkg/messaging"

	"github.com/sirupsen/logrus"
)

// SequenceProcessor advances drip-campaign enrollments. Like the job
// scheduler it owns no timers; a periodic tick processes everything due.
type SequenceProcessor struct {
	db       *database.Database
	provider messaging.Provider
	logger   *logrus.Logger
	now      func() time.Time

	batchSize int
}

func NewSequenceProcessor(db *database.Database, provider messaging.Provider, logger *logrus.Logger) *SequenceProcessor {
	return &SequenceProcessor{
		db:        db,
		provider:  provider,
		logger:    logger,
		now:       time.Now,
		batchSize: constants.DefaultSequenceBatchSize,
	}
}

// Tick processes one batch of due enrollments. A delivery failure is logged
// and the cursor still advances; only storage failures count as failed.
func (p *SequenceProcessor) Tick(ctx context.Context) (TickStats, error) {
	var stats TickStats

	enrollments, err := p.db.DueEnrollments(ctx, p.batchSize)
	if err != nil {
		return stats, err
	}

	for _, enrollment := range enrollments {
		if err := p.processEnrollment(ctx, enrollment); err != nil {
			stats.Failed++
			p.logger.WithError(err).WithFields(logrus.Fields{
				"enrollment_id": enrollment.ID,
				"sequence_id":   enrollment.SequenceID,
			}).Error("Failed to process enrollment")
			continue
		}
		stats.Processed++
	}
	return stats, nil
}

func (p *SequenceProcessor) processEnrollment(ctx context.Context, enrollment *models.SequenceEnrollment) error {
	seq, err := p.db.GetSequence(ctx, enrollment.SequenceID)
	if err != nil {
		return err
	}
	if seq == nil || seq.Status != models.SequenceStatusActive {
		return p.db.FinishEnrollment(ctx, enrollment.ID, models.EnrollmentStatusCancelled)
	}

	if enrollment.CurrentStepIndex >= len(seq.Steps) {
		return p.db.FinishEnrollment(ctx, enrollment.ID, models.EnrollmentStatusCompleted)
	}

	step := seq.Steps[enrollment.CurrentStepIndex]
	if step.Type == models.StepMessage {
		if err := p.sendStep(ctx, enrollment, step); err != nil {
			return err
		}
	}

	return p.advance(ctx, enrollment, seq)
}

func (p *SequenceProcessor) sendStep(ctx context.Context, enrollment *models.SequenceEnrollment, step models.SequenceStep) error {
	channel, err := p.db.GetChannel(ctx, enrollment.ChannelID)
	if err != nil {
		return err
	}
	if channel == nil {
		return fmt.Errorf("channel %d not found", enrollment.ChannelID)
	}
	conv, err := p.db.GetConversation(ctx, enrollment.ConversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %d not found", enrollment.ConversationID)
	}
	contact, err := p.db.GetContact(ctx, enrollment.ContactID)
	if err != nil {
		return err
	}
	if contact == nil {
		return fmt.Errorf("contact %d not found", enrollment.ContactID)
	}

	text := Interpolate(step.Text, broadcastVars(contact))
	deliveryErr, err := deliverMessage(ctx, p.db, p.provider, channel, conv, text)
	if err != nil {
		return err
	}
	if deliveryErr != nil {
		// The cursor still advances; one dead step never wedges the drip.
		p.logger.WithError(deliveryErr).WithFields(logrus.Fields{
			"enrollment_id": enrollment.ID,
			"step_index":    enrollment.CurrentStepIndex,
		}).Warn("Sequence step delivery failed")
	}
	return nil
}

// advance moves the cursor past the current step. A delay step determines
// when the step after it runs; a message step runs on the very next tick.
func (p *SequenceProcessor) advance(ctx context.Context, enrollment *models.SequenceEnrollment, seq *models.Sequence) error {
	nextIndex := enrollment.CurrentStepIndex + 1
	if nextIndex >= len(seq.Steps) {
		return p.db.FinishEnrollment(ctx, enrollment.ID, models.EnrollmentStatusCompleted)
	}

	nextStepAt := p.now().UTC()
	if next := seq.Steps[nextIndex]; next.Type == models.StepDelay {
		nextStepAt = nextStepAt.Add(time.Duration(next.DelayMinutes) * time.Minute)
	}

	return p.db.AdvanceEnrollment(ctx, enrollment.ID, nextIndex, nextStepAt)
}
