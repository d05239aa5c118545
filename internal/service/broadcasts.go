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

// BroadcastService resolves audiences and schedules per-recipient delivery
// jobs. Sending a broadcast is just inserting recipient rows and jobs; the
// scheduler tick does the actual delivery.
type BroadcastService struct {
	db       *database.Database
	provider messaging.Provider
	resolver *SegmentResolver
	events   EventPublisher
	logger   *logrus.Logger
	now      func() time.Time
}

func NewBroadcastService(db *database.Database, provider messaging.Provider, resolver *SegmentResolver, events EventPublisher, logger *logrus.Logger) *BroadcastService {
	return &BroadcastService{
		db:       db,
		provider: provider,
		resolver: resolver,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// Send promotes a broadcast into the sending pipeline immediately. The
// promotion is a compare-and-swap from the given status, so a broadcast
// picked up by two overlapping callers is processed exactly once.
func (b *BroadcastService) Send(ctx context.Context, broadcastID int64, fromStatus string) error {
	claimed, err := b.db.ClaimBroadcastForSending(ctx, broadcastID, fromStatus)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	return b.schedule(ctx, broadcastID)
}

// PromoteDue moves scheduled broadcasts whose time has passed into the
// sending pipeline. Returns how many were promoted.
func (b *BroadcastService) PromoteDue(ctx context.Context) (int, error) {
	ids, err := b.db.ListDueScheduledBroadcasts(ctx, constants.DefaultBroadcastBatchSize)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		claimed, err := b.db.ClaimBroadcastForSending(ctx, id, models.BroadcastStatusScheduled)
		if err != nil {
			return promoted, err
		}
		if !claimed {
			continue
		}
		if err := b.schedule(ctx, id); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// schedule resolves the audience and fans it out into recipient rows and
// spaced delivery jobs. The caller has already won the sending claim.
func (b *BroadcastService) schedule(ctx context.Context, broadcastID int64) error {
	broadcast, err := b.db.GetBroadcast(ctx, broadcastID)
	if err != nil {
		return err
	}
	if broadcast == nil {
		return fmt.Errorf("broadcast %d not found", broadcastID)
	}

	if broadcast.MessageText == "" {
		b.logger.WithField("broadcast_id", broadcastID).Warn("Broadcast has no message text, cancelling")
		return b.db.SetBroadcastStatus(ctx, broadcastID, models.BroadcastStatusCancelled)
	}

	contactIDs, err := b.resolver.Resolve(ctx, broadcast.WorkspaceID, broadcast.SegmentFilter)
	if err != nil {
		return err
	}

	// One recipient per contact via its first channel link; contacts with
	// no channel link are unreachable and dropped.
	recipients := make([]models.BroadcastRecipient, 0, len(contactIDs))
	for _, contactID := range contactIDs {
		link, err := b.db.FirstChannelLink(ctx, contactID)
		if err != nil {
			return err
		}
		if link == nil {
			continue
		}
		recipients = append(recipients, models.BroadcastRecipient{
			ContactID: contactID,
			ChannelID: link.ChannelID,
		})
	}

	if len(recipients) == 0 {
		if err := b.db.SetBroadcastTotal(ctx, broadcastID, 0); err != nil {
			return err
		}
		return b.db.SetBroadcastStatus(ctx, broadcastID, models.BroadcastStatusCompleted)
	}

	var recipientIDs []int64
	for start := 0; start < len(recipients); start += constants.BroadcastRecipientBatchSize {
		end := start + constants.BroadcastRecipientBatchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		ids, err := b.db.InsertRecipients(ctx, broadcastID, recipients[start:end])
		if err != nil {
			return err
		}
		recipientIDs = append(recipientIDs, ids...)
	}

	if err := b.db.SetBroadcastTotal(ctx, broadcastID, len(recipientIDs)); err != nil {
		return err
	}

	// Linear spacing smooths provider rate limits instead of bursting the
	// whole audience at once.
	base := b.now().UTC()
	for i, recipientID := range recipientIDs {
		runAt := base.Add(time.Duration(i) * constants.BroadcastDeliverySpacing)
		payload := models.BroadcastDeliveryPayload{BroadcastID: broadcastID, RecipientID: recipientID}
		if _, err := b.db.EnqueueJob(ctx, models.JobTypeBroadcastDelivery, payload, runAt); err != nil {
			return err
		}
	}

	b.logger.WithFields(logrus.Fields{
		"broadcast_id": broadcastID,
		"recipients":   len(recipientIDs),
	}).Info("Broadcast delivery scheduled")
	return nil
}

// DeliverRecipient sends the broadcast message to one recipient. It is
// invoked by the scheduler per delivery job.
func (b *BroadcastService) DeliverRecipient(ctx context.Context, payload models.BroadcastDeliveryPayload) error {
	broadcast, err := b.db.GetBroadcast(ctx, payload.BroadcastID)
	if err != nil {
		return err
	}
	if broadcast == nil {
		return fmt.Errorf("broadcast %d not found", payload.BroadcastID)
	}
	if broadcast.Status != models.BroadcastStatusSending {
		// Cancelled out-of-band; the job drains without sending.
		return nil
	}

	recipient, err := b.db.GetRecipient(ctx, payload.RecipientID)
	if err != nil {
		return err
	}
	if recipient == nil {
		return fmt.Errorf("recipient %d not found", payload.RecipientID)
	}
	if recipient.Status != models.RecipientStatusPending {
		return nil
	}

	channel, err := b.db.GetChannel(ctx, recipient.ChannelID)
	if err != nil {
		return err
	}
	if channel == nil {
		return fmt.Errorf("channel %d not found", recipient.ChannelID)
	}

	conv, err := b.db.GetOrCreateConversation(ctx, broadcast.WorkspaceID, channel.ID, recipient.ContactID, "")
	if err != nil {
		return err
	}

	contact, err := b.db.GetContact(ctx, recipient.ContactID)
	if err != nil {
		return err
	}
	if contact == nil {
		return fmt.Errorf("contact %d not found", recipient.ContactID)
	}

	text := Interpolate(broadcast.MessageText, broadcastVars(contact))
	deliveryErr, err := deliverMessage(ctx, b.db, b.provider, channel, conv, text)
	if err != nil {
		return err
	}

	status := models.RecipientStatusSent
	var errText *string
	if deliveryErr != nil {
		status = models.RecipientStatusFailed
		msg := deliveryErr.Error()
		errText = &msg
		b.logger.WithError(deliveryErr).WithFields(logrus.Fields{
			"broadcast_id": broadcast.ID,
			"recipient_id": recipient.ID,
		}).Warn("Broadcast delivery failed")
	}
	if err := b.db.SetRecipientStatus(ctx, recipient.ID, status, errText); err != nil {
		return err
	}

	finalized, err := b.db.RecordDeliveryResult(ctx, broadcast.ID, deliveryErr == nil)
	if err != nil {
		return err
	}
	if finalized && b.events != nil {
		b.events.Publish(ctx, broadcast.WorkspaceID, models.WebhookEventBroadcastDone, map[string]interface{}{
			"broadcast_id": broadcast.ID,
		})
	}
	return nil
}

func broadcastVars(contact *models.Contact) map[string]string {
	vars := map[string]string{
		models.VarContactName: contact.Name,
		models.VarUsername:    contact.Username,
	}
	for k, v := range contact.CustomFields {
		vars[k] = v
	}
	return vars
}
