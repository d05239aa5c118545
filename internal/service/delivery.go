package service

import (
	"context"
	"time"
	"unicode/utf8"

	"chatflow/internal/database"
	"chatflow/internal/models"
	"chatflow/pkg/messaging"

	"github.com/google/uuid"
)

const previewLimit = 120

// deliverMessage sends text through the provider and records the outbound
// message either way. A provider failure is returned as deliveryErr and
// reflected in the stored message status; it is not a system error.
func deliverMessage(ctx context.Context, db *database.Database, provider messaging.Provider, channel *models.Channel, conv *models.Conversation, text string) (deliveryErr error, err error) {
	status := models.MessageStatusSent
	providerMessageID, sendErr := provider.SendMessage(ctx, channel.ExternalAccountID, conv.ProviderConversationID, text)
	if sendErr != nil {
		status = models.MessageStatusFailed
		// Failed sends have no provider id; keep the unique column satisfied.
		providerMessageID = "failed:" + uuid.NewString()
	}

	msg := &models.Message{
		ConversationID:    conv.ID,
		Direction:         models.DirectionOutbound,
		ProviderMessageID: providerMessageID,
		Text:              text,
		Status:            status,
		SentAt:            time.Now().UTC(),
	}
	if _, err := db.SaveMessage(ctx, msg); err != nil {
		return sendErr, err
	}

	if err := db.UpdateInboxPreview(ctx, conv.ID, truncatePreview(text), msg.SentAt, false); err != nil {
		return sendErr, err
	}

	return sendErr, nil
}

// truncatePreview cuts on a rune boundary so the stored preview stays
// valid UTF-8.
func truncatePreview(text string) string {
	if len(text) <= previewLimit {
		return text
	}
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
