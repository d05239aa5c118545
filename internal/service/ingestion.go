package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatflow/internal/database"
	"chatflow/internal/models"
	"chatflow/internal/security"

	"github.com/sirupsen/logrus"
)

// Ingest outcomes. Skips are successes from the provider's point of view;
// rejections are not.
const (
	IngestOK       = "ok"
	IngestSkipped  = "skipped"
	IngestRejected = "rejected"
)

// IngestResult is the outcome of one webhook delivery.
type IngestResult struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

func ok(reason string) IngestResult       { return IngestResult{Outcome: IngestOK, Reason: reason} }
func skipped(reason string) IngestResult  { return IngestResult{Outcome: IngestSkipped, Reason: reason} }
func rejected(reason string) IngestResult { return IngestResult{Outcome: IngestRejected, Reason: reason} }

// Built-in compliance keywords. These are checked before any
// workspace-configured trigger and cannot be overridden by one.
var (
	optOutKeywords = []string{"stop", "unsubscribe", "cancel", "quit", "end"}
	optInKeywords  = []string{"start", "subscribe", "unstop"}
)

// Gate is the webhook ingestion pipeline: verify, dedupe, upsert, then hand
// the message to compliance, session wake, or trigger matching, in that
// order.
type Gate struct {
	db        *database.Database
	engine    *Engine
	matcher   *TriggerMatcher
	events    EventPublisher
	analytics *AnalyticsRecorder
	logger    *logrus.Logger
	now       func() time.Time

	// createContact is swappable in tests to exercise the create race.
	createContact func(ctx context.Context, contact *models.Contact, channelID int64, platformSenderID string) (int64, error)
}

func NewGate(db *database.Database, engine *Engine, matcher *TriggerMatcher, events EventPublisher, analytics *AnalyticsRecorder, logger *logrus.Logger) *Gate {
	return &Gate{
		db:            db,
		engine:        engine,
		matcher:       matcher,
		events:        events,
		analytics:     analytics,
		logger:        logger,
		now:           time.Now,
		createContact: db.CreateContactWithChannel,
	}
}

// Ingest processes one raw webhook delivery. The signature is verified
// against the receiving channel's secret, so the channel must be resolved
// before verification.
func (g *Gate) Ingest(ctx context.Context, rawBody []byte, signature string) (IngestResult, error) {
	var payload models.InboundWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return rejected("invalid payload"), nil
	}

	if payload.Event != models.EventMessageCreated && payload.Event != models.EventCommentCreated {
		return rejected("unrecognized event type"), nil
	}
	if payload.Message.Direction == models.DirectionOutbound {
		return skipped("outbound echo"), nil
	}

	channel, err := g.db.GetChannelByAccount(ctx, payload.Account.Platform, payload.Account.ID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to resolve channel: %w", err)
	}
	if channel == nil || !channel.IsActive {
		return rejected("unknown channel"), nil
	}

	if channel.WebhookSecret != "" {
		if err := security.VerifySignature(rawBody, signature, channel.WebhookSecret); err != nil {
			g.logger.WithError(err).WithField("channel_id", channel.ID).Warn("Webhook signature rejected")
			return rejected("invalid signature"), nil
		}
	}

	existing, err := g.db.GetMessageByProviderID(ctx, payload.Message.ID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to check message dedupe: %w", err)
	}
	if existing != nil {
		return skipped("duplicate"), nil
	}

	selfSend, err := g.db.IsWorkspaceAccount(ctx, channel.WorkspaceID, payload.Message.Sender.ID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to check self-loop: %w", err)
	}
	if selfSend {
		return skipped("sender is a workspace channel"), nil
	}

	contact, isNewContact, err := g.upsertContact(ctx, channel, payload.Message.Sender)
	if err != nil {
		return IngestResult{}, err
	}

	conv, err := g.db.GetOrCreateConversation(ctx, channel.WorkspaceID, channel.ID, contact.ID, payload.Conversation.ID)
	if err != nil {
		return IngestResult{}, err
	}

	if err := g.storeInbound(ctx, conv, payload.Message); err != nil {
		return IngestResult{}, err
	}

	if isNewContact {
		if err := g.assignConversation(ctx, channel.WorkspaceID, conv.ID); err != nil {
			g.logger.WithError(err).WithField("conversation_id", conv.ID).Warn("Failed to auto-assign conversation")
		}
		g.events.Publish(ctx, channel.WorkspaceID, models.WebhookEventContactCreated, map[string]interface{}{
			"contact_id": contact.ID,
			"name":       contact.Name,
			"platform":   channel.Platform,
		})
	}

	g.events.Publish(ctx, channel.WorkspaceID, models.WebhookEventMessageReceived, map[string]interface{}{
		"contact_id":      contact.ID,
		"conversation_id": conv.ID,
		"text":            payload.Message.Text,
	})

	event := IncomingEvent{
		Text:              payload.Message.Text,
		PostbackPayload:   payload.Metadata.PostbackPayload,
		QuickReplyPayload: payload.Metadata.QuickReplyPayload,
		IsComment:         payload.Event == models.EventCommentCreated,
	}

	if !event.IsComment {
		if handled, result, err := g.applyCompliance(ctx, channel, contact, payload.Message.Text); handled || err != nil {
			return result, err
		}

		if conv.IsAutomationPaused {
			return ok("automation paused"), nil
		}

		session, err := g.db.GetActiveSessionByConversation(ctx, conv.ID)
		if err != nil {
			return IngestResult{}, err
		}
		if session != nil {
			waiting, err := g.engine.WaitingForInput(ctx, session)
			if err != nil {
				return IngestResult{}, err
			}
			if waiting {
				if err := g.engine.Wake(ctx, session, payload.Message.Text); err != nil {
					return IngestResult{}, err
				}
				return ok("session resumed"), nil
			}
			// A delay-parked session holds the conversation; no new flow
			// starts on top of it.
			return ok("session in progress"), nil
		}
	}

	trigger, err := g.matcher.Match(ctx, channel.WorkspaceID, channel.ID, conv.ID, event)
	if err != nil {
		return IngestResult{}, err
	}
	if trigger == nil {
		return ok("no trigger matched"), nil
	}

	if err := g.engine.Start(ctx, trigger, contact, conv, channel, payload.Message.Text); err != nil {
		return IngestResult{}, err
	}
	return ok("flow started"), nil
}

func (g *Gate) upsertContact(ctx context.Context, channel *models.Channel, sender models.InboundSender) (*models.Contact, bool, error) {
	contact, err := g.db.GetContactByChannelSender(ctx, channel.ID, sender.ID)
	if err != nil {
		return nil, false, err
	}
	if contact != nil {
		return contact, false, nil
	}

	contact = &models.Contact{
		WorkspaceID:  channel.WorkspaceID,
		Name:         sender.Name,
		Username:     sender.Username,
		AvatarURL:    sender.Picture,
		IsSubscribed: true,
	}
	contact.ID, err = g.createContact(ctx, contact, channel.ID, sender.ID)
	if err != nil {
		// The unique channel link makes overlapping first messages from the
		// same sender race here; the loser re-resolves the winner's row.
		existing, lookupErr := g.db.GetContactByChannelSender(ctx, channel.ID, sender.ID)
		if lookupErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return contact, true, nil
}

func (g *Gate) storeInbound(ctx context.Context, conv *models.Conversation, msg models.InboundMessage) error {
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = g.now().UTC()
	}

	stored := &models.Message{
		ConversationID:    conv.ID,
		Direction:         models.DirectionInbound,
		ProviderMessageID: msg.ID,
		Text:              msg.Text,
		Status:            models.MessageStatusReceived,
		SentAt:            sentAt,
	}
	if _, err := g.db.SaveMessage(ctx, stored); err != nil {
		return err
	}
	if err := g.db.TouchContactInteraction(ctx, conv.ContactID, sentAt); err != nil {
		return err
	}
	return g.db.UpdateInboxPreview(ctx, conv.ID, truncatePreview(msg.Text), sentAt, true)
}

// assignConversation picks a workspace member round-robin for a new
// contact's conversation. A workspace with no members assigns nobody.
func (g *Gate) assignConversation(ctx context.Context, workspaceID, conversationID int64) error {
	memberIDs, err := g.db.ListMemberIDs(ctx, workspaceID)
	if err != nil {
		return err
	}
	if len(memberIDs) == 0 {
		return nil
	}

	index, err := g.db.NextAssignmentIndex(ctx, workspaceID)
	if err != nil {
		return err
	}
	return g.db.AssignConversation(ctx, conversationID, memberIDs[index%len(memberIDs)])
}

// applyCompliance handles the built-in STOP/START keyword families. It runs
// before any workspace trigger so an opt-out can never be shadowed.
func (g *Gate) applyCompliance(ctx context.Context, channel *models.Channel, contact *models.Contact, text string) (bool, IngestResult, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))

	if containsKeyword(optOutKeywords, normalized) {
		if err := g.db.SetContactSubscribed(ctx, contact.ID, false); err != nil {
			return true, IngestResult{}, err
		}
		if err := g.db.CancelActiveSessionsForContact(ctx, contact.ID); err != nil {
			return true, IngestResult{}, err
		}
		if err := g.db.CancelActiveEnrollmentsForContact(ctx, contact.ID); err != nil {
			return true, IngestResult{}, err
		}
		g.events.Publish(ctx, channel.WorkspaceID, models.WebhookEventContactOptedOut, map[string]interface{}{
			"contact_id": contact.ID,
		})
		g.logger.WithField("contact_id", contact.ID).Info("Contact opted out")
		return true, ok("opted out"), nil
	}

	if containsKeyword(optInKeywords, normalized) {
		if err := g.db.SetContactSubscribed(ctx, contact.ID, true); err != nil {
			return true, IngestResult{}, err
		}
		g.logger.WithField("contact_id", contact.ID).Info("Contact opted back in")
		return true, ok("opted in"), nil
	}

	return false, IngestResult{}, nil
}

func containsKeyword(keywords []string, normalized string) bool {
	for _, kw := range keywords {
		if normalized == kw {
			return true
		}
	}
	return false
}
