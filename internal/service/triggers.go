package service

import (
	"context"
	"fmt"
	"strings"

	"chatflow/internal/models"
)

// TriggerStore is the storage needed by the matcher.
type TriggerStore interface {
	ListCandidateTriggers(ctx context.Context, workspaceID, channelID int64) ([]*models.Trigger, error)
	CountInboundMessages(ctx context.Context, conversationID int64) (int, error)
}

// IncomingEvent is the normalized inbound interaction handed to matching.
type IncomingEvent struct {
	Text              string
	PostbackPayload   string
	QuickReplyPayload string
	IsComment         bool
}

// TriggerMatcher resolves an inbound message to the single trigger that
// should run. Trigger types are evaluated in a fixed tier order; a
// trigger's own priority only orders candidates within its tier.
type TriggerMatcher struct {
	db TriggerStore
}

func NewTriggerMatcher(db TriggerStore) *TriggerMatcher {
	return &TriggerMatcher{db: db}
}

// Match returns the winning trigger, or nil when nothing matches. The
// message is still stored either way; no match just means no flow runs.
func (m *TriggerMatcher) Match(ctx context.Context, workspaceID, channelID, conversationID int64, event IncomingEvent) (*models.Trigger, error) {
	candidates, err := m.db.ListCandidateTriggers(ctx, workspaceID, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trigger candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if event.PostbackPayload != "" {
		if t := matchPayload(candidates, models.TriggerTypePostback, event.PostbackPayload); t != nil {
			return t, nil
		}
	}

	if event.QuickReplyPayload != "" {
		if t := matchPayload(candidates, models.TriggerTypeQuickReply, event.QuickReplyPayload); t != nil {
			return t, nil
		}
	}

	keywordType := models.TriggerTypeKeyword
	if event.IsComment {
		keywordType = models.TriggerTypeCommentKeyword
	}
	if t := matchKeywords(candidates, keywordType, event.Text); t != nil {
		return t, nil
	}

	// Comments never fall through to conversation-level triggers.
	if event.IsComment {
		return nil, nil
	}

	inbound, err := m.db.CountInboundMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to count inbound messages: %w", err)
	}
	if inbound == 1 {
		if t := firstOfType(candidates, models.TriggerTypeWelcome); t != nil {
			return t, nil
		}
	}

	return firstOfType(candidates, models.TriggerTypeDefault), nil
}

func matchPayload(candidates []*models.Trigger, triggerType models.TriggerType, payload string) *models.Trigger {
	for _, t := range candidates {
		if t.Type == triggerType && t.Payload == payload {
			return t
		}
	}
	return nil
}

func matchKeywords(candidates []*models.Trigger, triggerType models.TriggerType, text string) *models.Trigger {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return nil
	}

	for _, t := range candidates {
		if t.Type != triggerType {
			continue
		}
		for _, kw := range t.Keywords {
			if matchKeyword(normalized, kw) {
				return t
			}
		}
	}
	return nil
}

func matchKeyword(normalized string, kw models.TriggerKeyword) bool {
	keyword := strings.ToLower(strings.TrimSpace(kw.Keyword))
	if keyword == "" {
		return false
	}

	switch kw.Mode {
	case models.MatchExact:
		return normalized == keyword
	case models.MatchContains:
		return strings.Contains(normalized, keyword)
	case models.MatchStartsWith:
		return strings.HasPrefix(normalized, keyword)
	default:
		return false
	}
}

func firstOfType(candidates []*models.Trigger, triggerType models.TriggerType) *models.Trigger {
	for _, t := range candidates {
		if t.Type == triggerType {
			return t
		}
	}
	return nil
}
