package models

import "time"

// TriggerType is the matching rule kind. Types are evaluated in a fixed
// priority order regardless of each trigger's own Priority field, which only
// orders triggers within the same type.
type TriggerType string

const (
	TriggerTypeKeyword        TriggerType = "keyword"
	TriggerTypePostback       TriggerType = "postback"
	TriggerTypeQuickReply     TriggerType = "quick_reply"
	TriggerTypeWelcome        TriggerType = "welcome"
	TriggerTypeDefault        TriggerType = "default"
	TriggerTypeCommentKeyword TriggerType = "comment_keyword"
)

// Keyword match modes
const (
	MatchExact      = "exact"
	MatchContains   = "contains"
	MatchStartsWith = "startsWith"
)

// TriggerKeyword is one keyword with its match mode.
type TriggerKeyword struct {
	Keyword string `json:"keyword"`
	Mode    string `json:"mode"`
}

// Trigger binds a matching rule to a Flow and optionally a Channel
// (nil = global). NodeID is the trigger's node in the flow graph; execution
// starts from that node's first outgoing edge.
type Trigger struct {
	ID          int64            `json:"id"`
	WorkspaceID int64            `json:"workspace_id"`
	FlowID      int64            `json:"flow_id"`
	ChannelID   *int64           `json:"channel_id,omitempty"`
	Type        TriggerType      `json:"type"`
	NodeID      string           `json:"node_id"`
	Keywords    []TriggerKeyword `json:"keywords,omitempty"`
	Payload     string           `json:"payload,omitempty"`
	Priority    int              `json:"priority"`
	IsActive    bool             `json:"is_active"`
	CreatedAt   time.Time        `json:"created_at"`
}
