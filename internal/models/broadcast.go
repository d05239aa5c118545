package models

import "time"

// Broadcast statuses
const (
	BroadcastStatusDraft     = "draft"
	BroadcastStatusScheduled = "scheduled"
	BroadcastStatusSending   = "sending"
	BroadcastStatusCompleted = "completed"
	BroadcastStatusFailed    = "failed"
	BroadcastStatusCancelled = "cancelled"
)

// Segment filter combinators
const (
	CombinatorAnd = "AND"
	CombinatorOr  = "OR"
)

// Segment rule fields
const (
	SegmentFieldHasTag          = "has_tag"
	SegmentFieldNotHasTag       = "not_has_tag"
	SegmentFieldPlatform        = "platform"
	SegmentFieldIsSubscribed    = "is_subscribed"
	SegmentFieldLastInteraction = "last_interaction"
	SegmentFieldCustomPrefix    = "custom:"
)

// SegmentRule is one audience predicate evaluated independently as a set of
// matching contact ids.
type SegmentRule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// SegmentGroup combines rules with a combinator.
type SegmentGroup struct {
	Combinator string        `json:"combinator"`
	Rules      []SegmentRule `json:"rules"`
}

// SegmentFilter is the declarative AND/OR audience tree of a broadcast.
// A nil filter means all subscribed contacts.
type SegmentFilter struct {
	Combinator string         `json:"combinator"`
	Groups     []SegmentGroup `json:"groups"`
}

// Broadcast is a one-shot mass send to a resolved audience. Progress is
// tracked with atomic increment counters rather than re-scanning recipients.
type Broadcast struct {
	ID              int64          `json:"id"`
	WorkspaceID     int64          `json:"workspace_id"`
	Name            string         `json:"name"`
	MessageText     string         `json:"message_text"`
	SegmentFilter   *SegmentFilter `json:"segment_filter,omitempty"`
	Status          string         `json:"status"`
	ScheduledFor    *time.Time     `json:"scheduled_for,omitempty"`
	TotalRecipients int            `json:"total_recipients"`
	SentCount       int            `json:"sent_count"`
	FailedCount     int            `json:"failed_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Broadcast recipient statuses
const (
	RecipientStatusPending = "pending"
	RecipientStatusSent    = "sent"
	RecipientStatusFailed  = "failed"
)

// BroadcastRecipient is one resolved (contact, channel) delivery row. A
// contact reachable on multiple channels gets exactly one row.
type BroadcastRecipient struct {
	ID          int64     `json:"id"`
	BroadcastID int64     `json:"broadcast_id"`
	ContactID   int64     `json:"contact_id"`
	ChannelID   int64     `json:"channel_id"`
	Status      string    `json:"status"`
	Error       *string   `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
