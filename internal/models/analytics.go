package models

import (
	"encoding/json"
	"time"
)

// Analytics event types emitted by flow execution and delivery.
const (
	AnalyticsFlowStarted   = "flow_started"
	AnalyticsFlowCompleted = "flow_completed"
	AnalyticsFlowFailed    = "flow_failed"
	AnalyticsMessageSent   = "message_sent"
	AnalyticsMessageFailed = "message_failed"
)

// AnalyticsEvent is an append-only record written fire-and-forget; a failed
// write never blocks the operation that emitted it.
type AnalyticsEvent struct {
	ID          int64           `json:"id"`
	WorkspaceID int64           `json:"workspace_id"`
	Type        string          `json:"type"`
	ContactID   *int64          `json:"contact_id,omitempty"`
	FlowID      *int64          `json:"flow_id,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
