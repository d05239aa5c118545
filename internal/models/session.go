package models

import "time"

// FlowSession statuses
const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusCancelled = "cancelled"
)

// Well-known variable names available for interpolation.
const (
	VarLastMessage = "last_message"
	VarContactName = "contact_name"
	VarUsername    = "username"
	VarPlatform    = "platform"
)

// FlowSession is the durable execution cursor for one contact's run through
// a flow. Execution survives process restarts by re-hydrating from this row;
// "the machine is waiting" is represented by a pending resume_flow job (for
// timed delays) or by the session parked at a wait-style node (woken by the
// next inbound message).
type FlowSession struct {
	ID             int64             `json:"id"`
	WorkspaceID    int64             `json:"workspace_id"`
	FlowID         int64             `json:"flow_id"`
	ContactID      int64             `json:"contact_id"`
	ConversationID int64             `json:"conversation_id"`
	ChannelID      int64             `json:"channel_id"`
	CurrentNodeID  string            `json:"current_node_id"`
	Status         string            `json:"status"`
	Variables      map[string]string `json:"variables"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
