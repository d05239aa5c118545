package models

import (
	"encoding/json"
	"time"
)

// ScheduledJob statuses. A job transitions pending -> processing ->
// {completed | pending(retry) | failed} and never skips processing.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job types dispatched by the scheduler tick.
const (
	JobTypeResumeFlow        = "resume_flow"
	JobTypeBroadcastDelivery = "broadcast_delivery"
)

// ScheduledJob is a durable, retryable unit of deferred work. It is the
// single mechanism by which anything in the system waits.
type ScheduledJob struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RunAt     time.Time       `json:"run_at"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	ClaimedAt *time.Time      `json:"claimed_at,omitempty"`
	LastError *string         `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ResumeFlowPayload is the payload of a resume_flow job. It is fully
// self-describing: resumption re-hydrates everything else from the session.
type ResumeFlowPayload struct {
	SessionID int64 `json:"session_id"`
}

// BroadcastDeliveryPayload is the payload of a broadcast_delivery job.
type BroadcastDeliveryPayload struct {
	BroadcastID int64 `json:"broadcast_id"`
	RecipientID int64 `json:"recipient_id"`
}
