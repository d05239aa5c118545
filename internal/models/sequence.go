package models

import "time"

// Sequence statuses
const (
	SequenceStatusActive   = "active"
	SequenceStatusPaused   = "paused"
	SequenceStatusArchived = "archived"
)

// Sequence step kinds
const (
	StepMessage = "message"
	StepDelay   = "delay"
)

// SequenceStep is one step of a drip campaign: either a message to send or
// a delay before the next step.
type SequenceStep struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	DelayMinutes int    `json:"delay_minutes,omitempty"`
}

// Sequence is an ordered drip campaign of message/delay steps, independent
// of the node-graph flow model.
type Sequence struct {
	ID          int64          `json:"id"`
	WorkspaceID int64          `json:"workspace_id"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	Steps       []SequenceStep `json:"steps"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// SequenceEnrollment statuses
const (
	EnrollmentStatusActive    = "active"
	EnrollmentStatusCompleted = "completed"
	EnrollmentStatusCancelled = "cancelled"
)

// SequenceEnrollment is the per-contact cursor through a sequence.
type SequenceEnrollment struct {
	ID               int64     `json:"id"`
	SequenceID       int64     `json:"sequence_id"`
	ContactID        int64     `json:"contact_id"`
	ChannelID        int64     `json:"channel_id"`
	ConversationID   int64     `json:"conversation_id"`
	CurrentStepIndex int       `json:"current_step_index"`
	NextStepAt       time.Time `json:"next_step_at"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
