package models

import "time"

// Message directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message delivery statuses
const (
	MessageStatusReceived = "received"
	MessageStatusSent     = "sent"
	MessageStatusFailed   = "failed"
)

// Message is an immutable record of one inbound or outbound message,
// deduplicated by provider message id.
type Message struct {
	ID                int64     `json:"id"`
	ConversationID    int64     `json:"conversation_id"`
	Direction         string    `json:"direction"`
	ProviderMessageID string    `json:"provider_message_id"`
	Text              string    `json:"text"`
	Status            string    `json:"status"`
	SentAt            time.Time `json:"sent_at"`
	CreatedAt         time.Time `json:"created_at"`
}
