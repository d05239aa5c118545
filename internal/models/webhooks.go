package models

import "time"

// Inbound provider event types
const (
	EventMessageCreated = "message.created"
	EventCommentCreated = "comment.created"
)

// InboundWebhookPayload is the provider -> system webhook body.
type InboundWebhookPayload struct {
	Event        string              `json:"event"`
	Message      InboundMessage      `json:"message"`
	Conversation InboundConversation `json:"conversation"`
	Account      InboundAccount      `json:"account"`
	Metadata     InboundMetadata     `json:"metadata"`
}

// InboundMessage is the message portion of an inbound event.
type InboundMessage struct {
	ID                string              `json:"id"`
	ConversationID    string              `json:"conversationId"`
	Platform          string              `json:"platform"`
	PlatformMessageID string              `json:"platformMessageId"`
	Direction         string              `json:"direction"`
	Text              string              `json:"text"`
	Attachments       []InboundAttachment `json:"attachments,omitempty"`
	Sender            InboundSender       `json:"sender"`
	SentAt            time.Time           `json:"sentAt"`
}

type InboundAttachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type InboundSender struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Picture  string `json:"picture"`
}

type InboundConversation struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
}

type InboundAccount struct {
	ID          string `json:"id"`
	Platform    string `json:"platform"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// InboundMetadata carries optional interaction payloads.
type InboundMetadata struct {
	QuickReplyPayload string `json:"quickReplyPayload,omitempty"`
	PostbackPayload   string `json:"postbackPayload,omitempty"`
	CallbackData      string `json:"callbackData,omitempty"`
}

// Outbound webhook event types
const (
	WebhookEventMessageReceived = "message.received"
	WebhookEventMessageSent     = "message.sent"
	WebhookEventContactCreated  = "contact.created"
	WebhookEventContactOptedOut = "contact.opted_out"
	WebhookEventFlowStarted     = "flow.started"
	WebhookEventFlowCompleted   = "flow.completed"
	WebhookEventBroadcastDone   = "broadcast.completed"
)

// WebhookEndpoint is an outbound subscription. It is auto-disabled after
// repeated consecutive delivery failures.
type WebhookEndpoint struct {
	ID              int64      `json:"id"`
	WorkspaceID     int64      `json:"workspace_id"`
	URL             string     `json:"url"`
	Secret          string     `json:"-"`
	Events          []string   `json:"events"`
	IsActive        bool       `json:"is_active"`
	FailureCount    int        `json:"failure_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// WebhookEvent is the system -> subscriber POST body.
type WebhookEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}
