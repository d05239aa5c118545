package models

import "time"

// Workspace is the tenant boundary. The round-robin assignment counter for
// first-contact conversation assignment lives here as a single atomic column.
type Workspace struct {
	ID                      int64     `json:"id"`
	Name                    string    `json:"name"`
	LastAssignedMemberIndex int       `json:"last_assigned_member_index"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// WorkspaceMember is a human operator eligible for conversation assignment.
type WorkspaceMember struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"created_at"`
}

// Channel is a connected messaging account on one platform.
type Channel struct {
	ID                int64     `json:"id"`
	WorkspaceID       int64     `json:"workspace_id"`
	Platform          string    `json:"platform"`
	ExternalAccountID string    `json:"external_account_id"`
	Name              string    `json:"name"`
	IsActive          bool      `json:"is_active"`
	WebhookSecret     string    `json:"-"`
	CommentsCursor    *string   `json:"comments_cursor,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Contact is a person who messaged one of the workspace's channels.
type Contact struct {
	ID                int64             `json:"id"`
	WorkspaceID       int64             `json:"workspace_id"`
	Name              string            `json:"name"`
	Username          string            `json:"username"`
	AvatarURL         string            `json:"avatar_url"`
	IsSubscribed      bool              `json:"is_subscribed"`
	CustomFields      map[string]string `json:"custom_fields"`
	LastInteractionAt *time.Time        `json:"last_interaction_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// ContactChannel links a Contact to a Channel with the provider-specific
// sender id. The (channel_id, platform_sender_id) pair is the sole identity
// continuity key across inbound events.
type ContactChannel struct {
	ID               int64     `json:"id"`
	ContactID        int64     `json:"contact_id"`
	ChannelID        int64     `json:"channel_id"`
	PlatformSenderID string    `json:"platform_sender_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// Conversation is the open thread between a Contact and a Channel.
type Conversation struct {
	ID                     int64      `json:"id"`
	WorkspaceID            int64      `json:"workspace_id"`
	ChannelID              int64      `json:"channel_id"`
	ContactID              int64      `json:"contact_id"`
	ProviderConversationID string     `json:"provider_conversation_id"`
	IsAutomationPaused     bool       `json:"is_automation_paused"`
	AssignedMemberID       *int64     `json:"assigned_member_id,omitempty"`
	LastMessagePreview     string     `json:"last_message_preview"`
	UnreadCount            int        `json:"unread_count"`
	LastMessageAt          *time.Time `json:"last_message_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}
