package messaging

import "time"

// Account is a connected messaging account on the provider side.
type Account struct {
	ID          string `json:"id"`
	Platform    string `json:"platform"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// Post is a social post whose comments can match comment triggers.
type Post struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Comment is one comment on a post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// SendMessageResponse is the provider's reply to a send.
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}
