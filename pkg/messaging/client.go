// Package messaging wraps the third-party social-platform API. The rest of
// the system consumes it through the Provider interface; provider errors are
// surfaced as delivery failures, never as crashes.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Provider is the messaging capability consumed by the automation core.
type Provider interface {
	SendMessage(ctx context.Context, accountID, conversationID, text string) (string, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	ListPosts(ctx context.Context, accountID string) ([]Post, error)
	ListComments(ctx context.Context, accountID, postID string) ([]Comment, error)
	GetConnectURL(ctx context.Context, platform, profileID, redirectURL string) (string, error)
}

// Client is the HTTP implementation of Provider.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) SendMessage(ctx context.Context, accountID, conversationID, text string) (string, error) {
	payload := map[string]interface{}{
		"accountId":      accountID,
		"conversationId": conversationID,
		"text":           text,
	}

	var result SendMessageResponse
	if err := c.post(ctx, "/api/messages", payload, &result); err != nil {
		return "", err
	}
	if result.Error != "" {
		return "", fmt.Errorf("provider rejected message: %s", result.Error)
	}
	return result.MessageID, nil
}

func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var result struct {
		Accounts []Account `json:"accounts"`
	}
	if err := c.get(ctx, "/api/accounts", &result); err != nil {
		return nil, err
	}
	return result.Accounts, nil
}

func (c *Client) ListPosts(ctx context.Context, accountID string) ([]Post, error) {
	var result struct {
		Posts []Post `json:"posts"`
	}
	path := "/api/accounts/" + url.PathEscape(accountID) + "/posts"
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Posts, nil
}

func (c *Client) ListComments(ctx context.Context, accountID, postID string) ([]Comment, error) {
	var result struct {
		Comments []Comment `json:"comments"`
	}
	path := "/api/accounts/" + url.PathEscape(accountID) + "/posts/" + url.PathEscape(postID) + "/comments"
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Comments, nil
}

func (c *Client) GetConnectURL(ctx context.Context, platform, profileID, redirectURL string) (string, error) {
	payload := map[string]interface{}{
		"platform":    platform,
		"profileId":   profileID,
		"redirectUrl": redirectURL,
	}

	var result struct {
		AuthURL string `json:"authUrl"`
	}
	if err := c.post(ctx, "/api/connect", payload, &result); err != nil {
		return "", err
	}
	return result.AuthURL, nil
}

func (c *Client) post(ctx context.Context, path string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider request failed with status %d", resp.StatusCode)
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}
