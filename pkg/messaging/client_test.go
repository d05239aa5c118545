package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessageSuccess(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/messages", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		json.NewEncoder(w).Encode(SendMessageResponse{MessageID: "pm-99", Status: "sent"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "api-key", 5*time.Second)
	messageID, err := client.SendMessage(context.Background(), "acct-1", "conv-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "pm-99", messageID)
	assert.Equal(t, "Bearer api-key", gotAuth)
	assert.Equal(t, "acct-1", gotPayload["accountId"])
	assert.Equal(t, "conv-1", gotPayload["conversationId"])
	assert.Equal(t, "hello", gotPayload["text"])
}

func TestSendMessageProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SendMessageResponse{Error: "rate limited"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second)
	_, err := client.SendMessage(context.Background(), "acct-1", "conv-1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestSendMessageHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second)
	_, err := client.SendMessage(context.Background(), "acct-1", "conv-1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestListAccounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/accounts", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accounts": []Account{
				{ID: "acct-1", Platform: "instagram", Username: "acme"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second)
	accounts, err := client.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "acct-1", accounts[0].ID)
}

func TestListCommentsEscapesPathSegments(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		json.NewEncoder(w).Encode(map[string]interface{}{"comments": []Comment{}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second)
	_, err := client.ListComments(context.Background(), "acct/1", "post-1")
	require.NoError(t, err)
	assert.Equal(t, "/api/accounts/acct%2F1/posts/post-1/comments", gotPath)
}

func TestSendMessageHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(server.URL, "", 5*time.Second)
	_, err := client.SendMessage(ctx, "acct-1", "conv-1", "hello")
	assert.Error(t, err)
}
