package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"chatflow/internal/database"
	"chatflow/internal/models"
	"chatflow/pkg/messaging"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	AccountID      string
	ConversationID string
	Text           string
}

// fakeProvider records sends and can be told to fail.
type fakeProvider struct {
	mu      sync.Mutex
	sent    []sentMessage
	sendErr error
	nextID  int
}

func (f *fakeProvider) SendMessage(ctx context.Context, accountID, conversationID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{AccountID: accountID, ConversationID: conversationID, Text: text})
	return fmt.Sprintf("pm-out-%d", f.nextID), nil
}

func (f *fakeProvider) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeProvider) ListAccounts(ctx context.Context) ([]messaging.Account, error) {
	return nil, nil
}

func (f *fakeProvider) ListPosts(ctx context.Context, accountID string) ([]messaging.Post, error) {
	return nil, nil
}

func (f *fakeProvider) ListComments(ctx context.Context, accountID, postID string) ([]messaging.Comment, error) {
	return nil, nil
}

func (f *fakeProvider) GetConnectURL(ctx context.Context, platform, profileID, redirectURL string) (string, error) {
	return "", nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type testEnv struct {
	db       *database.Database
	provider *fakeProvider
	engine   *Engine
	gate     *Gate
	logger   *logrus.Logger

	workspaceID int64
	channel     *models.Channel
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})

	workspaceID, err := db.CreateWorkspace(ctx, "Acme")
	require.NoError(t, err)

	channel := &models.Channel{
		WorkspaceID:       workspaceID,
		Platform:          "instagram",
		ExternalAccountID: "acct-1",
		Name:              "Acme Instagram",
		IsActive:          true,
	}
	channel.ID, err = db.CreateChannel(ctx, channel)
	require.NoError(t, err)

	logger := testLogger()
	provider := &fakeProvider{}
	analytics := NewAnalyticsRecorder(db, logger)
	dispatcher := NewWebhookDispatcher(db, logger)
	matcher := NewTriggerMatcher(db)
	engine := NewEngine(db, provider, analytics, dispatcher, logger)
	gate := NewGate(db, engine, matcher, dispatcher, analytics, logger)

	return &testEnv{
		db:          db,
		provider:    provider,
		engine:      engine,
		gate:        gate,
		logger:      logger,
		workspaceID: workspaceID,
		channel:     channel,
	}
}

func (e *testEnv) seedContact(t *testing.T, senderID, name string) *models.Contact {
	t.Helper()

	contact := &models.Contact{
		WorkspaceID:  e.workspaceID,
		Name:         name,
		Username:     senderID,
		IsSubscribed: true,
	}
	id, err := e.db.CreateContactWithChannel(context.Background(), contact, e.channel.ID, senderID)
	require.NoError(t, err)
	contact.ID = id
	return contact
}

func (e *testEnv) seedConversation(t *testing.T, contactID int64, providerConvID string) *models.Conversation {
	t.Helper()

	conv, err := e.db.GetOrCreateConversation(context.Background(), e.workspaceID, e.channel.ID, contactID, providerConvID)
	require.NoError(t, err)
	return conv
}

// seedFlow stores a published flow together with a keyword trigger on its
// entry. The trigger node is part of the graph; execution starts from its
// first outgoing edge.
func (e *testEnv) seedFlow(t *testing.T, nodes []models.FlowNode, edges []models.FlowEdge, trigger *models.Trigger) (*models.Flow, *models.Trigger) {
	t.Helper()
	ctx := context.Background()

	flow := &models.Flow{
		WorkspaceID: e.workspaceID,
		Name:        "test flow",
		Status:      models.FlowStatusPublished,
		EntryNodeID: nodes[0].ID,
		Nodes:       nodes,
		Edges:       edges,
	}
	var err error
	flow.ID, err = e.db.CreateFlow(ctx, flow)
	require.NoError(t, err)

	trigger.WorkspaceID = e.workspaceID
	trigger.FlowID = flow.ID
	trigger.IsActive = true
	trigger.ID, err = e.db.CreateTrigger(ctx, trigger)
	require.NoError(t, err)

	return flow, trigger
}

func nodeConfig(t *testing.T, cfg interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return raw
}
