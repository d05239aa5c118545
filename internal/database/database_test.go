package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chatflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDatabase(t *testing.T) *Database {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func seedWorkspaceAndChannel(t *testing.T, db *Database) (int64, *models.Channel) {
	t.Helper()
	ctx := context.Background()

	workspaceID, err := db.CreateWorkspace(ctx, "Acme")
	require.NoError(t, err)

	channel := &models.Channel{
		WorkspaceID:       workspaceID,
		Platform:          "instagram",
		ExternalAccountID: "acct-1",
		Name:              "Acme Instagram",
		IsActive:          true,
		WebhookSecret:     "shh",
	}
	channel.ID, err = db.CreateChannel(ctx, channel)
	require.NoError(t, err)

	return workspaceID, channel
}

func seedContact(t *testing.T, db *Database, workspaceID, channelID int64, senderID, name string) *models.Contact {
	t.Helper()
	ctx := context.Background()

	contact := &models.Contact{
		WorkspaceID:  workspaceID,
		Name:         name,
		Username:     senderID,
		IsSubscribed: true,
	}
	id, err := db.CreateContactWithChannel(ctx, contact, channelID, senderID)
	require.NoError(t, err)
	contact.ID = id
	return contact
}

func TestGetContactByChannelSender(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	workspaceID, channel := seedWorkspaceAndChannel(t, db)

	created := seedContact(t, db, workspaceID, channel.ID, "sender-1", "Ada")

	found, err := db.GetContactByChannelSender(ctx, channel.ID, "sender-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "Ada", found.Name)
	assert.True(t, found.IsSubscribed)

	missing, err := db.GetContactByChannelSender(ctx, channel.ID, "sender-unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetOrCreateConversationIsIdempotent(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	workspaceID, channel := seedWorkspaceAndChannel(t, db)
	contact := seedContact(t, db, workspaceID, channel.ID, "sender-1", "Ada")

	first, err := db.GetOrCreateConversation(ctx, workspaceID, channel.ID, contact.ID, "conv-1")
	require.NoError(t, err)

	second, err := db.GetOrCreateConversation(ctx, workspaceID, channel.ID, contact.ID, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "conv-1", second.ProviderConversationID)

	// An empty provider id never clobbers a stored one.
	third, err := db.GetOrCreateConversation(ctx, workspaceID, channel.ID, contact.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", third.ProviderConversationID)
}

func TestSaveMessageDeduplicatesByProviderID(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	workspaceID, channel := seedWorkspaceAndChannel(t, db)
	contact := seedContact(t, db, workspaceID, channel.ID, "sender-1", "Ada")
	conv, err := db.GetOrCreateConversation(ctx, workspaceID, channel.ID, contact.ID, "conv-1")
	require.NoError(t, err)

	msg := &models.Message{
		ConversationID:    conv.ID,
		Direction:         models.DirectionInbound,
		ProviderMessageID: "pm-1",
		Text:              "hello",
		Status:            models.MessageStatusReceived,
		SentAt:            time.Now().UTC(),
	}
	_, err = db.SaveMessage(ctx, msg)
	require.NoError(t, err)

	_, err = db.SaveMessage(ctx, msg)
	assert.Error(t, err)

	found, err := db.GetMessageByProviderID(ctx, "pm-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "hello", found.Text)

	count, err := db.CountInboundMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNextAssignmentIndexAdvances(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	workspaceID, _ := seedWorkspaceAndChannel(t, db)

	for want := 0; want < 5; want++ {
		got, err := db.NextAssignmentIndex(ctx, workspaceID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestIsWorkspaceAccount(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	workspaceID, channel := seedWorkspaceAndChannel(t, db)

	self, err := db.IsWorkspaceAccount(ctx, workspaceID, channel.ExternalAccountID)
	require.NoError(t, err)
	assert.True(t, self)

	other, err := db.IsWorkspaceAccount(ctx, workspaceID, "someone-else")
	require.NoError(t, err)
	assert.False(t, other)
}

func TestFinishSessionIsCompareAndSwap(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	workspaceID, channel := seedWorkspaceAndChannel(t, db)
	contact := seedContact(t, db, workspaceID, channel.ID, "sender-1", "Ada")
	conv, err := db.GetOrCreateConversation(ctx, workspaceID, channel.ID, contact.ID, "conv-1")
	require.NoError(t, err)

	flow := &models.Flow{WorkspaceID: workspaceID, Name: "f", Status: models.FlowStatusPublished, EntryNodeID: "n1"}
	flow.ID, err = db.CreateFlow(ctx, flow)
	require.NoError(t, err)

	session := &models.FlowSession{
		WorkspaceID:    workspaceID,
		FlowID:         flow.ID,
		ContactID:      contact.ID,
		ConversationID: conv.ID,
		ChannelID:      channel.ID,
		Status:         models.SessionStatusActive,
		Variables:      map[string]string{},
	}
	session.ID, err = db.CreateFlowSession(ctx, session)
	require.NoError(t, err)

	finished, err := db.FinishSession(ctx, session.ID, models.SessionStatusCompleted)
	require.NoError(t, err)
	assert.True(t, finished)

	// A second terminal transition loses the race.
	finished, err = db.FinishSession(ctx, session.ID, models.SessionStatusCancelled)
	require.NoError(t, err)
	assert.False(t, finished)

	got, err := db.GetFlowSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, got.Status)
}
