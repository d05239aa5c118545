package database

import (
	"context"
	"testing"

	"chatflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedBroadcast(t *testing.T, db *Database, workspaceID int64, status string) int64 {
	t.Helper()

	id, err := db.CreateBroadcast(context.Background(), &models.Broadcast{
		WorkspaceID: workspaceID,
		Name:        "spring sale",
		MessageText: "Hello {{contact_name}}!",
		Status:      status,
	})
	require.NoError(t, err)
	return id
}

func TestClaimBroadcastForSending(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	workspaceID, _ := seedWorkspaceAndChannel(t, db)
	id := seedBroadcast(t, db, workspaceID, models.BroadcastStatusScheduled)

	claimed, err := db.ClaimBroadcastForSending(ctx, id, models.BroadcastStatusScheduled)
	require.NoError(t, err)
	assert.True(t, claimed)

	// The overlapping tick loses.
	claimed, err = db.ClaimBroadcastForSending(ctx, id, models.BroadcastStatusScheduled)
	require.NoError(t, err)
	assert.False(t, claimed)

	b, err := db.GetBroadcast(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusSending, b.Status)
}

func TestInsertRecipientsReturnsContiguousIDs(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	workspaceID, channel := seedWorkspaceAndChannel(t, db)
	id := seedBroadcast(t, db, workspaceID, models.BroadcastStatusSending)

	recipients := make([]models.BroadcastRecipient, 3)
	for i := range recipients {
		contact := seedContact(t, db, workspaceID, channel.ID, string(rune('a'+i)), "c")
		recipients[i] = models.BroadcastRecipient{ContactID: contact.ID, ChannelID: channel.ID}
	}

	ids, err := db.InsertRecipients(ctx, id, recipients)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	for i, recipientID := range ids {
		r, err := db.GetRecipient(ctx, recipientID)
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, recipients[i].ContactID, r.ContactID)
		assert.Equal(t, models.RecipientStatusPending, r.Status)
	}
}

func TestRecordDeliveryResultFinalizesOnce(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	workspaceID, _ := seedWorkspaceAndChannel(t, db)
	id := seedBroadcast(t, db, workspaceID, models.BroadcastStatusSending)
	require.NoError(t, db.SetBroadcastTotal(ctx, id, 3))

	finalized, err := db.RecordDeliveryResult(ctx, id, true)
	require.NoError(t, err)
	assert.False(t, finalized)

	finalized, err = db.RecordDeliveryResult(ctx, id, false)
	require.NoError(t, err)
	assert.False(t, finalized)

	finalized, err = db.RecordDeliveryResult(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, finalized, "the last delivery finalizes the broadcast")

	b, err := db.GetBroadcast(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusCompleted, b.Status)
	assert.Equal(t, 2, b.SentCount)
	assert.Equal(t, 1, b.FailedCount)
}

func TestRecordDeliveryResultMarksFailedWhenNothingSent(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	workspaceID, _ := seedWorkspaceAndChannel(t, db)
	id := seedBroadcast(t, db, workspaceID, models.BroadcastStatusSending)
	require.NoError(t, db.SetBroadcastTotal(ctx, id, 1))

	finalized, err := db.RecordDeliveryResult(ctx, id, false)
	require.NoError(t, err)
	assert.True(t, finalized)

	b, err := db.GetBroadcast(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusFailed, b.Status)
}

func TestRecordEndpointFailureDisablesAtThreshold(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	workspaceID, _ := seedWorkspaceAndChannel(t, db)

	id, err := db.CreateWebhookEndpoint(ctx, &models.WebhookEndpoint{
		WorkspaceID: workspaceID,
		URL:         "https://example.com/hook",
		Secret:      "s",
		Events:      []string{models.WebhookEventMessageReceived},
		IsActive:    true,
	})
	require.NoError(t, err)

	for i := 1; i < 10; i++ {
		disabled, err := db.RecordEndpointFailure(ctx, id)
		require.NoError(t, err)
		assert.False(t, disabled, "failure %d should not disable yet", i)
	}

	disabled, err := db.RecordEndpointFailure(ctx, id)
	require.NoError(t, err)
	assert.True(t, disabled)

	endpoints, err := db.ListEndpointsForEvent(ctx, workspaceID, models.WebhookEventMessageReceived)
	require.NoError(t, err)
	assert.Empty(t, endpoints, "disabled endpoints are no longer listed")
}

func TestRecordEndpointSuccessResetsFailureCount(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()
	workspaceID, _ := seedWorkspaceAndChannel(t, db)

	id, err := db.CreateWebhookEndpoint(ctx, &models.WebhookEndpoint{
		WorkspaceID: workspaceID,
		URL:         "https://example.com/hook",
		Events:      []string{models.WebhookEventMessageReceived},
		IsActive:    true,
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := db.RecordEndpointFailure(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, db.RecordEndpointSuccess(ctx, id))

	endpoint, err := db.GetWebhookEndpoint(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, endpoint.FailureCount)
	assert.NotNil(t, endpoint.LastTriggeredAt)
}
