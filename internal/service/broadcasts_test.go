package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"chatflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type broadcastEnv struct {
	*testEnv
	service    *BroadcastService
	dispatcher *WebhookDispatcher
}

func setupBroadcastEnv(t *testing.T) *broadcastEnv {
	t.Helper()
	env := setupTestEnv(t)
	dispatcher := NewWebhookDispatcher(env.db, env.logger)
	resolver := NewSegmentResolver(env.db)
	service := NewBroadcastService(env.db, env.provider, resolver, dispatcher, env.logger)
	return &broadcastEnv{testEnv: env, service: service, dispatcher: dispatcher}
}

func (e *broadcastEnv) seedBroadcast(t *testing.T, text, status string, scheduledFor *time.Time) *models.Broadcast {
	t.Helper()

	b := &models.Broadcast{
		WorkspaceID:  e.workspaceID,
		Name:         "spring promo",
		MessageText:  text,
		Status:       status,
		ScheduledFor: scheduledFor,
	}
	var err error
	b.ID, err = e.db.CreateBroadcast(context.Background(), b)
	require.NoError(t, err)
	return b
}

func TestBroadcastSendFansOutSpacedDeliveryJobs(t *testing.T) {
	env := setupBroadcastEnv(t)
	ctx := context.Background()

	for _, sender := range []string{"s1", "s2", "s3"} {
		env.seedContact(t, sender, "Contact")
	}
	broadcast := env.seedBroadcast(t, "big sale today", models.BroadcastStatusDraft, nil)

	require.NoError(t, env.service.Send(ctx, broadcast.ID, models.BroadcastStatusDraft))

	stored, err := env.db.GetBroadcast(ctx, broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusSending, stored.Status)
	assert.Equal(t, 3, stored.TotalRecipients)

	pending, err := env.db.CountPendingJobsByType(ctx, models.JobTypeBroadcastDelivery)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)

	// The third job runs at least two spacing intervals after the first.
	jobs, err := env.db.ClaimDueJobs(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, jobs, "the first delivery job is due immediately")
	first := jobs[0]
	var last *models.ScheduledJob
	for id := first.ID; ; id++ {
		job, err := env.db.GetJob(ctx, id)
		require.NoError(t, err)
		if job == nil {
			break
		}
		last = job
	}
	require.NotNil(t, last)
	assert.GreaterOrEqual(t, last.RunAt.Sub(first.RunAt), 200*time.Millisecond)
}

func TestBroadcastSendClaimIsExclusive(t *testing.T) {
	env := setupBroadcastEnv(t)
	ctx := context.Background()

	env.seedContact(t, "s1", "Contact")
	broadcast := env.seedBroadcast(t, "one send only", models.BroadcastStatusDraft, nil)

	require.NoError(t, env.service.Send(ctx, broadcast.ID, models.BroadcastStatusDraft))
	require.NoError(t, env.service.Send(ctx, broadcast.ID, models.BroadcastStatusDraft))

	pending, err := env.db.CountPendingJobsByType(ctx, models.JobTypeBroadcastDelivery)
	require.NoError(t, err)
	assert.Equal(t, 1, pending, "the losing claim schedules nothing")
}

func TestBroadcastEmptyMessageIsCancelled(t *testing.T) {
	env := setupBroadcastEnv(t)
	ctx := context.Background()

	env.seedContact(t, "s1", "Contact")
	broadcast := env.seedBroadcast(t, "", models.BroadcastStatusDraft, nil)

	require.NoError(t, env.service.Send(ctx, broadcast.ID, models.BroadcastStatusDraft))

	stored, err := env.db.GetBroadcast(ctx, broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusCancelled, stored.Status)
}

func TestBroadcastEmptyAudienceCompletesImmediately(t *testing.T) {
	env := setupBroadcastEnv(t)
	ctx := context.Background()

	broadcast := env.seedBroadcast(t, "anyone there?", models.BroadcastStatusDraft, nil)

	require.NoError(t, env.service.Send(ctx, broadcast.ID, models.BroadcastStatusDraft))

	stored, err := env.db.GetBroadcast(ctx, broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusCompleted, stored.Status)
	assert.Zero(t, stored.TotalRecipients)
}

func TestBroadcastPromoteDuePicksUpScheduled(t *testing.T) {
	env := setupBroadcastEnv(t)
	ctx := context.Background()

	env.seedContact(t, "s1", "Contact")
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	due := env.seedBroadcast(t, "due now", models.BroadcastStatusScheduled, &past)
	env.seedBroadcast(t, "later", models.BroadcastStatusScheduled, &future)

	promoted, err := env.service.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	stored, err := env.db.GetBroadcast(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusSending, stored.Status)
}

func TestBroadcastDeliveryRunsToCompletion(t *testing.T) {
	env := setupBroadcastEnv(t)
	ctx := context.Background()

	env.seedContact(t, "s1", "Ada")
	env.seedContact(t, "s2", "Grace")
	broadcast := env.seedBroadcast(t, "hi {{contact_name}}", models.BroadcastStatusDraft, nil)

	require.NoError(t, env.service.Send(ctx, broadcast.ID, models.BroadcastStatusDraft))

	scheduler := NewScheduler(env.db, env.engine, env.service, env.logger)
	deadline := time.Now().Add(2 * time.Second)
	for {
		stats, err := scheduler.Tick(ctx)
		require.NoError(t, err)
		require.Zero(t, stats.Failed)
		pending, err := env.db.CountPendingJobsByType(ctx, models.JobTypeBroadcastDelivery)
		require.NoError(t, err)
		if pending == 0 {
			break
		}
		require.True(t, time.Now().Before(deadline), "delivery jobs never drained")
		time.Sleep(50 * time.Millisecond)
	}

	sent := env.provider.sentMessages()
	require.Len(t, sent, 2)
	texts := []string{sent[0].Text, sent[1].Text}
	assert.ElementsMatch(t, []string{"hi Ada", "hi Grace"}, texts)

	stored, err := env.db.GetBroadcast(ctx, broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.SentCount)
	assert.Zero(t, stored.FailedCount)
}

func TestBroadcastDeliveryFailureCountsAsFailed(t *testing.T) {
	env := setupBroadcastEnv(t)
	ctx := context.Background()

	env.seedContact(t, "s1", "Ada")
	env.provider.sendErr = assert.AnError
	broadcast := env.seedBroadcast(t, "doomed", models.BroadcastStatusDraft, nil)

	require.NoError(t, env.service.Send(ctx, broadcast.ID, models.BroadcastStatusDraft))

	jobs, err := env.db.ClaimDueJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	var payload models.BroadcastDeliveryPayload
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &payload))
	require.NoError(t, env.service.DeliverRecipient(ctx, payload))

	stored, err := env.db.GetBroadcast(ctx, broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStatusFailed, stored.Status)
	assert.Zero(t, stored.SentCount)
	assert.Equal(t, 1, stored.FailedCount)

	recipient, err := env.db.GetRecipient(ctx, payload.RecipientID)
	require.NoError(t, err)
	assert.Equal(t, models.RecipientStatusFailed, recipient.Status)
	require.NotNil(t, recipient.Error)
}

func TestBroadcastCancelledMidFlightDrainsJobs(t *testing.T) {
	env := setupBroadcastEnv(t)
	ctx := context.Background()

	env.seedContact(t, "s1", "Ada")
	broadcast := env.seedBroadcast(t, "never mind", models.BroadcastStatusDraft, nil)

	require.NoError(t, env.service.Send(ctx, broadcast.ID, models.BroadcastStatusDraft))
	require.NoError(t, env.db.SetBroadcastStatus(ctx, broadcast.ID, models.BroadcastStatusCancelled))

	jobs, err := env.db.ClaimDueJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	var payload models.BroadcastDeliveryPayload
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &payload))
	require.NoError(t, env.service.DeliverRecipient(ctx, payload))

	assert.Empty(t, env.provider.sentMessages())
}
