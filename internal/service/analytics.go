package service

import (
	"context"

	"chatflow/internal/models"

	"github.com/sirupsen/logrus"
)

// AnalyticsStore is the storage needed by the recorder.
type AnalyticsStore interface {
	InsertAnalyticsEvent(ctx context.Context, e *models.AnalyticsEvent) error
}

// AnalyticsRecorder writes analytics events fire-and-forget: a failed write
// is logged and never surfaced to the caller.
type AnalyticsRecorder struct {
	db     AnalyticsStore
	logger *logrus.Logger
}

func NewAnalyticsRecorder(db AnalyticsStore, logger *logrus.Logger) *AnalyticsRecorder {
	return &AnalyticsRecorder{db: db, logger: logger}
}

func (a *AnalyticsRecorder) Record(ctx context.Context, workspaceID int64, eventType string, contactID, flowID *int64) {
	event := &models.AnalyticsEvent{
		WorkspaceID: workspaceID,
		Type:        eventType,
		ContactID:   contactID,
		FlowID:      flowID,
	}
	if err := a.db.InsertAnalyticsEvent(ctx, event); err != nil {
		a.logger.WithError(err).WithField("event_type", eventType).Warn("Failed to record analytics event")
	}
}
