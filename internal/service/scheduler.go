package service

import (
	"context"
	"encoding/json"
	"fmt"

	"chatflow/internal/constants"
	"chatflow/internal/database"
	"chatflow/internal/models"

	"github.com/sirupsen/logrus"
)

// TickStats summarizes one scheduler tick.
type TickStats struct {
	Reclaimed int64 `json:"reclaimed"`
	Processed int   `json:"processed"`
	Failed    int   `json:"failed"`
}

// Scheduler drains the scheduled_jobs table. It owns no timers; an external
// periodic trigger calls Tick and everything due since the last tick runs.
type Scheduler struct {
	db          *database.Database
	engine      *Engine
	broadcaster *BroadcastService
	logger      *logrus.Logger

	batchSize int
}

func NewScheduler(db *database.Database, engine *Engine, broadcaster *BroadcastService, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		db:          db,
		engine:      engine,
		broadcaster: broadcaster,
		logger:      logger,
		batchSize:   constants.DefaultJobBatchSize,
	}
}

// Tick reclaims stale claims, then claims and runs one batch of due jobs.
// A failing job is handed to the retry policy; Tick itself only errors on
// storage failures.
func (s *Scheduler) Tick(ctx context.Context) (TickStats, error) {
	var stats TickStats

	reclaimed, err := s.db.ReclaimStaleJobs(ctx, constants.DefaultStaleJobAge)
	if err != nil {
		return stats, err
	}
	stats.Reclaimed = reclaimed
	if reclaimed > 0 {
		s.logger.WithField("count", reclaimed).Warn("Reclaimed stale processing jobs")
	}

	jobs, err := s.db.ClaimDueJobs(ctx, s.batchSize)
	if err != nil {
		return stats, err
	}

	for _, job := range jobs {
		if err := s.runJob(ctx, job); err != nil {
			stats.Failed++
			s.logger.WithError(err).WithFields(logrus.Fields{
				"job_id":   job.ID,
				"job_type": job.Type,
				"attempts": job.Attempts,
			}).Error("Job failed")
			if failErr := s.db.FailJob(ctx, job, err); failErr != nil {
				return stats, failErr
			}
			continue
		}

		stats.Processed++
		if err := s.db.CompleteJob(ctx, job.ID); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

func (s *Scheduler) runJob(ctx context.Context, job *models.ScheduledJob) error {
	switch job.Type {
	case models.JobTypeResumeFlow:
		var payload models.ResumeFlowPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("invalid resume payload: %w", err)
		}
		return s.engine.Resume(ctx, payload.SessionID)

	case models.JobTypeBroadcastDelivery:
		var payload models.BroadcastDeliveryPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("invalid broadcast delivery payload: %w", err)
		}
		return s.broadcaster.DeliverRecipient(ctx, payload)

	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}
