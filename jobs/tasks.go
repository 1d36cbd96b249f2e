package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/axolop/axolop-crm/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAccessRefresh invalidates cached access state for one agency.
	TaskAccessRefresh = "access:refresh"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AccessRefreshPayload identifies the agency whose access state changed.
type AccessRefreshPayload struct {
	AgencyID uuid.UUID `json:"agency_id"`
	Reason   string    `json:"reason"`
}

// NewAccessRefreshTask constructs an Asynq task.
func NewAccessRefreshTask(payload AccessRefreshPayload) (*asynq.Task, error) {
	if payload.AgencyID == uuid.Nil {
		return nil, errors.New("access refresh: agency id required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAccessRefresh, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// AccessRefresher drops cached access state for an agency.
type AccessRefresher interface {
	Refresh(ctx context.Context, agencyID uuid.UUID) error
}

// AccessRefreshJob handles TaskAccessRefresh tasks.
type AccessRefreshJob struct {
	Refresher AccessRefresher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewAccessRefreshJob constructs the job handler.
func NewAccessRefreshJob(refresher AccessRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *AccessRefreshJob {
	return &AccessRefreshJob{Refresher: refresher, Logger: logger, Metrics: metrics}
}

// Handle executes the refresh. Malformed payloads are not retried.
func (j *AccessRefreshJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Refresher == nil {
		return errors.New("access refresh: dependencies not configured")
	}
	var payload AccessRefreshPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.AgencyID == uuid.Nil {
		return fmt.Errorf("access refresh: invalid payload: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track("access_refresh")
	if err := j.Refresher.Refresh(ctx, payload.AgencyID); err != nil {
		j.log().Error("refresh agency access", slog.String("agency_id", payload.AgencyID.String()), slog.Any("error", err))
		return tracker.End(err)
	}
	j.log().Info("agency access refreshed", slog.String("agency_id", payload.AgencyID.String()), slog.String("reason", payload.Reason))
	return tracker.End(nil)
}

func (j *AccessRefreshJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AccessRefreshJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAccessRefresh))
	}
	return slog.Default().With(slog.String("job", TaskAccessRefresh))
}
