package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/axolop/axolop-crm/internal/jobs"
)

const (
	// TaskWebhookCleanup prunes processed webhook event IDs.
	TaskWebhookCleanup = "webhook:cleanup"
	// WebhookCleanupSchedule runs the cleanup daily.
	WebhookCleanupSchedule = "20 3 * * *"
)

const defaultWebhookRetention = 30 * 24 * time.Hour

// WebhookCleanupPayload configures the retention window.
type WebhookCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewWebhookCleanupTask creates the Asynq task registered with the scheduler.
func NewWebhookCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(WebhookCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWebhookCleanup, body, asynq.Queue(QueueDefault)), nil
}

// EventPruner deletes webhook event IDs older than a cutoff.
type EventPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// WebhookCleanupJob handles TaskWebhookCleanup tasks.
type WebhookCleanupJob struct {
	Store   EventPruner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewWebhookCleanupJob constructs the job handler.
func NewWebhookCleanupJob(store EventPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *WebhookCleanupJob {
	return &WebhookCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle executes the cleanup.
func (j *WebhookCleanupJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("webhook cleanup: dependencies not configured")
	}
	retention := defaultWebhookRetention
	var payload WebhookCleanupPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}

	tracker := j.metrics().Track("webhook_cleanup")
	removed, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		j.log().Error("prune webhook events", slog.Any("error", err))
		return tracker.End(err)
	}
	j.log().Info("pruned webhook events", slog.Int64("removed", removed), slog.Duration("retention", retention))
	return tracker.End(nil)
}

func (j *WebhookCleanupJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *WebhookCleanupJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskWebhookCleanup))
	}
	return slog.Default().With(slog.String("job", TaskWebhookCleanup))
}
