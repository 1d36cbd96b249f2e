package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/axolop/axolop-crm/internal/access"
	jobmetrics "github.com/axolop/axolop-crm/internal/jobs"
)

const (
	// TaskBillingSweep recomputes warning levels for every agency.
	TaskBillingSweep = "billing:sweep"
	// BillingSweepSchedule runs the sweep at the top of every hour.
	BillingSweepSchedule = "0 * * * *"
)

var warningLevels = []string{
	string(access.WarningNone),
	string(access.WarningInfo),
	string(access.WarningWarning),
	string(access.WarningUrgent),
	string(access.WarningCritical),
}

// SubscriptionLister provides the rows the sweep evaluates.
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context) ([]access.Subscription, error)
	CountAgenciesWithoutSubscription(ctx context.Context) (int, error)
}

// BillingSweepJob publishes how many agencies sit at each warning level.
type BillingSweepJob struct {
	Store   SubscriptionLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewBillingSweepJob constructs the job handler.
func NewBillingSweepJob(store SubscriptionLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *BillingSweepJob {
	return &BillingSweepJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewBillingSweepTask creates the Asynq task registered with the scheduler.
func NewBillingSweepTask() *asynq.Task {
	return asynq.NewTask(TaskBillingSweep, nil, asynq.Queue(QueueDefault))
}

// Handle executes the sweep.
func (j *BillingSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("billing sweep: dependencies not configured")
	}
	tracker := j.metrics().Track("billing_sweep")

	counts, err := j.Sweep(ctx)
	if err != nil {
		j.log().Error("billing sweep", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().SetAgencyWarnings(warningLevels, counts)
	j.log().Info("billing sweep complete",
		slog.Int("critical", counts[string(access.WarningCritical)]),
		slog.Int("urgent", counts[string(access.WarningUrgent)]),
		slog.Int("warning", counts[string(access.WarningWarning)]))
	return tracker.End(nil)
}

// Sweep counts agencies per warning level as of the job clock. Agencies
// without a subscription or with an unknown status count as critical.
func (j *BillingSweepJob) Sweep(ctx context.Context) (map[string]int, error) {
	subs, err := j.Store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	missing, err := j.Store.CountAgenciesWithoutSubscription(ctx)
	if err != nil {
		return nil, err
	}
	now := j.now()
	counts := make(map[string]int, len(warningLevels))
	for i := range subs {
		state, err := access.Evaluate(&subs[i], now)
		if err != nil {
			j.log().Warn("invalid subscription status",
				slog.String("agency_id", subs[i].AgencyID.String()),
				slog.String("status", string(subs[i].Status)))
		}
		counts[string(state.WarningLevel)]++
	}
	counts[string(access.WarningCritical)] += missing
	return counts, nil
}

func (j *BillingSweepJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *BillingSweepJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBillingSweep))
	}
	return slog.Default().With(slog.String("job", TaskBillingSweep))
}

func (j *BillingSweepJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *BillingSweepJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
