package cli

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/axolop/axolop-crm/jobs"
)

// AccessOpsCLI exposes helpers for invalidating cached agency access.
type AccessOpsCLI struct {
	jobs *JobsCLI
}

// NewAccessOpsCLI constructs the helper around a JobsCLI.
func NewAccessOpsCLI(base *JobsCLI) *AccessOpsCLI {
	return &AccessOpsCLI{jobs: base}
}

// TriggerRefresh enqueues an access refresh for the agency.
func (c *AccessOpsCLI) TriggerRefresh(ctx context.Context, agencyID uuid.UUID, reason string) (*asynq.TaskInfo, error) {
	if c == nil || c.jobs == nil {
		return nil, errors.New("access cli: client not configured")
	}
	if reason == "" {
		reason = "manual"
	}
	task, err := jobs.NewAccessRefreshTask(jobs.AccessRefreshPayload{AgencyID: agencyID, Reason: reason})
	if err != nil {
		return nil, err
	}
	return c.jobs.Enqueue(ctx, task)
}
