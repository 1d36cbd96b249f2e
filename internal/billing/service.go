// Package billing ingests subscription events from the billing provider.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/axolop/axolop-crm/internal/access"
	"github.com/axolop/axolop-crm/internal/platform/httpx"
	"github.com/axolop/axolop-crm/internal/shared"
)

// Event types accepted from the billing provider.
const (
	EventSubscriptionUpdated = "subscription.updated"
	EventSubscriptionDeleted = "subscription.deleted"
	EventMembershipChanged   = "membership.changed"
)

const idempotencyModule = "billing"

// Event is the webhook payload.
type Event struct {
	ID               string     `json:"id" validate:"required,max=255"`
	Type             string     `json:"type" validate:"required,oneof=subscription.updated subscription.deleted membership.changed"`
	AgencyID         string     `json:"agency_id" validate:"required,uuid"`
	Status           string     `json:"status" validate:"omitempty,oneof=active trialing past_due canceled unpaid"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	OccurredAt       *time.Time `json:"occurred_at,omitempty"`
}

// Outcome reports what happened to an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeStale     Outcome = "stale"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRefreshed Outcome = "refreshed"
)

// SubscriptionWriter stores subscription state.
type SubscriptionWriter interface {
	ApplySubscription(ctx context.Context, sub access.Subscription, eventAt time.Time) (bool, error)
}

// Deduper records processed event IDs.
type Deduper interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// RefreshEnqueuer schedules an access refresh for an agency.
type RefreshEnqueuer interface {
	EnqueueAccessRefresh(ctx context.Context, agencyID uuid.UUID, reason string) error
}

// Service applies billing events.
type Service struct {
	store    SubscriptionWriter
	dedupe   Deduper
	refresh  RefreshEnqueuer
	validate *validator.Validate
	logger   *slog.Logger
	clock    func() time.Time
}

// NewService builds Service instance.
func NewService(store SubscriptionWriter, dedupe Deduper, refresh RefreshEnqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		dedupe:   dedupe,
		refresh:  refresh,
		validate: validator.New(),
		logger:   logger,
		clock:    time.Now,
	}
}

// WithClock overrides the clock used for events without occurred_at.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

// Process validates and applies ev exactly once per event ID. A failed event
// releases its ID so the provider can redeliver it.
func (s *Service) Process(ctx context.Context, ev Event) (Outcome, error) {
	if err := s.validate.Struct(ev); err != nil {
		return "", fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	if ev.Type == EventSubscriptionUpdated && (ev.Status == "" || ev.CurrentPeriodEnd == nil) {
		return "", fmt.Errorf("%w: %s requires status and current_period_end", httpx.ErrValidation, ev.Type)
	}
	agencyID, err := uuid.Parse(ev.AgencyID)
	if err != nil {
		return "", fmt.Errorf("%w: agency_id", httpx.ErrValidation)
	}

	if err := s.dedupe.CheckAndInsert(ctx, ev.ID, idempotencyModule); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return OutcomeDuplicate, nil
		}
		return "", fmt.Errorf("billing: dedupe %s: %w", ev.ID, err)
	}

	outcome, err := s.apply(ctx, agencyID, ev)
	if err != nil {
		if derr := s.dedupe.Delete(ctx, ev.ID, idempotencyModule); derr != nil {
			s.logger.Error("billing release event", slog.String("event_id", ev.ID), slog.Any("error", derr))
		}
		return "", err
	}
	s.logger.Info("billing event processed",
		slog.String("event_id", ev.ID),
		slog.String("type", ev.Type),
		slog.String("agency_id", agencyID.String()),
		slog.String("outcome", string(outcome)))
	return outcome, nil
}

func (s *Service) apply(ctx context.Context, agencyID uuid.UUID, ev Event) (Outcome, error) {
	outcome := OutcomeRefreshed
	if ev.Type != EventMembershipChanged {
		sub := access.Subscription{AgencyID: agencyID, Status: access.SubscriptionStatus(ev.Status)}
		if ev.Type == EventSubscriptionDeleted {
			sub.Status = access.StatusCanceled
		}
		if ev.CurrentPeriodEnd != nil {
			sub.CurrentPeriodEnd = ev.CurrentPeriodEnd.UTC()
		}
		eventAt := s.clock().UTC()
		if ev.OccurredAt != nil {
			eventAt = ev.OccurredAt.UTC()
		}
		applied, err := s.store.ApplySubscription(ctx, sub, eventAt)
		if err != nil {
			return "", fmt.Errorf("billing: apply %s: %w", ev.ID, err)
		}
		if !applied {
			return OutcomeStale, nil
		}
		outcome = OutcomeApplied
	}
	if err := s.refresh.EnqueueAccessRefresh(ctx, agencyID, ev.Type); err != nil {
		return "", fmt.Errorf("billing: enqueue refresh %s: %w", ev.ID, err)
	}
	return outcome, nil
}
