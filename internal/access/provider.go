package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/axolop/axolop-crm/internal/shared"
)

// ErrAgencyNotFound indicates the requested agency does not exist.
var ErrAgencyNotFound = errors.New("access: agency not found")

// Resolution outcomes reported to the Observer.
const (
	OutcomeResolved            = "resolved"
	OutcomeNotMember           = "not_member"
	OutcomeUnauthenticated     = "unauthenticated"
	OutcomeUnavailable         = "unavailable"
	OutcomeAgencyNotFound      = "agency_not_found"
	OutcomeInvalidSubscription = "invalid_subscription"
)

// Agency is the tenant record as exposed by the data collaborator.
type Agency struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgencySource loads agencies. It returns ErrAgencyNotFound for unknown IDs.
type AgencySource interface {
	FindAgency(ctx context.Context, id uuid.UUID) (Agency, error)
}

// SubscriptionSource loads the agency's subscription. A nil subscription with
// a nil error means the agency never subscribed.
type SubscriptionSource interface {
	FindSubscription(ctx context.Context, agencyID uuid.UUID) (*Subscription, error)
}

// Observer receives one outcome per Load.
type Observer interface {
	ObserveResolution(outcome string)
}

// AgencyContext is the request-scoped view of the caller inside an agency.
// It is read-only once built.
type AgencyContext struct {
	AgencyID     uuid.UUID           `json:"agency_id"`
	Agency       *Agency             `json:"agency,omitempty"`
	Identity     shared.Identity     `json:"-"`
	Membership   *Membership         `json:"membership,omitempty"`
	Subscription *Subscription       `json:"-"`
	Flags        PermissionFlags     `json:"flags"`
	Warning      AccountWarningState `json:"warning"`
	Available    bool                `json:"available"`
	EvaluatedAt  time.Time           `json:"evaluated_at"`
	Err          error               `json:"-"`
}

// Unavailable is the fail-closed fallback used when upstream data could not be
// loaded: every capability is denied and the payment wall is shown.
func Unavailable(agencyID uuid.UUID, cause error) *AgencyContext {
	return &AgencyContext{
		AgencyID: agencyID,
		Flags:    Restricted(),
		Warning:  paymentWall(""),
		Err:      cause,
	}
}

// IsMember reports whether the caller holds a membership in the agency.
func (c *AgencyContext) IsMember() bool {
	return c != nil && c.Available && c.Membership != nil
}

// Reevaluate recomputes the warning state at now. Long-lived contexts must
// call it instead of trusting Warning.
func (c *AgencyContext) Reevaluate(now time.Time) AccountWarningState {
	if c == nil || !c.Available {
		return paymentWall("")
	}
	state, _ := Evaluate(c.Subscription, now)
	return state
}

// Provider builds AgencyContext values.
type Provider struct {
	resolver      *Resolver
	agencies      AgencySource
	subscriptions SubscriptionSource
	observer      Observer
	logger        *slog.Logger
	clock         func() time.Time
}

// NewProvider constructs a Provider.
func NewProvider(resolver *Resolver, agencies AgencySource, subscriptions SubscriptionSource, observer Observer, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		resolver:      resolver,
		agencies:      agencies,
		subscriptions: subscriptions,
		observer:      observer,
		logger:        logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the provider clock for deterministic tests.
func (p *Provider) WithClock(clock func() time.Time) {
	if p != nil && clock != nil {
		p.clock = clock
	}
}

// Load resolves the caller and the agency's billing state. ErrUnauthenticated
// returns a nil context. Every other error comes with a usable context: the
// Unavailable fallback for upstream failures, or a context with the payment
// wall raised for invalid subscription states.
func (p *Provider) Load(ctx context.Context, sess Session, agencyID uuid.UUID) (*AgencyContext, error) {
	res, err := p.resolver.Lookup(ctx, sess, agencyID)
	switch {
	case errors.Is(err, ErrUnauthenticated):
		p.observe(OutcomeUnauthenticated)
		return nil, err
	case errors.Is(err, ErrMembershipNotFound):
	case err != nil:
		p.observe(OutcomeUnavailable)
		return Unavailable(agencyID, err), err
	}

	var (
		agency Agency
		sub    *Subscription
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := p.agencies.FindAgency(gctx, agencyID)
		if err != nil {
			if errors.Is(err, ErrAgencyNotFound) {
				return ErrAgencyNotFound
			}
			return fmt.Errorf("%w: find agency: %v", ErrUpstreamUnavailable, err)
		}
		agency = a
		return nil
	})
	g.Go(func() error {
		s, err := p.subscriptions.FindSubscription(gctx, agencyID)
		if err != nil {
			return fmt.Errorf("%w: find subscription: %v", ErrUpstreamUnavailable, err)
		}
		sub = s
		return nil
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrAgencyNotFound) {
			p.observe(OutcomeAgencyNotFound)
		} else {
			p.observe(OutcomeUnavailable)
		}
		return Unavailable(agencyID, err), err
	}

	now := p.clock()
	warning, evalErr := Evaluate(sub, now)
	ac := &AgencyContext{
		AgencyID:     agencyID,
		Agency:       &agency,
		Identity:     res.Identity,
		Membership:   res.Membership,
		Subscription: sub,
		Flags:        res.Flags,
		Warning:      warning,
		Available:    true,
		EvaluatedAt:  now,
		Err:          evalErr,
	}
	switch {
	case evalErr != nil:
		p.logger.Warn("invalid subscription state", slog.String("agency_id", agencyID.String()), slog.Any("error", evalErr))
		p.observe(OutcomeInvalidSubscription)
	case res.Membership == nil:
		p.observe(OutcomeNotMember)
	default:
		p.observe(OutcomeResolved)
	}
	return ac, evalErr
}

// Refresh drops cached membership data for the agency. It is the only
// invalidation path; the access refresh job calls it for webhook events.
func (p *Provider) Refresh(ctx context.Context, agencyID uuid.UUID) error {
	if err := p.resolver.Forget(ctx, agencyID); err != nil {
		return fmt.Errorf("access: refresh %s: %w", agencyID, err)
	}
	p.logger.Info("agency access refreshed", slog.String("agency_id", agencyID.String()))
	return nil
}

func (p *Provider) observe(outcome string) {
	if p.observer != nil {
		p.observer.ObserveResolution(outcome)
	}
}

type agencyContextKey struct{}

// ContextWithAgency stores the agency context in ctx.
func ContextWithAgency(ctx context.Context, ac *AgencyContext) context.Context {
	return context.WithValue(ctx, agencyContextKey{}, ac)
}

// AgencyFromContext extracts the agency context. A missing context reads as
// the Unavailable fallback, never as open access.
func AgencyFromContext(ctx context.Context) *AgencyContext {
	if ac, ok := ctx.Value(agencyContextKey{}).(*AgencyContext); ok && ac != nil {
		return ac
	}
	return Unavailable(uuid.Nil, errors.New("access: agency context missing"))
}
