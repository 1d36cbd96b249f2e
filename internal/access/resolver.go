package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/axolop/axolop-crm/internal/shared"
)

// Authenticator is the authentication collaborator. It maps an opaque token to
// the caller identity. Errors wrapping ErrUpstreamUnavailable are treated as
// transient; any other error means there is no active session.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (shared.Identity, error)
}

// MembershipSource reads agency memberships from the structured-data
// collaborator. It returns ErrMembershipNotFound when the user has no
// membership in the agency.
type MembershipSource interface {
	FindMembership(ctx context.Context, agencyID, userID uuid.UUID) (Membership, error)
}

// MembershipCache keeps memberships between requests of the same session.
// Entries are keyed by the agency version; Invalidate moves the version on.
type MembershipCache interface {
	Version(ctx context.Context, agencyID uuid.UUID) (int64, error)
	Get(ctx context.Context, agencyID, userID uuid.UUID, version int64) (*Membership, bool, error)
	Put(ctx context.Context, m Membership, version int64) error
	Invalidate(ctx context.Context, agencyID uuid.UUID) error
}

// Resolution is the outcome of a user type lookup.
type Resolution struct {
	Identity   shared.Identity
	Membership *Membership
	Flags      PermissionFlags
}

// fetchTimeout bounds a shared membership lookup.
const fetchTimeout = 5 * time.Second

// Resolver determines the caller's user type within an agency.
type Resolver struct {
	auth    Authenticator
	source  MembershipSource
	cache   MembershipCache
	logger  *slog.Logger
	clock   func() time.Time
	flights singleflight.Group
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithMembershipCache enables the session-scoped membership cache.
func WithMembershipCache(cache MembershipCache) ResolverOption {
	return func(r *Resolver) {
		r.cache = cache
	}
}

// WithResolverLogger sets the logger used for cache diagnostics.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResolverClock overrides the clock used for session expiry checks.
func WithResolverClock(clock func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewResolver constructs a Resolver.
func NewResolver(auth Authenticator, source MembershipSource, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		auth:   auth,
		source: source,
		logger: slog.Default(),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the caller's permission flags in agencyID. Flags are always
// restricted when an error is returned; ErrMembershipNotFound is non-fatal.
func (r *Resolver) Resolve(ctx context.Context, sess Session, agencyID uuid.UUID) (PermissionFlags, error) {
	res, err := r.Lookup(ctx, sess, agencyID)
	return res.Flags, err
}

// Lookup authenticates the session and loads the caller's membership.
func (r *Resolver) Lookup(ctx context.Context, sess Session, agencyID uuid.UUID) (Resolution, error) {
	identity, err := r.authenticate(ctx, sess)
	if err != nil {
		return Resolution{Flags: Restricted()}, err
	}
	res := Resolution{Identity: identity, Flags: Restricted()}

	membership, err := r.membership(ctx, agencyID, identity.UserID)
	if err != nil {
		return res, err
	}
	res.Membership = membership
	res.Flags = FlagsFor(membership)
	return res, nil
}

// Forget drops cached memberships for the agency.
func (r *Resolver) Forget(ctx context.Context, agencyID uuid.UUID) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Invalidate(ctx, agencyID)
}

func (r *Resolver) authenticate(ctx context.Context, sess Session) (shared.Identity, error) {
	if strings.TrimSpace(sess.Token) == "" {
		return shared.Identity{}, ErrUnauthenticated
	}
	if !sess.ExpiresAt.IsZero() && !r.clock().Before(sess.ExpiresAt) {
		return shared.Identity{}, ErrUnauthenticated
	}
	if r.auth == nil {
		return shared.Identity{}, fmt.Errorf("%w: authenticator not configured", ErrUpstreamUnavailable)
	}
	identity, err := r.auth.Authenticate(ctx, sess.Token)
	if err != nil {
		if errors.Is(err, ErrUpstreamUnavailable) {
			return shared.Identity{}, err
		}
		return shared.Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if identity.UserID == uuid.Nil {
		return shared.Identity{}, ErrUnauthenticated
	}
	return identity, nil
}

func (r *Resolver) membership(ctx context.Context, agencyID, userID uuid.UUID) (*Membership, error) {
	memo := memoFromContext(ctx)
	if m, err, ok := memo.load(agencyID, userID); ok {
		return m, err
	}

	key := agencyID.String() + ":" + userID.String()
	value, err, _ := r.flights.Do(key, func() (interface{}, error) {
		// Detached from the first caller: every waiter shares this result.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return r.fetch(fctx, agencyID, userID)
	})
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			memo.store(agencyID, userID, nil, err)
		}
		return nil, err
	}
	m := value.(*Membership)
	memo.store(agencyID, userID, m, nil)
	return m, nil
}

func (r *Resolver) fetch(ctx context.Context, agencyID, userID uuid.UUID) (*Membership, error) {
	cache := r.cache
	var version int64
	if cache != nil {
		ver, err := cache.Version(ctx, agencyID)
		if err != nil {
			r.logger.Warn("membership cache version", slog.String("agency_id", agencyID.String()), slog.Any("error", err))
			cache = nil
		} else {
			version = ver
		}
	}
	if cache != nil {
		cached, ok, err := cache.Get(ctx, agencyID, userID, version)
		if err != nil {
			r.logger.Warn("membership cache get", slog.String("agency_id", agencyID.String()), slog.Any("error", err))
		} else if ok {
			return cached, nil
		}
	}
	if r.source == nil {
		return nil, fmt.Errorf("%w: membership source not configured", ErrUpstreamUnavailable)
	}

	m, err := r.source.FindMembership(ctx, agencyID, userID)
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("%w: find membership: %v", ErrUpstreamUnavailable, err)
	}

	if cache != nil {
		if err := cache.Put(ctx, m, version); err != nil {
			r.logger.Warn("membership cache put", slog.String("agency_id", agencyID.String()), slog.Any("error", err))
		}
	}
	return &m, nil
}
