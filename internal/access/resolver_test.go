package access

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axolop/axolop-crm/internal/shared"
)

type stubAuthenticator struct {
	identities map[string]shared.Identity
	err        error
}

func (s stubAuthenticator) Authenticate(ctx context.Context, token string) (shared.Identity, error) {
	if s.err != nil {
		return shared.Identity{}, s.err
	}
	id, ok := s.identities[token]
	if !ok {
		return shared.Identity{}, errors.New("session not found")
	}
	return id, nil
}

type stubMemberships struct {
	mu          sync.Mutex
	memberships map[uuid.UUID]Membership
	err         error
	calls       int
}

func (s *stubMemberships) FindMembership(ctx context.Context, agencyID, userID uuid.UUID) (Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return Membership{}, s.err
	}
	m, ok := s.memberships[userID]
	if !ok || m.AgencyID != agencyID {
		return Membership{}, ErrMembershipNotFound
	}
	return m, nil
}

func (s *stubMemberships) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type resolverFixture struct {
	agencyID uuid.UUID
	owner    shared.Identity
	member   shared.Identity
	outsider shared.Identity
	auth     stubAuthenticator
	source   *stubMemberships
}

func newResolverFixture() *resolverFixture {
	f := &resolverFixture{
		agencyID: uuid.New(),
		owner:    shared.Identity{UserID: uuid.New(), Email: "owner@agency.test"},
		member:   shared.Identity{UserID: uuid.New(), Email: "member@agency.test"},
		outsider: shared.Identity{UserID: uuid.New(), Email: "outsider@agency.test"},
	}
	f.auth = stubAuthenticator{identities: map[string]shared.Identity{
		"owner-token":    f.owner,
		"member-token":   f.member,
		"outsider-token": f.outsider,
	}}
	f.source = &stubMemberships{memberships: map[uuid.UUID]Membership{
		f.owner.UserID:  {AgencyID: f.agencyID, UserID: f.owner.UserID, Role: RoleOwner, SeatStatus: SeatSeated},
		f.member.UserID: {AgencyID: f.agencyID, UserID: f.member.UserID, Role: RoleMember, SeatStatus: SeatSeated},
	}}
	return f
}

func TestResolveMapsMembershipToFlags(t *testing.T) {
	f := newResolverFixture()
	r := NewResolver(f.auth, f.source)

	flags, err := r.Resolve(context.Background(), Session{Token: "owner-token"}, f.agencyID)
	require.NoError(t, err)
	assert.Equal(t, PermissionFlags{IsAdmin: true, CanEdit: true}, flags)

	flags, err = r.Resolve(context.Background(), Session{Token: "member-token"}, f.agencyID)
	require.NoError(t, err)
	assert.Equal(t, PermissionFlags{IsSeatedUser: true}, flags)
}

func TestResolveUnauthenticated(t *testing.T) {
	f := newResolverFixture()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewResolver(f.auth, f.source, WithResolverClock(func() time.Time { return now }))

	for name, sess := range map[string]Session{
		"empty token":   {},
		"unknown token": {Token: "forged"},
		"expired":       {Token: "owner-token", ExpiresAt: now},
	} {
		flags, err := r.Resolve(context.Background(), sess, f.agencyID)
		assert.ErrorIs(t, err, ErrUnauthenticated, name)
		assert.Equal(t, Restricted(), flags, name)
	}
	assert.Zero(t, f.source.callCount())
}

func TestResolveAuthUpstreamFailureIsRetryable(t *testing.T) {
	f := newResolverFixture()
	f.auth.err = errors.Join(ErrUpstreamUnavailable, errors.New("auth backend timeout"))
	r := NewResolver(f.auth, f.source)

	_, err := r.Resolve(context.Background(), Session{Token: "owner-token"}, f.agencyID)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveMembershipNotFoundIsUnprivileged(t *testing.T) {
	f := newResolverFixture()
	r := NewResolver(f.auth, f.source)

	res, err := r.Lookup(context.Background(), Session{Token: "outsider-token"}, f.agencyID)
	assert.ErrorIs(t, err, ErrMembershipNotFound)
	assert.Equal(t, f.outsider, res.Identity)
	assert.Nil(t, res.Membership)
	assert.Equal(t, Restricted(), res.Flags)
}

func TestResolveUpstreamFailureNeverGrantsAccess(t *testing.T) {
	f := newResolverFixture()
	f.source.err = errors.New("connection refused")
	r := NewResolver(f.auth, f.source)

	flags, err := r.Resolve(context.Background(), Session{Token: "owner-token"}, f.agencyID)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, Restricted(), flags)
}

func TestResolveMemoizesWithinRequest(t *testing.T) {
	f := newResolverFixture()
	r := NewResolver(f.auth, f.source)
	ctx := WithRequestMemo(context.Background())

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(ctx, Session{Token: "owner-token"}, f.agencyID)
		require.NoError(t, err)
		_, err = r.Resolve(ctx, Session{Token: "outsider-token"}, f.agencyID)
		require.ErrorIs(t, err, ErrMembershipNotFound)
	}
	assert.Equal(t, 2, f.source.callCount())

	_, err := r.Resolve(context.Background(), Session{Token: "owner-token"}, f.agencyID)
	require.NoError(t, err)
	assert.Equal(t, 3, f.source.callCount())
}

func TestResolveUsesMembershipCache(t *testing.T) {
	f := newResolverFixture()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewMembershipCache(client, time.Minute)
	r := NewResolver(f.auth, f.source, WithMembershipCache(cache))
	ctx := context.Background()

	_, err := r.Resolve(ctx, Session{Token: "member-token"}, f.agencyID)
	require.NoError(t, err)
	flags, err := r.Resolve(ctx, Session{Token: "member-token"}, f.agencyID)
	require.NoError(t, err)
	assert.Equal(t, PermissionFlags{IsSeatedUser: true}, flags)
	assert.Equal(t, 1, f.source.callCount())

	promoted := f.source.memberships[f.member.UserID]
	promoted.Role = RoleAdmin
	f.source.memberships[f.member.UserID] = promoted

	require.NoError(t, r.Forget(ctx, f.agencyID))
	flags, err = r.Resolve(ctx, Session{Token: "member-token"}, f.agencyID)
	require.NoError(t, err)
	assert.Equal(t, PermissionFlags{IsAdmin: true, CanEdit: true}, flags)
	assert.Equal(t, 2, f.source.callCount())
}

func TestResolveFallsBackWhenCacheDown(t *testing.T) {
	f := newResolverFixture()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	r := NewResolver(f.auth, f.source, WithMembershipCache(NewMembershipCache(client, time.Minute)))
	mr.Close()

	flags, err := r.Resolve(context.Background(), Session{Token: "owner-token"}, f.agencyID)
	require.NoError(t, err)
	assert.True(t, flags.CanEdit)
}

// demotingSource changes the stored row and invalidates the cache while the
// first lookup is still in flight.
type demotingSource struct {
	inner  *stubMemberships
	cache  *RedisMembershipCache
	change func()
	done   bool
}

func (s *demotingSource) FindMembership(ctx context.Context, agencyID, userID uuid.UUID) (Membership, error) {
	m, err := s.inner.FindMembership(ctx, agencyID, userID)
	if !s.done {
		s.done = true
		s.change()
		if ierr := s.cache.Invalidate(ctx, agencyID); ierr != nil {
			return Membership{}, ierr
		}
	}
	return m, err
}

func TestResolveDropsRowFetchedAcrossInvalidate(t *testing.T) {
	f := newResolverFixture()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewMembershipCache(client, time.Minute)
	source := &demotingSource{inner: f.source, cache: cache, change: func() {
		f.source.mu.Lock()
		defer f.source.mu.Unlock()
		demoted := f.source.memberships[f.owner.UserID]
		demoted.Role = RoleViewer
		f.source.memberships[f.owner.UserID] = demoted
	}}
	r := NewResolver(f.auth, source, WithMembershipCache(cache))

	flags, err := r.Resolve(context.Background(), Session{Token: "owner-token"}, f.agencyID)
	require.NoError(t, err)
	assert.True(t, flags.CanEdit, "first lookup sees the row as read")

	flags, err = r.Resolve(context.Background(), Session{Token: "owner-token"}, f.agencyID)
	require.NoError(t, err)
	assert.Equal(t, PermissionFlags{IsSeatedUser: true}, flags)
	assert.Equal(t, 2, f.source.callCount())
}

type contextAwareSource struct {
	inner *stubMemberships
}

func (s contextAwareSource) FindMembership(ctx context.Context, agencyID, userID uuid.UUID) (Membership, error) {
	if err := ctx.Err(); err != nil {
		return Membership{}, err
	}
	return s.inner.FindMembership(ctx, agencyID, userID)
}

func TestResolveSharedLookupIgnoresCallerCancellation(t *testing.T) {
	f := newResolverFixture()
	r := NewResolver(f.auth, contextAwareSource{inner: f.source})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	flags, err := r.Resolve(ctx, Session{Token: "owner-token"}, f.agencyID)
	require.NoError(t, err)
	assert.True(t, flags.IsAdmin)
}
