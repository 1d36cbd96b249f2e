package access

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisMembershipCache stores memberships in Redis under a per-agency version.
// Bumping the version orphans every cached entry of that agency.
type RedisMembershipCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMembershipCache instantiates the cache helper.
func NewMembershipCache(client *redis.Client, ttl time.Duration) *RedisMembershipCache {
	return &RedisMembershipCache{client: client, ttl: ttl}
}

// Version returns the agency's cache version, initialising when missing.
func (c *RedisMembershipCache) Version(ctx context.Context, agencyID uuid.UUID) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(agencyID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Get loads a membership cached under version.
func (c *RedisMembershipCache) Get(ctx context.Context, agencyID, userID uuid.UUID, version int64) (*Membership, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	key := entryKey(agencyID, userID, version)
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var m Membership
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, false, err
	}
	return &m, true, nil
}

// Put stores a membership under the version read before the source lookup.
// A row fetched across an Invalidate lands under the old version and is
// never served.
func (c *RedisMembershipCache) Put(ctx context.Context, m Membership, version int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	key := entryKey(m.AgencyID, m.UserID, version)
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Invalidate bumps the agency version. The version key is shared by every
// process using the same Redis, so no fan-out is needed.
func (c *RedisMembershipCache) Invalidate(ctx context.Context, agencyID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(agencyID)).Err()
}

func entryKey(agencyID, userID uuid.UUID, version int64) string {
	return strings.Join([]string{"access", "membership", agencyID.String(), userID.String(), strconv.FormatInt(version, 10)}, ":")
}

func versionKey(agencyID uuid.UUID) string {
	return "access:version:" + agencyID.String()
}

var _ MembershipCache = (*RedisMembershipCache)(nil)
