package access

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoContextKey struct{}

type memoKey struct {
	agency uuid.UUID
	user   uuid.UUID
}

type memoEntry struct {
	membership *Membership
	err        error
}

// requestMemo deduplicates membership lookups within a single request.
type requestMemo struct {
	mu      sync.Mutex
	entries map[memoKey]memoEntry
}

// WithRequestMemo attaches a fresh lookup memo to ctx. Middleware calls it once
// per request; resolutions outside a memo always reach the collaborator.
func WithRequestMemo(ctx context.Context) context.Context {
	return context.WithValue(ctx, memoContextKey{}, &requestMemo{entries: make(map[memoKey]memoEntry)})
}

func memoFromContext(ctx context.Context) *requestMemo {
	memo, _ := ctx.Value(memoContextKey{}).(*requestMemo)
	return memo
}

func (m *requestMemo) load(agencyID, userID uuid.UUID) (*Membership, error, bool) {
	if m == nil {
		return nil, nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[memoKey{agency: agencyID, user: userID}]
	return entry.membership, entry.err, ok
}

func (m *requestMemo) store(agencyID, userID uuid.UUID, membership *Membership, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memoKey{agency: agencyID, user: userID}] = memoEntry{membership: membership, err: err}
}
