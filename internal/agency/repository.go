package agency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axolop/axolop-crm/internal/access"
	"github.com/axolop/axolop-crm/internal/platform/db"
)

// DBTX is the subset of *pgxpool.Pool the repository uses.
type DBTX interface {
	db.TxBeginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads and writes agency rows in PostgreSQL. It is the
// structured-data collaborator behind access resolution.
type Repository struct {
	pool DBTX
}

// NewRepository constructs a repository.
func NewRepository(pool DBTX) *Repository {
	return &Repository{pool: pool}
}

// FindAgency loads an agency by ID.
func (r *Repository) FindAgency(ctx context.Context, id uuid.UUID) (access.Agency, error) {
	var a access.Agency
	err := r.pool.QueryRow(ctx, `SELECT id, name, created_at, updated_at FROM agencies WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return access.Agency{}, access.ErrAgencyNotFound
		}
		return access.Agency{}, err
	}
	return a, nil
}

// FindMembership loads the user's membership in the agency.
func (r *Repository) FindMembership(ctx context.Context, agencyID, userID uuid.UUID) (access.Membership, error) {
	var (
		m          access.Membership
		role, seat string
	)
	err := r.pool.QueryRow(ctx, `SELECT agency_id, user_id, role, seat_status, god_mode
FROM agency_members
WHERE agency_id = $1 AND user_id = $2`, agencyID, userID).
		Scan(&m.AgencyID, &m.UserID, &role, &seat, &m.GodMode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return access.Membership{}, access.ErrMembershipNotFound
		}
		return access.Membership{}, err
	}
	m.Role = access.Role(role)
	m.SeatStatus = access.SeatStatus(seat)
	return m, nil
}

// FindSubscription loads the agency subscription. A missing row returns nil.
func (r *Repository) FindSubscription(ctx context.Context, agencyID uuid.UUID) (*access.Subscription, error) {
	var (
		sub    access.Subscription
		status string
	)
	err := r.pool.QueryRow(ctx, `SELECT agency_id, status, current_period_end FROM subscriptions WHERE agency_id = $1`, agencyID).
		Scan(&sub.AgencyID, &status, &sub.CurrentPeriodEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	sub.Status = access.SubscriptionStatus(status)
	return &sub, nil
}

// ListSubscriptions returns every subscription row ordered by agency.
func (r *Repository) ListSubscriptions(ctx context.Context) ([]access.Subscription, error) {
	rows, err := r.pool.Query(ctx, `SELECT agency_id, status, current_period_end FROM subscriptions ORDER BY agency_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []access.Subscription
	for rows.Next() {
		var (
			sub    access.Subscription
			status string
		)
		if err := rows.Scan(&sub.AgencyID, &status, &sub.CurrentPeriodEnd); err != nil {
			return nil, err
		}
		sub.Status = access.SubscriptionStatus(status)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

// CountAgenciesWithoutSubscription counts agencies that never subscribed.
func (r *Repository) CountAgenciesWithoutSubscription(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agencies a
WHERE NOT EXISTS (SELECT 1 FROM subscriptions s WHERE s.agency_id = a.id)`).Scan(&n)
	return n, err
}

// ApplySubscription stores sub unless a newer billing event was already
// applied. It reports whether the row changed. The upsert re-checks event_at
// since FOR UPDATE locks nothing before the first row exists.
func (r *Repository) ApplySubscription(ctx context.Context, sub access.Subscription, eventAt time.Time) (bool, error) {
	applied := false
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var last time.Time
		err := tx.QueryRow(ctx, `SELECT event_at FROM subscriptions WHERE agency_id = $1 FOR UPDATE`, sub.AgencyID).Scan(&last)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		case eventAt.Before(last):
			return nil
		}
		tag, err := tx.Exec(ctx, applySubscriptionSQL, sub.AgencyID, string(sub.Status), sub.CurrentPeriodEnd.UTC(), eventAt.UTC())
		if err != nil {
			return err
		}
		applied = tag.RowsAffected() > 0
		return nil
	})
	return applied, err
}

const applySubscriptionSQL = `INSERT INTO subscriptions (agency_id, status, current_period_end, event_at, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (agency_id) DO UPDATE
SET status = EXCLUDED.status,
    current_period_end = EXCLUDED.current_period_end,
    event_at = EXCLUDED.event_at,
    updated_at = NOW()
WHERE subscriptions.event_at <= EXCLUDED.event_at`

// RenameAgency updates the agency name and returns the stored row.
func (r *Repository) RenameAgency(ctx context.Context, id uuid.UUID, name string) (access.Agency, error) {
	var a access.Agency
	err := r.pool.QueryRow(ctx, `UPDATE agencies SET name = $2, updated_at = NOW() WHERE id = $1
RETURNING id, name, created_at, updated_at`, id, name).
		Scan(&a.ID, &a.Name, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return access.Agency{}, access.ErrAgencyNotFound
		}
		return access.Agency{}, err
	}
	return a, nil
}

var (
	_ DBTX                      = (*pgxpool.Pool)(nil)
	_ access.AgencySource       = (*Repository)(nil)
	_ access.MembershipSource   = (*Repository)(nil)
	_ access.SubscriptionSource = (*Repository)(nil)
)
