package access

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnauthenticated indicates the caller has no active session.
	ErrUnauthenticated = errors.New("access: unauthenticated")
	// ErrMembershipNotFound indicates the caller is not a member of the agency.
	ErrMembershipNotFound = errors.New("access: membership not found")
	// ErrUpstreamUnavailable indicates a collaborator lookup failed and may be retried.
	ErrUpstreamUnavailable = errors.New("access: upstream unavailable")
	// ErrInvalidSubscriptionState indicates an unrecognised subscription status.
	ErrInvalidSubscriptionState = errors.New("access: invalid subscription state")
)

// Session is the caller's opaque bearer credential. It is handed to the
// authentication collaborator untouched.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Role is the agency-level role of a member.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// SeatStatus tells whether a member occupies a billed seat.
type SeatStatus string

const (
	SeatSeated   SeatStatus = "seated"
	SeatUnseated SeatStatus = "unseated"
)

// Membership links a user to an agency.
type Membership struct {
	AgencyID   uuid.UUID  `json:"agency_id"`
	UserID     uuid.UUID  `json:"user_id"`
	Role       Role       `json:"role"`
	SeatStatus SeatStatus `json:"seat_status"`
	GodMode    bool       `json:"god_mode"`
}

// SubscriptionStatus mirrors the billing provider's subscription lifecycle.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusUnpaid   SubscriptionStatus = "unpaid"
)

// Valid reports whether s is a known subscription status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled, StatusUnpaid:
		return true
	}
	return false
}

// Subscription is the agency's billing record. A nil *Subscription means the
// agency never subscribed.
type Subscription struct {
	AgencyID         uuid.UUID          `json:"agency_id"`
	Status           SubscriptionStatus `json:"status"`
	CurrentPeriodEnd time.Time          `json:"current_period_end"`
}

// PermissionFlags are derived from a membership on every resolution.
type PermissionFlags struct {
	IsAdmin      bool `json:"is_admin"`
	IsSeatedUser bool `json:"is_seated_user"`
	IsGodMode    bool `json:"is_god_mode"`
	CanEdit      bool `json:"can_edit"`
}

// WarningLevel grades billing delinquency for presentation.
type WarningLevel string

const (
	WarningNone     WarningLevel = "none"
	WarningInfo     WarningLevel = "info"
	WarningWarning  WarningLevel = "warning"
	WarningUrgent   WarningLevel = "urgent"
	WarningCritical WarningLevel = "critical"
)

// AccountWarningState is derived from a subscription and the current time.
type AccountWarningState struct {
	Status             SubscriptionStatus `json:"status"`
	DaysPastDue        int                `json:"days_past_due"`
	InGracePeriod      bool               `json:"in_grace_period"`
	GraceDaysRemaining int                `json:"grace_days_remaining"`
	NeedsPaymentWall   bool               `json:"needs_payment_wall"`
	WarningLevel       WarningLevel       `json:"warning_level"`
}
