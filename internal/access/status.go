package access

import (
	"fmt"
	"time"
)

const (
	// GracePeriodDays is the number of days past due an agency keeps access.
	GracePeriodDays = 7

	day = 24 * time.Hour
)

// Evaluate computes the account warning state for sub at now. Day counting is
// elapsed UTC time divided by a fixed 24h day, never local calendar days.
// Unknown statuses fail closed with ErrInvalidSubscriptionState.
func Evaluate(sub *Subscription, now time.Time) (AccountWarningState, error) {
	if sub == nil {
		return paymentWall(StatusUnpaid), nil
	}
	if !sub.Status.Valid() {
		return paymentWall(sub.Status), fmt.Errorf("%w: %q", ErrInvalidSubscriptionState, sub.Status)
	}

	state := AccountWarningState{Status: sub.Status}
	if sub.Status == StatusPastDue {
		state.DaysPastDue = daysBetween(sub.CurrentPeriodEnd, now)
		state.InGracePeriod = state.DaysPastDue <= GracePeriodDays
		if state.InGracePeriod {
			state.GraceDaysRemaining = GracePeriodDays - state.DaysPastDue
		}
	}

	switch sub.Status {
	case StatusCanceled, StatusUnpaid:
		state.NeedsPaymentWall = true
	case StatusPastDue:
		state.NeedsPaymentWall = state.DaysPastDue > GracePeriodDays
	}

	state.WarningLevel = levelFor(state)
	return state, nil
}

func levelFor(state AccountWarningState) WarningLevel {
	switch {
	case state.NeedsPaymentWall:
		return WarningCritical
	case state.DaysPastDue >= 5:
		return WarningUrgent
	case state.DaysPastDue >= 3:
		return WarningWarning
	case state.Status == StatusPastDue:
		return WarningInfo
	default:
		return WarningNone
	}
}

// daysBetween returns whole elapsed days from start to end, floored at zero.
// Sub-second precision is kept so a day only counts once fully elapsed.
func daysBetween(start, end time.Time) int {
	elapsed := end.Sub(start)
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / day)
}

func paymentWall(status SubscriptionStatus) AccountWarningState {
	return AccountWarningState{
		Status:           status,
		NeedsPaymentWall: true,
		WarningLevel:     WarningCritical,
	}
}

// Banner is the persistent billing notice shown to users of a delinquent agency.
type Banner struct {
	Level         WarningLevel `json:"level"`
	Title         string       `json:"title"`
	Message       string       `json:"message"`
	DaysRemaining int          `json:"days_remaining"`
	ActionLabel   string       `json:"action_label"`
	ActionURL     string       `json:"action_url,omitempty"`
}

// Banner returns the notice for s, or nil when nothing needs to be shown.
func (s AccountWarningState) Banner(portalURL string) *Banner {
	if s.WarningLevel == WarningNone || s.WarningLevel == "" {
		return nil
	}
	b := &Banner{
		Level:         s.WarningLevel,
		DaysRemaining: s.GraceDaysRemaining,
		ActionLabel:   "Update payment method",
		ActionURL:     portalURL,
	}
	switch {
	case s.NeedsPaymentWall:
		b.Title = "Account access restricted"
		b.Message = "Your subscription is inactive. Update billing to restore access."
		b.ActionLabel = "Reactivate subscription"
	case s.InGracePeriod:
		b.Title = "Payment past due"
		b.Message = fmt.Sprintf("Your last payment failed. Access will be restricted in %s.", pluralDays(s.GraceDaysRemaining))
	default:
		b.Title = "Billing attention needed"
		b.Message = "Please review your billing details."
	}
	return b
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
