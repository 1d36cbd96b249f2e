package rbac

import (
	"sort"

	"github.com/axolop/axolop-crm/internal/access"
)

// Capability names derived from an agency context.
const (
	CapAgencyView     = "agency.view"
	CapAgencyEdit     = "agency.edit"
	CapAgencyAdmin    = "agency.admin"
	CapGodMode        = "ops.godmode"
	CapBillingCurrent = "billing.current"
)

// Capability describes a named grant exposed to clients.
type Capability struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var catalog = []Capability{
	{Name: CapAgencyView, Description: "Read agency data"},
	{Name: CapAgencyEdit, Description: "Modify agency data"},
	{Name: CapAgencyAdmin, Description: "Manage members, seats and settings"},
	{Name: CapGodMode, Description: "Operator override for support staff"},
	{Name: CapBillingCurrent, Description: "Subscription is in good standing"},
}

// Catalog lists every capability the service can grant.
func Catalog() []Capability {
	out := make([]Capability, len(catalog))
	copy(out, catalog)
	return out
}

// Capabilities returns the sorted capability names granted by ac. An
// unavailable context grants nothing.
func Capabilities(ac *access.AgencyContext) []string {
	if ac == nil || !ac.Available {
		return []string{}
	}
	caps := make([]string, 0, len(catalog))
	if ac.IsMember() {
		caps = append(caps, CapAgencyView)
	}
	if ac.Flags.CanEdit && !ac.Warning.NeedsPaymentWall {
		caps = append(caps, CapAgencyEdit)
	}
	if ac.Flags.IsAdmin {
		caps = append(caps, CapAgencyAdmin)
	}
	if ac.Flags.IsGodMode {
		caps = append(caps, CapGodMode)
	}
	if !ac.Warning.NeedsPaymentWall {
		caps = append(caps, CapBillingCurrent)
	}
	sort.Strings(caps)
	return caps
}
