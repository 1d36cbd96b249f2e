package access

// Restricted returns the most restrictive flag set. Every unresolved or
// errored state maps to this value.
func Restricted() PermissionFlags {
	return PermissionFlags{}
}

// FlagsFor maps a membership to permission flags. A nil membership yields
// Restricted.
func FlagsFor(m *Membership) PermissionFlags {
	if m == nil {
		return Restricted()
	}
	admin := m.Role == RoleOwner || m.Role == RoleAdmin
	flags := PermissionFlags{
		IsAdmin:      admin,
		IsSeatedUser: m.SeatStatus == SeatSeated && !admin && m.Role.Valid(),
		IsGodMode:    m.GodMode,
	}
	flags.CanEdit = flags.IsAdmin || flags.IsGodMode
	return flags
}

// ReadOnly reports whether the flags deny every mutation.
func (f PermissionFlags) ReadOnly() bool {
	return !f.CanEdit
}
