package experiments

// Role is the privilege tier resolved for a caller. There is no role
// hierarchy object: a caller's tier is decided by comparing its address
// against the two configured role addresses.
type Role int

const (
	// RoleNone is any non-privileged participant
	RoleNone Role = iota
	// RolePrimary has full administrative authority
	RolePrimary
	// RoleSecondary may create, close/cancel, refund deposits and return
	// bets, but may not withdraw successful funding or finalize results
	RoleSecondary
)

// String returns a human-readable role label
func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	default:
		return "none"
	}
}

// AccessControl resolves caller addresses to privilege tiers
type AccessControl struct {
	primary   string
	secondary string
}

// NewAccessControl creates an access control with the two role addresses.
// secondary may be empty, which disables the secondary tier.
func NewAccessControl(primary, secondary string) *AccessControl {
	return &AccessControl{
		primary:   primary,
		secondary: secondary,
	}
}

// Resolve returns the privilege tier of a caller address
func (a *AccessControl) Resolve(caller string) Role {
	switch {
	case caller != "" && caller == a.primary:
		return RolePrimary
	case caller != "" && caller == a.secondary:
		return RoleSecondary
	default:
		return RoleNone
	}
}

// RequirePrimary fails unless the caller holds the primary role
func (a *AccessControl) RequirePrimary(caller string) error {
	if a.Resolve(caller) != RolePrimary {
		return ErrRoleMismatch
	}
	return nil
}

// RequireAdmin fails unless the caller holds the primary or secondary role
func (a *AccessControl) RequireAdmin(caller string) error {
	if a.Resolve(caller) == RoleNone {
		return ErrRoleMismatch
	}
	return nil
}

// PrimaryAddress returns the primary role address (the recipient of
// successful funding withdrawals)
func (a *AccessControl) PrimaryAddress() string {
	return a.primary
}
