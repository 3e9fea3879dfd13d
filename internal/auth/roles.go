package auth

// Role is the role claim of a caller.
type Role string

const (
	RoleViewer     Role = "viewer"
	RoleClerk      Role = "clerk"
	RoleAccountant Role = "accountant"
	RoleAdmin      Role = "admin"
)

// Area is the part of the system a request touches.
type Area string

const (
	AreaOrders    Area = "orders"
	AreaInventory Area = "inventory"
	AreaFinance   Area = "finance"
)

// Access is the kind of operation a request performs.
type Access int

const (
	AccessRead Access = iota + 1
	AccessWrite
	// AccessManage covers deletes, stock overrides and catalog changes.
	AccessManage
)

// Requirement is what a request needs from its caller.
type Requirement struct {
	Area   Area
	Access Access
}

// ParseRole validates a role claim.
func ParseRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleViewer, RoleClerk, RoleAccountant, RoleAdmin:
		return Role(value), true
	default:
		return "", false
	}
}

// Allows reports whether the role satisfies req. Clerks write orders and
// inventory, accountants write finance, and only admins manage.
func (r Role) Allows(req Requirement) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleViewer:
		return req.Access == AccessRead
	case RoleClerk:
		return req.Access == AccessRead ||
			req.Access == AccessWrite && (req.Area == AreaOrders || req.Area == AreaInventory)
	case RoleAccountant:
		return req.Access == AccessRead ||
			req.Access == AccessWrite && req.Area == AreaFinance
	default:
		return false
	}
}
