package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleMember          = "member"
	RoleCreator         = "creator"
	RoleFinance         = "finance"
	RolePayoutProcessor = "payout_processor"
	RoleAdmin           = "admin"
	RoleService         = "service" // hidden role for trusted backend callers
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsHiddenRole(role string) bool { return role == RoleService }
