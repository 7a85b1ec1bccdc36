package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleSeller     = "seller"
	RoleBuyer      = "buyer"
	RoleAdmin      = "admin"
	RoleFinance    = "finance"
	RoleSuperAdmin = "super_admin"
	RoleSystem     = "system" // hidden role, issued only by ledgerctl
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleSystem }

// Known reports whether role is one of the defined roles.
func Known(role string) bool {
	switch role {
	case RoleSeller, RoleBuyer, RoleAdmin, RoleFinance, RoleSuperAdmin, RoleSystem:
		return true
	}
	return false
}
