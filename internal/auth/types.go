package auth

import "time"

// Role gates which mutating operations a user may invoke. Checks on the
// client side are advisory affordance hints; the API enforces them again.
type Role string

const (
	RoleAdmin    Role = "admin"
	RolePlanner  Role = "planner"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// DefaultRole is assigned when a registration does not request a role.
const DefaultRole = RolePlanner

// KnownRoles lists every role the service recognises.
var KnownRoles = []Role{RoleAdmin, RolePlanner, RoleOperator, RoleViewer}

// Valid reports whether the role is one of the recognised values.
func (r Role) Valid() bool {
	for _, known := range KnownRoles {
		if r == known {
			return true
		}
	}
	return false
}

// In reports whether the role is a member of the given set.
func (r Role) In(roles ...Role) bool {
	for _, candidate := range roles {
		if r == candidate {
			return true
		}
	}
	return false
}

// User is the stored account record.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity is the resolved view of a credential: what the rest of the
// system needs to know about the caller, nothing more.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// IdentityOf projects a stored user onto its public identity.
func IdentityOf(u *User) Identity {
	return Identity{
		ID:       u.ID,
		Username: u.Username,
		FullName: u.FullName,
		Role:     u.Role,
	}
}
