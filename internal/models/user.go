package models

// Role represents user role in the platform. Users themselves live in the auth service;
// payments only needs the role carried in the JWT.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOwner    Role = "owner" // hall owner
	RoleCustomer Role = "customer"
)

// Valid reports whether r is a role the platform issues.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOwner, RoleCustomer:
		return true
	}
	return false
}
