package domain

// Role names.
const (
	RoleRider   = "rider"
	RoleDriver  = "driver"
	RoleOwner   = "owner"
	RoleAdmin   = "admin"
	RoleSupport = "support"
)

// DefaultRole is assigned to every new user.
const DefaultRole = RoleRider

// Role is an entry of the role catalog.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RoleCatalog returns the roles seeded into every database.
func RoleCatalog() []Role {
	return []Role{
		{Name: RoleRider, Description: "Regular user who books rides"},
		{Name: RoleDriver, Description: "Driver who provides rides"},
		{Name: RoleOwner, Description: "Fleet owner"},
		{Name: RoleAdmin, Description: "System administrator"},
		{Name: RoleSupport, Description: "Customer support"},
	}
}
