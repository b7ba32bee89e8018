package domain

import "fmt"

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleStoreOwner Role = "store_owner"
	RoleDriver     Role = "driver"
	RoleAdmin      Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCustomer, RoleStoreOwner, RoleDriver, RoleAdmin:
		return r, nil
	}
	return "", Unauthorized(fmt.Sprintf("unknown role %q", s))
}

// Principal is the authenticated actor behind a request.
type Principal struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

func (p Principal) Is(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}
