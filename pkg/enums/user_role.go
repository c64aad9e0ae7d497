package enums

import "fmt"

// UserRole is the coarse role carried in access tokens.
type UserRole string

const (
	UserRoleMember UserRole = "member"
	UserRoleStaff  UserRole = "staff"
)

var validUserRoles = []UserRole{UserRoleMember, UserRoleStaff}

// IsValid reports whether the value is a known role.
func (r UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseUserRole converts raw input into a UserRole.
func ParseUserRole(value string) (UserRole, error) {
	for _, candidate := range validUserRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user role %q", value)
}
