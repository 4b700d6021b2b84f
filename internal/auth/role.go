package auth

import "fmt"

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ParseRole validates a raw role value against the closed set.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return Role(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
}

// PermissionSet maps capability names to grants. It is derived from the
// role at token-issuance time and embedded in the access token claims.
type PermissionSet map[string]bool

// Capability names carried inside access tokens.
const (
	PermViewStudents         = "can_view_students"
	PermCreateStudents       = "can_create_students"
	PermEditStudents         = "can_edit_students"
	PermDeleteStudents       = "can_delete_students"
	PermViewCommunications   = "can_view_communications"
	PermCreateCommunications = "can_create_communications"
	PermEditCommunications   = "can_edit_communications"
	PermDeleteCommunications = "can_delete_communications"
	PermManageTeachers       = "can_manage_teachers"
	PermManageDepartments    = "can_manage_departments"
	PermManageSystem         = "can_manage_system"
)

var allCapabilities = []string{
	PermViewStudents,
	PermCreateStudents,
	PermEditStudents,
	PermDeleteStudents,
	PermViewCommunications,
	PermCreateCommunications,
	PermEditCommunications,
	PermDeleteCommunications,
	PermManageTeachers,
	PermManageDepartments,
	PermManageSystem,
}

// Permissions derives the capability set for a role. It is the single
// derivation point; total over the closed role set, fails fast otherwise.
func Permissions(role Role) (PermissionSet, error) {
	set := make(PermissionSet, len(allCapabilities))
	for _, cap := range allCapabilities {
		set[cap] = false
	}
	switch role {
	case RoleAdmin:
		for cap := range set {
			set[cap] = true
		}
	case RoleTeacher:
		set[PermViewStudents] = true
		set[PermCreateStudents] = true
		set[PermEditStudents] = true
		set[PermViewCommunications] = true
		set[PermCreateCommunications] = true
		set[PermEditCommunications] = true
	case RoleStudent:
		set[PermViewStudents] = true
		set[PermViewCommunications] = true
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return set, nil
}

// Can reports whether the set grants the capability.
func (p PermissionSet) Can(capability string) bool {
	return p[capability]
}

// Clone returns an independent copy.
func (p PermissionSet) Clone() PermissionSet {
	if p == nil {
		return nil
	}
	out := make(PermissionSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
