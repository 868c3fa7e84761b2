package models

import "fmt"

// Caller roles
const (
	RoleAdmin     = "admin"     // May rebuild and clear the melody database
	RolePerformer = "performer" // Drives solo sessions
)

// ValidateRole rejects roles the API does not know about
func ValidateRole(role string) error {
	switch role {
	case RoleAdmin, RolePerformer:
		return nil
	default:
		return fmt.Errorf("unknown role %q (want %q or %q)", role, RolePerformer, RoleAdmin)
	}
}

// CanManageDatabase checks if a role may rebuild or clear the melody database
func CanManageDatabase(role string) bool {
	return role == RoleAdmin
}
