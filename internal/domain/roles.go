// Package domain defines the stored documents and their MongoDB repositories.
package domain

import "errors"

const (
	// RoleAdmin marks users allowed to call the admin API.
	RoleAdmin = "admin"
	// RoleUser represents a standard player with no elevated privileges.
	RoleUser = "user"
)

// ErrNotFound is returned by repositories when no document matches.
var ErrNotFound = errors.New("not found")

// IsAdmin reports whether the role grants admin access.
func IsAdmin(role string) bool {
	return role == RoleAdmin
}
