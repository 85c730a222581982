package users

import "errors"

var (
	// ErrUserNotFound is returned when a user does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidUser is returned when a user record is malformed
	ErrInvalidUser = errors.New("invalid user")

	// ErrConflictingPermissions is returned when an action would be both granted and denied
	ErrConflictingPermissions = errors.New("conflicting permissions")
)
