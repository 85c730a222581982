package catalog

import "errors"

var (
	// ErrActionNotFound is returned when an action has no entry in the requirement matrix
	ErrActionNotFound = errors.New("action not found")

	// ErrPermissionNotFound is returned when an action is not in the permission catalog
	ErrPermissionNotFound = errors.New("permission not found")

	// ErrInvalidMatrix is returned when a matrix document references unknown roles or tiers
	ErrInvalidMatrix = errors.New("invalid requirement matrix")
)
