package rbac

import "errors"

var (
	// ErrRoleNotFound is returned when a role does not exist or is inactive where an active role is required
	ErrRoleNotFound = errors.New("role not found")

	// ErrDuplicateRole is returned when a role name is already taken
	ErrDuplicateRole = errors.New("role already exists")

	// ErrInvalidRole is returned when a role definition is malformed
	ErrInvalidRole = errors.New("invalid role")

	// ErrCyclicHierarchy is returned when the role graph contains, or would contain, a cycle
	ErrCyclicHierarchy = errors.New("cyclic role hierarchy")

	// ErrUnknownPermission is returned when a role declares an action missing from the catalog
	ErrUnknownPermission = errors.New("unknown permission")

	// ErrInvalidAssignment is returned when an assignment request is malformed
	ErrInvalidAssignment = errors.New("invalid assignment")

	// ErrInvalidExpiry is returned for a temporary assignment without a future expiry, or any past expiry
	ErrInvalidExpiry = errors.New("invalid assignment expiry")

	// ErrDuplicateAssignment is returned when an identical active assignment already exists
	ErrDuplicateAssignment = errors.New("duplicate role assignment")

	// ErrAssignmentNotFound is returned when revoking an assignment that is not active
	ErrAssignmentNotFound = errors.New("assignment not found")
)
