package workspace

import "errors"

var (
	// ErrUpstreamUnavailable marks a failed or timed out fetch from the workspace source
	ErrUpstreamUnavailable = errors.New("workspace source unavailable")

	// ErrWorkspaceNotFound is returned by sources for an unknown workspace
	ErrWorkspaceNotFound = errors.New("workspace not found")
)
