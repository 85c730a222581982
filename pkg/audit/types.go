package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeAuthzPermissionCheck  EventType = "authz.permission_check"
	EventTypeAuthzAccessDenied     EventType = "authz.access_denied"
	EventTypeAuthzPermissionGrant  EventType = "authz.permission_grant"
	EventTypeAuthzPermissionRevoke EventType = "authz.permission_revoke"
	EventTypeAuthzRoleChange       EventType = "authz.role_change"
	EventTypeAuthzCacheInvalidate  EventType = "authz.cache_invalidate"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single authorization audit record
type Event struct {
	Timestamp   time.Time   `json:"timestamp"`
	EventType   EventType   `json:"event_type"`
	Status      EventStatus `json:"status"`
	UserID      string      `json:"user_id,omitempty"`
	ActorID     string      `json:"actor_id,omitempty"`
	WorkspaceID string      `json:"workspace_id,omitempty"`
	Action      string      `json:"action,omitempty"`
	ResourceID  string      `json:"resource_id,omitempty"`

	// Source and Reason carry the resolver's explanation of a decision
	Source string `json:"source,omitempty"`
	Reason string `json:"reason,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
