package audit

import (
	"encoding/json"
	"time"
)

// Action represents the category of an audit entry.
type Action string

const (
	ActionRoleAssigned          Action = "ROLE_ASSIGNED"
	ActionRoleRevoked           Action = "ROLE_REVOKED"
	ActionPermissionGranted     Action = "PERMISSION_GRANTED"
	ActionPermissionRevoked     Action = "PERMISSION_REVOKED"
	ActionResourceAccessGranted Action = "RESOURCE_ACCESS_GRANTED"
	ActionResourceAccessRevoked Action = "RESOURCE_ACCESS_REVOKED"
	ActionPackageRegistered     Action = "PACKAGE_REGISTERED"
	ActionPackageDeactivated    Action = "PACKAGE_DEACTIVATED"
	ActionAccessRequested       Action = "ACCESS_REQUESTED"
	ActionUserApproved          Action = "USER_APPROVED"
	ActionUserDenied            Action = "USER_DENIED"
)

// Entry is a single append-only audit record. Entries are immutable
// once written; revocations and corrections are new entries, never
// updates.
type Entry struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id,omitempty"`
	TargetUserID string                 `json:"target_user_id,omitempty"`
	PackageID    string                 `json:"package_id,omitempty"`
	Action       Action                 `json:"action"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// ToJSON converts the entry to JSON.
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter narrows audit queries.
type SearchFilter struct {
	UserID       string
	TargetUserID string
	PackageID    string
	Actions      []Action
	ResourceType string
	ResourceID   string
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

// RetentionPolicy defines how long audit entries are kept.
type RetentionPolicy struct {
	RetentionDays int
}

// DefaultRetentionPolicy keeps entries for 90 days.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{RetentionDays: 90}
}
