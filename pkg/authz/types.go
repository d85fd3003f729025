package authz

import (
	"time"
)

// RegistrationType controls how users gain access to a package.
type RegistrationType string

const (
	// RegistrationSelfRegister lets any authenticated user join and
	// receive the package's default USER role immediately.
	RegistrationSelfRegister RegistrationType = "SELF_REGISTER"
	// RegistrationApprovalRequired records a pending request that an
	// administrator must approve before any access is granted.
	RegistrationApprovalRequired RegistrationType = "APPROVAL_REQUIRED"
	// RegistrationAdminOnly means access is provisioned exclusively by
	// administrators; self-service requests are rejected.
	RegistrationAdminOnly RegistrationType = "ADMIN_ONLY"
)

// AccessType is the capability level carried by a ResourceAccess grant.
type AccessType string

const (
	AccessOwner         AccessType = "OWNER"
	AccessEditor        AccessType = "EDITOR"
	AccessViewer        AccessType = "VIEWER"
	AccessLimitedEditor AccessType = "LIMITED_EDITOR"
	AccessCollaborator  AccessType = "COLLABORATOR"
	AccessCustom        AccessType = "CUSTOM"
)

// Well-known role names seeded at bootstrap.
const (
	RoleAdmin        = "ADMIN"
	RoleUserManager  = "USER_MANAGER"
	RoleUser         = "USER"
	RoleMeetingAdmin = "MEETING_ADMIN"
)

// MeetingsPackageID is the identifier of the built-in meetings package.
// Bootstrap seeds default packages with deterministic IDs equal to their
// names so callers can reference them without a lookup.
const MeetingsPackageID = "meetings"

// ResourceTypeMeeting is the resource type used by meeting-level grants.
const ResourceTypeMeeting = "meeting"

// Package is an isolated authorization namespace. Roles, permissions and
// resource grants are scoped to exactly one package (or system-wide when
// the scope is nil).
type Package struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	DisplayName      string           `json:"displayName"`
	Description      string           `json:"description,omitempty"`
	RegistrationType RegistrationType `json:"registrationType"`
	IsActive         bool             `json:"isActive"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Permission is a named action within a package, e.g. "meetings.create".
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	Description string    `json:"description,omitempty"`
	PackageID   string    `json:"packageId"`
	Category    string    `json:"category,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Role is a named bundle of permissions. PackageID is nil for
// system-wide roles such as ADMIN.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	Description string    `json:"description,omitempty"`
	PackageID   *string   `json:"packageId,omitempty"`
	IsSystem    bool      `json:"isSystem"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// Permissions are eager-loaded when the role is fetched through the
	// store's role queries.
	Permissions []Permission `json:"permissions,omitempty"`
}

// RoleAssignment binds a user to a role, optionally narrowed to a single
// resource and optionally time-limited. Revocation flips IsActive rather
// than deleting the row so the grant history survives.
type RoleAssignment struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"userId"`
	RoleID       string                 `json:"roleId"`
	PackageID    *string                `json:"packageId,omitempty"`
	ResourceType string                 `json:"resourceType,omitempty"`
	ResourceID   string                 `json:"resourceId,omitempty"`
	GrantedBy    string                 `json:"grantedBy"`
	ExpiresAt    *time.Time             `json:"expiresAt,omitempty"`
	IsActive     bool                   `json:"isActive"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`

	Role *Role `json:"role,omitempty"`
}

// Expired reports whether the assignment's expiry, if any, has passed.
func (a *RoleAssignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// ResourceAccess grants a capability level on one concrete resource,
// independent of any role. The (user, package, resource type, resource
// id, access type) tuple is unique; re-granting reactivates the row.
type ResourceAccess struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"userId"`
	PackageID    string                 `json:"packageId"`
	ResourceType string                 `json:"resourceType"`
	ResourceID   string                 `json:"resourceId"`
	AccessType   AccessType             `json:"accessType"`
	GrantedBy    string                 `json:"grantedBy"`
	ExpiresAt    *time.Time             `json:"expiresAt,omitempty"`
	IsActive     bool                   `json:"isActive"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// Expired reports whether the grant's expiry, if any, has passed.
func (r *ResourceAccess) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// AuthorizationContext describes a single permission question: may
// UserID perform Action, within PackageID, optionally on one resource.
type AuthorizationContext struct {
	UserID       string `json:"userId"`
	PackageID    string `json:"packageId"`
	ResourceType string `json:"resourceType,omitempty"`
	ResourceID   string `json:"resourceId,omitempty"`
	Action       string `json:"action,omitempty"`
}

// PermissionCheck is the per-permission detail inside an
// AuthorizationResult.
type PermissionCheck struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
}

// AuthorizationResult is the outcome of a permission decision.
type AuthorizationResult struct {
	Allowed     bool              `json:"allowed"`
	Permissions []PermissionCheck `json:"permissions,omitempty"`
	Roles       []string          `json:"roles,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

// UserPermissions is the flattened permission snapshot for one user in
// one package.
type UserPermissions struct {
	UserID         string           `json:"userId"`
	PackageID      string           `json:"packageId"`
	Roles          []Role           `json:"roles"`
	Permissions    []string         `json:"permissions"`
	ResourceAccess []ResourceAccess `json:"resourceAccess"`
	IsPackageAdmin bool             `json:"isPackageAdmin"`
	IsSystemAdmin  bool             `json:"isSystemAdmin"`
}

// HasPermission reports whether the flattened permission set contains
// the named permission.
func (up *UserPermissions) HasPermission(name string) bool {
	for _, p := range up.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// MeetingPermissions is the capability view of one user on one meeting,
// composed from their direct grants on it and their general package
// permissions.
type MeetingPermissions struct {
	CanView               bool        `json:"canView"`
	CanEdit               bool        `json:"canEdit"`
	CanDelete             bool        `json:"canDelete"`
	CanManageParticipants bool        `json:"canManageParticipants"`
	CanBook               bool        `json:"canBook"`
	CanComment            bool        `json:"canComment"`
	AccessType            *AccessType `json:"accessType,omitempty"`
}

// GrantRoleRequest asks the engine to assign a role by name.
type GrantRoleRequest struct {
	UserID       string                 `json:"userId"`
	RoleName     string                 `json:"roleName"`
	PackageID    *string                `json:"packageId,omitempty"`
	ResourceType string                 `json:"resourceType,omitempty"`
	ResourceID   string                 `json:"resourceId,omitempty"`
	ExpiresAt    *time.Time             `json:"expiresAt,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// RevokeRoleRequest asks the engine to deactivate matching role
// assignments.
type RevokeRoleRequest struct {
	UserID    string  `json:"userId"`
	RoleName  string  `json:"roleName"`
	PackageID *string `json:"packageId,omitempty"`
}

// GrantAccessRequest asks the engine to grant resource-level access.
type GrantAccessRequest struct {
	UserID       string                 `json:"userId"`
	PackageID    string                 `json:"packageId"`
	ResourceType string                 `json:"resourceType"`
	ResourceID   string                 `json:"resourceId"`
	AccessType   AccessType             `json:"accessType"`
	ExpiresAt    *time.Time             `json:"expiresAt,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// RevokeAccessRequest asks the engine to deactivate a resource grant.
type RevokeAccessRequest struct {
	UserID       string     `json:"userId"`
	PackageID    string     `json:"packageId"`
	ResourceType string     `json:"resourceType"`
	ResourceID   string     `json:"resourceId"`
	AccessType   AccessType `json:"accessType"`
}

// PackageAccessRequest is a self-service request to join a package.
type PackageAccessRequest struct {
	PackageID string                 `json:"packageId"`
	Reason    string                 `json:"reason,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// PackageAccessResult reports how a package access request was handled.
type PackageAccessResult struct {
	Granted bool   `json:"granted"`
	Pending bool   `json:"pending"`
	Message string `json:"message,omitempty"`
}
