package authz

import (
	"context"
	"fmt"
	"time"
)

// seedRole pairs a role definition with the permission names it
// bundles.
type seedRole struct {
	Role        Role
	Permissions []string
}

// DefaultPackages returns the built-in packages. IDs are deterministic
// (equal to the package name) so other services can reference them
// without a lookup.
func DefaultPackages() []Package {
	return []Package{
		{
			ID:               "meetings",
			Name:             "meetings",
			DisplayName:      "Meeting Scheduler",
			Description:      "Schedule and manage meetings with participants",
			RegistrationType: RegistrationApprovalRequired,
			IsActive:         true,
		},
		{
			ID:               "presentations",
			Name:             "presentations",
			DisplayName:      "Presentations",
			Description:      "Create and manage presentations",
			RegistrationType: RegistrationSelfRegister,
			IsActive:         true,
		},
		{
			ID:               "events",
			Name:             "events",
			DisplayName:      "Events",
			Description:      "Event management and coordination",
			RegistrationType: RegistrationSelfRegister,
			IsActive:         true,
		},
	}
}

// DefaultSystemRoles returns the system-wide roles.
func DefaultSystemRoles() []Role {
	return []Role{
		{
			Name:        RoleAdmin,
			DisplayName: "System Administrator",
			Description: "Full system access and management",
			IsSystem:    true,
			IsActive:    true,
		},
		{
			Name:        RoleUser,
			DisplayName: "User",
			Description: "Basic user access",
			IsSystem:    true,
			IsActive:    true,
		},
	}
}

// MeetingsPermissions returns the permission catalog of the meetings
// package.
func MeetingsPermissions() []Permission {
	return []Permission{
		{
			Name:        "meeting:read",
			DisplayName: "View Meetings",
			Description: "View meetings and their details",
			PackageID:   MeetingsPackageID,
			Category:    "read",
			IsActive:    true,
		},
		{
			Name:        "meeting:write",
			DisplayName: "Create/Edit Meetings",
			Description: "Create new meetings and edit existing ones",
			PackageID:   MeetingsPackageID,
			Category:    "write",
			IsActive:    true,
		},
		{
			Name:        "meeting:delete",
			DisplayName: "Delete Meetings",
			Description: "Delete meetings",
			PackageID:   MeetingsPackageID,
			Category:    "admin",
			IsActive:    true,
		},
		{
			Name:        "meeting:manage",
			DisplayName: "Manage Meetings",
			Description: "Full meeting management including participants",
			PackageID:   MeetingsPackageID,
			Category:    "admin",
			IsActive:    true,
		},
		{
			Name:        "meeting:book",
			DisplayName: "Book Meeting Times",
			Description: "Book available time slots for meetings",
			PackageID:   MeetingsPackageID,
			Category:    "write",
			IsActive:    true,
		},
	}
}

func meetingsRoles() []seedRole {
	pkgID := MeetingsPackageID
	return []seedRole{
		{
			Role: Role{
				Name:        RoleAdmin,
				DisplayName: "Meetings Administrator",
				Description: "Full meeting management access",
				PackageID:   &pkgID,
				IsActive:    true,
			},
			Permissions: []string{"meeting:read", "meeting:write", "meeting:delete", "meeting:manage", "meeting:book"},
		},
		{
			Role: Role{
				Name:        RoleUser,
				DisplayName: "Meeting User",
				Description: "Basic meeting access",
				PackageID:   &pkgID,
				IsActive:    true,
			},
			Permissions: []string{"meeting:read", "meeting:book"},
		},
		{
			Role: Role{
				Name:        "ORGANIZER",
				DisplayName: "Meeting Organizer",
				Description: "Can create and manage own meetings",
				PackageID:   &pkgID,
				IsActive:    true,
			},
			Permissions: []string{"meeting:read", "meeting:write", "meeting:manage", "meeting:book"},
		},
	}
}

// Initialized reports whether bootstrap has already seeded the store.
func Initialized(ctx context.Context, store Store) (bool, error) {
	count, err := store.CountPackages(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Bootstrap seeds the default packages, system roles, the meetings
// package catalog, and a baseline USER role for every self-register
// package. It is idempotent: every write is an upsert keyed on the
// natural unique constraint, so re-running refreshes rather than
// duplicates.
func Bootstrap(ctx context.Context, store Store) error {
	for _, role := range DefaultSystemRoles() {
		r := role
		if err := store.UpsertRole(ctx, &r); err != nil {
			return fmt.Errorf("failed to seed system role %s: %w", role.Name, err)
		}
	}

	for _, pkg := range DefaultPackages() {
		p := pkg
		if err := store.UpsertPackage(ctx, &p); err != nil {
			return fmt.Errorf("failed to seed package %s: %w", pkg.Name, err)
		}
	}

	permIDs := make(map[string]string)
	for _, perm := range MeetingsPermissions() {
		p := perm
		if err := store.UpsertPermission(ctx, &p); err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", perm.Name, err)
		}
		permIDs[p.Name] = p.ID
	}

	for _, sr := range meetingsRoles() {
		role := sr.Role
		if err := store.UpsertRole(ctx, &role); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", role.Name, err)
		}
		for _, permName := range sr.Permissions {
			permID, ok := permIDs[permName]
			if !ok {
				return fmt.Errorf("role %s references unknown permission %s", role.Name, permName)
			}
			if err := store.AttachPermission(ctx, role.ID, permID); err != nil {
				return fmt.Errorf("failed to attach %s to role %s: %w", permName, role.Name, err)
			}
		}
	}

	// Self-registration grants the package-scoped USER role, so every
	// SELF_REGISTER package needs one seeded up front.
	for _, pkg := range DefaultPackages() {
		if pkg.RegistrationType != RegistrationSelfRegister || pkg.ID == MeetingsPackageID {
			continue
		}
		pkgID := pkg.ID
		role := Role{
			Name:        RoleUser,
			DisplayName: pkg.DisplayName + " User",
			Description: "Basic " + pkg.Name + " access",
			PackageID:   &pkgID,
			IsActive:    true,
		}
		if err := store.UpsertRole(ctx, &role); err != nil {
			return fmt.Errorf("failed to seed USER role for %s: %w", pkg.Name, err)
		}
	}

	return nil
}

// GrantMeetingOwnership grants OWNER access on a meeting to its
// creator. An empty grantedBy attributes the grant to the creator
// themselves.
func GrantMeetingOwnership(ctx context.Context, engine *Engine, userID, meetingID, grantedBy string) error {
	if grantedBy == "" {
		grantedBy = userID
	}

	_, err := engine.GrantResourceAccess(ctx, GrantAccessRequest{
		UserID:       userID,
		PackageID:    MeetingsPackageID,
		ResourceType: ResourceTypeMeeting,
		ResourceID:   meetingID,
		AccessType:   AccessOwner,
		Metadata: map[string]interface{}{
			"reason":    "Meeting creator",
			"grantedAt": time.Now().UTC().Format(time.RFC3339),
		},
	}, grantedBy)
	return err
}
