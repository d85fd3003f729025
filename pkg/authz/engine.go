package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/cache"
	"github.com/wardenhq/warden/pkg/observability"
)

// Evaluation bases reported in decision results and metrics.
const (
	basisSystemAdmin    = "system_admin"
	basisPackageAdmin   = "package_admin"
	basisRolePermission = "role_permission"
	basisResourceAccess = "resource_access"
	basisDenied         = "denied"
	basisError          = "error"
)

const reasonNoMatch = "No matching permissions found"

// Engine answers permission questions and applies grant mutations. All
// read paths fail closed: a store or cache failure can delay or deny a
// decision but never allow one.
type Engine struct {
	store    Store
	cache    cache.Cache
	recorder audit.Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
	ttl      time.Duration
}

// EngineConfig carries the engine's collaborators. Zero values get
// safe defaults: an in-process cache, a no-op audit recorder and a
// JSON logger on stderr.
type EngineConfig struct {
	Cache    cache.Cache
	Recorder audit.Recorder
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	CacheTTL time.Duration
}

// NewEngine creates an authorization engine over the given store.
func NewEngine(store Store, cfg EngineConfig) *Engine {
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemory()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = audit.NopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, os.Stderr)
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}

	return &Engine{
		store:    store,
		cache:    cfg.Cache,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		ttl:      cfg.CacheTTL,
	}
}

// CheckPermission answers a single authorization question. It never
// returns an error: any failure along the read path produces a denial
// with a generic reason, and the detail goes to the log.
func (e *Engine) CheckPermission(ctx context.Context, authCtx AuthorizationContext) *AuthorizationResult {
	start := time.Now()

	key := permissionCacheKey(authCtx)
	if data, ok := e.cacheGet(ctx, key, "permission"); ok {
		var cached AuthorizationResult
		if err := json.Unmarshal(data, &cached); err == nil {
			e.metrics.ObserveDecision(cached.Allowed, "cached", true, time.Since(start))
			return &cached
		}
		e.logger.WithField("key", key).Warn("discarding undecodable cache entry")
	}

	result, basis, err := e.evaluatePermission(ctx, authCtx)
	if err != nil {
		e.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id":    authCtx.UserID,
			"package_id": authCtx.PackageID,
			"action":     authCtx.Action,
		}).Error("permission evaluation failed")
		e.metrics.ObserveDecision(false, basisError, false, time.Since(start))
		return &AuthorizationResult{Allowed: false, Reason: "Authorization check failed"}
	}

	e.cacheSet(ctx, key, result)
	e.metrics.ObserveDecision(result.Allowed, basis, false, time.Since(start))

	return result
}

// evaluatePermission runs the decision ladder: system admin, package
// admin, flattened role permissions, then resource grants.
func (e *Engine) evaluatePermission(ctx context.Context, authCtx AuthorizationContext) (*AuthorizationResult, string, error) {
	perms, err := e.GetUserPermissions(ctx, authCtx.UserID, authCtx.PackageID)
	if err != nil {
		return nil, basisError, err
	}

	roleNames := make([]string, 0, len(perms.Roles))
	for _, r := range perms.Roles {
		roleNames = append(roleNames, r.Name)
	}

	if perms.IsSystemAdmin {
		return &AuthorizationResult{
			Allowed: true,
			Roles:   roleNames,
			Reason:  "System administrator",
		}, basisSystemAdmin, nil
	}

	if perms.IsPackageAdmin {
		return &AuthorizationResult{
			Allowed: true,
			Roles:   roleNames,
			Reason:  "Package administrator",
		}, basisPackageAdmin, nil
	}

	// The remaining rungs all run so the result carries one
	// PermissionCheck per check attempted, not just the deciding one.
	checks := make([]PermissionCheck, 0, 2)
	allowed := false
	basis := basisDenied
	reason := reasonNoMatch

	if authCtx.Action != "" {
		has := perms.HasPermission(authCtx.Action)
		checkReason := "Missing role-based permission"
		if has {
			checkReason = "Role-based permission"
		}
		checks = append(checks, PermissionCheck{Permission: authCtx.Action, Allowed: has, Reason: checkReason})
		if has {
			allowed = true
			basis = basisRolePermission
			reason = "Role-based permission"
		}
	}

	if authCtx.ResourceType != "" && authCtx.ResourceID != "" {
		for _, access := range perms.ResourceAccess {
			if access.ResourceType != authCtx.ResourceType || access.ResourceID != authCtx.ResourceID {
				continue
			}
			checks = append(checks, PermissionCheck{
				Permission: fmt.Sprintf("%s:%s", access.ResourceType, strings.ToLower(string(access.AccessType))),
				Allowed:    true,
				Reason:     "Direct resource access",
			})
			if !allowed {
				allowed = true
				basis = basisResourceAccess
				reason = fmt.Sprintf("Resource access granted (%s)", access.AccessType)
			}
			break
		}
	}

	return &AuthorizationResult{
		Allowed:     allowed,
		Roles:       roleNames,
		Permissions: checks,
		Reason:      reason,
	}, basis, nil
}

// GetUserPermissions assembles the user's flattened permission snapshot
// for one package: roles with eager permissions, the deduplicated
// permission name set, resource grants, and the admin flags.
func (e *Engine) GetUserPermissions(ctx context.Context, userID, packageID string) (*UserPermissions, error) {
	key := userPermissionsCacheKey(userID, packageID)
	if data, ok := e.cacheGet(ctx, key, "user_permissions"); ok {
		var cached UserPermissions
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
		e.logger.WithField("key", key).Warn("discarding undecodable cache entry")
	}

	assignments, err := e.store.ListRoleAssignments(ctx, userID, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role assignments: %w", err)
	}

	isSystemAdmin, err := e.store.HasSystemRole(ctx, userID, RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to check system role: %w", err)
	}

	resourceAccess, err := e.store.ListResourceAccess(ctx, userID, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load resource access: %w", err)
	}

	perms := &UserPermissions{
		UserID:         userID,
		PackageID:      packageID,
		Roles:          make([]Role, 0, len(assignments)),
		Permissions:    []string{},
		ResourceAccess: resourceAccess,
		IsSystemAdmin:  isSystemAdmin,
	}
	if perms.ResourceAccess == nil {
		perms.ResourceAccess = []ResourceAccess{}
	}

	seen := make(map[string]bool)
	for _, a := range assignments {
		if a.Role == nil {
			continue
		}
		perms.Roles = append(perms.Roles, *a.Role)
		if a.Role.Name == RoleAdmin && a.Role.PackageID != nil && *a.Role.PackageID == packageID {
			perms.IsPackageAdmin = true
		}
		for _, p := range a.Role.Permissions {
			if !seen[p.Name] {
				seen[p.Name] = true
				perms.Permissions = append(perms.Permissions, p.Name)
			}
		}
	}
	sort.Strings(perms.Permissions)

	e.cacheSet(ctx, key, perms)

	return perms, nil
}

// HasPermission reports whether the user holds a single named
// permission in the package. Failures read as false.
func (e *Engine) HasPermission(ctx context.Context, userID, packageID, permission string) bool {
	result := e.CheckPermission(ctx, AuthorizationContext{
		UserID:    userID,
		PackageID: packageID,
		Action:    permission,
	})
	return result.Allowed
}

// EffectivePermissions returns the user's flattened permission names
// for the package.
func (e *Engine) EffectivePermissions(ctx context.Context, userID, packageID string) ([]string, error) {
	perms, err := e.GetUserPermissions(ctx, userID, packageID)
	if err != nil {
		return nil, err
	}
	return perms.Permissions, nil
}

// accessRank orders access types from weakest to strongest so the
// strongest grant wins when a user holds several on the same meeting.
var accessRank = map[AccessType]int{
	AccessCustom:        1,
	AccessCollaborator:  2,
	AccessViewer:        3,
	AccessLimitedEditor: 4,
	AccessEditor:        5,
	AccessOwner:         6,
}

// CheckMeetingPermissions composes the user's capability flags on a
// meeting from their direct grants on it and their general meetings
// permissions. It fails closed: any lookup failure yields the
// all-false capability set.
func (e *Engine) CheckMeetingPermissions(ctx context.Context, userID, meetingID string) *MeetingPermissions {
	perms, err := e.GetUserPermissions(ctx, userID, MeetingsPackageID)
	if err != nil {
		e.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id":    userID,
			"meeting_id": meetingID,
		}).Error("meeting permission check failed")
		return &MeetingPermissions{}
	}

	var isOwner, hasEditor, hasViewer, hasLimitedEditor bool
	var strongest *ResourceAccess
	for i := range perms.ResourceAccess {
		access := &perms.ResourceAccess[i]
		if access.ResourceType != ResourceTypeMeeting || access.ResourceID != meetingID {
			continue
		}
		switch access.AccessType {
		case AccessOwner:
			isOwner = true
		case AccessEditor:
			hasEditor = true
		case AccessViewer:
			hasViewer = true
		case AccessLimitedEditor:
			hasLimitedEditor = true
		}
		if strongest == nil || accessRank[access.AccessType] > accessRank[strongest.AccessType] {
			strongest = access
		}
	}

	isAdmin := perms.IsSystemAdmin || perms.IsPackageAdmin
	hasGeneral := perms.HasPermission("meeting:write") || isAdmin

	result := &MeetingPermissions{
		CanView:               isOwner || hasEditor || hasViewer || hasLimitedEditor || hasGeneral,
		CanEdit:               isOwner || hasEditor || hasGeneral,
		CanDelete:             isOwner || isAdmin,
		CanManageParticipants: isOwner || hasEditor || hasGeneral,
		CanBook:               isOwner || hasEditor || hasLimitedEditor || hasGeneral,
		CanComment:            isOwner || hasEditor || hasViewer || hasLimitedEditor,
	}
	if strongest != nil {
		accessType := strongest.AccessType
		result.AccessType = &accessType
	}
	return result
}

// GrantRole assigns a named role to a user. The role must exist and be
// active in the requested scope.
func (e *Engine) GrantRole(ctx context.Context, req GrantRoleRequest, grantedBy string) (*RoleAssignment, error) {
	role, err := e.store.GetRoleByName(ctx, req.RoleName, req.PackageID)
	if err != nil {
		return nil, err
	}

	assignment := &RoleAssignment{
		UserID:       req.UserID,
		RoleID:       role.ID,
		PackageID:    req.PackageID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		GrantedBy:    grantedBy,
		ExpiresAt:    req.ExpiresAt,
		Metadata:     req.Metadata,
		Role:         role,
	}
	if err := e.store.CreateRoleAssignment(ctx, assignment); err != nil {
		return nil, err
	}

	e.invalidate(ctx)
	e.metrics.ObserveGrant("role", "granted")
	e.record(ctx, &audit.Entry{
		UserID:       grantedBy,
		TargetUserID: req.UserID,
		PackageID:    derefOr(req.PackageID, ""),
		Action:       audit.ActionRoleAssigned,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Details:      grantRoleDetails(role.Name, req.ExpiresAt),
	})

	return assignment, nil
}

// RevokeRole deactivates the user's assignments of a named role and
// returns how many were revoked. Revoking a role the user does not
// hold is a no-op.
func (e *Engine) RevokeRole(ctx context.Context, req RevokeRoleRequest, revokedBy string) (int, error) {
	role, err := e.store.GetRoleByName(ctx, req.RoleName, req.PackageID)
	if err != nil {
		return 0, err
	}

	revoked, err := e.store.DeactivateRoleAssignments(ctx, req.UserID, role.ID, req.PackageID)
	if err != nil {
		return 0, err
	}
	if revoked == 0 {
		return 0, nil
	}

	e.invalidate(ctx)
	e.metrics.ObserveGrant("role", "revoked")
	e.record(ctx, &audit.Entry{
		UserID:       revokedBy,
		TargetUserID: req.UserID,
		PackageID:    derefOr(req.PackageID, ""),
		Action:       audit.ActionRoleRevoked,
		Details:      map[string]interface{}{"roleName": role.Name, "revokedCount": revoked},
	})

	return revoked, nil
}

// GrantResourceAccess grants a capability level on one resource. The
// grant is idempotent: re-granting the same tuple reactivates and
// refreshes the existing row.
func (e *Engine) GrantResourceAccess(ctx context.Context, req GrantAccessRequest, grantedBy string) (*ResourceAccess, error) {
	access := &ResourceAccess{
		UserID:       req.UserID,
		PackageID:    req.PackageID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		AccessType:   req.AccessType,
		GrantedBy:    grantedBy,
		ExpiresAt:    req.ExpiresAt,
		Metadata:     req.Metadata,
	}
	if err := e.store.UpsertResourceAccess(ctx, access); err != nil {
		return nil, err
	}

	e.invalidate(ctx)
	e.metrics.ObserveGrant("resource_access", "granted")
	e.record(ctx, &audit.Entry{
		UserID:       grantedBy,
		TargetUserID: req.UserID,
		PackageID:    req.PackageID,
		Action:       audit.ActionResourceAccessGranted,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Details:      grantAccessDetails(req.AccessType, req.ExpiresAt),
	})

	return access, nil
}

// RevokeResourceAccess deactivates matching grants and returns how many
// were revoked. An empty AccessType revokes every grant on the
// resource.
func (e *Engine) RevokeResourceAccess(ctx context.Context, req RevokeAccessRequest, revokedBy string) (int, error) {
	revoked, err := e.store.DeactivateResourceAccess(ctx, req.UserID, req.PackageID, req.ResourceType, req.ResourceID, req.AccessType)
	if err != nil {
		return 0, err
	}
	if revoked == 0 {
		return 0, nil
	}

	e.invalidate(ctx)
	e.metrics.ObserveGrant("resource_access", "revoked")
	e.record(ctx, &audit.Entry{
		UserID:       revokedBy,
		TargetUserID: req.UserID,
		PackageID:    req.PackageID,
		Action:       audit.ActionResourceAccessRevoked,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Details:      map[string]interface{}{"accessType": string(req.AccessType), "revokedCount": revoked},
	})

	return revoked, nil
}

// RequestPackageAccess handles a self-service request to join a
// package, dispatching on the package's registration type.
func (e *Engine) RequestPackageAccess(ctx context.Context, userID string, req PackageAccessRequest) (*PackageAccessResult, error) {
	pkg, err := e.store.GetPackage(ctx, req.PackageID)
	if err != nil {
		return nil, err
	}

	switch pkg.RegistrationType {
	case RegistrationSelfRegister:
		if _, err := e.GrantRole(ctx, GrantRoleRequest{
			UserID:    userID,
			RoleName:  RoleUser,
			PackageID: &pkg.ID,
			Metadata:  req.Metadata,
		}, "system"); err != nil {
			return nil, err
		}
		e.record(ctx, &audit.Entry{
			UserID:    userID,
			PackageID: pkg.ID,
			Action:    audit.ActionPackageRegistered,
			Details:   map[string]interface{}{"registrationType": string(pkg.RegistrationType)},
		})
		return &PackageAccessResult{Granted: true, Message: "Access granted"}, nil

	case RegistrationApprovalRequired:
		e.record(ctx, &audit.Entry{
			UserID:    userID,
			PackageID: pkg.ID,
			Action:    audit.ActionAccessRequested,
			Details:   map[string]interface{}{"reason": req.Reason},
		})
		return &PackageAccessResult{Pending: true, Message: "Approval required - request submitted for review"}, nil

	case RegistrationAdminOnly:
		return &PackageAccessResult{Message: "Admin-only package - contact administrator"}, nil

	default:
		return nil, fmt.Errorf("unknown registration type %q for package %s", pkg.RegistrationType, pkg.ID)
	}
}

func permissionCacheKey(c AuthorizationContext) string {
	return fmt.Sprintf("permission:%s:%s:%s:%s:%s",
		c.UserID, c.PackageID, orNull(c.ResourceType), orNull(c.ResourceID), orNull(c.Action))
}

func userPermissionsCacheKey(userID, packageID string) string {
	return fmt.Sprintf("user_permissions:%s:%s", userID, packageID)
}

func orNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}

// cacheGet treats backend failures as misses so a degraded cache slows
// decisions down instead of breaking them.
func (e *Engine) cacheGet(ctx context.Context, key, kind string) ([]byte, bool) {
	data, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.metrics.ObserveCacheError("get")
		e.logger.WithError(err).WithField("key", key).Warn("cache read failed")
		return nil, false
	}
	if ok {
		e.metrics.ObserveCacheHit(kind)
	} else {
		e.metrics.ObserveCacheMiss(kind)
	}
	return data, ok
}

func (e *Engine) cacheSet(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		e.logger.WithError(err).WithField("key", key).Warn("cache encode failed")
		return
	}
	if err := e.cache.Set(ctx, key, data, e.ttl); err != nil {
		e.metrics.ObserveCacheError("set")
		e.logger.WithError(err).WithField("key", key).Warn("cache write failed")
	}
}

// invalidate drops the whole decision cache. Mutations are rare next to
// checks, so the coarse flush buys simple correctness.
func (e *Engine) invalidate(ctx context.Context) {
	if err := e.cache.Clear(ctx); err != nil {
		e.metrics.ObserveCacheError("clear")
		e.logger.WithError(err).Warn("cache invalidation failed")
	}
}

// record writes an audit entry. Audit failures are logged and
// discarded, never surfaced to the grant path.
func (e *Engine) record(ctx context.Context, entry *audit.Entry) {
	err := e.recorder.Record(ctx, entry)
	e.metrics.ObserveAuditWrite(string(entry.Action), err != nil)
	if err != nil {
		e.logger.WithError(err).WithField("action", string(entry.Action)).Error("audit write failed")
	}
}

func grantRoleDetails(roleName string, expiresAt *time.Time) map[string]interface{} {
	details := map[string]interface{}{"roleName": roleName}
	if expiresAt != nil {
		details["expiresAt"] = expiresAt.UTC().Format(time.RFC3339)
	}
	return details
}

func grantAccessDetails(accessType AccessType, expiresAt *time.Time) map[string]interface{} {
	details := map[string]interface{}{"accessType": string(accessType)}
	if expiresAt != nil {
		details["expiresAt"] = expiresAt.UTC().Format(time.RFC3339)
	}
	return details
}

func derefOr(s *string, fallback string) string {
	if s != nil {
		return *s
	}
	return fallback
}
