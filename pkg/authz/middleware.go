package authz

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wardenhq/warden/pkg/contextkeys"
	"github.com/wardenhq/warden/pkg/httputil"
	"github.com/wardenhq/warden/pkg/observability"
)

// IdentityResolver extracts the caller's user ID from a request. An
// error or empty ID means the request is unauthenticated.
type IdentityResolver interface {
	Resolve(r *http.Request) (string, error)
}

// IdentityResolverFunc adapts a function to the IdentityResolver
// interface.
type IdentityResolverFunc func(r *http.Request) (string, error)

// Resolve calls f.
func (f IdentityResolverFunc) Resolve(r *http.Request) (string, error) {
	return f(r)
}

// AccessLevel is the capability a meeting route demands.
type AccessLevel string

const (
	AccessLevelView               AccessLevel = "view"
	AccessLevelEdit               AccessLevel = "edit"
	AccessLevelDelete             AccessLevel = "delete"
	AccessLevelManageParticipants AccessLevel = "manage_participants"
	AccessLevelBook               AccessLevel = "book"
	AccessLevelComment            AccessLevel = "comment"
)

// RequireConfig describes what a guarded route demands.
type RequireConfig struct {
	PackageID           string
	RequiredPermissions []string
	ResourceType        string
	AllowSystemAdmin    bool
	AllowPackageAdmin   bool
}

// Middleware wraps handlers with authorization checks. Denials
// short-circuit with 401 or 403; allowed requests reach the handler
// with the user ID and decision attached to the request context.
type Middleware struct {
	engine   *Engine
	resolver IdentityResolver
	logger   *observability.Logger
}

// NewMiddleware creates an authorization middleware. A nil logger
// falls back to the engine's.
func NewMiddleware(engine *Engine, resolver IdentityResolver, logger *observability.Logger) *Middleware {
	if logger == nil {
		logger = engine.logger
	}
	return &Middleware{
		engine:   engine,
		resolver: resolver,
		logger:   logger,
	}
}

// Require guards a route with the given configuration.
func (m *Middleware) Require(cfg RequireConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.authenticate(w, r)
			if !ok {
				return
			}

			ctx := contextkeys.WithUserID(r.Context(), userID)

			perms, err := m.engine.GetUserPermissions(ctx, userID, cfg.PackageID)
			if err != nil {
				m.logger.WithError(err).WithFields(map[string]interface{}{
					"user_id":    userID,
					"package_id": cfg.PackageID,
				}).Error("authorization lookup failed")
				httputil.WriteForbidden(w, httputil.DeniedResponse{Reason: "Authorization check failed"})
				return
			}

			// Admin bypasses skip the per-permission checks entirely.
			if (cfg.AllowSystemAdmin && perms.IsSystemAdmin) || (cfg.AllowPackageAdmin && perms.IsPackageAdmin) {
				decision := &AuthorizationResult{Allowed: true, Reason: "Administrator access"}
				next.ServeHTTP(w, r.WithContext(withDecision(ctx, decision)))
				return
			}

			if len(cfg.RequiredPermissions) > 0 {
				var missing []string
				for _, p := range cfg.RequiredPermissions {
					if !perms.HasPermission(p) {
						missing = append(missing, p)
					}
				}
				if len(missing) > 0 {
					httputil.WriteForbidden(w, httputil.DeniedResponse{
						Reason:   "Insufficient permissions",
						Missing:  missing,
						Required: cfg.RequiredPermissions,
					})
					return
				}
			}

			authCtx := AuthorizationContext{
				UserID:    userID,
				PackageID: cfg.PackageID,
			}
			if cfg.ResourceType != "" {
				authCtx.ResourceType = cfg.ResourceType
				authCtx.ResourceID = extractResourceID(r, cfg.ResourceType)
			}
			if len(cfg.RequiredPermissions) == 1 {
				authCtx.Action = cfg.RequiredPermissions[0]
			}

			decision := m.engine.CheckPermission(ctx, authCtx)
			if !decision.Allowed {
				httputil.WriteForbidden(w, httputil.DeniedResponse{Reason: decision.Reason})
				return
			}

			next.ServeHTTP(w, r.WithContext(withDecision(ctx, decision)))
		})
	}
}

// RequireMeetingAccess guards a meeting route with a capability check
// against the caller's grants on the meeting named by the route's
// {meeting_id} (or {id}) variable.
func (m *Middleware) RequireMeetingAccess(level AccessLevel) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := m.authenticate(w, r)
			if !ok {
				return
			}

			meetingID := extractResourceID(r, ResourceTypeMeeting)
			if meetingID == "" {
				httputil.WriteBadRequest(w, "Meeting ID is required")
				return
			}

			ctx := contextkeys.WithUserID(r.Context(), userID)
			perms := m.engine.CheckMeetingPermissions(ctx, userID, meetingID)
			if !meetingAllows(perms, level) {
				httputil.WriteForbidden(w, httputil.DeniedResponse{
					Reason: "Insufficient meeting access",
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(withMeetingPermissions(ctx, perms)))
		})
	}
}

func withDecision(ctx context.Context, decision *AuthorizationResult) context.Context {
	return context.WithValue(ctx, contextkeys.DecisionKey, decision)
}

// DecisionFromContext returns the authorization decision attached by
// Require, or nil.
func DecisionFromContext(ctx context.Context) *AuthorizationResult {
	if d, ok := ctx.Value(contextkeys.DecisionKey).(*AuthorizationResult); ok {
		return d
	}
	return nil
}

func withMeetingPermissions(ctx context.Context, perms *MeetingPermissions) context.Context {
	return context.WithValue(ctx, contextkeys.MeetingPermissionsKey, perms)
}

// MeetingPermissionsFromContext returns the capability flags attached
// by RequireMeetingAccess, or nil.
func MeetingPermissionsFromContext(ctx context.Context) *MeetingPermissions {
	if p, ok := ctx.Value(contextkeys.MeetingPermissionsKey).(*MeetingPermissions); ok {
		return p
	}
	return nil
}

func (m *Middleware) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := m.resolver.Resolve(r)
	if err != nil {
		m.logger.WithError(err).Debug("identity resolution failed")
		httputil.WriteUnauthorized(w, "Authentication required")
		return "", false
	}
	if userID == "" {
		httputil.WriteUnauthorized(w, "Authentication required")
		return "", false
	}
	return userID, true
}

func meetingAllows(perms *MeetingPermissions, level AccessLevel) bool {
	switch level {
	case AccessLevelView:
		return perms.CanView
	case AccessLevelEdit:
		return perms.CanEdit
	case AccessLevelDelete:
		return perms.CanDelete
	case AccessLevelManageParticipants:
		return perms.CanManageParticipants
	case AccessLevelBook:
		return perms.CanBook
	case AccessLevelComment:
		return perms.CanComment
	default:
		return false
	}
}

// extractResourceID finds the resource ID in the route variables,
// preferring a variable named after the resource type ("meeting_id"
// for meetings), then the generic "id", then a query parameter.
func extractResourceID(r *http.Request, resourceType string) string {
	vars := mux.Vars(r)
	if id := vars[resourceType+"_id"]; id != "" {
		return id
	}
	if id := vars["id"]; id != "" {
		return id
	}
	return r.URL.Query().Get(resourceType + "_id")
}
