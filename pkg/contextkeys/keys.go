// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/wardenhq/warden/pkg/contextkeys"
//   ctx = context.WithValue(ctx, contextkeys.UserIDKey, userID)
//   userID := contextkeys.UserID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserIDKey contains the resolved user ID string
	// Set by: authorization middleware after identity resolution
	// Used by: Handlers, logger, audit trail
	// Type: string
	UserIDKey Key = "user_id"

	// DecisionKey contains the authorization decision attached to the request
	// Set by: authz.Middleware.Require (pkg/authz/middleware.go)
	// Used by: Wrapped handlers that need the decision detail
	// Type: *authz.AuthorizationResult
	DecisionKey Key = "authz_decision"

	// MeetingPermissionsKey contains per-meeting capability flags
	// Set by: authz.Middleware.RequireMeetingAccess
	// Used by: Meeting handlers
	// Type: *authz.MeetingPermissions
	MeetingPermissionsKey Key = "meeting_permissions"

	// RequestIDKey contains request ID string (UUID)
	// Set by: HTTP middleware, observability layer
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// Helper functions for type-safe context operations

// WithUserID adds the resolved user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserID retrieves the resolved user ID from the context
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID retrieves the request ID from the context
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
