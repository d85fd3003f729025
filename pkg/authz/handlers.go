package authz

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/contextkeys"
	"github.com/wardenhq/warden/pkg/httputil"
)

// Handlers provides the HTTP API for authorization operations: checks,
// permission snapshots, grants, revocations and audit queries.
type Handlers struct {
	engine   *Engine
	recorder audit.Recorder
}

// NewHandlers creates authorization handlers. The recorder backs the
// audit query endpoint and may be a NopRecorder.
func NewHandlers(engine *Engine, recorder audit.Recorder) *Handlers {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Handlers{
		engine:   engine,
		recorder: recorder,
	}
}

// RegisterRoutes registers all authorization routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Permission checking
	router.HandleFunc("/authz/check", h.CheckPermission).Methods("POST")
	router.HandleFunc("/authz/users/{id}/permissions", h.GetUserPermissions).Methods("GET")
	router.HandleFunc("/authz/users/{id}/meetings/{meeting_id}", h.GetMeetingPermissions).Methods("GET")

	// Grants
	router.HandleFunc("/authz/roles/grant", h.GrantRole).Methods("POST")
	router.HandleFunc("/authz/roles/revoke", h.RevokeRole).Methods("POST")
	router.HandleFunc("/authz/resources/grant", h.GrantResourceAccess).Methods("POST")
	router.HandleFunc("/authz/resources/revoke", h.RevokeResourceAccess).Methods("POST")

	// Self-service package access
	router.HandleFunc("/authz/packages/{id}/access-requests", h.RequestPackageAccess).Methods("POST")

	// Audit trail
	router.HandleFunc("/authz/audit", h.SearchAudit).Methods("GET")
}

// CheckPermission answers a single authorization question.
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var authCtx AuthorizationContext
	if err := json.NewDecoder(r.Body).Decode(&authCtx); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}
	if authCtx.UserID == "" || authCtx.PackageID == "" {
		httputil.WriteBadRequest(w, "userId and packageId are required")
		return
	}

	result := h.engine.CheckPermission(r.Context(), authCtx)
	httputil.WriteSuccess(w, result)
}

// GetUserPermissions returns a user's flattened permission snapshot
// for the package named by the package_id query parameter.
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	packageID := r.URL.Query().Get("package_id")
	if packageID == "" {
		httputil.WriteBadRequest(w, "package_id is required")
		return
	}

	perms, err := h.engine.GetUserPermissions(r.Context(), userID, packageID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, perms)
}

// GetMeetingPermissions returns a user's capability flags on one
// meeting.
func (h *Handlers) GetMeetingPermissions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	perms := h.engine.CheckMeetingPermissions(r.Context(), vars["id"], vars["meeting_id"])
	httputil.WriteSuccess(w, perms)
}

// GrantRole assigns a role by name.
func (h *Handlers) GrantRole(w http.ResponseWriter, r *http.Request) {
	var req GrantRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.UserID == "" || req.RoleName == "" {
		httputil.WriteBadRequest(w, "userId and roleName are required")
		return
	}

	assignment, err := h.engine.GrantRole(r.Context(), req, grantor(r))
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			httputil.WriteNotFoundError(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, assignment)
}

// RevokeRole deactivates a user's assignments of a named role.
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	var req RevokeRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.UserID == "" || req.RoleName == "" {
		httputil.WriteBadRequest(w, "userId and roleName are required")
		return
	}

	revoked, err := h.engine.RevokeRole(r.Context(), req, grantor(r))
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			httputil.WriteNotFoundError(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]int{"revoked": revoked})
}

// GrantResourceAccess grants a capability level on one resource.
func (h *Handlers) GrantResourceAccess(w http.ResponseWriter, r *http.Request) {
	var req GrantAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.UserID == "" || req.PackageID == "" || req.ResourceType == "" || req.ResourceID == "" || req.AccessType == "" {
		httputil.WriteBadRequest(w, "userId, packageId, resourceType, resourceId and accessType are required")
		return
	}

	access, err := h.engine.GrantResourceAccess(r.Context(), req, grantor(r))
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, access)
}

// RevokeResourceAccess deactivates matching resource grants.
func (h *Handlers) RevokeResourceAccess(w http.ResponseWriter, r *http.Request) {
	var req RevokeAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.UserID == "" || req.PackageID == "" || req.ResourceType == "" || req.ResourceID == "" {
		httputil.WriteBadRequest(w, "userId, packageId, resourceType and resourceId are required")
		return
	}

	revoked, err := h.engine.RevokeResourceAccess(r.Context(), req, grantor(r))
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]int{"revoked": revoked})
}

// RequestPackageAccess handles a self-service request to join the
// package named in the route.
func (h *Handlers) RequestPackageAccess(w http.ResponseWriter, r *http.Request) {
	userID := contextkeys.UserID(r.Context())
	if userID == "" {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req PackageAccessRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteBadRequest(w, "Invalid request body")
			return
		}
	}
	req.PackageID = mux.Vars(r)["id"]

	result, err := h.engine.RequestPackageAccess(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, ErrPackageNotFound) {
			httputil.WriteNotFoundError(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	status := http.StatusOK
	if result.Pending {
		status = http.StatusAccepted
	} else if !result.Granted {
		status = http.StatusForbidden
	}
	httputil.WriteJSON(w, status, result)
}

// SearchAudit queries the audit trail with optional filters.
func (h *Handlers) SearchAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.SearchFilter{
		UserID:       q.Get("user_id"),
		TargetUserID: q.Get("target_user_id"),
		PackageID:    q.Get("package_id"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
	}
	for _, action := range q["action"] {
		filter.Actions = append(filter.Actions, audit.Action(action))
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			httputil.WriteBadRequest(w, "since must be RFC3339")
			return
		}
		filter.Since = &t
	}
	if until := q.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			httputil.WriteBadRequest(w, "until must be RFC3339")
			return
		}
		filter.Until = &t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			httputil.WriteBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if offset := q.Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			httputil.WriteBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	entries, err := h.recorder.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	httputil.WriteSuccess(w, entries)
}

// grantor attributes a mutation to the authenticated caller, falling
// back to "system" for unauthenticated administrative tooling.
func grantor(r *http.Request) string {
	if userID := contextkeys.UserID(r.Context()); userID != "" {
		return userID
	}
	return "system"
}
