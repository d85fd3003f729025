package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/contextkeys"
)

func newTestAPI(t *testing.T, store *fakeStore, recorder *fakeRecorder) *mux.Router {
	t.Helper()
	if recorder == nil {
		recorder = &fakeRecorder{}
	}
	engine := newTestEngine(t, store, EngineConfig{Recorder: recorder})
	router := mux.NewRouter()
	NewHandlers(engine, recorder).RegisterRoutes(router)
	return router
}

func asUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(contextkeys.WithUserID(req.Context(), userID))
}

func TestCheckPermissionHandler(t *testing.T) {
	pkgID := "meetings"
	store := newFakeStore()
	user := store.addRole(RoleUser, &pkgID, "meeting:read")
	store.assign("bob", user, nil)
	router := newTestAPI(t, store, nil)

	t.Run("allowed", func(t *testing.T) {
		body := `{"userId":"bob","packageId":"meetings","action":"meeting:read"}`
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("POST", "/authz/check", strings.NewReader(body)))

		require.Equal(t, http.StatusOK, rec.Code)
		var result AuthorizationResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.True(t, result.Allowed)
	})

	t.Run("denied", func(t *testing.T) {
		body := `{"userId":"bob","packageId":"meetings","action":"meeting:delete"}`
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("POST", "/authz/check", strings.NewReader(body)))

		require.Equal(t, http.StatusOK, rec.Code)
		var result AuthorizationResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.False(t, result.Allowed)
		assert.Equal(t, "No matching permissions found", result.Reason)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("POST", "/authz/check", strings.NewReader(`{"userId":"bob"}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("POST", "/authz/check", strings.NewReader("{")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetUserPermissionsHandler(t *testing.T) {
	pkgID := "meetings"
	store := newFakeStore()
	user := store.addRole(RoleUser, &pkgID, "meeting:read", "meeting:book")
	store.assign("bob", user, nil)
	router := newTestAPI(t, store, nil)

	t.Run("snapshot", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/authz/users/bob/permissions?package_id=meetings", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var perms UserPermissions
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perms))
		assert.Equal(t, []string{"meeting:book", "meeting:read"}, perms.Permissions)
	})

	t.Run("missing package_id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/authz/users/bob/permissions", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetMeetingPermissionsHandler(t *testing.T) {
	store := newFakeStore()
	store.addAccess("bob", MeetingsPackageID, ResourceTypeMeeting, "m-1", AccessEditor, nil)
	router := newTestAPI(t, store, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/authz/users/bob/meetings/m-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var perms MeetingPermissions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perms))
	assert.True(t, perms.CanEdit)
	assert.False(t, perms.CanDelete)
}

func TestGrantRoleHandler(t *testing.T) {
	pkgID := "meetings"

	t.Run("created", func(t *testing.T) {
		store := newFakeStore()
		store.addRole(RoleUser, &pkgID, "meeting:read")
		router := newTestAPI(t, store, nil)

		body := `{"userId":"bob","roleName":"USER","packageId":"meetings"}`
		req := asUser(httptest.NewRequest("POST", "/authz/roles/grant", strings.NewReader(body)), "admin")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		var assignment RoleAssignment
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assignment))
		assert.Equal(t, "admin", assignment.GrantedBy)
	})

	t.Run("unknown role", func(t *testing.T) {
		router := newTestAPI(t, newFakeStore(), nil)

		body := `{"userId":"bob","roleName":"GHOST","packageId":"meetings"}`
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("POST", "/authz/roles/grant", strings.NewReader(body)))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRevokeResourceAccessHandler(t *testing.T) {
	store := newFakeStore()
	store.addAccess("bob", "meetings", ResourceTypeMeeting, "m-1", AccessEditor, nil)
	router := newTestAPI(t, store, nil)

	body := `{"userId":"bob","packageId":"meetings","resourceType":"meeting","resourceId":"m-1","accessType":"EDITOR"}`
	req := asUser(httptest.NewRequest("POST", "/authz/resources/revoke", strings.NewReader(body)), "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result["revoked"])
}

func TestRequestPackageAccessHandler(t *testing.T) {
	seed := func(t *testing.T, registration RegistrationType) *mux.Router {
		t.Helper()
		store := newFakeStore()
		pkgID := "p-1"
		require.NoError(t, store.UpsertPackage(context.Background(), &Package{
			ID: pkgID, Name: pkgID, RegistrationType: registration, IsActive: true,
		}))
		store.addRole(RoleUser, &pkgID, "p:read")
		return newTestAPI(t, store, nil)
	}

	t.Run("unauthenticated", func(t *testing.T) {
		router := seed(t, RegistrationSelfRegister)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("POST", "/authz/packages/p-1/access-requests", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("self register", func(t *testing.T) {
		router := seed(t, RegistrationSelfRegister)
		req := asUser(httptest.NewRequest("POST", "/authz/packages/p-1/access-requests", nil), "bob")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var result PackageAccessResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.True(t, result.Granted)
	})

	t.Run("approval required", func(t *testing.T) {
		router := seed(t, RegistrationApprovalRequired)
		body := `{"reason":"need it"}`
		req := asUser(httptest.NewRequest("POST", "/authz/packages/p-1/access-requests", strings.NewReader(body)), "bob")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("admin only", func(t *testing.T) {
		router := seed(t, RegistrationAdminOnly)
		req := asUser(httptest.NewRequest("POST", "/authz/packages/p-1/access-requests", nil), "bob")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown package", func(t *testing.T) {
		router := seed(t, RegistrationSelfRegister)
		req := asUser(httptest.NewRequest("POST", "/authz/packages/ghost/access-requests", nil), "bob")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSearchAuditHandler(t *testing.T) {
	pkgID := "meetings"
	store := newFakeStore()
	store.addRole(RoleUser, &pkgID, "meeting:read")
	recorder := &fakeRecorder{}
	router := newTestAPI(t, store, recorder)

	// Seed the trail through a real grant.
	body := `{"userId":"bob","roleName":"USER","packageId":"meetings"}`
	req := asUser(httptest.NewRequest("POST", "/authz/roles/grant", strings.NewReader(body)), "admin")
	router.ServeHTTP(httptest.NewRecorder(), req)

	t.Run("filtered by user", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/authz/audit?user_id=admin", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var entries []audit.Entry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		require.Len(t, entries, 1)
		assert.Equal(t, audit.ActionRoleAssigned, entries[0].Action)
		assert.Equal(t, "bob", entries[0].TargetUserID)
	})

	t.Run("no matches yields empty array", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/authz/audit?user_id=nobody", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "[]\n", rec.Body.String())
	})

	t.Run("bad timestamp", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/authz/audit?since=yesterday", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
