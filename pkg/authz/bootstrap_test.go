package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/audit"
)

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()

	initialized, err := Initialized(ctx, store)
	require.NoError(t, err)
	assert.False(t, initialized)

	require.NoError(t, Bootstrap(ctx, store))

	initialized, err = Initialized(ctx, store)
	require.NoError(t, err)
	assert.True(t, initialized)

	t.Run("packages seeded with deterministic ids", func(t *testing.T) {
		pkg, err := store.GetPackage(ctx, MeetingsPackageID)
		require.NoError(t, err)
		assert.Equal(t, RegistrationApprovalRequired, pkg.RegistrationType)

		pkg, err = store.GetPackage(ctx, "presentations")
		require.NoError(t, err)
		assert.Equal(t, RegistrationSelfRegister, pkg.RegistrationType)
	})

	t.Run("system roles seeded", func(t *testing.T) {
		admin, err := store.GetRoleByName(ctx, RoleAdmin, nil)
		require.NoError(t, err)
		assert.True(t, admin.IsSystem)
		assert.Nil(t, admin.PackageID)
	})

	t.Run("meetings roles carry their permissions", func(t *testing.T) {
		pkgID := MeetingsPackageID
		cases := map[string]int{
			RoleAdmin:   5,
			RoleUser:    2,
			"ORGANIZER": 4,
		}
		for name, wantPerms := range cases {
			role, err := store.GetRoleByName(ctx, name, &pkgID)
			require.NoError(t, err, name)
			assert.Len(t, store.rolePerms[role.ID], wantPerms, name)
		}
	})

	t.Run("self register packages get a baseline USER role", func(t *testing.T) {
		for _, pkgName := range []string{"presentations", "events"} {
			pkgID := pkgName
			role, err := store.GetRoleByName(ctx, RoleUser, &pkgID)
			require.NoError(t, err, pkgName)
			assert.Equal(t, RoleUser, role.Name)
		}
	})

	t.Run("self registration works against the seeded data", func(t *testing.T) {
		engine := newTestEngine(t, store, EngineConfig{})
		result, err := engine.RequestPackageAccess(ctx, "newcomer", PackageAccessRequest{PackageID: "events"})
		require.NoError(t, err)
		assert.True(t, result.Granted)
	})

	t.Run("rerun is idempotent", func(t *testing.T) {
		require.NoError(t, Bootstrap(ctx, store))

		count, err := store.CountPackages(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		assert.Len(t, store.permissions, 5)
	})
}

func TestBootstrapFeedsEngine(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	require.NoError(t, Bootstrap(ctx, store))

	// The fake keeps role permission links in a side table, so wire
	// them back onto the role for the engine to see.
	pkgID := MeetingsPackageID
	user, err := store.GetRoleByName(ctx, RoleUser, &pkgID)
	require.NoError(t, err)
	for _, permID := range store.rolePerms[user.ID] {
		perm := store.permissions[permID]
		user.Permissions = append(user.Permissions, *perm)
	}
	require.NoError(t, store.UpsertRole(ctx, user))
	store.assign("bob", user, nil)

	engine := newTestEngine(t, store, EngineConfig{})
	assert.True(t, engine.HasPermission(ctx, "bob", MeetingsPackageID, "meeting:book"))
	assert.False(t, engine.HasPermission(ctx, "bob", MeetingsPackageID, "meeting:delete"))
}

func TestGrantMeetingOwnership(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	recorder := &fakeRecorder{}
	engine := newTestEngine(t, store, EngineConfig{Recorder: recorder})

	require.NoError(t, GrantMeetingOwnership(ctx, engine, "bob", "m-1", ""))

	perms := engine.CheckMeetingPermissions(ctx, "bob", "m-1")
	assert.True(t, perms.CanDelete)
	require.NotNil(t, perms.AccessType)
	assert.Equal(t, AccessOwner, *perms.AccessType)

	require.Len(t, recorder.entries, 1)
	entry := recorder.entries[0]
	assert.Equal(t, audit.ActionResourceAccessGranted, entry.Action)
	assert.Equal(t, "bob", entry.UserID, "ownership grants default to self attribution")
	assert.Equal(t, "bob", entry.TargetUserID)
}
