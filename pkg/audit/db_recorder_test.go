package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRecorder(t *testing.T) (*DBRecorder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS auth_audit_log").
		WillReturnResult(sqlmock.NewResult(0, 0))
	recorder, err := NewDBRecorder(db)
	require.NoError(t, err)
	return recorder, mock
}

func TestDBRecorderRecord(t *testing.T) {
	recorder, mock := newMockRecorder(t)

	mock.ExpectExec("INSERT INTO auth_audit_log").
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &Entry{
		UserID:       "admin",
		TargetUserID: "bob",
		PackageID:    "meetings",
		Action:       ActionRoleAssigned,
		Details:      map[string]interface{}{"roleName": "USER"},
	}
	require.NoError(t, recorder.Record(context.Background(), entry))
	assert.NotEmpty(t, entry.ID, "record assigns an id")
	assert.False(t, entry.Timestamp.IsZero(), "record stamps the entry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBRecorderSearch(t *testing.T) {
	recorder, mock := newMockRecorder(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, user_id, target_user_id, package_id").
		WithArgs("admin", 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "target_user_id", "package_id",
			"action", "resource_type", "resource_id", "details", "timestamp",
		}).AddRow(
			"e-1", "admin", "bob", "meetings",
			"ROLE_ASSIGNED", nil, nil, []byte(`{"roleName":"USER"}`), now,
		))

	entries, err := recorder.Search(context.Background(), SearchFilter{UserID: "admin", Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionRoleAssigned, entries[0].Action)
	assert.Equal(t, "bob", entries[0].TargetUserID)
	assert.Equal(t, map[string]interface{}{"roleName": "USER"}, entries[0].Details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBRecorderSearchActionFilter(t *testing.T) {
	recorder, mock := newMockRecorder(t)

	mock.ExpectQuery("SELECT id, user_id, target_user_id, package_id").
		WithArgs("ROLE_ASSIGNED", "ROLE_REVOKED").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "target_user_id", "package_id",
			"action", "resource_type", "resource_id", "details", "timestamp",
		}))

	entries, err := recorder.Search(context.Background(), SearchFilter{
		Actions: []Action{ActionRoleAssigned, ActionRoleRevoked},
	})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBRecorderCountByAction(t *testing.T) {
	recorder, mock := newMockRecorder(t)

	mock.ExpectQuery("SELECT action, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"action", "count"}).
			AddRow("ROLE_ASSIGNED", 3).
			AddRow("ACCESS_REQUESTED", 1))

	counts, err := recorder.CountByAction(context.Background(), SearchFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[ActionRoleAssigned])
	assert.Equal(t, int64(1), counts[ActionAccessRequested])
}

func TestDBRecorderPruneOlderThan(t *testing.T) {
	recorder, mock := newMockRecorder(t)
	cutoff := time.Now().AddDate(0, 0, -90)

	mock.ExpectExec("DELETE FROM auth_audit_log").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	pruned, err := recorder.PruneOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), pruned)
	assert.NoError(t, mock.ExpectationsWereMet())
}
