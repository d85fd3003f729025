package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DBRecorder implements audit recording against PostgreSQL.
type DBRecorder struct {
	db *sql.DB
}

// NewDBRecorder creates a database-backed recorder and ensures the
// audit table exists.
func NewDBRecorder(db *sql.DB) (*DBRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	recorder := &DBRecorder{db: db}
	if err := recorder.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure auth_audit_log table: %w", err)
	}

	return recorder, nil
}

// ensureTable creates the auth_audit_log table if it doesn't exist.
// There are deliberately no UPDATE or DELETE statements against this
// table anywhere in the codebase except age-based retention pruning.
func (r *DBRecorder) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS auth_audit_log (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64),
		target_user_id VARCHAR(64),
		package_id VARCHAR(64),
		action VARCHAR(64) NOT NULL,
		resource_type VARCHAR(100),
		resource_id VARCHAR(255),
		details JSONB,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_auth_audit_log_timestamp ON auth_audit_log(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_auth_audit_log_user_id ON auth_audit_log(user_id);
	CREATE INDEX IF NOT EXISTS idx_auth_audit_log_target_user_id ON auth_audit_log(target_user_id);
	CREATE INDEX IF NOT EXISTS idx_auth_audit_log_package_id ON auth_audit_log(package_id);
	CREATE INDEX IF NOT EXISTS idx_auth_audit_log_action ON auth_audit_log(action);
	CREATE INDEX IF NOT EXISTS idx_auth_audit_log_resource ON auth_audit_log(resource_type, resource_id);
	`

	_, err := r.db.Exec(query)
	return err
}

// Record appends an entry.
func (r *DBRecorder) Record(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	query := `
		INSERT INTO auth_audit_log (
			id, user_id, target_user_id, package_id,
			action, resource_type, resource_id, details, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		nullString(entry.UserID),
		nullString(entry.TargetUserID),
		nullString(entry.PackageID),
		entry.Action,
		nullString(entry.ResourceType),
		nullString(entry.ResourceID),
		detailsJSON,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// Search returns entries matching the filter, newest first.
func (r *DBRecorder) Search(ctx context.Context, filter SearchFilter) ([]Entry, error) {
	query := `
		SELECT id, user_id, target_user_id, package_id,
		       action, resource_type, resource_id, details, timestamp
		FROM auth_audit_log
	`
	where, args := buildWhere(filter)
	query += where
	query += ` ORDER BY timestamp DESC`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var userID, targetUserID, packageID, resourceType, resourceID sql.NullString
		var detailsJSON []byte

		err := rows.Scan(
			&entry.ID,
			&userID,
			&targetUserID,
			&packageID,
			&entry.Action,
			&resourceType,
			&resourceID,
			&detailsJSON,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.UserID = userID.String
		entry.TargetUserID = targetUserID.String
		entry.PackageID = packageID.String
		entry.ResourceType = resourceType.String
		entry.ResourceID = resourceID.String

		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				entry.Details = nil
			}
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// CountByAction returns per-action counts matching the filter.
func (r *DBRecorder) CountByAction(ctx context.Context, filter SearchFilter) (map[Action]int64, error) {
	query := `SELECT action, COUNT(*) FROM auth_audit_log`
	where, args := buildWhere(filter)
	query += where
	query += ` GROUP BY action`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[Action]int64)
	for rows.Next() {
		var action Action
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("failed to scan audit count: %w", err)
		}
		counts[action] = count
	}

	return counts, rows.Err()
}

// PruneOlderThan deletes entries older than cutoff and returns the
// number removed. This is the only sanctioned delete path for the
// audit table.
func (r *DBRecorder) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_audit_log WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit log: %w", err)
	}
	return result.RowsAffected()
}

// Close implements Recorder. The connection is owned by the caller.
func (r *DBRecorder) Close() error {
	return nil
}

func buildWhere(filter SearchFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(condition string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.TargetUserID != "" {
		add("target_user_id = $%d", filter.TargetUserID)
	}
	if filter.PackageID != "" {
		add("package_id = $%d", filter.PackageID)
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.Since != nil {
		add("timestamp >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		add("timestamp <= $%d", *filter.Until)
	}
	if len(filter.Actions) > 0 {
		placeholders := make([]string, 0, len(filter.Actions))
		for _, action := range filter.Actions {
			args = append(args, action)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		conditions = append(conditions, "action IN ("+strings.Join(placeholders, ", ")+")")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
