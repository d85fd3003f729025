package authz

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all authorization schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create packages table",
			SQL: `
				CREATE TABLE IF NOT EXISTS packages (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL,
					description TEXT,
					registration_type VARCHAR(32) NOT NULL DEFAULT 'ADMIN_ONLY',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					display_name VARCHAR(255) NOT NULL,
					description TEXT,
					package_id VARCHAR(64) REFERENCES packages(id),
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_name_package
					ON roles (name, COALESCE(package_id, ''));
				CREATE INDEX IF NOT EXISTS idx_roles_package ON roles (package_id);
			`,
		},
		{
			Version:     3,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					display_name VARCHAR(255) NOT NULL,
					description TEXT,
					package_id VARCHAR(64) NOT NULL REFERENCES packages(id),
					category VARCHAR(128),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE (name, package_id)
				);

				CREATE INDEX IF NOT EXISTS idx_permissions_package ON permissions (package_id);
			`,
		},
		{
			Version:     4,
			Description: "Create role_permissions join table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id VARCHAR(64) NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id VARCHAR(64) NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					PRIMARY KEY (role_id, permission_id)
				);
			`,
		},
		{
			Version:     5,
			Description: "Create role_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_assignments (
					id VARCHAR(64) PRIMARY KEY,
					user_id VARCHAR(255) NOT NULL,
					role_id VARCHAR(64) NOT NULL REFERENCES roles(id),
					package_id VARCHAR(64) REFERENCES packages(id),
					resource_type VARCHAR(128),
					resource_id VARCHAR(255),
					granted_by VARCHAR(255) NOT NULL,
					expires_at TIMESTAMP,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					metadata JSONB,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_role_assignments_user
					ON role_assignments (user_id, package_id) WHERE is_active;
				CREATE INDEX IF NOT EXISTS idx_role_assignments_role
					ON role_assignments (role_id) WHERE is_active;
				CREATE INDEX IF NOT EXISTS idx_role_assignments_expiry
					ON role_assignments (expires_at) WHERE expires_at IS NOT NULL;
			`,
		},
		{
			Version:     6,
			Description: "Create resource_access table",
			SQL: `
				CREATE TABLE IF NOT EXISTS resource_access (
					id VARCHAR(64) PRIMARY KEY,
					user_id VARCHAR(255) NOT NULL,
					package_id VARCHAR(64) NOT NULL REFERENCES packages(id),
					resource_type VARCHAR(128) NOT NULL,
					resource_id VARCHAR(255) NOT NULL,
					access_type VARCHAR(32) NOT NULL,
					granted_by VARCHAR(255) NOT NULL,
					expires_at TIMESTAMP,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					metadata JSONB,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE (user_id, package_id, resource_type, resource_id, access_type)
				);

				CREATE INDEX IF NOT EXISTS idx_resource_access_user
					ON resource_access (user_id, package_id) WHERE is_active;
				CREATE INDEX IF NOT EXISTS idx_resource_access_resource
					ON resource_access (resource_type, resource_id) WHERE is_active;
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	// Create migration tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS authz_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get applied migrations
	rows, err := db.QueryContext(ctx, "SELECT version FROM authz_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to iterate migration versions: %w", err)
	}
	rows.Close()

	// Run pending migrations
	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO authz_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
