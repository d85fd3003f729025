package authz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/observability"
)

// Store is the persistence boundary for authorization data. Read
// methods return only active, unexpired rows; revocations deactivate
// rows instead of deleting them.
type Store interface {
	GetPackage(ctx context.Context, id string) (*Package, error)
	UpsertPackage(ctx context.Context, pkg *Package) error
	CountPackages(ctx context.Context) (int, error)

	GetRoleByName(ctx context.Context, name string, packageID *string) (*Role, error)
	UpsertRole(ctx context.Context, role *Role) error
	UpsertPermission(ctx context.Context, perm *Permission) error
	AttachPermission(ctx context.Context, roleID, permissionID string) error

	ListRoleAssignments(ctx context.Context, userID, packageID string) ([]RoleAssignment, error)
	HasSystemRole(ctx context.Context, userID, roleName string) (bool, error)
	CreateRoleAssignment(ctx context.Context, assignment *RoleAssignment) error
	DeactivateRoleAssignments(ctx context.Context, userID, roleID string, packageID *string) (int, error)

	ListResourceAccess(ctx context.Context, userID, packageID string) ([]ResourceAccess, error)
	GetResourceAccess(ctx context.Context, userID, packageID, resourceType, resourceID string) ([]ResourceAccess, error)
	UpsertResourceAccess(ctx context.Context, access *ResourceAccess) error
	DeactivateResourceAccess(ctx context.Context, userID, packageID, resourceType, resourceID string, accessType AccessType) (int, error)
}

// PostgresStore implements Store on top of database/sql with
// hand-written queries.
type PostgresStore struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewPostgresStore creates a store over an existing connection pool.
// The caller owns the pool and is responsible for closing it.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithMetrics enables per-query latency and error observations.
func (s *PostgresStore) WithMetrics(metrics *observability.Metrics) *PostgresStore {
	s.metrics = metrics
	return s
}

// track times one query and records it when the method returns. A
// not-found result counts as a completed query, not a store error.
func (s *PostgresStore) track(query string) func(*error) {
	start := time.Now()
	return func(err *error) {
		failed := *err != nil && !errors.Is(*err, ErrNotFound)
		s.metrics.ObserveStoreQuery(query, time.Since(start), failed)
	}
}

// GetPackage retrieves an active package by ID.
func (s *PostgresStore) GetPackage(ctx context.Context, id string) (_ *Package, err error) {
	defer s.track("get_package")(&err)

	query := `
		SELECT id, name, display_name, description, registration_type, is_active, created_at, updated_at
		FROM packages
		WHERE id = $1 AND is_active = TRUE
	`

	var pkg Package
	var description sql.NullString
	err = s.db.QueryRowContext(ctx, query, id).Scan(
		&pkg.ID,
		&pkg.Name,
		&pkg.DisplayName,
		&description,
		&pkg.RegistrationType,
		&pkg.IsActive,
		&pkg.CreatedAt,
		&pkg.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	pkg.Description = description.String

	return &pkg, nil
}

// UpsertPackage inserts a package or refreshes its mutable fields.
func (s *PostgresStore) UpsertPackage(ctx context.Context, pkg *Package) (err error) {
	defer s.track("upsert_package")(&err)

	if pkg.ID == "" {
		pkg.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO packages (id, name, display_name, description, registration_type, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (name) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			registration_type = EXCLUDED.registration_type,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err = s.db.QueryRowContext(ctx, query,
		pkg.ID,
		pkg.Name,
		pkg.DisplayName,
		nullString(pkg.Description),
		pkg.RegistrationType,
		pkg.IsActive,
		now,
	).Scan(&pkg.ID, &pkg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert package: %w", err)
	}
	pkg.UpdatedAt = now

	return nil
}

// CountPackages returns the number of packages, active or not. Used by
// the bootstrap initialization check.
func (s *PostgresStore) CountPackages(ctx context.Context) (_ int, err error) {
	defer s.track("count_packages")(&err)

	var count int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM packages").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count packages: %w", err)
	}
	return count, nil
}

// GetRoleByName retrieves an active role by name within a package
// scope, with its permissions eager-loaded. A nil packageID matches
// only system-wide roles.
func (s *PostgresStore) GetRoleByName(ctx context.Context, name string, packageID *string) (_ *Role, err error) {
	defer s.track("get_role_by_name")(&err)

	query := `
		SELECT id, name, display_name, description, package_id, is_system, is_active, created_at, updated_at
		FROM roles
		WHERE name = $1
		  AND ((package_id = $2) OR ($2 IS NULL AND package_id IS NULL))
		  AND is_active = TRUE
	`

	var role Role
	var description, pkgID sql.NullString
	err = s.db.QueryRowContext(ctx, query, name, packageID).Scan(
		&role.ID,
		&role.Name,
		&role.DisplayName,
		&description,
		&pkgID,
		&role.IsSystem,
		&role.IsActive,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	role.Description = description.String
	if pkgID.Valid {
		id := pkgID.String
		role.PackageID = &id
	}

	perms, err := s.rolePermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms

	return &role, nil
}

func (s *PostgresStore) rolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	query := `
		SELECT p.id, p.name, p.display_name, p.description, p.package_id, p.category, p.is_active, p.created_at, p.updated_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1 AND p.is_active = TRUE
		ORDER BY p.name
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		var description, category sql.NullString
		if err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.DisplayName,
			&description,
			&p.PackageID,
			&category,
			&p.IsActive,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		p.Description = description.String
		p.Category = category.String
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}

	return perms, nil
}

// UpsertRole inserts a role or refreshes its mutable fields.
func (s *PostgresStore) UpsertRole(ctx context.Context, role *Role) (err error) {
	defer s.track("upsert_role")(&err)

	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO roles (id, name, display_name, description, package_id, is_system, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (name, COALESCE(package_id, '')) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			is_system = EXCLUDED.is_system,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err = s.db.QueryRowContext(ctx, query,
		role.ID,
		role.Name,
		role.DisplayName,
		nullString(role.Description),
		role.PackageID,
		role.IsSystem,
		role.IsActive,
		now,
	).Scan(&role.ID, &role.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert role: %w", err)
	}
	role.UpdatedAt = now

	return nil
}

// UpsertPermission inserts a permission or refreshes its mutable
// fields.
func (s *PostgresStore) UpsertPermission(ctx context.Context, perm *Permission) (err error) {
	defer s.track("upsert_permission")(&err)

	if perm.ID == "" {
		perm.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO permissions (id, name, display_name, description, package_id, category, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (name, package_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err = s.db.QueryRowContext(ctx, query,
		perm.ID,
		perm.Name,
		perm.DisplayName,
		nullString(perm.Description),
		perm.PackageID,
		nullString(perm.Category),
		perm.IsActive,
		now,
	).Scan(&perm.ID, &perm.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert permission: %w", err)
	}
	perm.UpdatedAt = now

	return nil
}

// AttachPermission links a permission to a role, idempotently.
func (s *PostgresStore) AttachPermission(ctx context.Context, roleID, permissionID string) (err error) {
	defer s.track("attach_permission")(&err)

	query := `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2)
		ON CONFLICT (role_id, permission_id) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, roleID, permissionID); err != nil {
		return fmt.Errorf("failed to attach permission: %w", err)
	}
	return nil
}

// ListRoleAssignments returns the user's active, unexpired role
// assignments scoped to the package or system-wide, with each role and
// its permissions eager-loaded.
func (s *PostgresStore) ListRoleAssignments(ctx context.Context, userID, packageID string) (_ []RoleAssignment, err error) {
	defer s.track("list_role_assignments")(&err)

	query := `
		SELECT ra.id, ra.user_id, ra.role_id, ra.package_id, ra.resource_type, ra.resource_id,
		       ra.granted_by, ra.expires_at, ra.is_active, ra.metadata, ra.created_at, ra.updated_at,
		       r.id, r.name, r.display_name, r.description, r.package_id, r.is_system, r.is_active, r.created_at, r.updated_at
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		WHERE ra.user_id = $1
		  AND (ra.package_id = $2 OR ra.package_id IS NULL)
		  AND ra.is_active = TRUE
		  AND (ra.expires_at IS NULL OR ra.expires_at > NOW())
		  AND r.is_active = TRUE
		ORDER BY ra.created_at
	`

	rows, err := s.db.QueryContext(ctx, query, userID, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role assignments: %w", err)
	}
	defer rows.Close()

	var assignments []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		var role Role
		var aPkgID, resourceType, resourceID, metadataJSON sql.NullString
		var expiresAt sql.NullTime
		var rDescription, rPkgID sql.NullString
		if err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.RoleID,
			&aPkgID,
			&resourceType,
			&resourceID,
			&a.GrantedBy,
			&expiresAt,
			&a.IsActive,
			&metadataJSON,
			&a.CreatedAt,
			&a.UpdatedAt,
			&role.ID,
			&role.Name,
			&role.DisplayName,
			&rDescription,
			&rPkgID,
			&role.IsSystem,
			&role.IsActive,
			&role.CreatedAt,
			&role.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role assignment: %w", err)
		}

		if aPkgID.Valid {
			id := aPkgID.String
			a.PackageID = &id
		}
		a.ResourceType = resourceType.String
		a.ResourceID = resourceID.String
		if expiresAt.Valid {
			t := expiresAt.Time
			a.ExpiresAt = &t
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &a.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal assignment metadata: %w", err)
			}
		}

		role.Description = rDescription.String
		if rPkgID.Valid {
			id := rPkgID.String
			role.PackageID = &id
		}
		perms, err := s.rolePermissions(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		role.Permissions = perms
		a.Role = &role

		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate role assignments: %w", err)
	}

	return assignments, nil
}

// HasSystemRole reports whether the user holds an active, unexpired
// system-wide assignment of the named role.
func (s *PostgresStore) HasSystemRole(ctx context.Context, userID, roleName string) (_ bool, err error) {
	defer s.track("has_system_role")(&err)

	query := `
		SELECT EXISTS (
			SELECT 1
			FROM role_assignments ra
			JOIN roles r ON r.id = ra.role_id
			WHERE ra.user_id = $1
			  AND r.name = $2
			  AND r.package_id IS NULL
			  AND ra.is_active = TRUE
			  AND (ra.expires_at IS NULL OR ra.expires_at > NOW())
			  AND r.is_active = TRUE
		)
	`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, userID, roleName).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check system role: %w", err)
	}
	return exists, nil
}

// CreateRoleAssignment inserts a new assignment row.
func (s *PostgresStore) CreateRoleAssignment(ctx context.Context, assignment *RoleAssignment) (err error) {
	defer s.track("create_role_assignment")(&err)

	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	metadataJSON, err := marshalMetadata(assignment.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO role_assignments (id, user_id, role_id, package_id, resource_type, resource_id, granted_by, expires_at, is_active, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $10, $10)
	`

	_, err = s.db.ExecContext(ctx, query,
		assignment.ID,
		assignment.UserID,
		assignment.RoleID,
		assignment.PackageID,
		nullString(assignment.ResourceType),
		nullString(assignment.ResourceID),
		assignment.GrantedBy,
		assignment.ExpiresAt,
		metadataJSON,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create role assignment: %w", err)
	}
	assignment.IsActive = true
	assignment.CreatedAt = now
	assignment.UpdatedAt = now

	return nil
}

// DeactivateRoleAssignments marks the user's active assignments of the
// role as inactive and returns how many rows changed.
func (s *PostgresStore) DeactivateRoleAssignments(ctx context.Context, userID, roleID string, packageID *string) (_ int, err error) {
	defer s.track("deactivate_role_assignments")(&err)

	query := `
		UPDATE role_assignments
		SET is_active = FALSE, updated_at = NOW()
		WHERE user_id = $1
		  AND role_id = $2
		  AND ((package_id = $3) OR ($3 IS NULL AND package_id IS NULL))
		  AND is_active = TRUE
	`

	result, err := s.db.ExecContext(ctx, query, userID, roleID, packageID)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate role assignments: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(affected), nil
}

// ListResourceAccess returns the user's active, unexpired resource
// grants within a package.
func (s *PostgresStore) ListResourceAccess(ctx context.Context, userID, packageID string) (_ []ResourceAccess, err error) {
	defer s.track("list_resource_access")(&err)

	query := `
		SELECT id, user_id, package_id, resource_type, resource_id, access_type, granted_by, expires_at, is_active, metadata, created_at, updated_at
		FROM resource_access
		WHERE user_id = $1
		  AND package_id = $2
		  AND is_active = TRUE
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at
	`

	return s.queryResourceAccess(ctx, query, userID, packageID)
}

// GetResourceAccess returns the user's active, unexpired grants on one
// concrete resource.
func (s *PostgresStore) GetResourceAccess(ctx context.Context, userID, packageID, resourceType, resourceID string) (_ []ResourceAccess, err error) {
	defer s.track("get_resource_access")(&err)

	query := `
		SELECT id, user_id, package_id, resource_type, resource_id, access_type, granted_by, expires_at, is_active, metadata, created_at, updated_at
		FROM resource_access
		WHERE user_id = $1
		  AND package_id = $2
		  AND resource_type = $3
		  AND resource_id = $4
		  AND is_active = TRUE
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at
	`

	return s.queryResourceAccess(ctx, query, userID, packageID, resourceType, resourceID)
}

func (s *PostgresStore) queryResourceAccess(ctx context.Context, query string, args ...interface{}) ([]ResourceAccess, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resource access: %w", err)
	}
	defer rows.Close()

	var grants []ResourceAccess
	for rows.Next() {
		var g ResourceAccess
		var expiresAt sql.NullTime
		var metadataJSON sql.NullString
		if err := rows.Scan(
			&g.ID,
			&g.UserID,
			&g.PackageID,
			&g.ResourceType,
			&g.ResourceID,
			&g.AccessType,
			&g.GrantedBy,
			&expiresAt,
			&g.IsActive,
			&metadataJSON,
			&g.CreatedAt,
			&g.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan resource access: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			g.ExpiresAt = &t
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &g.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal access metadata: %w", err)
			}
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resource access: %w", err)
	}

	return grants, nil
}

// UpsertResourceAccess inserts a grant or, when the unique tuple
// already exists, reactivates it and refreshes its expiry, grantor and
// metadata.
func (s *PostgresStore) UpsertResourceAccess(ctx context.Context, access *ResourceAccess) (err error) {
	defer s.track("upsert_resource_access")(&err)

	if access.ID == "" {
		access.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	metadataJSON, err := marshalMetadata(access.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO resource_access (id, user_id, package_id, resource_type, resource_id, access_type, granted_by, expires_at, is_active, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $10, $10)
		ON CONFLICT (user_id, package_id, resource_type, resource_id, access_type) DO UPDATE SET
			granted_by = EXCLUDED.granted_by,
			expires_at = EXCLUDED.expires_at,
			is_active = TRUE,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err = s.db.QueryRowContext(ctx, query,
		access.ID,
		access.UserID,
		access.PackageID,
		access.ResourceType,
		access.ResourceID,
		access.AccessType,
		access.GrantedBy,
		access.ExpiresAt,
		metadataJSON,
		now,
	).Scan(&access.ID, &access.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert resource access: %w", err)
	}
	access.IsActive = true
	access.UpdatedAt = now

	return nil
}

// DeactivateResourceAccess marks matching grants inactive and returns
// how many rows changed. An empty accessType matches every grant on
// the resource.
func (s *PostgresStore) DeactivateResourceAccess(ctx context.Context, userID, packageID, resourceType, resourceID string, accessType AccessType) (_ int, err error) {
	defer s.track("deactivate_resource_access")(&err)

	query := `
		UPDATE resource_access
		SET is_active = FALSE, updated_at = NOW()
		WHERE user_id = $1
		  AND package_id = $2
		  AND resource_type = $3
		  AND resource_id = $4
		  AND ($5 = '' OR access_type = $5)
		  AND is_active = TRUE
	`

	result, err := s.db.ExecContext(ctx, query, userID, packageID, resourceType, resourceID, string(accessType))
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate resource access: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(affected), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalMetadata(metadata map[string]interface{}) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
