package authz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wardenhq/warden/pkg/audit"
)

// fakeStore is an in-memory Store used by engine, middleware and
// handler tests. It honors the active and expiry filters the real
// store applies in SQL.
type fakeStore struct {
	mu             sync.Mutex
	packages       map[string]*Package
	roles          map[string]*Role
	permissions    map[string]*Permission
	rolePerms      map[string][]string
	assignments    []*RoleAssignment
	resourceAccess []*ResourceAccess
	systemAdmins   map[string]bool

	listAssignmentCalls int
	failReads           bool
}

var errStoreDown = errors.New("store unavailable")

func newFakeStore() *fakeStore {
	return &fakeStore{
		packages:     make(map[string]*Package),
		roles:        make(map[string]*Role),
		permissions:  make(map[string]*Permission),
		rolePerms:    make(map[string][]string),
		systemAdmins: make(map[string]bool),
	}
}

func roleKey(name string, packageID *string) string {
	if packageID == nil {
		return name + "|"
	}
	return name + "|" + *packageID
}

func (s *fakeStore) addRole(name string, packageID *string, permissions ...string) *Role {
	s.mu.Lock()
	defer s.mu.Unlock()

	role := &Role{
		ID:        roleKey(name, packageID),
		Name:      name,
		PackageID: packageID,
		IsActive:  true,
	}
	for _, p := range permissions {
		role.Permissions = append(role.Permissions, Permission{ID: p, Name: p, IsActive: true})
	}
	s.roles[role.ID] = role
	return role
}

func (s *fakeStore) assign(userID string, role *Role, expiresAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignments = append(s.assignments, &RoleAssignment{
		ID:        fmt.Sprintf("assignment-%d", len(s.assignments)+1),
		UserID:    userID,
		RoleID:    role.ID,
		PackageID: role.PackageID,
		GrantedBy: "test",
		ExpiresAt: expiresAt,
		IsActive:  true,
		Role:      role,
	})
}

func (s *fakeStore) addAccess(userID, packageID, resourceType, resourceID string, accessType AccessType, expiresAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resourceAccess = append(s.resourceAccess, &ResourceAccess{
		ID:           fmt.Sprintf("access-%d", len(s.resourceAccess)+1),
		UserID:       userID,
		PackageID:    packageID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		AccessType:   accessType,
		GrantedBy:    "test",
		ExpiresAt:    expiresAt,
		IsActive:     true,
	})
}

func (s *fakeStore) GetPackage(ctx context.Context, id string) (*Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return nil, errStoreDown
	}
	pkg, ok := s.packages[id]
	if !ok || !pkg.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, id)
	}
	copied := *pkg
	return &copied, nil
}

func (s *fakeStore) UpsertPackage(ctx context.Context, pkg *Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pkg.ID == "" {
		pkg.ID = pkg.Name
	}
	copied := *pkg
	s.packages[pkg.ID] = &copied
	return nil
}

func (s *fakeStore) CountPackages(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.packages), nil
}

func (s *fakeStore) GetRoleByName(ctx context.Context, name string, packageID *string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return nil, errStoreDown
	}
	role, ok := s.roles[roleKey(name, packageID)]
	if !ok || !role.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	copied := *role
	return &copied, nil
}

func (s *fakeStore) UpsertRole(ctx context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.ID == "" {
		role.ID = roleKey(role.Name, role.PackageID)
	}
	copied := *role
	s.roles[role.ID] = &copied
	return nil
}

func (s *fakeStore) UpsertPermission(ctx context.Context, perm *Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if perm.ID == "" {
		perm.ID = perm.Name + "|" + perm.PackageID
	}
	copied := *perm
	s.permissions[perm.ID] = &copied
	return nil
}

func (s *fakeStore) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rolePerms[roleID] {
		if existing == permissionID {
			return nil
		}
	}
	s.rolePerms[roleID] = append(s.rolePerms[roleID], permissionID)
	return nil
}

func (s *fakeStore) ListRoleAssignments(ctx context.Context, userID, packageID string) ([]RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listAssignmentCalls++
	if s.failReads {
		return nil, errStoreDown
	}

	now := time.Now()
	var out []RoleAssignment
	for _, a := range s.assignments {
		if a.UserID != userID || !a.IsActive || a.Expired(now) {
			continue
		}
		if a.PackageID != nil && *a.PackageID != packageID {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (s *fakeStore) HasSystemRole(ctx context.Context, userID, roleName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return false, errStoreDown
	}
	return roleName == RoleAdmin && s.systemAdmins[userID], nil
}

func (s *fakeStore) CreateRoleAssignment(ctx context.Context, assignment *RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if assignment.ID == "" {
		assignment.ID = fmt.Sprintf("assignment-%d", len(s.assignments)+1)
	}
	assignment.IsActive = true
	copied := *assignment
	s.assignments = append(s.assignments, &copied)
	return nil
}

func (s *fakeStore) DeactivateRoleAssignments(ctx context.Context, userID, roleID string, packageID *string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, a := range s.assignments {
		if a.UserID != userID || a.RoleID != roleID || !a.IsActive {
			continue
		}
		if (a.PackageID == nil) != (packageID == nil) {
			continue
		}
		if packageID != nil && *a.PackageID != *packageID {
			continue
		}
		a.IsActive = false
		revoked++
	}
	return revoked, nil
}

func (s *fakeStore) ListResourceAccess(ctx context.Context, userID, packageID string) ([]ResourceAccess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return nil, errStoreDown
	}

	now := time.Now()
	var out []ResourceAccess
	for _, g := range s.resourceAccess {
		if g.UserID != userID || g.PackageID != packageID || !g.IsActive || g.Expired(now) {
			continue
		}
		out = append(out, *g)
	}
	return out, nil
}

func (s *fakeStore) GetResourceAccess(ctx context.Context, userID, packageID, resourceType, resourceID string) ([]ResourceAccess, error) {
	all, err := s.ListResourceAccess(ctx, userID, packageID)
	if err != nil {
		return nil, err
	}
	var out []ResourceAccess
	for _, g := range all {
		if g.ResourceType == resourceType && g.ResourceID == resourceID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertResourceAccess(ctx context.Context, access *ResourceAccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.resourceAccess {
		if g.UserID == access.UserID && g.PackageID == access.PackageID &&
			g.ResourceType == access.ResourceType && g.ResourceID == access.ResourceID &&
			g.AccessType == access.AccessType {
			g.GrantedBy = access.GrantedBy
			g.ExpiresAt = access.ExpiresAt
			g.IsActive = true
			g.Metadata = access.Metadata
			access.ID = g.ID
			access.IsActive = true
			return nil
		}
	}

	if access.ID == "" {
		access.ID = fmt.Sprintf("access-%d", len(s.resourceAccess)+1)
	}
	access.IsActive = true
	copied := *access
	s.resourceAccess = append(s.resourceAccess, &copied)
	return nil
}

func (s *fakeStore) DeactivateResourceAccess(ctx context.Context, userID, packageID, resourceType, resourceID string, accessType AccessType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, g := range s.resourceAccess {
		if g.UserID != userID || g.PackageID != packageID || g.ResourceType != resourceType || g.ResourceID != resourceID || !g.IsActive {
			continue
		}
		if accessType != "" && g.AccessType != accessType {
			continue
		}
		g.IsActive = false
		revoked++
	}
	return revoked, nil
}

// fakeRecorder captures audit entries in memory.
type fakeRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
	failure error
}

func (r *fakeRecorder) Record(ctx context.Context, entry *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure != nil {
		return r.failure
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeRecorder) Search(ctx context.Context, filter audit.SearchFilter) ([]audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Entry
	for _, e := range r.entries {
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *fakeRecorder) CountByAction(ctx context.Context, filter audit.SearchFilter) (map[audit.Action]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[audit.Action]int64)
	for _, e := range r.entries {
		counts[e.Action]++
	}
	return counts, nil
}

func (r *fakeRecorder) Close() error { return nil }

func (r *fakeRecorder) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Action
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

// brokenCache fails every operation, simulating an unreachable backend.
type brokenCache struct{}

var errCacheDown = errors.New("cache unavailable")

func (brokenCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errCacheDown
}
func (brokenCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errCacheDown
}
func (brokenCache) Delete(ctx context.Context, key string) error { return errCacheDown }
func (brokenCache) Clear(ctx context.Context) error              { return errCacheDown }
