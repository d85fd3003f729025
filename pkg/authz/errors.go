package authz

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested record does not exist or
	// is inactive.
	ErrNotFound = errors.New("not found")
	// ErrRoleNotFound is returned by grant operations that reference a
	// role name with no active row in the requested scope.
	ErrRoleNotFound = fmt.Errorf("role %w", ErrNotFound)
	// ErrPackageNotFound is returned when a package lookup misses.
	ErrPackageNotFound = fmt.Errorf("package %w", ErrNotFound)
	// ErrPackageInactive is returned when an operation targets a
	// deactivated package.
	ErrPackageInactive = errors.New("package is not active")
)
