package rbac

import "errors"

var (
	// ErrNotFound indicates the referenced model, role, permission, service,
	// or user does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrValidation indicates malformed or inconsistent input.
	ErrValidation = errors.New("rbac: invalid input")
	// ErrRoleModelMismatch indicates the role belongs to a different RBAC
	// model than the one bound to the target service.
	ErrRoleModelMismatch = errors.New("rbac: role does not belong to the service's bound model")
	// ErrConflict indicates a uniqueness constraint was violated.
	ErrConflict = errors.New("rbac: already exists")
)
