package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// Role is the coarse permission level of an authenticated caller.
type Role string

const (
	RoleUser  Role = "user"
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleOwner, RoleAdmin:
		return true
	default:
		return false
	}
}

var (
	// ErrUnauthenticated is returned when an operation requires a caller but
	// none is present in the context.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrForbidden is returned when the caller's role does not permit the
	// requested operation.
	ErrForbidden = errors.New("insufficient permissions")
)

// Principal is the already-authenticated caller identity. Core operations
// trust it and never re-validate credentials.
type Principal struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// IsStaff reports whether the principal is an owner or an admin.
func (p Principal) IsStaff() bool { return p.Role == RoleAdmin || p.Role == RoleOwner }

// RequireStaff returns ErrForbidden unless the principal is an owner or admin.
func (p Principal) RequireStaff() error {
	if !p.IsStaff() {
		return ErrForbidden
	}
	return nil
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext extracts the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
