package auth

import (
	"fmt"

	"classvote.org/internal/apperr"
)

var (
	ErrUnauthenticated = apperr.New(apperr.KindUnauthenticated, "unauthenticated", "authentication required")
	ErrForbidden       = apperr.New(apperr.KindAuthorization, "forbidden", "insufficient permissions")
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID   string `json:"user_id"`
	Role     Role   `json:"role"`
	Verified bool   `json:"verified"`
	ClassID  string `json:"class_id,omitempty"`
}

// Authenticated reports whether p carries an identity.
func (p Principal) Authenticated() bool { return p.UserID != "" && p.Role.Valid() }

// HasRole reports whether p holds any of roles.
func (p Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// IsStaff is true for teachers and admins.
func (p Principal) IsStaff() bool { return p.HasRole(RoleTeacher, RoleAdmin) }

// Check is a composable authorization predicate.
type Check func(Principal) error

// RequireRole passes when the principal holds one of roles.
func RequireRole(roles ...Role) Check {
	return func(p Principal) error {
		if !p.Authenticated() {
			return ErrUnauthenticated
		}
		if !p.HasRole(roles...) {
			return fmt.Errorf("%w: requires role %v", ErrForbidden, roles)
		}
		return nil
	}
}

// RequireVerified passes for principals with a verified email.
func RequireVerified() Check {
	return func(p Principal) error {
		if !p.Authenticated() {
			return ErrUnauthenticated
		}
		if !p.Verified {
			return fmt.Errorf("%w: email not verified", ErrForbidden)
		}
		return nil
	}
}

// RequireSelfOr passes when the principal is userID or holds one of roles.
func RequireSelfOr(userID string, roles ...Role) Check {
	return func(p Principal) error {
		if !p.Authenticated() {
			return ErrUnauthenticated
		}
		if p.UserID == userID || p.HasRole(roles...) {
			return nil
		}
		return ErrForbidden
	}
}

// Authorize runs checks in order and returns the first failure.
func Authorize(p Principal, checks ...Check) error {
	for _, check := range checks {
		if err := check(p); err != nil {
			return err
		}
	}
	return nil
}
