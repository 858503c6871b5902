// Package identity owns user accounts: registration, login, email
// verification and password resets.
package identity

import (
	"context"
	"time"

	"classvote.org/internal/apperr"
	"classvote.org/internal/auth"
)

const (
	VerificationTTL  = 24 * time.Hour
	PasswordResetTTL = time.Hour
)

var (
	ErrNotFound              = apperr.New(apperr.KindNotFound, "user_not_found", "user not found")
	ErrDuplicateEmail        = apperr.New(apperr.KindConflict, "duplicate_email", "email is already registered")
	ErrDuplicateRollInClass  = apperr.New(apperr.KindConflict, "duplicate_roll_number", "roll number already exists in this class")
	ErrWeakPassword          = apperr.New(apperr.KindValidation, "weak_password", "password must be at least 8 characters")
	ErrNonCollegeEmail       = apperr.New(apperr.KindValidation, "non_college_email", "email must belong to the college domain")
	ErrInvalidUser           = apperr.New(apperr.KindValidation, "invalid_user", "invalid user")
	ErrClassRequired         = apperr.New(apperr.KindValidation, "class_required", "students must belong to a class")
	ErrInvalidCredentials    = apperr.New(apperr.KindUnauthenticated, "invalid_credentials", "invalid email or password")
	ErrAccountDeactivated    = apperr.New(apperr.KindAuthorization, "account_deactivated", "account is deactivated")
	ErrEmailUnverified       = apperr.New(apperr.KindAuthorization, "email_unverified", "email address is not verified")
	ErrInvalidOrExpiredToken = apperr.New(apperr.KindValidation, "invalid_or_expired_token", "token is invalid or expired")
	ErrUserInUse             = apperr.New(apperr.KindState, "user_in_use", "user is referenced by elections, candidacies or votes")
)

// User is an account of any role.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         auth.Role  `json:"role"`
	Verified     bool       `json:"is_verified"`
	Active       bool       `json:"active"`
	RollNumber   string     `json:"roll_number,omitempty"`
	ClassID      string     `json:"class_id,omitempty"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Principal returns the request identity for u.
func (u User) Principal() auth.Principal {
	return auth.Principal{UserID: u.ID, Role: u.Role, Verified: u.Verified, ClassID: u.ClassID}
}

// TokenPurpose scopes a one-time token.
type TokenPurpose string

const (
	PurposeVerifyEmail   TokenPurpose = "verify_email"
	PurposeResetPassword TokenPurpose = "reset_password"
)

// Token is a stored one-time token. Only the SHA-256 of the raw value is kept.
type Token struct {
	Hash      string
	UserID    string
	Purpose   TokenPurpose
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Filter narrows ListUsers.
type Filter struct {
	Role    auth.Role
	ClassID string
	Active  *bool
}

// Store persists accounts and tokens. CreateUser/UpdateUser return
// ErrDuplicateEmail or ErrDuplicateRollInClass on unique violations.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, f Filter) ([]User, error)
	UpdateUser(ctx context.Context, u User) error
	DeleteUser(ctx context.Context, id string) error
	CountUserReferences(ctx context.Context, id string) (int, error)
	CountStudentsInClass(ctx context.Context, classID string) (int, error)

	CreateToken(ctx context.Context, t Token) error
	// ConsumeToken atomically marks an unexpired, unused token as used and
	// returns its owner, or ErrInvalidOrExpiredToken.
	ConsumeToken(ctx context.Context, hash string, purpose TokenPurpose, now time.Time) (string, error)
}
