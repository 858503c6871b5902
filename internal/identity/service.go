package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"classvote.org/internal/apperr"
	"classvote.org/internal/audit"
	"classvote.org/internal/auth"
	"classvote.org/internal/classes"
	"classvote.org/internal/ids"
	"classvote.org/internal/notify"
	"classvote.org/internal/obs"
)

const tokenBytes = 32

// ClassLookup resolves classes referenced by student accounts.
type ClassLookup interface {
	GetClass(ctx context.Context, id string) (classes.Class, error)
}

// RegisterInput is a self-service sign-up request.
type RegisterInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	RollNumber string `json:"roll_number"`
	ClassID    string `json:"class_id"`
}

// CreateUserInput is an administrative account creation request. Accounts
// created this way are verified from the start.
type CreateUserInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	RollNumber string `json:"roll_number"`
	ClassID    string `json:"class_id"`
}

// UpdateInput carries optional profile changes.
type UpdateInput struct {
	Name       *string `json:"name"`
	RollNumber *string `json:"roll_number"`
	ClassID    *string `json:"class_id"`
}

// Service implements account workflows.
type Service struct {
	store         Store
	classes       ClassLookup
	notifier      notify.Notifier
	outbox        *notify.Outbox
	audit         *audit.Logger
	now           func() time.Time
	collegeDomain string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithCollegeDomain restricts registration to addresses under domain.
func WithCollegeDomain(domain string) ServiceOption {
	return func(s *Service) {
		s.collegeDomain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "@"))
	}
}

// WithOutbox delivers account emails through o instead of a private outbox.
func WithOutbox(o *notify.Outbox) ServiceOption {
	return func(s *Service) {
		if o != nil {
			s.outbox = o
		}
	}
}

// NewService wires the account service; emails leave through an outbox so
// a failing relay never delays the request that triggered them.
func NewService(store Store, classLookup ClassLookup, notifier notify.Notifier, log *audit.Logger, opts ...ServiceOption) *Service {
	s := &Service{store: store, classes: classLookup, notifier: notifier, audit: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.outbox == nil {
		s.outbox = notify.NewOutbox(notify.DefaultOutboxWorkers)
	}
	return s
}

// Register creates an unverified student or teacher account and emails a
// verification link.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	u, err := s.register(ctx, in)
	if err != nil {
		s.audit.CreateLog(ctx, audit.Entry{
			Action: audit.ActionUserRegister,
			Status: audit.StatusFailure,
			Details: map[string]any{
				"email":  normalizeEmail(in.Email),
				"reason": apperr.CodeOf(err),
			},
		})
		return User{}, err
	}
	s.audit.CreateLog(ctx, audit.Entry{
		Action:  audit.ActionUserRegister,
		ActorID: u.ID,
		Details: map[string]any{"user_id": u.ID, "role": string(u.Role)},
	})
	return u, nil
}

func (s *Service) register(ctx context.Context, in RegisterInput) (User, error) {
	role, err := auth.ParseRole(in.Role)
	if err != nil {
		return User{}, err
	}
	if role == auth.RoleAdmin {
		return User{}, fmt.Errorf("%w: admins are created by an administrator", auth.ErrInvalidRole)
	}
	u, err := s.prepare(ctx, CreateUserInput(in), role)
	if err != nil {
		return User{}, err
	}
	if err := s.store.CreateUser(ctx, &u); err != nil {
		return User{}, err
	}
	s.sendVerification(ctx, u)
	return u, nil
}

// CreateUser is the administrative path; the caller must be an admin.
func (s *Service) CreateUser(ctx context.Context, p auth.Principal, in CreateUserInput) (User, error) {
	if err := auth.Authorize(p, auth.RequireRole(auth.RoleAdmin)); err != nil {
		return User{}, err
	}
	return s.Provision(ctx, in)
}

// Provision creates a verified account without an authorization check. It
// backs CreateUser and the bootstrap command.
func (s *Service) Provision(ctx context.Context, in CreateUserInput) (User, error) {
	role, err := auth.ParseRole(in.Role)
	if err != nil {
		return User{}, err
	}
	u, err := s.prepare(ctx, in, role)
	if err != nil {
		return User{}, err
	}
	u.Verified = true
	if err := s.store.CreateUser(ctx, &u); err != nil {
		return User{}, err
	}
	s.audit.Record(ctx, audit.ActionUserCreated, audit.StatusSuccess, map[string]any{
		"user_id": u.ID,
		"role":    string(u.Role),
	})
	return u, nil
}

func (s *Service) prepare(ctx context.Context, in CreateUserInput, role auth.Role) (User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return User{}, fmt.Errorf("%w: name is required", ErrInvalidUser)
	}
	email := normalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: email is malformed", ErrInvalidUser)
	}
	if s.collegeDomain != "" && !strings.HasSuffix(email, "@"+s.collegeDomain) {
		return User{}, ErrNonCollegeEmail
	}
	if len(in.Password) < auth.MinPasswordLength {
		return User{}, ErrWeakPassword
	}
	u := User{
		ID:         ids.New(),
		Name:       name,
		Email:      email,
		Role:       role,
		Active:     true,
		RollNumber: normalizeRoll(in.RollNumber),
		ClassID:    strings.TrimSpace(in.ClassID),
	}
	switch role {
	case auth.RoleStudent:
		if u.ClassID == "" {
			return User{}, ErrClassRequired
		}
		if _, err := s.classes.GetClass(ctx, u.ClassID); err != nil {
			return User{}, err
		}
	default:
		u.ClassID = ""
		u.RollNumber = ""
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	u.PasswordHash = hash
	now := s.now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	return u, nil
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// Authenticate checks credentials and returns the account. Every attempt is
// audited.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	u, err := s.authenticate(ctx, email, password)
	if err != nil {
		entry := audit.Entry{
			Action:  audit.ActionUserLoginFailed,
			Status:  audit.StatusFailure,
			Details: map[string]any{"email": email, "reason": apperr.CodeOf(err)},
		}
		if u.ID != "" {
			entry.ActorID = u.ID
		}
		s.audit.CreateLog(ctx, entry)
		return User{}, err
	}
	s.audit.CreateLog(ctx, audit.Entry{
		Action:  audit.ActionUserLogin,
		ActorID: u.ID,
		Details: map[string]any{"role": string(u.Role)},
	})
	return u, nil
}

func (s *Service) authenticate(ctx context.Context, email, password string) (User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		dummyHashOnce.Do(func() { dummyHash, _ = auth.HashPassword("not-a-real-password") })
		_ = auth.VerifyPassword(dummyHash, password)
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if err := auth.VerifyPassword(u.PasswordHash, password); err != nil {
		return User{ID: u.ID}, ErrInvalidCredentials
	}
	if !u.Active {
		return User{ID: u.ID}, ErrAccountDeactivated
	}
	if !u.Verified {
		return User{ID: u.ID}, ErrEmailUnverified
	}
	now := s.now().UTC()
	u.LastLoginAt = &now
	if err := s.store.UpdateUser(ctx, u); err != nil {
		obs.Warn("last_login_update_failed", map[string]any{"user_id": u.ID, "error": err})
	}
	return u, nil
}

// Verify consumes an email verification token.
func (s *Service) Verify(ctx context.Context, rawToken string) (User, error) {
	userID, err := s.store.ConsumeToken(ctx, hashToken(rawToken), PurposeVerifyEmail, s.now().UTC())
	if err != nil {
		return User{}, err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if !u.Verified {
		u.Verified = true
		u.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateUser(ctx, u); err != nil {
			return User{}, err
		}
	}
	s.audit.CreateLog(ctx, audit.Entry{Action: audit.ActionEmailVerified, ActorID: u.ID})
	return u, nil
}

// ResendVerification issues a fresh verification link for an unverified
// account. Unknown or verified addresses are ignored.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	u, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if u.Verified || !u.Active {
		return nil
	}
	s.sendVerification(ctx, u)
	return nil
}

// RequestPasswordReset emails a one-hour reset link. Unknown addresses are a
// silent success.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.audit.CreateLog(ctx, audit.Entry{
			Action:  audit.ActionPasswordResetRequested,
			Status:  audit.StatusWarning,
			Details: map[string]any{"email": email, "reason": "unknown_email"},
		})
		return nil
	}
	if err != nil {
		return err
	}
	if !u.Active {
		return nil
	}
	raw, err := s.issueToken(ctx, u.ID, PurposeResetPassword, PasswordResetTTL)
	if err != nil {
		return err
	}
	s.outbox.Go(ctx, "password_reset_email", func(ctx context.Context) {
		s.notifier.SendPasswordResetEmail(ctx, u.Email, u.Name, raw)
	})
	s.audit.CreateLog(ctx, audit.Entry{Action: audit.ActionPasswordResetRequested, ActorID: u.ID})
	return nil
}

// CompletePasswordReset consumes a reset token and sets a new password.
func (s *Service) CompletePasswordReset(ctx context.Context, rawToken, newPassword string) error {
	if len(newPassword) < auth.MinPasswordLength {
		return ErrWeakPassword
	}
	userID, err := s.store.ConsumeToken(ctx, hashToken(rawToken), PurposeResetPassword, s.now().UTC())
	if err != nil {
		return err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return err
	}
	s.audit.CreateLog(ctx, audit.Entry{Action: audit.ActionPasswordResetCompleted, ActorID: u.ID})
	return nil
}

// Get returns a user visible to p: themselves, or anyone for staff.
func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (User, error) {
	if err := auth.Authorize(p, auth.RequireSelfOr(id, auth.RoleAdmin, auth.RoleTeacher)); err != nil {
		return User{}, err
	}
	return s.store.GetUser(ctx, id)
}

// Lookup returns a user without an authorization check.
func (s *Service) Lookup(ctx context.Context, id string) (User, error) {
	return s.store.GetUser(ctx, id)
}

// List returns users matching f. Staff only.
func (s *Service) List(ctx context.Context, p auth.Principal, f Filter) ([]User, error) {
	if err := auth.Authorize(p, auth.RequireRole(auth.RoleAdmin, auth.RoleTeacher)); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx, f)
}

// ListStudents returns the active students of a class.
func (s *Service) ListStudents(ctx context.Context, classID string) ([]User, error) {
	active := true
	return s.store.ListUsers(ctx, Filter{Role: auth.RoleStudent, ClassID: classID, Active: &active})
}

// Update changes profile fields. Admins may change anything; users may only
// rename themselves.
func (s *Service) Update(ctx context.Context, p auth.Principal, id string, in UpdateInput) (User, error) {
	if err := auth.Authorize(p, auth.RequireSelfOr(id, auth.RoleAdmin)); err != nil {
		return User{}, err
	}
	if !p.HasRole(auth.RoleAdmin) && (in.RollNumber != nil || in.ClassID != nil) {
		return User{}, auth.ErrForbidden
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return User{}, fmt.Errorf("%w: name is required", ErrInvalidUser)
		}
		u.Name = name
	}
	if in.RollNumber != nil {
		u.RollNumber = normalizeRoll(*in.RollNumber)
	}
	if in.ClassID != nil && u.Role == auth.RoleStudent {
		classID := strings.TrimSpace(*in.ClassID)
		if classID == "" {
			return User{}, ErrClassRequired
		}
		if _, err := s.classes.GetClass(ctx, classID); err != nil {
			return User{}, err
		}
		u.ClassID = classID
	}
	u.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return User{}, err
	}
	s.audit.Record(ctx, audit.ActionUserUpdated, audit.StatusSuccess, map[string]any{"user_id": u.ID})
	return u, nil
}

// SetActive activates or deactivates an account. Admin only, never self.
func (s *Service) SetActive(ctx context.Context, p auth.Principal, id string, active bool) (User, error) {
	if err := auth.Authorize(p, auth.RequireRole(auth.RoleAdmin)); err != nil {
		return User{}, err
	}
	if p.UserID == id {
		return User{}, fmt.Errorf("%w: cannot change your own account status", auth.ErrForbidden)
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	u.Active = active
	u.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return User{}, err
	}
	action := audit.ActionUserUpdated
	if !active {
		action = audit.ActionUserDeactivated
	}
	s.audit.Record(ctx, action, audit.StatusSuccess, map[string]any{"user_id": u.ID, "active": active})
	return u, nil
}

// Delete removes an account that nothing references. Admin only, never self.
func (s *Service) Delete(ctx context.Context, p auth.Principal, id string) error {
	if err := auth.Authorize(p, auth.RequireRole(auth.RoleAdmin)); err != nil {
		return err
	}
	if p.UserID == id {
		return fmt.Errorf("%w: cannot delete your own account", auth.ErrForbidden)
	}
	if _, err := s.store.GetUser(ctx, id); err != nil {
		return err
	}
	refs, err := s.store.CountUserReferences(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%w: %d references", ErrUserInUse, refs)
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.ActionUserDeleted, audit.StatusSuccess, map[string]any{"user_id": id})
	return nil
}

// IsActiveTeacher reports whether id is an active teacher account.
func (s *Service) IsActiveTeacher(ctx context.Context, id string) (bool, error) {
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Active && u.Role == auth.RoleTeacher, nil
}

// CountStudentsInClass satisfies classes.StudentCounter.
func (s *Service) CountStudentsInClass(ctx context.Context, classID string) (int, error) {
	return s.store.CountStudentsInClass(ctx, classID)
}

func (s *Service) sendVerification(ctx context.Context, u User) {
	raw, err := s.issueToken(ctx, u.ID, PurposeVerifyEmail, VerificationTTL)
	if err != nil {
		obs.Error("verification_token_failed", map[string]any{"user_id": u.ID, "error": err})
		return
	}
	s.outbox.Go(ctx, "verification_email", func(ctx context.Context) {
		s.notifier.SendVerificationEmail(ctx, u.Email, u.Name, raw)
	})
}

func (s *Service) issueToken(ctx context.Context, userID string, purpose TokenPurpose, ttl time.Duration) (string, error) {
	raw, err := ids.Token(tokenBytes)
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	err = s.store.CreateToken(ctx, Token{
		Hash:      hashToken(raw),
		UserID:    userID,
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeRoll(roll string) string {
	return strings.ToUpper(strings.TrimSpace(roll))
}
