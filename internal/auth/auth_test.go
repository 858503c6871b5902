package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokensIssueAndParse(t *testing.T) {
	tokens, err := NewTokens("test-secret", WithIssuer("test-issuer"), WithTTL(30*time.Minute))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	in := Principal{UserID: "user-42", Role: RoleStudent, Verified: true, ClassID: "class-1"}
	token, expiresAt, err := tokens.Issue(in)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiration, got %v", expiresAt)
	}
	out, err := tokens.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if out != in {
		t.Fatalf("principal mismatch: %+v != %+v", out, in)
	}
}

func TestTokensRejectForeignAndExpired(t *testing.T) {
	now := time.Now()
	issuer, _ := NewTokens("secret-a", WithClock(func() time.Time { return now }), WithTTL(time.Minute))
	other, _ := NewTokens("secret-b")
	later, _ := NewTokens("secret-a", WithClock(func() time.Time { return now.Add(time.Hour) }))

	token, _, err := issuer.Issue(Principal{UserID: "u1", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign secret: expected ErrInvalidToken, got %v", err)
	}
	if _, err := later.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: expected ErrInvalidToken, got %v", err)
	}
	if _, err := issuer.Parse("  "); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty: expected ErrInvalidToken, got %v", err)
	}
}

func TestNewTokensRequiresSecret(t *testing.T) {
	if _, err := NewTokens(" "); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole(" Teacher "); err != nil || r != RoleTeacher {
		t.Fatalf("ParseRole teacher: %v %v", r, err)
	}
	if _, err := ParseRole("principal"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestAuthorizeChecks(t *testing.T) {
	student := Principal{UserID: "s1", Role: RoleStudent, Verified: true}
	teacher := Principal{UserID: "t1", Role: RoleTeacher}

	if err := Authorize(student, RequireRole(RoleStudent), RequireVerified()); err != nil {
		t.Fatalf("student checks: %v", err)
	}
	if err := Authorize(teacher, RequireRole(RoleAdmin)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := Authorize(teacher, RequireVerified()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("unverified: expected ErrForbidden, got %v", err)
	}
	if err := Authorize(Principal{}, RequireRole(RoleStudent)); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("anonymous: expected ErrUnauthenticated, got %v", err)
	}
	if err := Authorize(student, RequireSelfOr("s1", RoleAdmin)); err != nil {
		t.Fatalf("self: %v", err)
	}
	if err := Authorize(teacher, RequireSelfOr("s1", RoleAdmin)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("other user: expected ErrForbidden, got %v", err)
	}
	if !teacher.IsStaff() || student.IsStaff() {
		t.Fatalf("IsStaff mismatch")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatal("unexpected principal in empty context")
	}
	ctx = ContextWithPrincipal(ctx, Principal{UserID: "user-7", Role: RoleAdmin})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
	ctx = ContextWithToken(ctx, "tok")
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("token not stored")
	}
}

func TestPasswordHashing(t *testing.T) {
	UseMinPasswordCost()
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "correct horse"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch")
	}
}
