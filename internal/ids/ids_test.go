package ids

import "testing"

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestToken(t *testing.T) {
	a, err := Token(32)
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	b, _ := Token(32)
	if a == b {
		t.Fatalf("tokens repeated")
	}
}

func TestAnonymous(t *testing.T) {
	key := Anonymous()
	if !IsAnonymous(key) {
		t.Fatalf("IsAnonymous(%q)=false", key)
	}
	if IsAnonymous("CS-042") || IsAnonymous("anon-") {
		t.Fatalf("roll numbers must not be treated as synthesized keys")
	}
}
