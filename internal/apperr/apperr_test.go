package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	sentinel := New(KindConflict, "already_voted", "already voted")
	wrapped := fmt.Errorf("%w: election e1", sentinel)

	if !errors.Is(wrapped, sentinel) {
		t.Fatalf("wrapped error lost identity")
	}
	if got := KindOf(wrapped); got != KindConflict {
		t.Fatalf("KindOf=%v, want conflict", got)
	}
	if got := CodeOf(wrapped); got != "already_voted" {
		t.Fatalf("CodeOf=%q", got)
	}
	if got := KindOf(errors.New("boom")); got != KindUnknown {
		t.Fatalf("plain error kind=%v", got)
	}
	if got := CodeOf(errors.New("boom")); got != "internal" {
		t.Fatalf("plain error code=%q", got)
	}
}

func TestKindHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:      http.StatusBadRequest,
		KindUnauthenticated: http.StatusUnauthorized,
		KindAuthorization:   http.StatusForbidden,
		KindConflict:        http.StatusConflict,
		KindState:           http.StatusUnprocessableEntity,
		KindNotFound:        http.StatusNotFound,
		KindUnknown:         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := kind.HTTPStatus(); got != want {
			t.Fatalf("%s: status=%d, want %d", kind, got, want)
		}
	}
}
