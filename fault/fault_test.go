package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := New(Conflict, "application already exists")
	wrapped := fmt.Errorf("job: apply: %w", base)

	if got := KindOf(wrapped); got != Conflict {
		t.Fatalf("KindOf = %v, want Conflict", got)
	}
	if got := KindOf(errors.New("plain")); got != Internal {
		t.Fatalf("KindOf plain = %v, want Internal", got)
	}
}

func TestTransition(t *testing.T) {
	err := Transition("property", "draft", "active")
	if !IsInvalidTransition(err) {
		t.Fatal("want invalid transition kind")
	}
	want := "property cannot move from draft to active"
	if err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Internal, cause, "escrow: fund")
	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause not reachable via errors.Is")
	}
	if err.Error() != "escrow: fund: boom" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestHelpers(t *testing.T) {
	cases := []struct {
		err  error
		pred func(error) bool
	}{
		{New(Validation, "bad"), IsValidation},
		{New(Conflict, "dup"), IsConflict},
		{New(NotFound, "gone"), IsNotFound},
		{New(Unauthorized, "nope"), IsUnauthorized},
	}
	for _, c := range cases {
		if !c.pred(c.err) {
			t.Fatalf("predicate failed for %v", c.err)
		}
	}
}
