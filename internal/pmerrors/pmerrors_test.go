package pmerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := New(KindNotFound, "store.Get", "hash %s not in store", "abc123")
	want := "store.Get: hash abc123 not in store"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindTransient, "fetch.Download", cause, "write failed")

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if got := err.Error(); got != "fetch.Download: write failed: disk full" {
		t.Errorf("Error() = %q", got)
	}
}

func TestErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", New(KindConflict, "resolver.Solve", "no solution"))

	var target *Error
	if !errors.As(wrapped, &target) {
		t.Fatal("expected errors.As to match")
	}
	if target.Kind != KindConflict {
		t.Errorf("Kind = %v, want KindConflict", target.Kind)
	}
}

func TestIsKind(t *testing.T) {
	err := New(KindIntegrity, "guard.Verify", "hash mismatch")
	if !IsKind(err, KindIntegrity) {
		t.Error("expected IsKind to match KindIntegrity")
	}
	if IsKind(err, KindPolicy) {
		t.Error("expected IsKind not to match KindPolicy")
	}
	if IsKind(errors.New("plain"), KindIntegrity) {
		t.Error("expected IsKind to be false for a plain error")
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("op failed: %w", New(KindExternal, "buildsys.Build", "exit 1"))
	k, ok := KindOf(wrapped)
	if !ok || k != KindExternal {
		t.Errorf("KindOf() = (%v, %v), want (KindExternal, true)", k, ok)
	}

	_, ok = KindOf(errors.New("plain"))
	if ok {
		t.Error("expected KindOf to report false for a plain error")
	}
}

func TestIsMatchesSameKindOnly(t *testing.T) {
	a := New(KindNotFound, "", "missing")
	b := New(KindNotFound, "", "different message")
	c := New(KindConflict, "", "missing")

	if !errors.Is(a, b) {
		t.Error("expected errors with the same Kind to match via Is")
	}
	if errors.Is(a, c) {
		t.Error("expected errors with different Kind not to match via Is")
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindInvalidInput, "invalid_input"},
		{KindNotFound, "not_found"},
		{KindConflict, "conflict"},
		{KindTransient, "transient"},
		{KindIntegrity, "integrity"},
		{KindPolicy, "policy"},
		{KindExternal, "external"},
		{KindInternal, "internal"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
