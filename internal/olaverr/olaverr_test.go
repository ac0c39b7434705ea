package olaverr

import (
	"errors"
	"testing"
)

func TestIs(t *testing.T) {
	err := New(NotPermitted, "erase startup-config not in whitelist")
	if !Is(err, NotPermitted) {
		t.Fatalf("expected Is(NotPermitted) true")
	}
	if Is(err, NotFound) {
		t.Fatalf("expected Is(NotFound) false")
	}
	if Is(errors.New("plain"), NotPermitted) {
		t.Fatalf("plain error should never match a Kind")
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(Wrap(Transport, "dial failed", errors.New("connection refused"))); got != Transport {
		t.Fatalf("expected Transport, got %s", got)
	}
	if got := KindOf(errors.New("plain")); got != Internal {
		t.Fatalf("expected Internal default, got %s", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("expected empty kind for nil error, got %s", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Internal, "wrapped", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(NotPermitted) == 0 || ExitCode(Internal) == 0 {
		t.Fatalf("non-success kinds must map to non-zero exit codes")
	}
	if ExitCode(NotPermitted) == ExitCode(NotFound) {
		t.Fatalf("distinct kinds should map to distinct exit codes")
	}
}
