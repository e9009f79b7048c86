package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsByCode(t *testing.T) {
	err := New(CodeStackInvalid, "stack name is empty")
	if !errors.Is(err, New(CodeStackInvalid, "different message")) {
		t.Fatal("expected errors with the same code to match")
	}
	if errors.Is(err, New(CodeBringUpFailed, "stack name is empty")) {
		t.Fatal("expected errors with different codes to not match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(CodeContainerStart, "start postgres container", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
	if err.Error() != "start postgres container" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("up: %w", New(CodeDependencyUnhealthy, "db never became healthy"))
	if got := CodeOf(wrapped); got != CodeDependencyUnhealthy {
		t.Fatalf("CodeOf = %q, want %q", got, CodeDependencyUnhealthy)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf plain error = %q, want %q", got, CodeUnknown)
	}
}

func TestExitStatus(t *testing.T) {
	if got := ExitStatus(nil); got != 0 {
		t.Fatalf("ExitStatus(nil) = %d, want 0", got)
	}
	if got := ExitStatus(New(CodeStackInvalid, "bad stack")); got != 2 {
		t.Fatalf("config error exit = %d, want 2", got)
	}
	if got := ExitStatus(New(CodeRuntimeUnavailable, "no docker")); got != 3 {
		t.Fatalf("runtime error exit = %d, want 3", got)
	}
	if got := ExitStatus(New(CodeDependencyUnhealthy, "gate failed")); got != 4 {
		t.Fatalf("bring-up error exit = %d, want 4", got)
	}
	if got := ExitStatus(fmt.Errorf("plain")); got != 1 {
		t.Fatalf("unknown error exit = %d, want 1", got)
	}
}
