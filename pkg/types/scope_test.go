package types

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestScopeContext(t *testing.T) {
	if got := ScopeFrom(context.Background()); got != (Scope{}) {
		t.Errorf("ScopeFrom(background) = %+v, want zero", got)
	}
	want := Scope{ActorID: "alice", ProjectID: "17"}
	if got := ScopeFrom(WithScope(context.Background(), want)); got != want {
		t.Errorf("ScopeFrom() = %+v, want %+v", got, want)
	}
}

func TestScopePrivileged(t *testing.T) {
	tests := []struct {
		scope Scope
		want  bool
	}{
		{Scope{ActorID: "alice"}, false},
		{Scope{ActorID: "root", SuperUser: true}, true},
		{Scope{ActorID: "am", AccountManager: true}, true},
	}
	for _, tt := range tests {
		if got := tt.scope.Privileged(); got != tt.want {
			t.Errorf("%+v.Privileged() = %v, want %v", tt.scope, got, tt.want)
		}
	}
}

func TestValidationError(t *testing.T) {
	err := error(&ValidationError{Fields: map[string]string{"title": "required", "due": "invalid date"}})
	if !errors.Is(err, ErrValidationFailed) {
		t.Error("ValidationError must match ErrValidationFailed")
	}
	if got, want := err.Error(), "validation failed: due: invalid date, title: required"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	wrapped := fmt.Errorf("saving: %w", err)
	var verr *ValidationError
	if !errors.As(wrapped, &verr) || verr.Fields["title"] != "required" {
		t.Errorf("errors.As lost the fields: %v", wrapped)
	}
}

func TestPersistenceError(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&PersistenceError{Op: "insert", Type: "task", Err: cause})
	if !errors.Is(err, ErrPersistenceFailed) {
		t.Error("PersistenceError must match ErrPersistenceFailed")
	}
	if !errors.Is(err, cause) {
		t.Error("PersistenceError must unwrap to its cause")
	}
	if got := err.Error(); got != "insert task: disk full" {
		t.Errorf("Error() = %q", got)
	}
}
