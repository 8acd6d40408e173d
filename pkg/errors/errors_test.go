package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestAppErrorMessageIncludesInternal(t *testing.T) {
	base := errors.New("connection refused")
	err := ErrInternalServer.WithInternal(base)

	if err.Error() != "Internal server error: connection refused" {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to match the internal error")
	}
}

func TestFromErrorPassesThroughAppError(t *testing.T) {
	original := NewValidation("scope=team requires team_id")

	converted := FromError(original)
	if converted != original {
		t.Fatal("expected FromError to return the original AppError")
	}
	if converted.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status code %d", converted.StatusCode)
	}
}

func TestFromErrorWrapsGenericError(t *testing.T) {
	generic := errors.New("boom")

	converted := FromError(generic)
	if converted.Code != ErrInternalServer.Code {
		t.Fatalf("expected internal server code, got %s", converted.Code)
	}
	if !errors.Is(converted, generic) {
		t.Fatal("expected wrapped error to unwrap to the original")
	}
}

func TestFromErrorNil(t *testing.T) {
	if FromError(nil) != nil {
		t.Fatal("expected nil for nil input")
	}
}

func TestWrapPreservesInternal(t *testing.T) {
	base := errors.New("disk full")
	err := Wrap(base, "persist notification")

	if err.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", err.StatusCode)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrap to keep the internal error")
	}
}
