package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("bad input"), http.StatusBadRequest},
		{NotFound("missing"), http.StatusNotFound},
		{Forbidden("nope"), http.StatusForbidden},
		{Unauthorized("who"), http.StatusUnauthorized},
		{Internal("boom", errors.New("db down")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := StatusCode(tc.err); got != tc.want {
			t.Errorf("StatusCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestStatusCodeOnWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("while handling request: %w", NotFound("message not found"))
	if got := StatusCode(wrapped); got != http.StatusNotFound {
		t.Fatalf("expected wrapped NotFound to map to 404, got %d", got)
	}
	if !IsNotFound(wrapped) {
		t.Fatal("expected IsNotFound to see through wrapping")
	}
}

func TestInternalPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("failed to persist message", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected Unwrap to expose the cause")
	}
	if msg := err.Error(); msg != "failed to persist message: connection reset" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestKindHelpers(t *testing.T) {
	if !IsValidation(Validation("x")) || IsValidation(NotFound("x")) {
		t.Error("IsValidation misclassified")
	}
	if !IsForbidden(Forbidden("x")) || IsForbidden(Validation("x")) {
		t.Error("IsForbidden misclassified")
	}
	if !IsUnauthorized(Unauthorized("x")) || IsUnauthorized(Forbidden("x")) {
		t.Error("IsUnauthorized misclassified")
	}
}
