package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation("missing prompt"), http.StatusBadRequest},
		{Auth("invalid credentials"), http.StatusUnauthorized},
		{Forbidden("nope"), http.StatusForbidden},
		{NotFound("device"), http.StatusNotFound},
		{Quota("daily limit reached"), http.StatusTooManyRequests},
		{Network("webhook unreachable", errors.New("dial tcp")), http.StatusBadGateway},
		{Configuration("billing disabled"), http.StatusServiceUnavailable},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("reserve: %w", Network("Usage service unreachable", cause))

	if KindOf(err) != KindNetwork {
		t.Fatalf("KindOf = %s, want network", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
	if Message(err) != "Usage service unreachable" {
		t.Fatalf("Message = %q", Message(err))
	}
}

func TestMessageHidesUnclassified(t *testing.T) {
	if got := Message(errors.New("pq: password authentication failed")); got != "Internal server error" {
		t.Fatalf("Message = %q", got)
	}
}
