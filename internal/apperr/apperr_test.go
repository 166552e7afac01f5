package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		kind   Kind
		status int
	}{
		{"validation", Validation("Validation failed", "Prompt is required"), KindValidation, http.StatusBadRequest},
		{"resource", Resource("busy", nil), KindResource, http.StatusServiceUnavailable},
		{"rate limit", RateLimit("slow down"), KindRateLimit, http.StatusTooManyRequests},
		{"cancelled", Cancelled("Image generation cancelled"), KindCancelled, StatusClientClosedRequest},
		{"not found", NotFound("Request not found"), KindNotFound, http.StatusNotFound},
		{"syntax", Syntax(errors.New("unexpected EOF")), KindSyntax, http.StatusBadRequest},
		{"timeout", Timeout("timed out", nil), KindTimeout, http.StatusGatewayTimeout},
		{"upstream", Upstream("bad answer"), KindUpstream, http.StatusBadGateway},
		{"internal", Internal("boom", nil), KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", tt.err.Kind, tt.kind)
			}
			if tt.err.Status != tt.status {
				t.Errorf("status = %d, want %d", tt.err.Status, tt.status)
			}
		})
	}
}

func TestFrom(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if From(nil) != nil {
			t.Error("expected nil")
		}
	})

	t.Run("wrapped app error", func(t *testing.T) {
		wrapped := fmt.Errorf("generate: %w", RateLimit("Too Many Requests"))
		got := From(wrapped)
		if got.Kind != KindRateLimit {
			t.Errorf("expected rate limit kind, got %s", got.Kind)
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		got := From(fmt.Errorf("do: %w", context.Canceled))
		if got.Kind != KindCancelled {
			t.Errorf("expected cancelled kind, got %s", got.Kind)
		}
	})

	t.Run("plain error", func(t *testing.T) {
		got := From(errors.New("disk full"))
		if got.Kind != KindInternal || got.Message != "disk full" {
			t.Errorf("unexpected mapping: %+v", got)
		}
		if got.Error() != "disk full" {
			t.Errorf("message duplicated: %q", got.Error())
		}
	})
}

func TestIsAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("call: %w", Resource("upstream unavailable", cause))

	if !errors.Is(err, &Error{Kind: KindResource}) {
		t.Error("errors.Is should match by kind")
	}
	if errors.Is(err, &Error{Kind: KindValidation}) {
		t.Error("errors.Is should not match a different kind")
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
	if !IsKind(err, KindResource) {
		t.Error("IsKind should match")
	}
}
