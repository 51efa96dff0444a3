package client

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{429, ErrorClassRateLimit},
		{400, ErrorClassClient},
		{404, ErrorClassClient},
		{499, ErrorClassClient},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
		{200, ""},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{ErrorClassClient, false},
		{"", false},
	}

	for _, tt := range tests {
		if got := shouldRetry(tt.class); got != tt.want {
			t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{
		StatusCode: 503,
		ErrorClass: ErrorClassServer,
		Path:       "/v1/courses",
		Message:    "unavailable",
	}
	msg := err.Error()
	for _, want := range []string{"server", "503", "/v1/courses", "unavailable"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q should contain %q", msg, want)
		}
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &APIError{
		StatusCode: 0,
		ErrorClass: ErrorClassNetwork,
		Path:       "/v1/users/7",
		Err:        inner,
	}

	if !errors.Is(err, inner) {
		t.Error("errors.Is should see the wrapped error")
	}

	wrapped := fmt.Errorf("lookup failed: %w", err)
	var apiErr *APIError
	if !errors.As(wrapped, &apiErr) {
		t.Fatal("errors.As should find *APIError through wrapping")
	}
	if apiErr.ErrorClass != ErrorClassNetwork {
		t.Errorf("class = %q, want network", apiErr.ErrorClass)
	}
}

func TestAPIError_RetryAfter(t *testing.T) {
	err := &APIError{StatusCode: 429, ErrorClass: ErrorClassRateLimit, RetryAfter: 2 * time.Second}
	if err.RetryAfter != 2*time.Second {
		t.Errorf("RetryAfter = %v, want 2s", err.RetryAfter)
	}
}
