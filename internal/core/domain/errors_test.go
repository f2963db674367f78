package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{"without details", NewDomainError("CM-TEST-1000", "test message"), "[CM-TEST-1000] test message"},
		{"with details", NewDomainError("CM-TEST-1001", "test message").WithDetails("extra"), "[CM-TEST-1001] test message: extra"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_IsAndWrap(t *testing.T) {
	err := ErrUserNotFound.WithDetails("id=7")
	if !errors.Is(err, ErrUserNotFound) {
		t.Error("WithDetails copy should match sentinel by code")
	}
	if errors.Is(err, ErrChannelNotFound) {
		t.Error("different code should not match")
	}

	wrapped := fmt.Errorf("load user: %w", err)
	if !IsDomainError(wrapped, "CM-USER-4040") {
		t.Error("IsDomainError should see through fmt wrapping")
	}
	if GetErrorCode(wrapped) != "CM-USER-4040" {
		t.Errorf("GetErrorCode = %q", GetErrorCode(wrapped))
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Error("plain error should have no code")
	}

	cause := errors.New("disk full")
	se := ErrStorage.WithCause(cause)
	if !errors.Is(se, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
}

func TestIsClientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrValidation.WithDetails("email"), true},
		{ErrInvalidCredentials, true},
		{fmt.Errorf("x: %w", ErrNotChannelMember), true},
		{ErrInternalServer, false},
		{ErrStorage.WithCause(errors.New("io")), false},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := IsClientError(tt.err); got != tt.want {
			t.Errorf("IsClientError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestDomainError_ClientMessage(t *testing.T) {
	if got := ErrValidation.WithDetails("email is required").ClientMessage(); got != "invalid request: email is required" {
		t.Errorf("ClientMessage() = %q", got)
	}
}
