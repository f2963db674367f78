package domain

import (
	"errors"
	"fmt"
)

// DomainError is a business error carrying a stable code.
// Codes have the form CM-<AREA>-<NNNN>; the last four digits mirror the
// closest HTTP status so admin tooling can map them.
type DomainError struct {
	Code    string
	Message string
	Details string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a DomainError.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// WithDetails returns a copy with details attached.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Details: details, Cause: e.Cause}
}

// WithCause returns a copy wrapping cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Details: e.Details, Cause: cause}
}

// ClientMessage is the text shown to chat clients: the message, plus details when present.
func (e *DomainError) ClientMessage() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// IsDomainError reports whether err is a DomainError, optionally with the given code.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return code == "" || de.Code == code
	}
	return false
}

// GetErrorCode extracts the code of a DomainError, or "".
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Validation and authentication.
var (
	ErrValidation           = NewDomainError("CM-VAL-4000", "invalid request")
	ErrUnauthenticated      = NewDomainError("CM-AUTH-4010", "session is not authenticated")
	ErrInvalidCredentials   = NewDomainError("CM-AUTH-4011", "invalid email or password")
	ErrTooManyRequests      = NewDomainError("CM-AUTH-4290", "too many requests")
	ErrAlreadyAuthenticated = NewDomainError("CM-AUTH-4091", "session already authenticated")
)

// Users.
var (
	ErrUserNotFound = NewDomainError("CM-USER-4040", "user not found")
	ErrUserExists   = NewDomainError("CM-USER-4090", "user already registered")
)

// Channels and invitations.
var (
	ErrChannelNotFound    = NewDomainError("CM-CHAN-4040", "channel not found")
	ErrChannelExists      = NewDomainError("CM-CHAN-4090", "channel already exists")
	ErrNotChannelMember   = NewDomainError("CM-CHAN-4030", "user is not a channel member")
	ErrInvitationNotFound = NewDomainError("CM-INV-4040", "invitation not found")
	ErrInvitationExists   = NewDomainError("CM-INV-4090", "invitation already pending")
	ErrInvitationClosed   = NewDomainError("CM-INV-4091", "invitation already answered")
)

// Messages and sessions.
var (
	ErrMessageNotFound = NewDomainError("CM-MSG-4040", "message not found")
	ErrSessionNotFound = NewDomainError("CM-SESS-4040", "session not found")
)

// Server-side conditions.
var (
	ErrCapacity       = NewDomainError("CM-SRV-5030", "server at capacity")
	ErrInternalServer = NewDomainError("CM-SRV-5000", "internal server error")
	ErrStorage        = NewDomainError("CM-SRV-5001", "storage error")
)

// IsClientError reports whether err should be shown verbatim to a chat client
// rather than masked as an internal error.
func IsClientError(err error) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	switch de.Code {
	case ErrCapacity.Code, ErrInternalServer.Code, ErrStorage.Code:
		return false
	}
	return true
}
