package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned when a user lookup finds no row.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("email already registered")

	// ErrAccountDisabled is returned when a deactivated user tries to log in.
	ErrAccountDisabled = errors.New("user account is deactivated")

	// ErrNothingToUpdate is returned when a profile update carries no fields.
	ErrNothingToUpdate = errors.New("no fields to update")

	// ErrTrackingNotFound is returned when an entity has no status tracking yet.
	ErrTrackingNotFound = errors.New("status tracking not found")

	// ErrDependencyNotFound is returned when removing a dependency the tracking does not have.
	ErrDependencyNotFound = errors.New("dependency not found")

	// ErrInvalidEntityType is returned for entity types outside contract/task/signature/document.
	ErrInvalidEntityType = errors.New("invalid entity type")

	// ErrStatusBlocked is returned when a status change is refused because of unmet dependencies.
	ErrStatusBlocked = errors.New("status change blocked")

	// ErrValidation is returned when a request fails field validation.
	ErrValidation = errors.New("validation failed")

	// ErrInactive is returned when an operation resolves after its owner was torn down.
	ErrInactive = errors.New("consumer no longer active")
)

// AuthErrorKind classifies authentication failures.
type AuthErrorKind string

const (
	AuthInvalidCredentials AuthErrorKind = "invalid_credentials"
	AuthInvalidToken       AuthErrorKind = "invalid_token"
	AuthNetworkFailure     AuthErrorKind = "network_failure"
)

// AuthError is returned by login and token verification.
type AuthError struct {
	Kind AuthErrorKind
	Err  error
}

// Kind sentinels for use with errors.Is.
var (
	ErrInvalidCredentials = &AuthError{Kind: AuthInvalidCredentials}
	ErrInvalidToken       = &AuthError{Kind: AuthInvalidToken}
	ErrNetworkFailure     = &AuthError{Kind: AuthNetworkFailure}
)

// NewAuthError wraps cause with the given kind.
func NewAuthError(kind AuthErrorKind, cause error) *AuthError {
	return &AuthError{Kind: kind, Err: cause}
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "auth: " + string(e.Kind)
	}
	return fmt.Sprintf("auth: %s: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches any AuthError of the same kind.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

// ConnectionErrorKind classifies real-time connection failures.
type ConnectionErrorKind string

const (
	ConnNotConnected    ConnectionErrorKind = "not_connected"
	ConnOpenFailed      ConnectionErrorKind = "open_failed"
	ConnUnexpectedClose ConnectionErrorKind = "unexpected_close"
)

// ConnectionError describes why a connection could not be used.
type ConnectionError struct {
	Kind ConnectionErrorKind
	Err  error
}

// Kind sentinels for use with errors.Is.
var (
	ErrNotConnected    = &ConnectionError{Kind: ConnNotConnected}
	ErrOpenFailed      = &ConnectionError{Kind: ConnOpenFailed}
	ErrUnexpectedClose = &ConnectionError{Kind: ConnUnexpectedClose}
)

// NewConnectionError wraps cause with the given kind.
func NewConnectionError(kind ConnectionErrorKind, cause error) *ConnectionError {
	return &ConnectionError{Kind: kind, Err: cause}
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "connection: " + string(e.Kind)
	}
	return fmt.Sprintf("connection: %s: %v", e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is matches any ConnectionError of the same kind.
func (e *ConnectionError) Is(target error) bool {
	t, ok := target.(*ConnectionError)
	return ok && t.Kind == e.Kind
}
