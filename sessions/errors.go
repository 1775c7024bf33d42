package sessions

import (
	"errors"
	"fmt"
)

// Error codes carried by AuthError. Provider specific codes are passed through
// upper-cased, so this list is not exhaustive.
const (
	CodeMissingAccessToken  = "MISSING_ACCESS_TOKEN"
	CodeMissingRefreshToken = "MISSING_REFRESH_TOKEN"
	CodeMissingUserEmail    = "MISSING_USER_EMAIL"
	CodeMissingUserID       = "MISSING_USER_ID"

	CodeNoSessionReturned     = "NO_SESSION_RETURNED"
	CodeNoSessionAfterRefresh = "NO_SESSION_AFTER_REFRESH"
	CodeNoSessionAfterSignUp  = "NO_SESSION_AFTER_SIGNUP"

	CodeSignInError         = "SIGN_IN_ERROR"
	CodeSignUpError         = "SIGN_UP_ERROR"
	CodeSignUpUnsupported   = "SIGN_UP_UNSUPPORTED"
	CodeRefreshError        = "REFRESH_ERROR"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeWrongPassword       = "WRONG_PASSWORD"
	CodeEmailInUse          = "EMAIL_IN_USE"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"

	CodeNoRefreshToken = "NO_REFRESH_TOKEN"
	CodeRefreshFailed  = "REFRESH_FAILED"
	CodeRefreshTimeout = "REFRESH_TIMEOUT"
	CodePersistFailed  = "PERSIST_FAILED"
)

const (
	genericMessage        = "Something went wrong. Please try again."
	sessionExpiredMessage = "Your session has expired. Please sign in again."
)

// ErrSessionExpired is wrapped by every error produced when a refresh cycle fails.
// It is the terminal state: callers should route the user back to sign-in.
var ErrSessionExpired = errors.New("session expired")

// AuthError is the canonical error returned by providers, the refresh coordinator
// and the session store. Provider-specific error types never escape past it.
type AuthError struct {
	Code    string // Machine readable code, e.g. MISSING_ACCESS_TOKEN
	Message string // Human readable message
	Err     error  // Underlying cause, may be nil
}

// NewAuthError creates an AuthError without an underlying cause.
func NewAuthError(code, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

// WrapAuthError creates an AuthError wrapping err.
func WrapAuthError(code, message string, err error) *AuthError {
	return &AuthError{Code: code, Message: message, Err: err}
}

// NewSessionExpiredError builds the uniform refresh-exhaustion error. code is the
// underlying provider code when known, otherwise CodeRefreshFailed is used.
func NewSessionExpiredError(code string, cause error) *AuthError {
	if code == "" {
		code = CodeRefreshFailed
	}
	if cause == nil {
		return &AuthError{Code: code, Message: sessionExpiredMessage, Err: ErrSessionExpired}
	}
	return &AuthError{Code: code, Message: sessionExpiredMessage, Err: fmt.Errorf("%w: %w", ErrSessionExpired, cause)}
}

func (e *AuthError) Error() string {
	if e.Err != nil && !errors.Is(e.Err, ErrSessionExpired) {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsProviderShapeError reports whether the code signals a malformed provider session
// rather than a credential problem.
func (e *AuthError) IsProviderShapeError() bool {
	switch e.Code {
	case CodeMissingAccessToken, CodeMissingRefreshToken, CodeMissingUserEmail, CodeMissingUserID,
		CodeNoSessionReturned, CodeNoSessionAfterRefresh:
		return true
	}
	return false
}

// UserMessage returns the text suitable for display. Credential errors are surfaced
// verbatim, provider defects get a generic retry message.
func (e *AuthError) UserMessage() string {
	if errors.Is(e, ErrSessionExpired) {
		return sessionExpiredMessage
	}
	if e.IsProviderShapeError() || e.Message == "" {
		return genericMessage
	}
	return e.Message
}

// Code extracts the AuthError code from err, or "" when err is not an AuthError.
func Code(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
