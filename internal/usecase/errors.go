package usecase

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories surfaced to callers.
type ErrorKind string

const (
	KindConfiguration    ErrorKind = "ConfigurationError"
	KindAuthentication   ErrorKind = "AuthenticationError"
	KindModelUnavailable ErrorKind = "ModelUnavailableError"
	KindQuotaExceeded    ErrorKind = "QuotaExceededError"
	KindValidation       ErrorKind = "ValidationError"
	KindUnknown          ErrorKind = "UnknownError"
)

var userMessages = map[ErrorKind]string{
	KindConfiguration:    "AI Service Unconfigured: Missing API Key",
	KindAuthentication:   "API Key Error: the AI service rejected the configured API key. Please verify the key is valid.",
	KindModelUnavailable: "The configured AI model was not found or is not supported.",
	KindQuotaExceeded:    "The AI service quota or rate limit has been reached. Please try again later.",
	KindValidation:       "The AI service returned an unusable response. Please try again.",
	KindUnknown:          "Sorry, an error occurred while processing your request. Please try again later.",
}

var (
	// ErrNotConfigured means the credential check failed before any remote call.
	ErrNotConfigured = errors.New("usecase: assistant is not configured")
	// ErrInvalidResponse means a response arrived but its content is unusable.
	ErrInvalidResponse = errors.New("usecase: invalid model response")

	ErrEmptyMessage    = errors.New("usecase: message must not be empty")
	ErrRequestInFlight = errors.New("usecase: a request is already in flight for this session")
)

// DomainError is the only error type returned for a failed exchange.
// Message is safe to show to end users; Err keeps the raw cause for logs.
type DomainError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("usecase: %s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind ErrorKind, err error) *DomainError {
	msg, ok := userMessages[kind]
	if !ok {
		kind, msg = KindUnknown, userMessages[KindUnknown]
	}
	return &DomainError{Kind: kind, Message: msg, Err: err}
}

// UserMessage returns the fixed end-user text for kind.
func UserMessage(kind ErrorKind) string {
	if msg, ok := userMessages[kind]; ok {
		return msg
	}
	return userMessages[KindUnknown]
}

// KindOf returns the kind of err when it is a *DomainError.
func KindOf(err error) (ErrorKind, bool) {
	var derr *DomainError
	if !errors.As(err, &derr) {
		return "", false
	}
	return derr.Kind, true
}
