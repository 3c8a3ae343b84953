package usecase

import (
	"errors"
	"net/http"
	"strings"

	"company-assistant/internal/credential"
)

// httpStatusCoder is implemented by transport errors that carry an HTTP status.
type httpStatusCoder interface {
	HTTPStatusCode() int
}

// providerStatuser is implemented by transport errors that carry a provider
// status name such as "RESOURCE_EXHAUSTED".
type providerStatuser interface {
	ProviderStatus() string
}

type messageRule struct {
	kind  ErrorKind
	match func(msg string) bool
}

// Checked in order against the lowercased error text.
var messageRules = []messageRule{
	{KindAuthentication, containsAny("api key", "invalid key", "permission denied", "authentication failed", "unauthenticated", "unauthorized")},
	{KindModelUnavailable, func(msg string) bool {
		return strings.Contains(msg, "model") &&
			containsAny("not found", "not supported", "unsupported", "does not exist", "is not available")(msg)
	}},
	{KindQuotaExceeded, containsAny("quota", "rate limit", "too many requests", "resource exhausted", "resource_exhausted")},
}

// Classify maps any failure from the invoke/validate path to a DomainError.
// Structured status codes win over message matching; anything unmatched is
// KindUnknown with the raw error kept for operators.
func Classify(err error) *DomainError {
	if err == nil {
		return nil
	}
	var derr *DomainError
	if errors.As(err, &derr) {
		return derr
	}

	switch {
	case errors.Is(err, ErrNotConfigured),
		errors.Is(err, credential.ErrNotSet),
		errors.Is(err, credential.ErrEmpty),
		errors.Is(err, credential.ErrPlaceholder):
		return newError(KindConfiguration, err)
	case errors.Is(err, ErrInvalidResponse):
		return newError(KindValidation, err)
	}

	if kind, ok := classifyStatus(err); ok {
		return newError(kind, err)
	}

	msg := strings.ToLower(err.Error())
	for _, r := range messageRules {
		if r.match(msg) {
			return newError(r.kind, err)
		}
	}
	return newError(KindUnknown, err)
}

func classifyStatus(err error) (ErrorKind, bool) {
	var ps providerStatuser
	if errors.As(err, &ps) {
		switch strings.ToUpper(strings.TrimSpace(ps.ProviderStatus())) {
		case "UNAUTHENTICATED", "PERMISSION_DENIED":
			return KindAuthentication, true
		case "RESOURCE_EXHAUSTED":
			return KindQuotaExceeded, true
		case "NOT_FOUND":
			return KindModelUnavailable, true
		}
	}

	var sc httpStatusCoder
	if errors.As(err, &sc) {
		switch sc.HTTPStatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return KindAuthentication, true
		case http.StatusTooManyRequests:
			return KindQuotaExceeded, true
		case http.StatusNotFound:
			return KindModelUnavailable, true
		}
	}
	return "", false
}

func containsAny(needles ...string) func(string) bool {
	return func(msg string) bool {
		for _, n := range needles {
			if strings.Contains(msg, n) {
				return true
			}
		}
		return false
	}
}
