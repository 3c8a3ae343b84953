package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"company-assistant/internal/credential"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"not configured", fmt.Errorf("%w: missing", ErrNotConfigured), KindConfiguration},
		{"credential placeholder", credential.ErrPlaceholder, KindConfiguration},
		{"credential empty", fmt.Errorf("wrap: %w", credential.ErrEmpty), KindConfiguration},
		{"invalid response", fmt.Errorf("%w: reply field missing", ErrInvalidResponse), KindValidation},

		{"http 401", &statusError{code: 401, msg: "boom"}, KindAuthentication},
		{"http 403", &statusError{code: 403, msg: "boom"}, KindAuthentication},
		{"http 404", &statusError{code: 404, msg: "boom"}, KindModelUnavailable},
		{"http 429", &statusError{code: 429, msg: "boom"}, KindQuotaExceeded},
		{"http 500", &statusError{code: 500, msg: "internal"}, KindUnknown},

		{"provider unauthenticated", &providerError{status: "UNAUTHENTICATED"}, KindAuthentication},
		{"provider permission denied", &providerError{status: "permission_denied"}, KindAuthentication},
		{"provider exhausted", &providerError{status: "RESOURCE_EXHAUSTED"}, KindQuotaExceeded},
		{"provider not found", &providerError{status: "NOT_FOUND"}, KindModelUnavailable},

		{"message api key", errors.New("API key not valid. Please pass a valid API key."), KindAuthentication},
		{"message model", errors.New("models/gemini-9 is not found for API version v1beta"), KindModelUnavailable},
		{"message quota", errors.New("You exceeded your current quota"), KindQuotaExceeded},
		{"message rate limit", errors.New("Rate limit reached for requests"), KindQuotaExceeded},
		{"not found without model", errors.New("page not found"), KindUnknown},
		{"unmatched", errors.New("connection reset by peer"), KindUnknown},
		{"deadline", context.DeadlineExceeded, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			derr := Classify(tt.err)
			require.NotNil(t, derr)
			require.Equal(t, tt.want, derr.Kind)
			require.Equal(t, userMessages[tt.want], derr.Message)
			require.ErrorIs(t, derr, tt.err)
		})
	}
}

func TestClassify_StatusWinsOverMessage(t *testing.T) {
	// The text mentions a quota but the status says authentication.
	derr := Classify(&statusError{code: 401, msg: "quota project not set"})
	require.Equal(t, KindAuthentication, derr.Kind)
}

func TestClassify_KeepsExistingDomainError(t *testing.T) {
	orig := newError(KindQuotaExceeded, errors.New("x"))
	require.Same(t, orig, Classify(fmt.Errorf("outer: %w", orig)))
}

func TestClassify_Nil(t *testing.T) {
	require.Nil(t, Classify(nil))
}

func TestNewError_UnknownKindFallsBack(t *testing.T) {
	derr := newError(ErrorKind("Bogus"), errors.New("x"))
	require.Equal(t, KindUnknown, derr.Kind)
	require.Equal(t, userMessages[KindUnknown], derr.Message)
}

func TestKindOf(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	require.False(t, ok)

	kind, ok := KindOf(fmt.Errorf("wrap: %w", newError(KindValidation, nil)))
	require.True(t, ok)
	require.Equal(t, KindValidation, kind)
}
