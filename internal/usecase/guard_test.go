package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"company-assistant/internal/credential"
	"company-assistant/internal/integrations/paramstore"
)

type errSource struct{ err error }

func (s errSource) Credential(context.Context) (string, error) { return "", s.err }
func (s errSource) Name() string                               { return "broken" }

func TestConfigurationGuard(t *testing.T) {
	tests := []struct {
		name       string
		src        credential.Source
		configured bool
		detail     string
	}{
		{"present", credential.Static{Value: "k"}, true, "credential present (static)"},
		{"empty", credential.Static{Value: " "}, false, "credential is empty (static)"},
		{"placeholder", credential.Static{Value: credential.Placeholder}, false, "credential is the placeholder MISSING_API_KEY (static)"},
		{"not set", errSource{err: credential.ErrNotSet}, false, "credential missing (broken)"},
		{"lookup failure", errSource{err: errors.New("ssm timeout")}, false, "credential unavailable (broken): ssm timeout"},
		{"nil source", nil, false, "no credential source configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewConfigurationGuard(tt.src).Check(context.Background())
			require.Equal(t, ConfigurationStatus{Configured: tt.configured, Detail: tt.detail}, got)
		})
	}
}

type missingParam struct{}

func (missingParam) GetParameter(_ context.Context, name string) (string, error) {
	return "", fmt.Errorf("%w: %q", paramstore.ErrNotFound, name)
}

func TestConfigurationGuard_MissingSSMParameter(t *testing.T) {
	src, err := credential.NewParamStore(missingParam{}, "/company-assistant/api-key", 0)
	require.NoError(t, err)

	got := NewConfigurationGuard(src).Check(context.Background())
	require.Equal(t, ConfigurationStatus{Detail: "credential missing (ssm:/company-assistant/api-key)"}, got)
}

func TestConfigurationGuard_Recomputed(t *testing.T) {
	src := &credential.Env{Key: "ASSISTANT_TEST_KEY"}
	g := NewConfigurationGuard(src)

	t.Setenv("ASSISTANT_TEST_KEY", "")
	require.False(t, g.Check(context.Background()).Configured)

	t.Setenv("ASSISTANT_TEST_KEY", "real-key")
	require.True(t, g.Check(context.Background()).Configured)
}
