package usecase

import (
	"context"
	"errors"
	"fmt"

	"company-assistant/internal/credential"
)

// ConfigurationStatus reports whether the model credential is usable.
type ConfigurationStatus struct {
	Configured bool   `json:"configured"`
	Detail     string `json:"detail"`
}

// ConfigurationGuard checks the credential before any remote call.
type ConfigurationGuard struct {
	source credential.Source
}

func NewConfigurationGuard(src credential.Source) *ConfigurationGuard {
	return &ConfigurationGuard{source: src}
}

// Check reads the credential once and never fails; problems are reported
// through the returned status.
func (g *ConfigurationGuard) Check(ctx context.Context) ConfigurationStatus {
	if g == nil || g.source == nil {
		return ConfigurationStatus{Detail: "no credential source configured"}
	}
	name := g.source.Name()
	_, err := credential.Resolve(ctx, g.source)
	switch {
	case err == nil:
		return ConfigurationStatus{Configured: true, Detail: "credential present (" + name + ")"}
	case errors.Is(err, credential.ErrNotSet):
		return ConfigurationStatus{Detail: "credential missing (" + name + ")"}
	case errors.Is(err, credential.ErrEmpty):
		return ConfigurationStatus{Detail: "credential is empty (" + name + ")"}
	case errors.Is(err, credential.ErrPlaceholder):
		return ConfigurationStatus{Detail: "credential is the placeholder " + credential.Placeholder + " (" + name + ")"}
	default:
		return ConfigurationStatus{Detail: fmt.Sprintf("credential unavailable (%s): %v", name, err)}
	}
}
