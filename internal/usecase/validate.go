package usecase

import (
	"fmt"
	"strings"

	"company-assistant/internal/domain"
)

// validate turns a received payload into a reply, or an ErrInvalidResponse
// when the content is unusable.
func validate(raw domain.RawResponse) (domain.ChatResponse, error) {
	if pe := strings.TrimSpace(raw.ProviderError); pe != "" {
		return domain.ChatResponse{}, fmt.Errorf("%w: provider reported error: %s", ErrInvalidResponse, pe)
	}
	if !raw.HasText {
		return domain.ChatResponse{}, fmt.Errorf("%w: reply field missing", ErrInvalidResponse)
	}
	reply := strings.TrimSpace(raw.Text)
	if reply == "" {
		return domain.ChatResponse{}, fmt.Errorf("%w: reply is empty", ErrInvalidResponse)
	}
	return domain.ChatResponse{Reply: reply}, nil
}
