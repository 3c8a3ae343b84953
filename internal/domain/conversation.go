package domain

import "errors"

// ErrSessionBusy is returned by session stores when another request already
// holds the session's in-flight lease.
var ErrSessionBusy = errors.New("domain: session has a request in flight")

// PromptRequest is the provider-agnostic payload sent to the remote model.
type PromptRequest struct {
	ModelID        string
	SystemPreamble string
	History        []Message
	UserMessage    string
	Temperature    float32
}

// RawResponse is what a transport received before validation.
// ProviderError carries an error the provider embedded in an otherwise
// successful response (blocked prompt, safety stop, refusal).
type RawResponse struct {
	Text          string
	HasText       bool
	ProviderError string
	FinishReason  string
}
