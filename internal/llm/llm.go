// Package llm is the language-model capability consumed by the pipeline: a
// single Complete call over an abstract provider, with failures classified as
// Unavailable (transport) or Malformed (unusable response).
package llm

import (
	"context"
	"errors"
)

// Sentinel errors for the two failure modes callers must handle.
var (
	ErrUnavailable = errors.New("llm: provider unavailable")
	ErrMalformed   = errors.New("llm: malformed response")
)

// Request is one completion request.
type Request struct {
	System string
	User   string

	// ReasoningHint nudges providers that support effort levels
	// (low, medium, high). Optional.
	ReasoningHint string
}

// Client is the language-model capability.
type Client interface {
	// Complete sends a prompt and returns the response text. Failures wrap
	// ErrUnavailable or ErrMalformed.
	Complete(ctx context.Context, req Request) (string, error)
}
