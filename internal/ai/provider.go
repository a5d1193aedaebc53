package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request is a single completion call. APIKey overrides the provider's
// configured key when set (bring-your-own-key).
type Request struct {
	Model        string
	SystemPrompt string
	Prompt       string
	Temperature  float64
	MaxTokens    int
	APIKey       string
}

type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// KeyChecker performs a cheap authenticated call to confirm a key works.
type KeyChecker interface {
	CheckKey(ctx context.Context, apiKey string) error
}

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider string
	Status   int
	Code     string
	Type     string
	Message  string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s status %d", e.Provider, e.Status)
	if e.Code != "" {
		b.WriteString(" (" + e.Code + ")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

var ErrMissingKey = errors.New("missing api key")
