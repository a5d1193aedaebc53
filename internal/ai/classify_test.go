package ai

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"unauthorized status", &APIError{Provider: "openai", Status: 401}, FailureInvalidKey},
		{"invalid key code", &APIError{Provider: "openai", Status: 400, Code: "invalid_api_key"}, FailureInvalidKey},
		{"rate limited", &APIError{Provider: "openai", Status: 429, Message: "slow down"}, FailureRateLimited},
		{"quota beats 429", &APIError{Provider: "openai", Status: 429, Code: "insufficient_quota"}, FailureQuota},
		{"quota in type", &APIError{Provider: "openai", Status: 429, Type: "insufficient_quota"}, FailureQuota},
		{"forbidden", &APIError{Provider: "openai", Status: 403}, FailureForbidden},
		{"billing message", &APIError{Provider: "openai", Status: 400, Message: "Billing hard limit reached"}, FailureBilling},
		{"wrapped", fmt.Errorf("check: %w", &APIError{Provider: "openai", Status: 401}), FailureInvalidKey},
		{"plain text status", errors.New("openai status 429"), FailureRateLimited},
		{"network", errors.New("dial tcp: connection refused"), FailureAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestClassifyErrorReasons(t *testing.T) {
	assert.Equal(t, "Invalid or revoked API key", ClassifyError(&APIError{Status: 401}).Reason)
	assert.Equal(t, "API key has exhausted its quota", ClassifyError(&APIError{Status: 429, Code: "insufficient_quota"}).Reason)

	long := errors.New(strings.Repeat("x", 300))
	got := ClassifyError(long)
	assert.Equal(t, FailureAPI, got.Kind)
	assert.Equal(t, "API error: "+strings.Repeat("x", 100), got.Reason)

	umlauts := ClassifyError(errors.New(strings.Repeat("ü", 150)))
	assert.Equal(t, "API error: "+strings.Repeat("ü", 100), umlauts.Reason)
	assert.True(t, utf8.ValidString(umlauts.Reason))
}
