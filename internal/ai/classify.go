package ai

import (
	"errors"
	"net/http"
	"strings"
)

type FailureKind string

const (
	FailureInvalidKey  FailureKind = "invalid_key"
	FailureRateLimited FailureKind = "rate_limited"
	FailureForbidden   FailureKind = "forbidden"
	FailureQuota       FailureKind = "quota_exhausted"
	FailureBilling     FailureKind = "billing"
	FailureAPI         FailureKind = "api_error"
)

// Failure is a classified provider error suitable for showing to the key's owner.
type Failure struct {
	Kind   FailureKind
	Reason string
}

const maxReasonDetail = 100

// ClassifyError maps a provider error onto the credential failure taxonomy.
// Quota and billing are checked before the status code because OpenAI
// reports an exhausted quota as 429 with code insufficient_quota.
func ClassifyError(err error) Failure {
	if err == nil {
		return Failure{Kind: FailureAPI, Reason: "API error: unknown"}
	}
	msg := err.Error()
	var status int
	var code string
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		status = apiErr.Status
		code = apiErr.Code + " " + apiErr.Type
	}
	hay := strings.ToLower(msg + " " + code)

	switch {
	case strings.Contains(hay, "insufficient_quota"):
		return Failure{Kind: FailureQuota, Reason: "API key has exhausted its quota"}
	case strings.Contains(hay, "billing"):
		return Failure{Kind: FailureBilling, Reason: "Billing issue with your API account"}
	case status == http.StatusUnauthorized || strings.Contains(hay, "invalid_api_key") || strings.Contains(hay, "status 401"):
		return Failure{Kind: FailureInvalidKey, Reason: "Invalid or revoked API key"}
	case status == http.StatusTooManyRequests || strings.Contains(hay, "status 429"):
		return Failure{Kind: FailureRateLimited, Reason: "Rate limit exceeded on your API key"}
	case status == http.StatusForbidden || strings.Contains(hay, "status 403"):
		return Failure{Kind: FailureForbidden, Reason: "API key does not have required permissions"}
	}
	if r := []rune(msg); len(r) > maxReasonDetail {
		msg = string(r[:maxReasonDetail])
	}
	return Failure{Kind: FailureAPI, Reason: "API error: " + msg}
}
