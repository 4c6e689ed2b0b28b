package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for client operations.
var (
	// ErrTransient marks network failures and server-side (5xx) errors.
	// The request may succeed when repeated later; the client never retries itself.
	ErrTransient = errors.New("transient network error")

	// ErrUnauthorized is returned when the platform rejects the bearer token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when the requested conversation does not exist.
	ErrNotFound = errors.New("not found")
)

// QuotaError reports that the model's quota or capacity is exhausted.
type QuotaError struct {
	Model   string
	Message string
}

func (e *QuotaError) Error() string {
	model := e.Model
	if model == "" {
		model = "the selected model"
	}
	if e.Message == "" {
		return fmt.Sprintf("quota exceeded for %s", model)
	}
	return fmt.Sprintf("quota exceeded for %s: %s", model, e.Message)
}

// quotaPhrases are lower-cased fragments of provider messages that mean the
// request will not succeed until quota or capacity frees up.
var quotaPhrases = []string{
	"quota exceeded",
	"exceeded your quota",
	"insufficient quota",
	"credit balance",
	"rate limit",
	"too many requests",
	"over capacity",
	"overloaded",
	"billing",
}

// isQuotaMessage reports whether msg describes a quota or capacity failure.
func isQuotaMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range quotaPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, http.StatusText(status))
	case status == http.StatusTooManyRequests:
		return &QuotaError{Message: strings.TrimSpace(string(body))}
	case status >= 500:
		return fmt.Errorf("%w: server error: %d %s", ErrTransient, status, strings.TrimSpace(string(body)))
	default:
		return fmt.Errorf("server error: %d %s", status, strings.TrimSpace(string(body)))
	}
}

func classifyGraphQLError(e graphQLError, variables map[string]any) error {
	switch code := e.code(); {
	case code == "QUOTA_EXCEEDED" || isQuotaMessage(e.Message):
		model, _ := variables["modelId"].(string)
		return &QuotaError{Model: model, Message: e.Message}
	case code == "UNAUTHENTICATED" || code == "FORBIDDEN":
		return fmt.Errorf("%w: %s", ErrUnauthorized, e.Message)
	case code == "NOT_FOUND":
		return fmt.Errorf("%w: %s", ErrNotFound, e.Message)
	case code == "INTERNAL_SERVER_ERROR" || code == "SERVICE_UNAVAILABLE":
		return fmt.Errorf("%w: graphql error: %s", ErrTransient, e.Message)
	default:
		return fmt.Errorf("graphql error: %s", e.Message)
	}
}
