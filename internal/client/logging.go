package client

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// maxVarsLogLen is the maximum length for logged variables before truncation.
const maxVarsLogLen = 200

// slowRequestThreshold is the duration above which requests are logged at WARN level.
// Chat sends wait for the model and are exempt.
const slowRequestThreshold = 3 * time.Second

// logRequest logs a finished GraphQL request with its timing.
func (c *Client) logRequest(opName string, variables map[string]any, duration time.Duration, err error) {
	attrs := []any{
		"operation", opName,
		"duration_ms", duration.Milliseconds(),
	}
	if len(variables) > 0 {
		attrs = append(attrs, "variables", truncate(fmt.Sprintf("%v", variables), maxVarsLogLen))
	}

	switch {
	case errors.Is(err, context.Canceled):
		c.logger.Debug("request cancelled", attrs...)
	case err != nil:
		attrs = append(attrs, "error", err.Error())
		c.logger.Warn("request failed", attrs...)
	case duration > slowRequestThreshold && opName != sendChatMessageOp:
		c.logger.Warn("slow request", attrs...)
	default:
		c.logger.Debug("request completed", attrs...)
	}
}

// truncate shortens s to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
