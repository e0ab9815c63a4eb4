package reliability

import (
	"context"
	"errors"
	"strings"

	"github.com/ent0n29/runcoach/internal/llm"
	"github.com/ent0n29/runcoach/internal/plan"
	"github.com/ent0n29/runcoach/internal/store"
)

// Kind names a class of failed turn.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindRateLimit   Kind = "rate_limit"
	KindQuota       Kind = "quota"
	KindUnavailable Kind = "unavailable"
	KindMalformed   Kind = "malformed"
	KindInvalidPlan Kind = "invalid_plan"
	KindConflict    Kind = "conflict"
	KindUnknown     Kind = "unknown"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Classify maps a generation or commit failure to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var statusErr *llm.StatusError
	switch {
	case errors.Is(err, llm.ErrGenerationTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, llm.ErrGenerationMalformed):
		return KindMalformed
	case errors.Is(err, plan.ErrMalformedPayload):
		return KindInvalidPlan
	case errors.Is(err, store.ErrConflict):
		return KindConflict
	case errors.As(err, &statusErr):
		if statusErr.Code == 429 {
			if mentionsQuota(statusErr.Body) {
				return KindQuota
			}
			return KindRateLimit
		}
		if IsRetryableHTTPStatus(statusErr.Code) {
			return KindUnavailable
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return KindTimeout
	case mentionsQuota(msg):
		return KindQuota
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "rate_limit"), strings.Contains(msg, "429"):
		return KindRateLimit
	case strings.Contains(msg, "unavailable"), strings.Contains(msg, "connection refused"):
		return KindUnavailable
	}
	return KindUnknown
}

func mentionsQuota(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "quota") || strings.Contains(s, "insufficient_quota") || strings.Contains(s, "resource_exhausted")
}

// FriendlyReply is the assistant text stored for a failed turn. Every reply
// contains "sorry" so the context filter drops it from later prompts.
func FriendlyReply(kind Kind) string {
	switch kind {
	case KindTimeout:
		return "Sorry, the request timed out. Please try again with a shorter request."
	case KindRateLimit:
		return "Sorry, the service is busy right now. Please wait a moment and try again."
	case KindQuota:
		return "Sorry, the coaching service has reached its usage limit. Please try again later."
	case KindUnavailable:
		return "Sorry, the coaching service is unavailable right now. Please try again shortly."
	case KindMalformed, KindInvalidPlan:
		return "Sorry, I couldn't produce a valid training plan that time. Please try rephrasing your request."
	case KindConflict:
		return "Sorry, your plan was changed by another request at the same time. Please try again."
	default:
		return "Sorry, I encountered an error. Please try again."
	}
}
