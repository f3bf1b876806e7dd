package resilience

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/eapache/go-resiliency/retrier"
)

// Error fragments treated as transient. Matched against the lowercased error
// text, mirroring the status codes a hosted document store reports.
var retryablePatterns = []string{
	"unavailable",
	"deadline-exceeded",
	"deadline exceeded",
	"resource-exhausted",
	"resource exhausted",
	"aborted",
	"internal",
	"network",
	"timeout",
}

// IsRetryable reports whether an error is a transient infrastructure failure
// worth retrying. Permanent errors (permission-denied, not-found, malformed
// input) fall through to false.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// transientClassifier adapts IsRetryable to the retrier: transient errors
// retry, everything else fails immediately without consuming retry budget.
type transientClassifier struct{}

func (transientClassifier) Classify(err error) retrier.Action {
	if err == nil {
		return retrier.Succeed
	}
	if IsRetryable(err) {
		return retrier.Retry
	}
	return retrier.Fail
}
