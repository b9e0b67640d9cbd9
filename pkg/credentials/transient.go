package credentials

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/cajaflow/cajaflow/pkg/provider"
)

// transientMessagePatterns is the fallback for transports that only surface
// stringly errors. Structured checks below take precedence; the patterns
// exist so a wrapped client we don't control still classifies sanely.
var transientMessagePatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"timed out",
	"context deadline exceeded",
	"request canceled",
	"socket hang up",
	"broken pipe",
	"EOF",
}

// IsTransient reports whether a refresh failure is an infrastructure hiccup
// that should leave the stored credential untouched. Anything else is
// treated as permanent and flips the credential row to ERROR.
//
// Classification order: structured network errors, then provider status
// codes (5xx and 429 are transient, 4xx is permanent), then message
// patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}

	message := strings.ToLower(err.Error())
	for _, pattern := range transientMessagePatterns {
		if strings.Contains(message, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}
