package transport

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"
)

// retryable classifies network-level failures. Connection resets, timeouts,
// unreachable hosts, refused connections and DNS misses are transient and
// worth a retry; everything else is fatal and surfaced directly.
func retryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}

	for _, errno := range []syscall.Errno{
		syscall.ECONNRESET,
		syscall.ECONNREFUSED,
		syscall.ECONNABORTED,
		syscall.ETIMEDOUT,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
		syscall.EPIPE,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset")
}

// backoff returns the pause before retry n: basePause * 2^n plus uniform
// jitter in [0, 0.3 * basePause * 2^n).
func (c *Client) backoff(n int) time.Duration {
	base := c.basePause << n
	jitter := time.Duration(rand.Int63n(int64(base)*3/10 + 1))
	return base + jitter
}
