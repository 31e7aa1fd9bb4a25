package bitrix24

import (
	"log/slog"
	"net/url"
	"time"

	"github.com/OlegKolesnikoff/bitrix24-api-client/pkg/apierrors"
)

// Config is the process-wide client configuration. ClientID, ClientSecret
// and Store are required; everything else has working defaults.
type Config struct {
	// ClientID and ClientSecret identify the OAuth 2.0 application.
	ClientID     string
	ClientSecret string

	// Store reads and writes tenant credential records.
	Store CredentialStore

	// Attempts is the retry budget per logical call (redirects, 5xx and
	// retryable network failures). Default 3.
	Attempts int
	// BasePause is the exponential backoff base. Default 1s.
	BasePause time.Duration
	// RequestTimeout bounds each HTTP attempt. Default 15s.
	RequestTimeout time.Duration
	// Proxy optionally routes all requests through an upstream proxy.
	Proxy *url.URL

	// LogEnabled turns logging on; records go to stderr as JSON with
	// sensitive fields redacted. Use WithLogger to supply your own sink.
	LogEnabled bool
	// LogLevel is the minimum level when LogEnabled is set. Default info.
	LogLevel slog.Level

	// RateLimit tunes the per-tenant leaky bucket. Zero fields use the
	// stock Bitrix24 quota parameters.
	RateLimit RateLimitConfig
}

// RateLimitConfig mirrors the server-side leaky bucket quota.
type RateLimitConfig struct {
	// MaxBucket is the bucket capacity. Default 50.
	MaxBucket float64
	// LeakRate is units drained per second. Default 2.
	LeakRate float64
	// MinRequestInterval is the floor between consecutive requests for one
	// tenant. Default 150ms.
	MinRequestInterval time.Duration
	// MaxBlockTime is the hard-block duration after the server reports a
	// limit breach. Default 5s.
	MaxBlockTime time.Duration
	// MaxQueueLen caps the per-tenant admission queue; 0 means unbounded.
	MaxQueueLen int
}

func (c Config) validate() error {
	if c.ClientID == "" {
		return apierrors.New(apierrors.KindModuleError, "client id is required")
	}
	if c.ClientSecret == "" {
		return apierrors.New(apierrors.KindModuleError, "client secret is required")
	}
	if c.Store == nil {
		return apierrors.New(apierrors.KindModuleError, "credential store is required")
	}
	return nil
}
