package bitrix24

import (
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/OlegKolesnikoff/bitrix24-api-client/internal/limiter"
	"github.com/OlegKolesnikoff/bitrix24-api-client/internal/logredact"
	"github.com/OlegKolesnikoff/bitrix24-api-client/internal/metrics"
	"github.com/OlegKolesnikoff/bitrix24-api-client/internal/tracing"
	"github.com/OlegKolesnikoff/bitrix24-api-client/internal/transport"
)

// Version is the library version surfaced in the User-Agent header.
const Version = "1.2.0"

const libName = "bitrix24-api-client"

// Client invokes Bitrix24 REST methods for any number of tenant portals.
// Safe for concurrent use.
type Client struct {
	cfg       Config
	store     CredentialStore
	limiter   *limiter.Limiter
	transport *transport.Client
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    tracing.Tracer
	refresh   singleflight.Group

	httpClient *http.Client
}

// Option customizes optional collaborators of a Client.
type Option func(*Client)

// WithLogger replaces the default stderr logger. The handler is wrapped
// with sensitive-field redaction regardless of the sink.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = slog.New(logredact.NewHandler(logger.Handler()))
		}
	}
}

// WithOpenTelemetry emits spans for HTTP attempts and refresh exchanges
// through the global OpenTelemetry tracer provider.
func WithOpenTelemetry() Option {
	return func(c *Client) {
		c.tracer = tracing.NewOTel()
	}
}

// WithMetrics registers Prometheus collectors with reg (nil uses the
// default registerer) and reports limiter and transport activity to them.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = metrics.New(reg)
	}
}

// WithHTTPClient swaps the underlying HTTP client, e.g. for custom TLS
// settings. Automatic redirect following is disabled by the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New validates cfg and wires a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		store:  cfg.Store,
		tracer: tracing.NewNoop(),
		logger: defaultLogger(cfg),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("lib", libName)

	transportOpts := []transport.Option{
		transport.WithLogger(c.logger),
		transport.WithTracer(c.tracer),
		transport.WithMetrics(c.metrics),
	}
	if c.httpClient != nil {
		transportOpts = append(transportOpts, transport.WithHTTPClient(c.httpClient))
	}
	c.transport = transport.New(transport.Config{
		Attempts:  cfg.Attempts,
		BasePause: cfg.BasePause,
		Timeout:   cfg.RequestTimeout,
		Proxy:     cfg.Proxy,
		UserAgent: libName + " " + Version,
	}, transportOpts...)

	c.limiter = limiter.New(limiter.Config{
		MaxBucket:          cfg.RateLimit.MaxBucket,
		LeakRate:           cfg.RateLimit.LeakRate,
		MinRequestInterval: cfg.RateLimit.MinRequestInterval,
		MaxBlockTime:       cfg.RateLimit.MaxBlockTime,
		MaxQueueLen:        cfg.RateLimit.MaxQueueLen,
	}, limiter.WithLogger(c.logger), limiter.WithMetrics(c.metrics))

	return c, nil
}

func defaultLogger(cfg Config) *slog.Logger {
	if !cfg.LogEnabled {
		return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
	}
	return slog.New(logredact.NewHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}),
	))
}

// LimiterStats is a point-in-time snapshot of one tenant's rate limiter
// state.
type LimiterStats struct {
	// Counter is the current leaky-bucket level.
	Counter float64
	// QueueLen is the number of requests waiting for admission.
	QueueLen int
	// Blocked reports an active hard block after a server-side breach.
	Blocked bool
	// TotalRequests counts admissions released since the state was created.
	TotalRequests uint64
}

// LimiterStats reports the current limiter state for a tenant domain. The
// second return is false when the limiter holds no state for it.
func (c *Client) LimiterStats(domain string) (LimiterStats, bool) {
	stats, ok := c.limiter.Stats(domain)
	if !ok {
		return LimiterStats{}, false
	}
	return LimiterStats{
		Counter:       stats.Counter,
		QueueLen:      stats.QueueLen,
		Blocked:       stats.Blocked,
		TotalRequests: stats.TotalRequests,
	}, true
}
