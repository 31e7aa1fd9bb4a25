// Package transport sends one logical Bitrix24 request over HTTP.
//
// A logical request may fan out into several HTTP attempts: redirects are
// followed manually, 5xx responses and retryable network failures are
// retried with exponential backoff and jitter, and every attempt runs under
// its own timeout. Redirects, 5xx retries and network retries all draw from
// the same attempt budget.
package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/OlegKolesnikoff/bitrix24-api-client/internal/logredact"
	"github.com/OlegKolesnikoff/bitrix24-api-client/internal/metrics"
	"github.com/OlegKolesnikoff/bitrix24-api-client/internal/tracing"
	"github.com/OlegKolesnikoff/bitrix24-api-client/pkg/apierrors"
)

// Config tunes the transport.
type Config struct {
	// Attempts is the retry budget per logical request: how many redirects,
	// 5xx retries and network retries may follow the initial attempt.
	Attempts int
	// BasePause is the backoff base; the pause before retry n is
	// BasePause * 2^n plus up to 30% jitter.
	BasePause time.Duration
	// Timeout bounds each individual HTTP attempt.
	Timeout time.Duration
	// Proxy optionally routes requests through an upstream proxy.
	Proxy *url.URL
	// UserAgent identifies the library on the wire.
	UserAgent string
}

// DefaultConfig returns the stock transport tuning.
func DefaultConfig() Config {
	return Config{
		Attempts:  3,
		BasePause: time.Second,
		Timeout:   15 * time.Second,
	}
}

// Request is one logical method invocation to send.
type Request struct {
	URL    string
	Method string
	// Body is the form-encoded payload, sent verbatim on POST and across
	// redirects.
	Body string
	// Domain and APIMethod annotate log records and spans.
	Domain    string
	APIMethod string
	// ID is a short token surfaced in every log line of this request.
	// Generated when empty.
	ID string
}

// Response is the decoded server reply. Body is non-nil for any reply the
// transport managed to parse, including domain-level errors.
type Response struct {
	Status int
	Body   map[string]any
}

// Client is a reusable transport. Safe for concurrent use.
type Client struct {
	http      *http.Client
	logger    *slog.Logger
	tracer    tracing.Tracer
	metrics   *metrics.Metrics
	attempts  int
	basePause time.Duration
	timeout   time.Duration
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTracer(tracer tracing.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithHTTPClient swaps the underlying *http.Client. The transport disables
// its automatic redirect following; redirects are handled here so they
// count against the attempt budget.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New creates a transport client. Zero cfg fields fall back to defaults.
func New(cfg Config, opts ...Option) *Client {
	defaults := DefaultConfig()
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaults.Attempts
	}
	if cfg.BasePause <= 0 {
		cfg.BasePause = defaults.BasePause
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "bitrix24-api-client"
	}

	httpTransport := http.DefaultTransport
	if cfg.Proxy != nil {
		httpTransport = &http.Transport{Proxy: http.ProxyURL(cfg.Proxy)}
	}
	c := &Client{
		http: &http.Client{
			Transport: httpTransport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:    slog.Default(),
		tracer:    tracing.NewNoop(),
		attempts:  cfg.Attempts,
		basePause: cfg.BasePause,
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Redirects must stay manual even on an injected client: they count
	// against the attempt budget. Copy-on-write keeps the caller's client
	// untouched.
	hc := *c.http
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	c.http = &hc

	return c
}

// NewRequestID returns a short random token that makes attempt chains
// traceable across log lines.
func NewRequestID() string {
	return uuid.NewString()[:8]
}

// Fetch sends req and returns the decoded reply.
//
// For 4xx and exhausted 5xx replies both the parsed *Response and a tagged
// error are returned, so the caller can still feed the raw reply to the
// limiter. An expired_token 4xx is not an error here: the orchestrator owns
// the refresh path.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	if req.ID == "" {
		req.ID = NewRequestID()
	}
	log := c.logger.With(
		"domain", req.Domain,
		"api_method", req.APIMethod,
		"request_id", req.ID,
	)

	budget := c.attempts
	retry := 0
	target := req.URL

	for {
		status, header, raw, err := c.do(ctx, target, req)

		if err != nil {
			if ctx.Err() != nil {
				return nil, apierrors.Wrap(ctx.Err(), apierrors.KindNetworkError, "request canceled")
			}
			if !retryable(err) {
				log.Error("request failed", "error", err, "url", logredact.ScrubURL(target))
				return nil, apierrors.Wrap(err, apierrors.KindNetworkError, "network failure")
			}
			if budget == 0 {
				log.Error("retry budget exhausted", "error", err, "retries", retry)
				return nil, apierrors.Wrap(err, apierrors.KindNetworkError, "attempts exhausted on network failure")
			}
			budget--
			if c.metrics != nil {
				c.metrics.RetriesTotal.Inc()
			}
			pause := c.backoff(retry)
			log.Warn("retrying after network failure",
				"error", err, "pause_ms", pause.Milliseconds(), "budget_left", budget)
			retry++
			if err := sleepCtx(ctx, pause); err != nil {
				return nil, apierrors.Wrap(err, apierrors.KindNetworkError, "request canceled during backoff")
			}
			continue
		}

		if c.metrics != nil {
			c.metrics.RequestsTotal.WithLabelValues(statusClass(status)).Inc()
		}

		switch {
		case status >= 200 && status < 300:
			body, perr := parseBody(status, header.Get("Content-Type"), raw)
			if perr != nil {
				return nil, perr
			}
			log.Debug("request succeeded", "http_status", status)
			return &Response{Status: status, Body: body}, nil

		case status >= 300 && status < 400:
			location := header.Get("Location")
			if location == "" {
				return nil, apierrors.Newf(apierrors.KindRedirectError,
					"redirect without Location header").WithStatus(status)
			}
			if budget == 0 {
				return nil, apierrors.New(apierrors.KindRedirectError,
					"attempts exceeded following redirects").WithStatus(status)
			}
			budget--
			if c.metrics != nil {
				c.metrics.RedirectsTotal.Inc()
			}
			log.Info("following redirect",
				"http_status", status, "location", logredact.ScrubURL(location))
			target = location
			continue

		case status >= 400 && status < 500:
			body, _ := parseBody(status, header.Get("Content-Type"), raw)
			if code, _ := body["error"].(string); code == "expired_token" {
				log.Info("access token expired", "http_status", status)
				return &Response{Status: status, Body: body}, nil
			}
			log.Warn("client error", "http_status", status, "body_error", body["error"])
			return &Response{Status: status, Body: body},
				apierrors.Newf(apierrors.KindClientError, "server rejected request").
					WithStatus(status).WithBody(body)

		case status >= 500 && status < 600:
			body, _ := parseBody(status, header.Get("Content-Type"), raw)
			if budget > 0 {
				budget--
				if c.metrics != nil {
					c.metrics.RetriesTotal.Inc()
				}
				pause := c.backoff(retry)
				log.Warn("server error, retrying",
					"http_status", status, "pause_ms", pause.Milliseconds(), "budget_left", budget)
				retry++
				if err := sleepCtx(ctx, pause); err != nil {
					return nil, apierrors.Wrap(err, apierrors.KindNetworkError, "request canceled during backoff")
				}
				continue
			}
			log.Error("server error, retries exhausted", "http_status", status)
			return &Response{Status: status, Body: body},
				apierrors.New(apierrors.KindServerError, "attempts exhausted on server errors").
					WithStatus(status).WithBody(body)

		default:
			return nil, apierrors.Newf(apierrors.KindUnexpectedStatus,
				"unexpected HTTP status %d", status).WithStatus(status)
		}
	}
}

// do performs a single HTTP attempt under its own timeout.
func (c *Client) do(ctx context.Context, target string, req Request) (int, http.Header, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	spanCtx, span := c.tracer.Start(attemptCtx, "bitrix24.request",
		tracing.String("url", logredact.ScrubURL(target)),
		tracing.String("method", req.Method),
		tracing.String("request_id", req.ID),
	)

	var bodyReader io.Reader
	if req.Body != "" && req.Method != http.MethodGet {
		bodyReader = strings.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(spanCtx, req.Method, target, bodyReader)
	if err != nil {
		span.End(err)
		return 0, nil, nil, err
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		span.End(err)
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if c.metrics != nil {
		c.metrics.RequestSeconds.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.End(err)
		return 0, nil, nil, err
	}

	span.SetAttributes(tracing.Int("http_status", resp.StatusCode))
	span.End(nil)
	return resp.StatusCode, resp.Header, raw, nil
}

func statusClass(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
