// Package limiter implements per-tenant admission control for outgoing
// Bitrix24 requests.
//
// The server enforces a leaky-bucket quota per portal: every accepted
// request adds one unit to a counter that drains at a fixed rate, and the
// portal rejects traffic once the counter hits the cap. This limiter mirrors
// that discipline client-side so requests wait in a local FIFO queue instead
// of burning server-side quota on rejections.
//
// Admissions for one domain are released strictly in enqueue order by a
// single processor goroutine per tenant. Tenants are independent: admissions
// for distinct domains proceed in parallel.
package limiter

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OlegKolesnikoff/bitrix24-api-client/internal/metrics"
	"github.com/OlegKolesnikoff/bitrix24-api-client/pkg/apierrors"
)

// Config tunes the leaky-bucket arithmetic. The defaults match the quota
// Bitrix24 enforces on ordinary plans.
type Config struct {
	// MaxBucket is the bucket capacity in units.
	MaxBucket float64
	// LeakRate is how many units drain per second.
	LeakRate float64
	// MinRequestInterval is the floor between two consecutive releases for
	// one tenant.
	MinRequestInterval time.Duration
	// MaxBlockTime is how long a tenant stays blocked after the server
	// reports a limit breach.
	MaxBlockTime time.Duration
	// MaxQueueLen caps the per-tenant queue; 0 means unbounded.
	MaxQueueLen int
	// SweepAge is how long an idle tenant state survives before a sweep
	// drops it.
	SweepAge time.Duration
}

// DefaultConfig returns the stock Bitrix24 quota parameters.
func DefaultConfig() Config {
	return Config{
		MaxBucket:          50,
		LeakRate:           2,
		MinRequestInterval: 150 * time.Millisecond,
		MaxBlockTime:       5 * time.Second,
		MaxQueueLen:        0,
		SweepAge:           30 * time.Minute,
	}
}

// Limiter gates requests per tenant domain.
type Limiter struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	tenants map[string]*tenant
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics wires Prometheus collectors. Nil disables reporting.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// New creates a limiter. Zero fields of cfg fall back to DefaultConfig
// values.
func New(cfg Config, opts ...Option) *Limiter {
	defaults := DefaultConfig()
	if cfg.MaxBucket <= 0 {
		cfg.MaxBucket = defaults.MaxBucket
	}
	if cfg.LeakRate <= 0 {
		cfg.LeakRate = defaults.LeakRate
	}
	if cfg.MinRequestInterval <= 0 {
		cfg.MinRequestInterval = defaults.MinRequestInterval
	}
	if cfg.MaxBlockTime <= 0 {
		cfg.MaxBlockTime = defaults.MaxBlockTime
	}
	if cfg.SweepAge <= 0 {
		cfg.SweepAge = defaults.SweepAge
	}

	l := &Limiter{
		cfg:     cfg,
		logger:  slog.Default(),
		tenants: make(map[string]*tenant),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// waiter states. A waiter resolves exactly once, either to admitted (by the
// processor) or to canceled (by the enqueuing goroutine).
const (
	waiterPending int32 = iota
	waiterAdmitted
	waiterCanceled
)

type waiter struct {
	state      atomic.Int32
	done       chan struct{}
	method     string
	enqueuedAt time.Time
}

// tenant is the limiter state for one portal domain. All fields are guarded
// by mu.
type tenant struct {
	mu           sync.Mutex
	counter      float64
	lastUpdate   time.Time
	blockedUntil time.Time
	lastRequest  time.Time
	queue        []*waiter
	processing   bool
	total        uint64
	lastActivity time.Time
}

// decay drains the bucket for the time elapsed since the last update and
// clears an expired hard block.
func (t *tenant) decay(now time.Time, leakRate float64) {
	if !t.lastUpdate.IsZero() {
		elapsed := now.Sub(t.lastUpdate).Seconds()
		t.counter = math.Max(0, t.counter-elapsed*leakRate)
	}
	t.lastUpdate = now
	if !t.blockedUntil.IsZero() && now.After(t.blockedUntil) {
		t.blockedUntil = time.Time{}
	}
}

func (l *Limiter) tenantFor(domain string) *tenant {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tenants[domain]
	if !ok {
		t = &tenant{lastActivity: time.Now()}
		l.tenants[domain] = t
		if l.metrics != nil {
			l.metrics.TenantsActive.Set(float64(len(l.tenants)))
		}
	}
	return t
}

// Admit blocks until the request for domain may proceed. Requests for one
// domain are released in the order Admit was called; ctx cancellation
// removes the request from the queue without consuming a bucket unit.
func (l *Limiter) Admit(ctx context.Context, domain, method string) error {
	if err := ctx.Err(); err != nil {
		return apierrors.Wrap(err, apierrors.KindCanceled, "canceled before admission")
	}

	t := l.tenantFor(domain)
	w := &waiter{done: make(chan struct{}), method: method, enqueuedAt: time.Now()}

	t.mu.Lock()
	if l.cfg.MaxQueueLen > 0 && len(t.queue) >= l.cfg.MaxQueueLen {
		queued := len(t.queue)
		t.mu.Unlock()
		if l.metrics != nil {
			l.metrics.QueueOverflowsTotal.Inc()
		}
		return apierrors.Newf(apierrors.KindQueueOverflow,
			"admission queue for %s is full (%d waiting)", domain, queued)
	}
	t.queue = append(t.queue, w)
	t.lastActivity = time.Now()
	start := !t.processing
	if start {
		t.processing = true
	}
	t.mu.Unlock()

	if start {
		go l.process(domain, t)
	}

	select {
	case <-w.done:
		if l.metrics != nil {
			l.metrics.AdmissionsTotal.WithLabelValues(domain).Inc()
			l.metrics.AdmissionWaitSeconds.Observe(time.Since(w.enqueuedAt).Seconds())
		}
		l.logger.Debug("admission released",
			"domain", domain,
			"api_method", method,
			"waited_ms", time.Since(w.enqueuedAt).Milliseconds(),
		)
		return nil
	case <-ctx.Done():
		if w.state.CompareAndSwap(waiterPending, waiterCanceled) {
			return apierrors.Wrap(ctx.Err(), apierrors.KindCanceled, "canceled while waiting for admission")
		}
		// The processor admitted us concurrently; honor the admission.
		<-w.done
		return nil
	}
}

// process is the single per-tenant release loop. It runs while the queue is
// non-empty and exits once it drains.
func (l *Limiter) process(domain string, t *tenant) {
	leakPause := time.Duration(math.Ceil(1000/l.cfg.LeakRate)) * time.Millisecond

	for {
		now := time.Now()
		t.mu.Lock()
		t.decay(now, l.cfg.LeakRate)

		if now.Before(t.blockedUntil) {
			pause := t.blockedUntil.Sub(now)
			t.mu.Unlock()
			time.Sleep(pause)
			continue
		}

		// Canceled waiters are dropped without consuming pacing or quota.
		for len(t.queue) > 0 && t.queue[0].state.Load() == waiterCanceled {
			t.queue = t.queue[1:]
		}

		if len(t.queue) == 0 {
			t.processing = false
			t.mu.Unlock()
			l.maybeSweep()
			return
		}

		if since := now.Sub(t.lastRequest); !t.lastRequest.IsZero() && since < l.cfg.MinRequestInterval {
			pause := l.cfg.MinRequestInterval - since
			t.mu.Unlock()
			time.Sleep(pause)
			continue
		}

		if t.counter >= l.cfg.MaxBucket {
			t.mu.Unlock()
			time.Sleep(leakPause)
			continue
		}

		w := t.queue[0]
		t.queue = t.queue[1:]
		if !w.state.CompareAndSwap(waiterPending, waiterAdmitted) {
			t.mu.Unlock()
			continue
		}
		t.counter++
		t.lastRequest = now
		t.lastActivity = now
		t.total++
		t.mu.Unlock()

		close(w.done)
	}
}

// Observe inspects a server response and imposes a hard block when the
// server reports a limit breach: admissions stop for MaxBlockTime and the
// bucket is prefilled to 90% so traffic resumes gently.
func (l *Limiter) Observe(domain string, status int, body map[string]any) {
	if !limitBreached(status, body) {
		return
	}

	t := l.tenantFor(domain)
	now := time.Now()
	t.mu.Lock()
	t.decay(now, l.cfg.LeakRate)
	t.blockedUntil = now.Add(l.cfg.MaxBlockTime)
	t.counter = 0.9 * l.cfg.MaxBucket
	t.lastActivity = now
	t.mu.Unlock()

	if l.metrics != nil {
		l.metrics.BlocksTotal.Inc()
	}
	l.logger.Warn("server reported limit breach, blocking tenant",
		"domain", domain,
		"http_status", status,
		"block_ms", l.cfg.MaxBlockTime.Milliseconds(),
	)
}

func limitBreached(status int, body map[string]any) bool {
	if status == http.StatusServiceUnavailable {
		return true
	}
	if body == nil {
		return false
	}
	if code, _ := body["error"].(string); code == "QUERY_LIMIT_EXCEEDED" {
		return true
	}
	if desc, _ := body["error_description"].(string); strings.Contains(strings.ToLower(desc), "limit exceeded") {
		return true
	}
	return false
}

// Stats is a point-in-time snapshot of one tenant's limiter state.
type Stats struct {
	Counter       float64
	QueueLen      int
	Blocked       bool
	BlockedUntil  time.Time
	TotalRequests uint64
}

// Stats reports the current state for domain. The second return is false
// when the limiter holds no state for it.
func (l *Limiter) Stats(domain string) (Stats, bool) {
	l.mu.Lock()
	t, ok := l.tenants[domain]
	l.mu.Unlock()
	if !ok {
		return Stats{}, false
	}

	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decay(now, l.cfg.LeakRate)
	return Stats{
		Counter:       t.counter,
		QueueLen:      len(t.queue),
		Blocked:       now.Before(t.blockedUntil),
		BlockedUntil:  t.blockedUntil,
		TotalRequests: t.total,
	}, true
}

// Sweep drops tenant states that have an empty queue and no activity for
// SweepAge. It runs probabilistically when a queue drains, and may be called
// explicitly.
func (l *Limiter) Sweep() {
	cutoff := time.Now().Add(-l.cfg.SweepAge)

	l.mu.Lock()
	defer l.mu.Unlock()
	for domain, t := range l.tenants {
		t.mu.Lock()
		idle := !t.processing && len(t.queue) == 0 && t.lastActivity.Before(cutoff)
		t.mu.Unlock()
		if idle {
			delete(l.tenants, domain)
		}
	}
	if l.metrics != nil {
		l.metrics.TenantsActive.Set(float64(len(l.tenants)))
	}
}

func (l *Limiter) maybeSweep() {
	if rand.Float64() < 0.05 {
		l.Sweep()
	}
}
