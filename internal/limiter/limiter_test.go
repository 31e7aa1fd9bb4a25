package limiter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OlegKolesnikoff/bitrix24-api-client/pkg/apierrors"
)

// testConfig keeps the arithmetic identical to production but shrinks the
// time constants so tests finish quickly.
func testConfig() Config {
	return Config{
		MaxBucket:          50,
		LeakRate:           2,
		MinRequestInterval: 40 * time.Millisecond,
		MaxBlockTime:       250 * time.Millisecond,
		SweepAge:           30 * time.Minute,
	}
}

func TestAdmitFIFOPerTenant(t *testing.T) {
	l := New(testConfig())

	const n = 4
	var (
		mu       sync.Mutex
		order    []int
		released []time.Time
	)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := l.Admit(context.Background(), "t.bx", fmt.Sprintf("method.%d", i))
			require.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			released = append(released, time.Now())
			mu.Unlock()
		}(i)
		// Stagger the enqueues so the intended order is unambiguous while
		// the pacing interval keeps the queue backed up.
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3}, order, "admissions must be released in enqueue order")
	for i := 1; i < len(released); i++ {
		gap := released[i].Sub(released[i-1])
		assert.GreaterOrEqual(t, gap, 39*time.Millisecond,
			"consecutive releases must honor MinRequestInterval")
	}
}

func TestAdmitParallelAcrossTenants(t *testing.T) {
	l := New(testConfig())

	// Back up a queue for the first tenant.
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Admit(context.Background(), "a.bx", "user.current"))
		}()
	}
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(t, l.Admit(context.Background(), "b.bx", "user.current"))
	assert.Less(t, time.Since(start), 30*time.Millisecond,
		"an idle tenant must not wait behind another tenant's queue")
	wg.Wait()
}

func TestObserveBlocksTenant(t *testing.T) {
	cfg := testConfig()
	l := New(cfg)

	require.NoError(t, l.Admit(context.Background(), "t.bx", "user.current"))
	l.Observe("t.bx", 200, map[string]any{"error": "QUERY_LIMIT_EXCEEDED"})

	stats, ok := l.Stats("t.bx")
	require.True(t, ok)
	assert.True(t, stats.Blocked)
	assert.GreaterOrEqual(t, stats.Counter, 0.9*cfg.MaxBucket-0.5,
		"bucket must be prefilled to 90%% on a server-side breach")

	start := time.Now()
	require.NoError(t, l.Admit(context.Background(), "t.bx", "user.current"))
	assert.GreaterOrEqual(t, time.Since(start), cfg.MaxBlockTime-10*time.Millisecond,
		"admissions during a hard block must wait it out")
}

func TestObserveTriggers(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    map[string]any
		blocked bool
	}{
		{"query limit code", 200, map[string]any{"error": "QUERY_LIMIT_EXCEEDED"}, true},
		{"description match", 400, map[string]any{"error": "OVERLOAD", "error_description": "Request limit exceeded!"}, true},
		{"http 503", 503, nil, true},
		{"ordinary error", 400, map[string]any{"error": "NO_AUTH_FOUND"}, false},
		{"success", 200, map[string]any{"result": "ok"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(testConfig())
			domain := "observe.bx"
			l.Observe(domain, tt.status, tt.body)
			stats, ok := l.Stats(domain)
			if !tt.blocked {
				if ok {
					assert.False(t, stats.Blocked)
				}
				return
			}
			require.True(t, ok)
			assert.True(t, stats.Blocked)
		})
	}
}

func TestQueueOverflow(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueLen = 2
	l := New(cfg)

	// A hard block keeps enqueued waiters in the queue.
	l.Observe("t.bx", 503, nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Admit(context.Background(), "t.bx", "user.current"))
		}()
	}
	time.Sleep(20 * time.Millisecond)

	err := l.Admit(context.Background(), "t.bx", "user.current")
	require.Error(t, err)
	assert.True(t, apierrors.HasKind(err, apierrors.KindQueueOverflow))
	wg.Wait()
}

func TestAdmitCancellation(t *testing.T) {
	l := New(testConfig())
	l.Observe("t.bx", 503, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := l.Admit(ctx, "t.bx", "user.current")
	require.Error(t, err)
	assert.True(t, apierrors.HasKind(err, apierrors.KindCanceled))

	// The canceled waiter must not consume a slot: the next admission is
	// released as soon as the block expires.
	require.NoError(t, l.Admit(context.Background(), "t.bx", "user.current"))
	stats, ok := l.Stats("t.bx")
	require.True(t, ok)
	assert.EqualValues(t, 1, stats.TotalRequests)
}

func TestBucketFullPausesReleases(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBucket = 2
	cfg.LeakRate = 10 // leak pause of 100ms
	cfg.MinRequestInterval = time.Millisecond
	l := New(cfg)

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Admit(context.Background(), "t.bx", "user.current"))
	}
	// The later admissions find the bucket at capacity and must wait for
	// the leak to make room (one leak pause is 100ms at this rate).
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestCounterNeverExceedsCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBucket = 3
	cfg.LeakRate = 100
	cfg.MinRequestInterval = time.Millisecond
	l := New(cfg)

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Admit(context.Background(), "t.bx", "user.current"))
		stats, ok := l.Stats("t.bx")
		require.True(t, ok)
		assert.LessOrEqual(t, stats.Counter, cfg.MaxBucket+1)
	}
}

func TestSweepDropsIdleTenants(t *testing.T) {
	cfg := testConfig()
	cfg.SweepAge = 10 * time.Millisecond
	l := New(cfg)

	require.NoError(t, l.Admit(context.Background(), "old.bx", "user.current"))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, l.Admit(context.Background(), "fresh.bx", "user.current"))

	l.Sweep()

	_, ok := l.Stats("old.bx")
	assert.False(t, ok, "idle tenant state must be swept")
	_, ok = l.Stats("fresh.bx")
	assert.True(t, ok, "recently active tenant must survive the sweep")
}

func TestStatsUnknownDomain(t *testing.T) {
	l := New(testConfig())
	_, ok := l.Stats("nobody.bx")
	assert.False(t, ok)
}
