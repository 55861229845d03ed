package govern

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/firmlens/firmcrawl/internal/crawl"
)

func TestAdmitRequestBudget(t *testing.T) {
	t.Parallel()

	g := New(Config{MaxRequests: 2})
	ctx := context.Background()

	require.True(t, g.Admit())
	require.NoError(t, g.Throttle(ctx, "a.example"))
	require.True(t, g.Admit())
	require.NoError(t, g.Throttle(ctx, "b.example"))
	require.False(t, g.Admit(), "budget must saturate at max_requests")

	requests, _, hosts := g.Snapshot()
	require.Equal(t, 2, requests)
	require.Equal(t, 2, hosts)
}

func TestAdmitRuntimeBudget(t *testing.T) {
	t.Parallel()

	g := New(Config{MaxRuntime: time.Hour})
	require.True(t, g.Admit())

	g.now = func() time.Time { return g.start.Add(2 * time.Hour) }
	require.False(t, g.Admit(), "budget must saturate once runtime is exceeded")
}

func TestThrottleSpacesSameHost(t *testing.T) {
	t.Parallel()

	const delay = 50 * time.Millisecond
	g := New(Config{DomainDelay: delay})
	ctx := context.Background()

	require.NoError(t, g.Throttle(ctx, "example.org"))
	first, ok := g.LastRequest("example.org")
	require.True(t, ok)

	require.NoError(t, g.Throttle(ctx, "EXAMPLE.ORG"))
	second, ok := g.LastRequest("example.org")
	require.True(t, ok)

	require.GreaterOrEqual(t, second.Sub(first), delay-5*time.Millisecond,
		"requests to the same host must be spaced by the domain delay")
}

func TestThrottleDifferentHostsDoNotBlock(t *testing.T) {
	t.Parallel()

	g := New(Config{DomainDelay: time.Minute})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, g.Throttle(ctx, "one.example"))
	require.NoError(t, g.Throttle(ctx, "two.example"))
	require.Less(t, time.Since(start), time.Second)
}

func TestThrottleNeverAdvancesPastMaxRequests(t *testing.T) {
	t.Parallel()

	g := New(Config{MaxRequests: 1, DomainDelay: 20 * time.Millisecond})
	ctx := context.Background()

	const workers = 8
	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
		refused  atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := g.Throttle(ctx, "firm.example"); {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, crawl.ErrBudgetExhausted):
				refused.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), admitted.Load())
	require.Equal(t, int32(workers-1), refused.Load())
	requests, _, _ := g.Snapshot()
	require.Equal(t, 1, requests, "counter must not advance past max_requests")
}

func TestThrottleRefundsOnCanceledWait(t *testing.T) {
	t.Parallel()

	g := New(Config{MaxRequests: 2, DomainDelay: time.Minute})
	require.NoError(t, g.Throttle(context.Background(), "slow.example"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Throttle(ctx, "slow.example")
	require.Error(t, err)
	require.False(t, errors.Is(err, crawl.ErrBudgetExhausted))

	requests, _, _ := g.Snapshot()
	require.Equal(t, 1, requests, "an aborted wait must not consume budget")
}

func TestThrottleHonorsContext(t *testing.T) {
	t.Parallel()

	g := New(Config{DomainDelay: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, g.Throttle(ctx, "slow.example"))
	cancel()
	require.Error(t, g.Throttle(ctx, "slow.example"))
}
