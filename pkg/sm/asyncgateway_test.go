package sm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type blockingQuery struct {
	mu        sync.Mutex
	started   bool
	cancelled bool
	unblock   chan struct{}
}

func (q *blockingQuery) Run(ctx context.Context) error {
	q.mu.Lock()
	q.started = true
	q.mu.Unlock()
	<-q.unblock
	return nil
}

func (q *blockingQuery) Cancel() {
	q.mu.Lock()
	q.cancelled = true
	q.mu.Unlock()
}

func TestAsyncGatewayCancelAllSkipsUnstartedTasks(t *testing.T) {
	ctx := context.Background()
	// A single worker, kept busy by a first query, so the second never
	// gets picked up before cancelAll runs.
	g := newAsyncGateway(1, 0)
	defer g.shutdown()

	busy := &blockingQuery{unblock: make(chan struct{})}
	require.NoError(t, g.submitAsync(ctx, busy))

	require.Eventually(t, func() bool {
		busy.mu.Lock()
		defer busy.mu.Unlock()
		return busy.started
	}, time.Second, time.Millisecond)

	stuck := &blockingQuery{unblock: make(chan struct{})}
	require.NoError(t, g.submitAsync(ctx, stuck))

	g.cancelAll()

	stuck.mu.Lock()
	require.True(t, stuck.cancelled)
	stuck.mu.Unlock()

	close(busy.unblock)
	close(stuck.unblock)
}

func TestAsyncGatewayRunsSubmittedQuery(t *testing.T) {
	ctx := context.Background()
	g := newAsyncGateway(2, 0)
	defer g.shutdown()

	q := &blockingQuery{unblock: make(chan struct{})}
	close(q.unblock)
	require.NoError(t, g.submitAsync(ctx, q))

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.started
	}, time.Second, time.Millisecond)
}
