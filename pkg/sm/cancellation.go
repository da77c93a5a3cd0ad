package sm

import (
	"context"
	"sync"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/vfs"
)

// quiescence tracks in-flight synchronous query work and the global cancel
// flag, so cancelAllTasks can wait for every in-progress query to notice
// cancellation and exit before returning.
type quiescence struct {
	mu          sync.Mutex
	cond        *sync.Cond
	inProgress  int
	cancelled   bool
}

func newQuiescence() *quiescence {
	q := &quiescence{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// enter brackets a synchronous query_submit call; the returned func must
// run on every exit path (including panics recovered upstream), mirroring
// the scope-guard the teacher's source describes in spec.md §4.5.
func (q *quiescence) enter() (leave func()) {
	q.mu.Lock()
	q.inProgress++
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		q.inProgress--
		if q.inProgress == 0 {
			q.cond.Broadcast()
		}
		q.mu.Unlock()
	}
}

// cancellationInProgress reports whether cancelAllTasks is currently
// cancelling (or has most recently cancelled and not yet cleared). Queries
// poll this at their own checkpoints.
func (q *quiescence) cancellationInProgress() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled
}

// cancelAllTasks is idempotent: a second concurrent call while one is
// already in flight returns immediately once the flag observably is (or
// becomes) set, without waiting twice for quiescence.
func (q *quiescence) cancelAllTasks(ctx context.Context, v vfs.VFS, gateway *asyncGateway, lm *lockManager) error {
	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		return nil
	}
	q.cancelled = true
	q.mu.Unlock()

	gateway.cancelAll()
	lm.wakeAll()

	if err := v.CancelAllTasks(ctx); err != nil {
		logger.Warn("sm: vfs cancel_all_tasks returned an error: %v", err)
	}

	q.mu.Lock()
	for q.inProgress > 0 {
		q.cond.Wait()
	}
	q.cancelled = false
	q.mu.Unlock()
	return nil
}
