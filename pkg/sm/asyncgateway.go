package sm

import (
	"context"
	"sync"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/internal/ratelimiter"
)

// AsyncQuery is the minimal surface submit_async needs from a caller's
// query object: a synchronous run and a cancel hook safe to call before
// run has started. Query execution itself is out of scope here.
type AsyncQuery interface {
	// Run executes the query synchronously; errors are logged, not
	// returned to the enqueuer (matching the fire-and-forget submit_async
	// contract).
	Run(ctx context.Context) error
	// Cancel marks the query cancelled. It is called from the goroutine
	// running CancelAllTasks, and only for a query whose Run has not
	// started and never will, so it never races with Run.
	Cancel()
}

// asyncTask is one entry on the gateway's cancelable queue: a run closure
// and a cancel closure, following the same stopCh/doneCh background-worker
// shape the teacher's gc.Collector uses for its periodic worker, adapted
// here to a per-task cancel instead of a single collector-wide stop.
type asyncTask struct {
	id     int64
	query  AsyncQuery
	cancel func()
}

// asyncGateway submits queries to a bounded worker pool with a rate
// limiter guarding the submission rate, and a task registry so
// cancelAllTasks can invoke the cancel closure of every task that hasn't
// started running yet.
type asyncGateway struct {
	limiter *ratelimiter.RateLimiter

	tasks chan asyncTask

	mu      sync.Mutex
	pending map[int64]asyncTask
	nextID  int64

	wg   sync.WaitGroup
	done chan struct{}
}

// newAsyncGateway starts numWorkers goroutines draining the task queue.
// submitsPerSecond of 0 means unlimited submission rate (ratelimiter.New's
// own convention).
func newAsyncGateway(numWorkers int, submitsPerSecond float64) *asyncGateway {
	if numWorkers < 1 {
		numWorkers = 1
	}
	g := &asyncGateway{
		limiter: ratelimiter.New(uint(submitsPerSecond), uint(submitsPerSecond)*2),
		tasks:   make(chan asyncTask, numWorkers*4),
		pending: make(map[int64]asyncTask),
		done:    make(chan struct{}),
	}

	for i := 0; i < numWorkers; i++ {
		g.wg.Add(1)
		go g.worker()
	}
	return g
}

func (g *asyncGateway) worker() {
	defer g.wg.Done()
	for {
		select {
		case t, ok := <-g.tasks:
			if !ok {
				return
			}
			g.run(t)
		case <-g.done:
			return
		}
	}
}

// run executes t unless it was cancelled while still sitting in the
// pending map; removing it from that map here (rather than at enqueue
// time) is what makes "not yet started" in cancelAll's doc comment literal
// — a task is pending from submitAsync until the instant a worker picks
// it up, never in between.
func (g *asyncGateway) run(t asyncTask) {
	g.mu.Lock()
	_, stillPending := g.pending[t.id]
	delete(g.pending, t.id)
	g.mu.Unlock()
	if !stillPending {
		// cancelAll already removed it and invoked its cancel closure.
		return
	}

	if err := t.query.Run(context.Background()); err != nil {
		logger.Warn("sm: async query failed: %v", err)
	}
}

// submitAsync enqueues query's run and cancel closures. It blocks only on
// the rate limiter (if configured) and on the task channel having room;
// neither blocks on the query itself executing.
func (g *asyncGateway) submitAsync(ctx context.Context, query AsyncQuery) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	id := g.nextID
	g.nextID++
	t := asyncTask{id: id, query: query, cancel: query.Cancel}
	g.pending[id] = t
	g.mu.Unlock()

	select {
	case g.tasks <- t:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
		return ctx.Err()
	}
}

// cancelAll invokes the cancel closure of every task still sitting in the
// pending map (i.e. not yet handed to a worker), safe to call from the
// enqueuer thread since those tasks are guaranteed not to have started.
func (g *asyncGateway) cancelAll() {
	g.mu.Lock()
	pending := g.pending
	g.pending = make(map[int64]asyncTask)
	g.mu.Unlock()

	for _, t := range pending {
		t.cancel()
	}
}

// shutdown signals every worker to exit and waits for them; a worker first
// finishes the query it is running. Tasks still in the queue when the
// workers exit are neither run nor cancelled, and submitAsync does not
// check whether shutdown has happened.
func (g *asyncGateway) shutdown() {
	close(g.done)
	g.wg.Wait()
}
