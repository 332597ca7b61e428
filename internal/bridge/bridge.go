package bridge

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	shadowerrors "github.com/shadowfs/shadowfs/pkg/errors"
	"github.com/shadowfs/shadowfs/pkg/retry"
)

// Config configures a Bridge.
type Config struct {
	Workers        int
	MaxConcurrency int64
	DefaultTimeout time.Duration
	MaxRetries     int
	SweepInterval  time.Duration
	Retry          retry.Config
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = int64(c.Workers)
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	return c
}

// Bridge is the priority-queued async callback dispatcher.
type Bridge struct {
	cfg Config

	mu   sync.Mutex
	cond *sync.Cond
	heap taskHeap

	seq uint64

	sem *semaphore.Weighted

	rootCtx    context.Context
	rootCancel context.CancelFunc
	running    int32

	wg sync.WaitGroup

	backpressure int64

	Coalescer *Coalescer
}

// New creates a Bridge and starts its worker pool and background
// sweeper. cfg.Workers workers draw from the priority heap; at most
// cfg.MaxConcurrency run concurrently.
func New(cfg Config) *Bridge {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        cfg,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrency),
		rootCtx:    ctx,
		rootCancel: cancel,
		running:    1,
	}
	b.cond = sync.NewCond(&b.mu)
	b.Coalescer = NewCoalescer(func(string, int64, []byte) {})

	for i := 0; i < cfg.Workers; i++ {
		b.wg.Add(1)
		go b.workerLoop()
	}
	b.wg.Add(1)
	go b.sweeperLoop()

	return b
}

// Submit enqueues op under priority and returns a cancellation token and
// the channel the result will arrive on.
func (b *Bridge) Submit(op Op, priority Priority, timeout time.Duration, retryable, degradable bool, defaultOnDegrade interface{}) (CancellationToken, <-chan Result) {
	if timeout <= 0 {
		timeout = b.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithCancel(b.rootCtx)

	b.mu.Lock()
	b.seq++
	t := &Task{
		ID:               b.seq,
		seq:              b.seq,
		priority:         priority,
		op:               op,
		Timeout:          timeout,
		Retryable:        retryable,
		Degradable:       degradable,
		DefaultOnDegrade: defaultOnDegrade,
		MaxRetries:       b.cfg.MaxRetries,
		ctx:              ctx,
		cancel:           cancel,
		resultCh:         make(chan Result, 1),
		submittedAt:      time.Now(),
	}
	heap.Push(&b.heap, t)
	b.cond.Signal()
	b.mu.Unlock()

	return CancellationToken{task: t}, t.resultCh
}

func (b *Bridge) workerLoop() {
	defer b.wg.Done()
	for {
		t := b.popTask()
		if t == nil {
			return // shutdown
		}
		if t.cancelled {
			t.resultCh <- Result{Err: shadowerrors.New(shadowerrors.ErrCodeCancelled, "task cancelled before execution")}
			continue
		}
		b.execute(t)
	}
}

// popTask blocks until a task is available or the bridge is shutting
// down, in which case it returns nil.
func (b *Bridge) popTask() *Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.heap.Len() == 0 && atomic.LoadInt32(&b.running) == 1 {
		b.cond.Wait()
	}
	if b.heap.Len() == 0 {
		return nil
	}
	return heap.Pop(&b.heap).(*Task)
}

func (b *Bridge) execute(t *Task) {
	if !b.sem.TryAcquire(1) {
		atomic.AddInt64(&b.backpressure, 1)
		if err := b.sem.Acquire(t.ctx, 1); err != nil {
			t.resultCh <- Result{Err: shadowerrors.New(shadowerrors.ErrCodeCancelled, "cancelled while waiting for a worker permit")}
			return
		}
	}
	defer b.sem.Release(1)

	ctx, cancel := context.WithTimeout(t.ctx, t.Timeout)
	defer cancel()

	slowTimer := time.AfterFunc(t.Timeout*8/10, func() {
		log.Printf("bridge: task %d exceeded 80%% of its %s timeout", t.ID, t.Timeout)
	})
	defer slowTimer.Stop()

	done := make(chan Result, 1)
	go func() {
		val, err := t.op(ctx)
		done <- Result{Value: val, Err: err}
	}()

	select {
	case res := <-done:
		t.resultCh <- res
	case <-ctx.Done():
		b.handleTimeout(t)
	}
}

func (b *Bridge) handleTimeout(t *Task) {
	if t.ctx.Err() != nil && t.cancelled {
		t.resultCh <- Result{Err: shadowerrors.New(shadowerrors.ErrCodeCancelled, "task cancelled")}
		return
	}
	if t.Retryable && t.retries < t.MaxRetries {
		t.retries++
		delay := retry.DefaultConfig().InitialDelay << uint(t.retries-1)
		time.AfterFunc(delay, func() { b.reenqueue(t) })
		return
	}
	if t.Degradable {
		t.resultCh <- Result{Value: t.DefaultOnDegrade}
		return
	}
	t.resultCh <- Result{Err: shadowerrors.New(shadowerrors.ErrCodeOperationTimeout, "task timed out").
		WithDetail("task_id", t.ID)}
}

func (b *Bridge) reenqueue(t *Task) {
	ctx, cancel := context.WithCancel(b.rootCtx)
	t.ctx = ctx
	t.cancel = cancel

	b.mu.Lock()
	b.seq++
	t.seq = b.seq
	heap.Push(&b.heap, t)
	b.cond.Signal()
	b.mu.Unlock()
}

// Backpressure returns the cumulative count of permit-acquisition waits.
func (b *Bridge) Backpressure() int64 {
	return atomic.LoadInt64(&b.backpressure)
}

func (b *Bridge) sweeperLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.rootCtx.Done():
			return
		case <-ticker.C:
			b.sweepCancelled()
		}
	}
}

// sweepCancelled purges cancelled tasks still sitting in the queue so
// they don't occupy a worker slot once popped.
func (b *Bridge) sweepCancelled() {
	b.mu.Lock()
	defer b.mu.Unlock()
	var kept taskHeap
	for _, t := range b.heap {
		if t.cancelled {
			t.resultCh <- Result{Err: shadowerrors.New(shadowerrors.ErrCodeCancelled, "task purged while queued")}
			continue
		}
		kept = append(kept, t)
	}
	b.heap = kept
	heap.Init(&b.heap)
}

// Shutdown flips the running flag, cancels the root token, and waits for
// every worker to drain its current task before returning.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	atomic.StoreInt32(&b.running, 0)
	b.rootCancel()
	b.cond.Broadcast()
	b.mu.Unlock()
	b.wg.Wait()
}
