package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/owlog/pkg/log"
)

var (
	// ErrWorkersRemaining is returned by Finish when registered workers did
	// not deregister before the timeout. The coordinator stays usable.
	ErrWorkersRemaining = errors.New("not all workers exited")

	// ErrDisposed is returned by every operation after a successful Finish
	ErrDisposed = errors.New("shutdown coordinator disposed")

	// ErrNotRegistered is returned by Deregister when no worker is registered
	ErrNotRegistered = errors.New("no registered worker to deregister")
)

// Coordinator is a reference-counted shutdown broadcast shared by every
// long-running worker of the process.
//
// The requested flag is monotonic: once set it is never cleared. The worker
// counter never goes negative. All mutable state is guarded by mu and every
// wait on cond re-checks its predicate after waking.
type Coordinator struct {
	mu       sync.Mutex
	cond     *sync.Cond
	workers  int
	disposed bool

	requested atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a coordinator with no workers and shutdown not requested
func New() *Coordinator {
	c := &Coordinator{}
	c.cond = sync.NewCond(&c.mu)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Register increments the live-worker counter
func (c *Coordinator) Register() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return ErrDisposed
	}
	c.workers++
	return nil
}

// Deregister decrements the live-worker counter and wakes a pending Finish
func (c *Coordinator) Deregister() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return ErrDisposed
	}
	if c.workers == 0 {
		return ErrNotRegistered
	}
	c.workers--
	c.cond.Broadcast()
	return nil
}

// Go registers a worker and runs fn in its own goroutine, deregistering when
// fn returns. Registration happens before Go returns, so a Finish issued
// afterwards always waits for fn.
func (c *Coordinator) Go(fn func()) error {
	if err := c.Register(); err != nil {
		return err
	}
	go func() {
		defer func() {
			if err := c.Deregister(); err != nil {
				// An unbalanced Deregister elsewhere released this
				// worker's count
				logger := log.WithComponent("shutdown")
				logger.Error().
					Err(err).
					Str("kind", "invariant").
					Msg("Failed to deregister worker")
			}
		}()
		fn()
	}()
	return nil
}

// Workers returns the number of registered workers
func (c *Coordinator) Workers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workers
}

// RequestShutdown sets the shutdown flag and wakes every waiter. It never
// blocks on workers and may be called any number of times.
func (c *Coordinator) RequestShutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.requested.Swap(true) {
		return
	}
	c.cancel()
	c.cond.Broadcast()
}

// IsShuttingDown reports whether shutdown was requested, without locking
func (c *Coordinator) IsShuttingDown() bool {
	return c.requested.Load()
}

// Done returns a channel closed when shutdown is requested
func (c *Coordinator) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context returns a context cancelled when shutdown is requested
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Wait blocks until shutdown is requested
func (c *Coordinator) Wait() {
	<-c.ctx.Done()
}

// SleepOrShutdown blocks for d or until shutdown is requested, whichever
// comes first. It returns true when woken by shutdown, including when
// shutdown was already requested on entry.
func (c *Coordinator) SleepOrShutdown(d time.Duration) bool {
	if c.IsShuttingDown() {
		return true
	}
	if d <= 0 {
		return c.IsShuttingDown()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return true
	case <-timer.C:
		return c.IsShuttingDown()
	}
}

// Finish requests shutdown and waits up to timeout for every registered
// worker to deregister.
//
// On success the coordinator is disposed and must not be used again. On
// timeout it returns ErrWorkersRemaining and stays intact, so stragglers can
// still deregister safely.
func (c *Coordinator) Finish(timeout time.Duration) error {
	c.RequestShutdown()

	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return ErrDisposed
	}

	for c.workers > 0 {
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %d still running after %v", ErrWorkersRemaining, c.workers, timeout)
		}
		c.cond.Wait()
	}

	c.disposed = true
	return nil
}
