package qlock

import (
	"context"
	"sync/atomic"

	"github.com/llxisdsh/qlock/internal/opt"
)

const (
	waiterWaiting int32 = iota
	waiterCancelled
)

// Waiter is a node of a ReentrantLock wait queue.
//
// A Waiter is created by the goroutine that fails the fast path, linked at
// the tail, and becomes the queue head (the dispatched slot) once that
// goroutine acquires the lock. The head node keeps no owner and no prev link.
//
// Waiters are exposed only through ReentrantLock.Head and ReentrantLock.Tail
// for diagnostics. Their links change concurrently, so anything read through
// them is a snapshot.
type Waiter struct {
	owner  atomic.Uint64
	prev   atomic.Pointer[Waiter]
	next   atomic.Pointer[Waiter]
	status atomic.Int32

	// Parking: sema for waiters that cannot be cancelled, wake for
	// waiters that also select on a context.
	sema opt.Sema
	wake chan struct{}
}

func newWaiter(ctx context.Context, id OwnerID) *Waiter {
	w := &Waiter{}
	w.owner.Store(uint64(id))
	if ctx.Done() != nil {
		w.wake = make(chan struct{}, 1)
	}
	return w
}

// park blocks until unpark is called or ctx is done.
// It may return early; callers re-check their condition.
func (w *Waiter) park(ctx context.Context) error {
	if w.wake == nil {
		w.sema.Acquire()
		return nil
	}
	select {
	case <-w.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// unpark wakes the parked goroutine, or lets its next park return at once.
func (w *Waiter) unpark() {
	if w.wake == nil {
		w.sema.Release()
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
		// A permit is already pending.
	}
}

func (w *Waiter) cancelled() bool {
	return w.status.Load() == waiterCancelled
}

// Owner returns the identity waiting in this node, or NoOwner for the
// dispatched head and for cancelled nodes.
func (w *Waiter) Owner() OwnerID {
	return OwnerID(w.owner.Load())
}

// Prev returns the node toward the head, or nil for the head.
func (w *Waiter) Prev() *Waiter {
	return w.prev.Load()
}

// Next returns the node toward the tail.
// A nil result does not prove there is no successor: forward links are
// published after the tail moves.
func (w *Waiter) Next() *Waiter {
	return w.next.Load()
}

// Cancelled reports whether the waiter gave up before acquiring.
func (w *Waiter) Cancelled() bool {
	return w.cancelled()
}
