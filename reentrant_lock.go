package qlock

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/llxisdsh/qlock/internal/opt"
)

// ReentrantLock is a fair, reentrant, exclusive lock.
//
// The lock is a single state word (0 = free, n > 0 = held n times by one
// owner) plus an intrusive FIFO queue of parked waiters. Unlike sync.Mutex,
// it never lets a newcomer barge ahead of goroutines that are already
// queued: goroutines that blocked acquire the lock in the order they
// enqueued.
//
// Ownership is explicit. Every call names an OwnerID; the same OwnerID may
// acquire again without blocking and must release once per acquire.
//
// Implementation:
//   - Lock(): CAS state 0->1 when nobody is queued ahead, or bump the count
//     if already the owner. Otherwise link a Waiter at the tail with CAS
//     and park until the node before it is the head and the CAS succeeds.
//   - Unlock(): drop the count; at zero, clear the owner and unpark the
//     first live waiter after the head.
//
// The zero value is an unlocked lock. A ReentrantLock must not be copied
// after first use.
type ReentrantLock struct {
	_ noCopy
	// state is the hold count. Moves away from 0 only by CAS; positive
	// values are written only by the owner.
	state atomic.Int32
	owner atomic.Uint64

	_ opt.Pad_

	// head is the dispatched slot; its successor is the next candidate.
	// Lazily created on first contention.
	head atomic.Pointer[Waiter]
	tail atomic.Pointer[Waiter]
}

// Lock acquires the lock for id, blocking until it is available.
// If id already holds the lock, the hold count is incremented and Lock
// returns immediately.
//
// Lock panics with ErrInvalidOwner if id is NoOwner, and with ErrMaxDepth
// if the hold count would overflow.
func (l *ReentrantLock) Lock(id OwnerID) {
	_ = l.acquire(context.Background(), id, 1)
}

// LockContext is like Lock but gives up when ctx is done.
//
// If ctx is already done, LockContext returns ctx.Err() without trying.
// If ctx ends while id is queued, the waiter is removed from the queue,
// any wake-up it received is passed on to the next waiter, and ctx.Err()
// is returned. On error the lock is not held on behalf of this call.
func (l *ReentrantLock) LockContext(ctx context.Context, id OwnerID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.acquire(ctx, id, 1)
}

// TryLock acquires the lock only if that is possible without blocking:
// the lock is free and nobody is queued, or id already holds it.
func (l *ReentrantLock) TryLock(id OwnerID) bool {
	checkOwner(id)
	return l.tryAcquire(id, nil, 1)
}

// Unlock releases one hold of id. When the hold count reaches zero the lock
// becomes free and the longest-waiting goroutine is woken.
//
// Unlock panics with ErrNotOwner if id does not hold the lock.
func (l *ReentrantLock) Unlock(id OwnerID) {
	l.release(id, 1)
}

// Locker returns a sync.Locker that locks and unlocks on behalf of id.
func (l *ReentrantLock) Locker(id OwnerID) sync.Locker {
	return ownerLocker{l: l, id: id}
}

type ownerLocker struct {
	l  *ReentrantLock
	id OwnerID
}

func (o ownerLocker) Lock()   { o.l.Lock(o.id) }
func (o ownerLocker) Unlock() { o.l.Unlock(o.id) }

func checkOwner(id OwnerID) {
	if id == NoOwner {
		panic(ErrInvalidOwner)
	}
}

func (l *ReentrantLock) acquire(ctx context.Context, id OwnerID, n int32) error {
	checkOwner(id)
	if l.tryAcquire(id, nil, n) {
		return nil
	}
	w := newWaiter(ctx, id)
	l.enqueue(w)
	return l.acquireQueued(ctx, w, id, n)
}

// tryAcquire takes the lock without blocking. self is the caller's queued
// node, or nil on the fast path.
func (l *ReentrantLock) tryAcquire(id OwnerID, self *Waiter, n int32) bool {
	c := l.state.Load()
	if c == 0 {
		if !l.hasQueuedPredecessors(self) && l.state.CompareAndSwap(0, n) {
			l.owner.Store(uint64(id))
			return true
		}
		return false
	}
	if OwnerID(l.owner.Load()) != id {
		return false
	}
	// Only the owner writes a positive state.
	if c > math.MaxInt32-n {
		panic(ErrMaxDepth)
	}
	l.state.Store(c + n)
	return true
}

func (l *ReentrantLock) release(id OwnerID, n int32) {
	if id == NoOwner || OwnerID(l.owner.Load()) != id {
		panic(ErrNotOwner)
	}
	c := l.state.Load() - n
	if c > 0 {
		l.state.Store(c)
		return
	}
	// Clear the owner first: once state is 0 another goroutine may win
	// the CAS and install itself.
	l.owner.Store(uint64(NoOwner))
	l.state.Store(0)
	if h := l.head.Load(); h != nil {
		l.unparkSuccessor(h)
	}
}

// hasQueuedPredecessors reports whether a live waiter other than self is
// first in line.
func (l *ReentrantLock) hasQueuedPredecessors(self *Waiter) bool {
	// tail before head: head is published before tail on first enqueue.
	t := l.tail.Load()
	h := l.head.Load()
	if h == t {
		return false
	}
	s := h.next.Load()
	if s == nil || s.cancelled() {
		s = firstWaiter(h, t)
	}
	return s != nil && s != self
}

// firstWaiter walks from t toward h and returns the live waiter closest to
// h. Forward links may not be published yet; prev links always are.
func firstWaiter(h, t *Waiter) *Waiter {
	var first *Waiter
	for p := t; p != nil && p != h; {
		pp := p.prev.Load()
		if pp == nil {
			// p has itself become a head since h was read.
			break
		}
		if !p.cancelled() {
			first = p
		}
		p = pp
	}
	return first
}

// enqueue links w at the tail, creating the sentinel head if the queue has
// never been used.
func (l *ReentrantLock) enqueue(w *Waiter) {
	for {
		t := l.tail.Load()
		if t == nil {
			s := &Waiter{}
			if l.head.CompareAndSwap(nil, s) {
				l.tail.Store(s)
			}
			continue
		}
		w.prev.Store(t)
		if l.tail.CompareAndSwap(t, w) {
			t.next.Store(w)
			return
		}
	}
}

func (l *ReentrantLock) acquireQueued(ctx context.Context, w *Waiter, id OwnerID, n int32) error {
	var spins int
	for {
		p := livePredecessor(w)
		if p == l.head.Load() {
			if l.tryAcquire(id, w, n) {
				l.setHead(w)
				p.next.Store(nil)
				return nil
			}
			if trySpin(&spins) {
				continue
			}
		}
		if err := w.park(ctx); err != nil {
			l.cancelAcquire(w)
			return err
		}
		spins = 0
	}
}

// livePredecessor returns the nearest predecessor of w that has not been
// cancelled, unlinking the cancelled ones in between. Only w's own goroutine
// rewrites w.prev.
func livePredecessor(w *Waiter) *Waiter {
	p := w.prev.Load()
	if !p.cancelled() {
		return p
	}
	for p.cancelled() {
		p = p.prev.Load()
	}
	w.prev.Store(p)
	p.next.Store(w)
	return p
}

// setHead makes w the dispatched slot. Called only by w's goroutine right
// after it acquired the lock.
func (l *ReentrantLock) setHead(w *Waiter) {
	l.head.Store(w)
	w.owner.Store(uint64(NoOwner))
	w.prev.Store(nil)
}

// unparkSuccessor wakes the first live waiter after h, if any.
func (l *ReentrantLock) unparkSuccessor(h *Waiter) {
	s := h.next.Load()
	if s == nil || s.cancelled() {
		s = firstWaiter(h, l.tail.Load())
	}
	if s != nil {
		s.unpark()
	}
}

// cancelAcquire takes w out of line after its context ended.
//
// A release may already have chosen w as the one to wake. Since w will
// never take the lock, the wake-up is forwarded to whoever is first in line
// now; an extra wake-up only costs the woken waiter one more check.
func (l *ReentrantLock) cancelAcquire(w *Waiter) {
	w.owner.Store(uint64(NoOwner))
	w.status.Store(waiterCancelled)

	p := w.prev.Load()
	for p.cancelled() {
		p = p.prev.Load()
	}
	if l.tail.CompareAndSwap(w, p) {
		p.next.CompareAndSwap(w, nil)
	}
	if h := l.head.Load(); h != nil {
		l.unparkSuccessor(h)
	}
}

// ============================================================================
// Introspection
// ============================================================================

// IsLocked reports whether any owner holds the lock.
func (l *ReentrantLock) IsLocked() bool {
	return l.state.Load() != 0
}

// IsHeldBy reports whether id holds the lock.
func (l *ReentrantLock) IsHeldBy(id OwnerID) bool {
	return id != NoOwner && OwnerID(l.owner.Load()) == id
}

// HoldCount returns the number of holds id has on the lock, or 0.
func (l *ReentrantLock) HoldCount(id OwnerID) int {
	if !l.IsHeldBy(id) {
		return 0
	}
	return int(l.state.Load())
}

// Owner returns the current owner, or NoOwner.
// The result is a snapshot and may be stale by the time it is used.
func (l *ReentrantLock) Owner() OwnerID {
	return OwnerID(l.owner.Load())
}

// HasQueuedWaiters reports whether any goroutine is waiting to acquire.
func (l *ReentrantLock) HasQueuedWaiters() bool {
	t := l.tail.Load()
	h := l.head.Load()
	return h != t && firstWaiter(h, t) != nil
}

// HasQueuedPredecessors reports whether a goroutine other than id is first
// in line. A fast-path acquire by id would fail the fairness check exactly
// when this is true.
func (l *ReentrantLock) HasQueuedPredecessors(id OwnerID) bool {
	t := l.tail.Load()
	h := l.head.Load()
	if h == t {
		return false
	}
	s := firstWaiter(h, t)
	return s != nil && s.Owner() != id
}

// QueueLength returns an estimate of the number of waiting goroutines.
func (l *ReentrantLock) QueueLength() int {
	var n int
	l.walkQueue(func(*Waiter) { n++ })
	return n
}

// QueuedOwners returns the identities of waiting goroutines, first in line
// first.
func (l *ReentrantLock) QueuedOwners() []OwnerID {
	var ids []OwnerID
	l.walkQueue(func(w *Waiter) {
		if id := w.Owner(); id != NoOwner {
			ids = append(ids, id)
		}
	})
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids
}

// walkQueue calls fn for each live waiter from the tail toward the head.
func (l *ReentrantLock) walkQueue(fn func(*Waiter)) {
	t := l.tail.Load()
	h := l.head.Load()
	for p := t; p != nil && p != h; {
		pp := p.prev.Load()
		if pp == nil {
			break
		}
		if !p.cancelled() {
			fn(p)
		}
		p = pp
	}
}

// Head returns the queue's sentinel head, or nil if no goroutine has ever
// queued. For diagnostics and tests only.
func (l *ReentrantLock) Head() *Waiter {
	return l.head.Load()
}

// Tail returns the most recently queued node, or nil if no goroutine has
// ever queued. For diagnostics and tests only.
func (l *ReentrantLock) Tail() *Waiter {
	return l.tail.Load()
}
