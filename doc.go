// Package qlock provides a fair, reentrant, queued lock built directly on a
// CAS state word and an intrusive FIFO queue of parked waiters, in the style
// of an abstract queued synchronizer.
//
// Two types are provided:
//
//   - ReentrantLock: a single lock. Waiters acquire in arrival order, and the
//     holder may re-acquire without blocking.
//   - ReentrantLockGroup: a set of ReentrantLocks keyed by arbitrary values,
//     created on demand and dropped once idle.
//
// Identity is explicit. Obtain an OwnerID with NewOwnerID and pass it to
// every call made on behalf of that owner:
//
//	var mu qlock.ReentrantLock
//	me := qlock.NewOwnerID()
//
//	mu.Lock(me)
//	mu.Lock(me) // reentrant, does not block
//	mu.Unlock(me)
//	mu.Unlock(me)
//
// Misuse is fatal to the call: releasing a lock not held by the caller
// panics with ErrNotOwner, and nesting beyond the representable depth
// panics with ErrMaxDepth.
package qlock
