package qlock

import (
	"errors"
	"sync/atomic"
)

// OwnerID identifies the party that holds or waits for a lock.
//
// Go does not expose goroutine identity, so every acquire and release names
// its owner explicitly. A goroutine that wants reentrant behavior allocates
// one OwnerID with NewOwnerID and passes it to each call.
type OwnerID uint64

// NoOwner is the identity of an unheld lock. It is never returned by
// NewOwnerID and must not be used to acquire.
const NoOwner OwnerID = 0

var ownerSeq atomic.Uint64

// NewOwnerID returns a process-unique, non-zero identity.
func NewOwnerID() OwnerID {
	return OwnerID(ownerSeq.Add(1))
}

var (
	// ErrNotOwner is the panic value of a release by a caller that does not
	// hold the lock.
	ErrNotOwner = errors.New("qlock: unlock of lock not held by caller")

	// ErrMaxDepth is the panic value of a reentrant acquire that would
	// overflow the hold count.
	ErrMaxDepth = errors.New("qlock: maximum lock count exceeded")

	// ErrInvalidOwner is the panic value of an acquire made as NoOwner.
	ErrInvalidOwner = errors.New("qlock: acquire with NoOwner identity")
)
