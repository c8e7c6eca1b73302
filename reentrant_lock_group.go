package qlock

import (
	"context"

	"github.com/llxisdsh/pb"
)

// ReentrantLockGroup allows fair, reentrant locking on arbitrary keys
// (string, int, struct, etc.).
//
// Features:
//   - Infinite Keys: No need to pre-allocate locks.
//   - Auto-Cleanup: a key's lock is dropped once nobody holds or waits for it.
//   - Same semantics per key as ReentrantLock: FIFO admission, reentrancy
//     by OwnerID, ErrNotOwner on misuse.
//
// Usage:
//
//	var group ReentrantLockGroup[string]
//	me := NewOwnerID()
//	group.Lock("user-123", me)
//	// Critical section for user-123
//	group.Unlock("user-123", me)
//
// Implementation Note:
// Every pending or held acquisition keeps a reference on its key's entry,
// so an entry is deleted only when no Lock call can still be using it.
type ReentrantLockGroup[K comparable] struct {
	_ noCopy
	m pb.MapOf[K, *lockGroupEntry]
}

type lockGroupEntry struct {
	mu ReentrantLock
	// ref is guarded by the map's per-entry processing.
	ref int32
}

// Lock acquires the lock for k on behalf of id.
func (g *ReentrantLockGroup[K]) Lock(k K, id OwnerID) {
	checkOwner(id)
	g.ref(k).mu.Lock(id)
}

// LockContext is like Lock but gives up when ctx is done.
func (g *ReentrantLockGroup[K]) LockContext(ctx context.Context, k K, id OwnerID) error {
	checkOwner(id)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.ref(k).mu.LockContext(ctx, id); err != nil {
		g.unref(k)
		return err
	}
	return nil
}

// TryLock acquires the lock for k only if it can do so without blocking.
func (g *ReentrantLockGroup[K]) TryLock(k K, id OwnerID) bool {
	checkOwner(id)
	if g.ref(k).mu.TryLock(id) {
		return true
	}
	g.unref(k)
	return false
}

// Unlock releases one hold of id on k.
// It panics with ErrNotOwner if id does not hold k.
func (g *ReentrantLockGroup[K]) Unlock(k K, id OwnerID) {
	v, ok := g.m.Load(k)
	if !ok {
		panic(ErrNotOwner)
	}
	v.mu.Unlock(id)
	g.unref(k)
}

// IsHeldBy reports whether id holds the lock for k.
func (g *ReentrantLockGroup[K]) IsHeldBy(k K, id OwnerID) bool {
	v, ok := g.m.Load(k)
	return ok && v.mu.IsHeldBy(id)
}

// Len returns the number of keys currently held or waited for.
func (g *ReentrantLockGroup[K]) Len() int {
	return g.m.Size()
}

func (g *ReentrantLockGroup[K]) ref(k K) *lockGroupEntry {
	v, _ := g.m.ProcessEntry(
		k,
		func(l *pb.EntryOf[K, *lockGroupEntry]) (*pb.EntryOf[K, *lockGroupEntry], *lockGroupEntry, bool) {
			if l != nil {
				l.Value.ref++
				return l, l.Value, true
			}
			v := &lockGroupEntry{ref: 1}
			return &pb.EntryOf[K, *lockGroupEntry]{Value: v}, v, false
		},
	)
	return v
}

func (g *ReentrantLockGroup[K]) unref(k K) {
	g.m.ProcessEntry(
		k,
		func(l *pb.EntryOf[K, *lockGroupEntry]) (*pb.EntryOf[K, *lockGroupEntry], *lockGroupEntry, bool) {
			if l == nil {
				return nil, nil, false
			}
			l.Value.ref--
			if l.Value.ref <= 0 {
				return nil, l.Value, true
			}
			return l, l.Value, true
		},
	)
}
