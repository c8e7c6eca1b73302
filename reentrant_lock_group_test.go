package qlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestReentrantLockGroup_Basic(t *testing.T) {
	var g ReentrantLockGroup[string]
	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	var counter int
	for range n {
		go func() {
			defer wg.Done()
			id := NewOwnerID()
			g.Lock("key", id)
			counter++
			g.Unlock("key", id)
		}()
	}
	wg.Wait()
	if counter != n {
		t.Fatalf("counter = %d, want %d", counter, n)
	}
	if g.Len() != 0 {
		t.Fatalf("Len = %d after all unlocks, want 0", g.Len())
	}
}

func TestReentrantLockGroup_RefCounting(t *testing.T) {
	var g ReentrantLockGroup[int]
	a := NewOwnerID()

	// 1. Lock -> Ref=1
	g.Lock(1, a)
	if _, ok := g.m.Load(1); !ok {
		t.Fatal("Entry should exist after Lock")
	}

	// 2. Reentrant Lock -> Ref=2
	g.Lock(1, a)
	if !g.IsHeldBy(1, a) {
		t.Fatal("IsHeldBy = false after Lock")
	}

	// 3. Ref=1 -> still present
	g.Unlock(1, a)
	if _, ok := g.m.Load(1); !ok {
		t.Fatal("Entry deleted while still held")
	}

	// 4. Ref=0 -> Deleted
	g.Unlock(1, a)
	if _, ok := g.m.Load(1); ok {
		t.Fatal("Entry should be auto-deleted after Unlock (ref=0)")
	}
}

func TestReentrantLockGroup_Independent(t *testing.T) {
	var g ReentrantLockGroup[string]
	a, b := NewOwnerID(), NewOwnerID()

	g.Lock("x", a)
	done := make(chan struct{})
	go func() {
		g.Lock("y", b)
		g.Unlock("y", b)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on y blocked by holder of x")
	}
	if g.Len() != 1 {
		t.Fatalf("Len = %d, want 1", g.Len())
	}
	g.Unlock("x", a)
}

func TestReentrantLockGroup_Exclusion(t *testing.T) {
	var g ReentrantLockGroup[string]
	a, b := NewOwnerID(), NewOwnerID()

	g.Lock("key", a)
	done := make(chan struct{})
	go func() {
		g.Lock("key", b) // Should block
		close(done)
		g.Unlock("key", b)
	}()

	select {
	case <-done:
		t.Fatal("Lock acquired while held by another owner")
	case <-time.After(10 * time.Millisecond):
	}
	g.Unlock("key", a)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Lock not acquired after Unlock")
	}
	waitUntil(t, "entry cleanup", func() bool { return g.Len() == 0 })
}

func TestReentrantLockGroup_TryLock(t *testing.T) {
	var g ReentrantLockGroup[string]
	a, b := NewOwnerID(), NewOwnerID()

	if !g.TryLock("k", a) {
		t.Fatal("TryLock on free key failed")
	}
	if g.TryLock("k", b) {
		t.Fatal("TryLock succeeded while held by another owner")
	}
	if !g.TryLock("k", a) {
		t.Fatal("reentrant TryLock failed")
	}
	g.Unlock("k", a)
	g.Unlock("k", a)
	if g.Len() != 0 {
		t.Fatalf("Len = %d, failed TryLock leaked a reference", g.Len())
	}
}

func TestReentrantLockGroup_LockContext(t *testing.T) {
	var g ReentrantLockGroup[string]
	a, b := NewOwnerID(), NewOwnerID()
	g.Lock("k", a)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.LockContext(ctx, "k", b); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("LockContext = %v, want context.DeadlineExceeded", err)
	}
	g.Unlock("k", a)
	if g.Len() != 0 {
		t.Fatalf("Len = %d, cancelled LockContext leaked a reference", g.Len())
	}

	if err := g.LockContext(context.Background(), "k", b); err != nil {
		t.Fatalf("LockContext = %v", err)
	}
	g.Unlock("k", b)
}

func TestReentrantLockGroup_UnlockNotOwner(t *testing.T) {
	var g ReentrantLockGroup[string]
	a, b := NewOwnerID(), NewOwnerID()

	mustPanicWith(t, ErrNotOwner, func() { g.Unlock("missing", a) })

	g.Lock("k", a)
	mustPanicWith(t, ErrNotOwner, func() { g.Unlock("k", b) })
	if !g.IsHeldBy("k", a) {
		t.Fatal("illegal Unlock disturbed the holder")
	}
	g.Unlock("k", a)
	if g.Len() != 0 {
		t.Fatalf("Len = %d, want 0", g.Len())
	}
}
