package opt

import (
	_ "unsafe" // for linkname
)

// Sema is a zero-allocation semaphore optimized for performance.
// It is a direct wrapper around runtime.semacquire/semrelease, the same
// park/unpark primitive sync.Mutex sleeps on.
//
// Release before Acquire is not lost: the count is kept in the word itself.
type Sema uint32

// Acquire blocks until the count is positive, then decrements it.
func (s *Sema) Acquire() {
	runtime_semacquire((*uint32)(s))
}

// Release increments the count and wakes one blocked Acquire, if any.
func (s *Sema) Release() {
	runtime_semrelease((*uint32)(s), false, 0)
}

//go:linkname runtime_semacquire sync.runtime_Semacquire
func runtime_semacquire(s *uint32)

//go:linkname runtime_semrelease sync.runtime_Semrelease
func runtime_semrelease(s *uint32, handoff bool, skipframes int)
