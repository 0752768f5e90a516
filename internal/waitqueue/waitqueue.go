// Package waitqueue implements the single-threaded-waiter LIFO that backs
// a Cell's exclusive lock: a lock bit plus an atomically linked stack of
// waiter frames, each parked on its own channel.
//
// This is a Go-native reading of original_source/src/map/cell.rs's
// ExclusiveLocker (an AtomicU64 XLOCK bit plus a wait_queue of
// stack-allocated WaitQueueEntry nodes signaled through a Mutex+Condvar
// pair) and hashindex/cell.rs's tagged-Atomic<WaitQueueEntry> variant.
// Go has no portable stack-address trick for intrusive nodes, so waiter
// frames are heap-allocated and signaled through a buffered channel,
// matching the teacher's channel-based signaling style (SlabPool.free,
// shutdownCh in internal/cache/cache_engine_v3.go).
package waitqueue

import "sync/atomic"

// waiter is one parked thread's frame, linked into the queue LIFO.
type waiter struct {
	next   *waiter
	signal chan struct{}
}

// Word is the lock + wait-queue head for one Cell. Zero value is unlocked
// with an empty queue.
type Word struct {
	head atomic.Pointer[waiter]
	lock atomic.Bool
}

// TryLock attempts to set the lock bit without blocking. Returns true on
// success.
func (w *Word) TryLock() bool {
	return w.lock.CompareAndSwap(false, true)
}

// Locked reports whether the lock bit is currently set. Racy by nature;
// intended for diagnostics only.
func (w *Word) Locked() bool {
	return w.lock.Load()
}

// Park registers the caller as a waiter and blocks until woken, returning
// whether retry succeeded. It pushes a waiter frame onto the queue first
// and only then calls retry once more: if that succeeds, it wakes every
// queued waiter (including itself) so the frame's channel always fires
// before Park returns, whichever branch ran.
//
// The double-check closes the race spec.md §4.2 calls out: a thread that
// sees the lock held may race the releaser. By publishing its frame
// before retrying, either the releaser observes the frame (and will
// signal it on Unlock), or the retry itself succeeds because the lock
// was actually free all along — in which case this call wakes its own
// frame (and anyone else queued) immediately instead of waiting for a
// separate Unlock.
func (w *Word) Park(retry func() bool) bool {
	me := &waiter{signal: make(chan struct{}, 1)}
	for {
		cur := w.head.Load()
		me.next = cur
		if w.head.CompareAndSwap(cur, me) {
			break
		}
	}

	locked := retry()
	if locked {
		w.UnparkAll()
	}

	<-me.signal
	return locked
}

// UnparkAll detaches the queue head and signals every waiter in LIFO
// order, matching original_source's wakeup(): CAS the head to nil, then
// walk the detached list calling signal() on each node.
func (w *Word) UnparkAll() {
	for {
		cur := w.head.Load()
		if cur == nil {
			return
		}
		if w.head.CompareAndSwap(cur, nil) {
			for n := cur; n != nil; n = n.next {
				n.signal <- struct{}{}
			}
			return
		}
	}
}

// Lock acquires the exclusive bit, parking the calling goroutine if it is
// already held. It is the common TryLock/Park loop every caller in
// internal/cell needs, exposed here so they don't each re-derive it.
func (w *Word) Lock() {
	if w.TryLock() {
		return
	}
	for !w.Park(w.TryLock) {
	}
}

// Unlock clears the lock bit and wakes any parked waiters.
func (w *Word) Unlock() {
	w.lock.Store(false)
	w.UnparkAll()
}
