package searchsync

import "sync/atomic"

// reindexLock is a non-blocking lock that keeps bulk rebuilds from overlapping
type reindexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire returns false if a rebuild is already running
func (l *reindexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release must only be called by the goroutine that acquired the lock
func (l *reindexLock) Release() {
	l.state.Store(0)
}
