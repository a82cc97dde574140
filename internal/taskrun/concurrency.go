package taskrun

import "sync"

// ConcurrencyLimiter is a semaphore with explicit per-task-index ownership.
// The dispatch engine tries to acquire a slot before starting a task's
// pipeline and releases it once the pipeline is done, so an optional
// --max-concurrent-tasks cap can bound how many pipelines run at once
// without otherwise changing per-task dispatch semantics.
//
// A zero-value limiter (capacity 0, never configured) behaves as unlimited;
// callers that don't want a cap simply never call TryAcquire/Release.
type ConcurrencyLimiter struct {
	mu         sync.Mutex
	maxCap     int
	usage      int
	acquiredBy map[int]struct{}
}

// NewConcurrencyLimiter returns a limiter with the given capacity. A
// capacity <= 0 means unbounded: TryAcquire always succeeds.
func NewConcurrencyLimiter(capacity int) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{
		maxCap:     capacity,
		acquiredBy: make(map[int]struct{}),
	}
}

// TryAcquire attempts a non-blocking acquire, returning false if the
// limiter is at capacity.
func (l *ConcurrencyLimiter) TryAcquire(taskIndex int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxCap > 0 && l.usage >= l.maxCap {
		return false
	}
	if l.acquiredBy == nil {
		l.acquiredBy = make(map[int]struct{})
	}
	l.usage++
	l.acquiredBy[taskIndex] = struct{}{}
	return true
}

// Release frees the slot owned by taskIndex. A no-op if taskIndex does not
// currently hold a slot, since a task that failed to start never acquired
// one.
func (l *ConcurrencyLimiter) Release(taskIndex int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, holds := l.acquiredBy[taskIndex]; !holds {
		return
	}

	delete(l.acquiredBy, taskIndex)
	l.usage--
}
