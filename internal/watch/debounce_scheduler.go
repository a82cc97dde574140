package watch

import (
	"container/heap"
	"time"
)

// fireEvent is a path waiting for its debounce window to elapse. index is
// maintained by container/heap for O(log n) arbitrary removal.
type fireEvent struct {
	path  string
	when  time.Time
	index int
}

// debounceScheduler tracks, per watched path, the next time a coalesced
// change notification should fire. Each new fsnotify event for a path
// resets its timer rather than queuing a second notification — the
// inrush-protection behavior a save-triggered watch needs when an editor
// emits several writes for one logical save.
type debounceScheduler struct {
	h       fireHeap
	entries map[string]*fireEvent
}

func newDebounceScheduler() *debounceScheduler {
	h := fireHeap{}
	heap.Init(&h)
	return &debounceScheduler{
		h:       h,
		entries: make(map[string]*fireEvent),
	}
}

// schedule arms (or re-arms) the debounce timer for path to fire at when.
// A pending entry for the same path is dropped first, so the most recent
// event always wins.
func (s *debounceScheduler) schedule(path string, when time.Time) {
	if old, ok := s.entries[path]; ok {
		heap.Remove(&s.h, old.index)
		delete(s.entries, path)
	}

	ev := &fireEvent{path: path, when: when}
	s.entries[path] = ev
	heap.Push(&s.h, ev)
}

// next returns the soonest pending path without removing it.
func (s *debounceScheduler) next() (path string, when time.Time, ok bool) {
	if len(s.h) == 0 {
		return "", time.Time{}, false
	}
	ev := s.h[0]
	return ev.path, ev.when, true
}

// pop removes and returns the soonest pending path.
func (s *debounceScheduler) pop() (path string, ok bool) {
	if len(s.h) == 0 {
		return "", false
	}
	ev := heap.Pop(&s.h).(*fireEvent)
	delete(s.entries, ev.path)
	return ev.path, true
}

// fireHeap is a min-heap ordered by fireEvent.when.
type fireHeap []*fireEvent

func (h fireHeap) Len() int { return len(h) }

func (h fireHeap) Less(i, j int) bool {
	return h[i].when.Before(h[j].when)
}

func (h fireHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *fireHeap) Push(x any) {
	ev := x.(*fireEvent)
	ev.index = len(*h)
	*h = append(*h, ev)
}

func (h *fireHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	ev.index = -1
	*h = old[:n-1]
	return ev
}
