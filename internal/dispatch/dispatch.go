// Package dispatch turns a noisy stream of filesystem events into at most
// one correctly timed, non-overlapping run per task.
package dispatch

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumenforge/taskwatch/internal/taskrun"
	"github.com/lumenforge/taskwatch/internal/watch"
)

// Task is anything the dispatch engine can run: a script-backed task
// descriptor or a native, in-process task such as the supervisor's
// synthetic reload task.
type Task interface {
	Name() string
	Matches(path string) (bool, error)
	StartDelay() time.Duration
	Run() (taskrun.RunningTask, error)
}

// slot is the dispatch engine's per-task state: at most one pending
// request timestamp and at most one in-flight run, independently optional.
type slot struct {
	task             Task
	lastRequest      *time.Time
	lastRequestValid bool
	running          taskrun.RunningTask
	runStartedAt     time.Time
	holdsSlot        bool
}

// CompletionHook is called once per finished run, after the dispatch engine
// has reaped it but before the slot is reused. Used to record run history
// without the dispatch engine importing a storage backend directly.
type CompletionHook func(taskIndex int, taskName string, startedAt time.Time, duration time.Duration, success bool)

// Engine owns the per-task slot map for a single supervisor generation. It
// is driven entirely by Spin, called once per supervisor tick, matching the
// single supervisor-thread scheduling model. Only Snapshot may be called
// concurrently with Spin; SetCompletionHook must not be.
type Engine struct {
	log    *zap.Logger
	events <-chan watch.Event
	errors <-chan error

	// mu guards slots against Snapshot, which the introspection HTTP
	// handler calls from its own goroutine concurrently with Spin running
	// on the supervisor thread. Spin and Shutdown hold it for the whole of
	// each call; the tick/event-handling logic itself stays single-threaded.
	mu      sync.Mutex
	slots   map[int]*slot
	limiter *taskrun.ConcurrencyLimiter

	onComplete CompletionHook
}

// NewEngine builds a dispatch engine over tasks, indexed by their position
// in the slice, reading change events from events and watcher errors from
// errs. The task list and event channel are immutable and exclusive to
// this engine for its lifetime. limiter may be nil, meaning no cap on how
// many task pipelines can run concurrently.
func NewEngine(log *zap.Logger, tasks []Task, events <-chan watch.Event, errs <-chan error, limiter *taskrun.ConcurrencyLimiter) *Engine {
	slots := make(map[int]*slot, len(tasks))
	for i, t := range tasks {
		slots[i] = &slot{task: t}
	}
	return &Engine{log: log, events: events, errors: errs, slots: slots, limiter: limiter}
}

// SetCompletionHook installs the callback invoked once per finished run. Not
// safe to call concurrently with Spin; set it before the generation's tick
// loop starts.
func (e *Engine) SetCompletionHook(hook CompletionHook) {
	e.onComplete = hook
}

// Spin drains all currently queued events non-blocking, updates slot
// request timestamps, and then runs one tick of the preempt-and-start /
// reap logic over every slot. Call once per supervisor tick.
func (e *Engine) Spin() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drainEvents()
	e.tick()
}

// drainEvents consumes every event and error currently queued, without
// blocking once the channels go empty.
func (e *Engine) drainEvents() {
	for {
		select {
		case ev, ok := <-e.events:
			if !ok {
				return
			}
			e.handleEvent(ev)
		case err, ok := <-e.errors:
			if !ok {
				return
			}
			e.log.Warn("watcher error", zap.Error(err))
		default:
			return
		}
	}
}

// handleEvent matches a single coalesced change event against every
// task's predicate, overwriting lastRequest for each match — the "latest
// request wins" rule.
func (e *Engine) handleEvent(ev watch.Event) {
	now := time.Now()
	for idx, s := range e.slots {
		matched, err := s.task.Matches(ev.Path)
		if err != nil {
			e.log.Error("should_run predicate failed, clearing slot", zap.Int("task", idx), zap.String("task_name", s.task.Name()), zap.Error(err))
			e.clearSlot(idx, s)
			continue
		}
		if !matched {
			continue
		}
		s.lastRequest = &now
		s.lastRequestValid = true
	}
}

// tick applies the preempt-and-start rule to every slot with an elapsed
// debounce window, then reaps slots whose run has finished and has no
// pending request. Unlike the original spec's "slots marked for removal
// are deleted," this engine's slot map is keyed by a fixed task index for
// the generation's lifetime, so a reaped slot is simply reset to idle
// rather than removed.
func (e *Engine) tick() {
	now := time.Now()

	for idx, s := range e.slots {
		if s.lastRequestValid && now.Sub(*s.lastRequest) > s.task.StartDelay() {
			if e.limiter != nil && !s.holdsSlot && !e.limiter.TryAcquire(idx) {
				// At capacity: leave the request pending and retry next
				// tick rather than blocking the whole supervisor thread.
				continue
			}

			if s.running != nil {
				s.running.Interrupt()
			}
			running, err := s.task.Run()
			if err != nil {
				e.log.Error("task run failed", zap.Int("task", idx), zap.String("task_name", s.task.Name()), zap.Error(err))
				s.running = nil
				e.releaseSlot(idx, s)
			} else {
				s.running = running
				s.runStartedAt = now
				s.holdsSlot = e.limiter != nil
			}
			s.lastRequestValid = false
			s.lastRequest = nil
			continue
		}

		if s.running != nil && s.running.Done() {
			if e.onComplete != nil {
				e.onComplete(idx, s.task.Name(), s.runStartedAt, time.Since(s.runStartedAt), s.running.Success())
			}
			s.running = nil
			e.releaseSlot(idx, s)
		}
	}
}

// releaseSlot returns idx's concurrency-limiter slot, if it holds one.
func (e *Engine) releaseSlot(idx int, s *slot) {
	if e.limiter != nil && s.holdsSlot {
		e.limiter.Release(idx)
		s.holdsSlot = false
	}
}

// clearSlot resets a slot to idle, used when a task's predicate fails and
// its in-flight state should not be trusted.
func (e *Engine) clearSlot(idx int, s *slot) {
	if s.running != nil {
		s.running.Interrupt()
	}
	s.running = nil
	s.lastRequest = nil
	s.lastRequestValid = false
	e.releaseSlot(idx, s)
}

// Shutdown interrupts every in-flight run. Used only on supervisor exit,
// not on the dispatch hot path.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for idx, s := range e.slots {
		if s.running != nil {
			s.running.Interrupt()
		}
		e.releaseSlot(idx, s)
	}
}

// SlotSnapshot is a read-only view of one task's dispatch state, exposed
// to the introspection API.
type SlotSnapshot struct {
	Index            int
	Name             string
	Running          bool
	PendingRequest   bool
	StartDelayMillis int64
}

// Snapshot returns the current state of every slot. Safe to call
// concurrently with Spin from another goroutine (e.g. the introspection
// HTTP server).
func (e *Engine) Snapshot() []SlotSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]SlotSnapshot, 0, len(e.slots))
	for idx, s := range e.slots {
		out = append(out, SlotSnapshot{
			Index:            idx,
			Name:             s.task.Name(),
			Running:          s.running != nil,
			PendingRequest:   s.lastRequestValid,
			StartDelayMillis: s.task.StartDelay().Milliseconds(),
		})
	}
	return out
}
