// Package eventloop drives the single script-execution thread
// cooperatively: a timer wheel, a microtask queue, a ready-task queue fed
// by I/O readiness and pool completions, and a blocking-work thread pool.
//
// The blocking-work pool is a direct generalization of a comparable
// pkg/common/workers.SimpleWorkerPool: that pool fanned a fixed-size
// semaphore of goroutines out over NoiseFS block operations (XOR, storage,
// retrieval); Loop.SubmitBlocking fans the same semaphore out over
// arbitrary host work items and posts the outcome back onto the script
// thread instead of collecting results in a caller-owned slice.
package eventloop

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/andromeda-rt/andromeda/internal/obslog"
)

// TimerID identifies a scheduled timer for ClearTimer.
type TimerID uint64

type timerEntry struct {
	id TimerID
	deadline time.Time
	interval *time.Duration
	callback func()
	cancelled bool
	seq uint64 // insertion order, breaks deadline ties
}

// timerHeap is a min-heap ordered by (deadline, seq) so timers with equal
// deadlines fire in insertion order, per its ordering guarantee.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any) { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// readyEvent is a unit of work ready to dispatch on the script thread: a
// fired timer, a completed pool work item, or an I/O readiness callback.
type readyEvent struct {
	run func()
}

// Loop is the process's single cooperative event loop. All script-visible
// state must be touched only from the goroutine that calls RunUntilIdle;
// every other method is safe to call from any goroutine (pool workers,
// readiness watchers) and merely enqueues work for that thread to run.
type Loop struct {
	log *obslog.Logger

	mu sync.Mutex
	timers timerHeap
	timerSeq uint64
	nextTimer TimerID
	liveKeepAlive int // count of resources (e.g. listeners) that must keep the loop alive

	microtasks []func()
	ready chan readyEvent

	poolSem chan struct{}
	poolWG sync.WaitGroup

	closed bool
}

// New constructs a Loop with a blocking-work pool sized workerCount (0
// defaults to runtime.NumCPU(), mirroring NewSimpleWorkerPool's default).
func New(workerCount int, log *obslog.Logger) *Loop {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if log == nil {
		log = obslog.Global()
	}
	return &Loop{
		log: log.WithComponent("eventloop"),
		ready: make(chan readyEvent, 256),
		poolSem: make(chan struct{}, workerCount),
	}
}

// ScheduleMicrotask enqueues closure onto the microtask queue, drained to
// completion after every macrotask.
func (l *Loop) ScheduleMicrotask(closure func()) {
	l.mu.Lock()
	l.microtasks = append(l.microtasks, closure)
	l.mu.Unlock()
}

// ScheduleTimer schedules callback to run no earlier than deadline. If
// interval is non-nil the timer rearms after firing at deadline+*interval
// until cleared.
func (l *Loop) ScheduleTimer(deadline time.Time, interval *time.Duration, callback func()) TimerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextTimer++
	id := l.nextTimer
	l.timerSeq++
	entry := &timerEntry{id: id, deadline: deadline, interval: interval, callback: callback, seq: l.timerSeq}
	heap.Push(&l.timers, entry)
	return id
}

// ClearTimer cancels a pending timer. Clearing an unknown or already-fired
// one-shot timer is a no-op; cancellation is idempotent.
func (l *Loop) ClearTimer(id TimerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.timers {
		if t.id == id {
			t.cancelled = true
			return
		}
	}
}

// KeepAlive increments the count of resources requiring the loop to stay
// up even with no scheduled work (e.g. a live TCP listener). Release must
// be called exactly once per KeepAlive.
func (l *Loop) KeepAlive() {
	l.mu.Lock()
	l.liveKeepAlive++
	l.mu.Unlock()
}

// Release balances a prior KeepAlive.
func (l *Loop) Release() {
	l.mu.Lock()
	if l.liveKeepAlive > 0 {
		l.liveKeepAlive--
	}
	l.mu.Unlock()
}

// SubmitBlocking runs work on the pool and posts its outcome back to the
// script thread via onComplete, exactly as its submit_blocking
// contract requires. work must poll ctx.Done() between syscalls where
// possible so cancellation (an aborted AbortSignal-backed operation) is
// observed promptly. Each submitted item holds a KeepAlive until its
// onComplete runs, so RunUntilIdle does not exit with pool work in flight.
func (l *Loop) SubmitBlocking(ctx context.Context, work func(context.Context) (any, error), onComplete func(any, error)) {
	l.poolWG.Add(1)
	l.KeepAlive()
	go func() {
		defer l.poolWG.Done()
		select {
		case l.poolSem <- struct{}{}:
			defer func() { <-l.poolSem }()
		case <-ctx.Done():
			l.postReady(func() { l.Release(); onComplete(nil, ctx.Err()) })
			return
		}
		result, err := work(ctx)
		l.postReady(func() { l.Release(); onComplete(result, err) })
	}()
}

// postReady enqueues a dispatch-ready event from any goroutine.
func (l *Loop) postReady(run func()) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return // late arrival after shutdown: discarded
	}
	l.ready <- readyEvent{run: run}
}

// PostReady is the public form of postReady, used by readiness watchers
// (pkg/host's fs.watch, stream-read and lock callbacks, and
// pkg/promisebridge) that aren't pool work but still need to hand a
// callback to the script thread.
func (l *Loop) PostReady(run func()) { l.postReady(run) }

// drainMicrotasks runs the microtask queue to completion; a microtask may
// itself schedule more microtasks (e.g. a resolved promise's .then chain),
// which are also drained before returning — its "microtasks
// drain to completion between two macrotasks."
func (l *Loop) drainMicrotasks() {
	for {
		l.mu.Lock()
		if len(l.microtasks) == 0 {
			l.mu.Unlock()
			return
		}
		task := l.microtasks[0]
		l.microtasks = l.microtasks[1:]
		l.mu.Unlock()
		task()
	}
}

// nextDueTimer pops and returns the earliest timer whose deadline has
// passed, or nil if none is due yet (along with the wait duration until
// the next one, if any are pending).
func (l *Loop) nextDueTimer(now time.Time) (*timerEntry, time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.timers.Len() > 0 {
		top := l.timers[0]
		if top.cancelled {
			heap.Pop(&l.timers)
			continue
		}
		if !top.deadline.After(now) {
			heap.Pop(&l.timers)
			if top.interval != nil {
				rearmed := &timerEntry{
					id: top.id, deadline: top.deadline.Add(*top.interval),
					interval: top.interval, callback: top.callback,
				}
				l.timerSeq++
				rearmed.seq = l.timerSeq
				heap.Push(&l.timers, rearmed)
			}
			return top, 0, true
		}
		return nil, top.deadline.Sub(now), false
	}
	return nil, 0, false
}

func (l *Loop) hasPendingWork() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timers.Len() > 0 || len(l.microtasks) > 0 || l.liveKeepAlive > 0
}

// RunUntilIdle drives the loop per the tick algorithm in : pop
// the earliest due timer or a ready event, dispatch it, drain microtasks,
// repeat. It exits when timers, the ready queue, the pool, and the
// microtask queue are all empty and nothing has called KeepAlive.
func (l *Loop) RunUntilIdle(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.log.Debug("loop cancelled", nil)
			return
		default:
		}

		// Microtasks scheduled from other goroutines (e.g. pkg/serve's
		// dispatch) are drained here too, not only after a macrotask.
		l.drainMicrotasks()

		if entry, _, due := l.nextDueTimer(time.Now()); due {
			func() {
				defer l.recoverCallback("timer")
				entry.callback()
			}()
			l.drainMicrotasks()
			continue
		}

		_, wait, _ := l.nextDueTimer(time.Now())
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		if !l.hasPendingWork() && len(l.ready) == 0 {
			// No scheduled work, no keep-alive resource or in-flight pool
			// item, nothing queued: give a late PostReady event one last
			// chance then exit.
			select {
			case ev := <-l.ready:
				func() {
					defer l.recoverCallback("ready")
					ev.run()
				}()
				l.drainMicrotasks()
				continue
			case <-time.After(5 * time.Millisecond):
				return
			}
		}

		select {
		case ev := <-l.ready:
			func() {
				defer l.recoverCallback("ready")
				ev.run()
			}()
			l.drainMicrotasks()
		case <-time.After(minDuration(wait, 25*time.Millisecond)):
			// loop again to re-check timers
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) recoverCallback(kind string) {
	if r := recover(); r != nil {
		l.log.Error("callback panicked", map[string]any{"kind": kind, "panic": r})
	}
}

// Shutdown marks the loop closed; late pool completions arriving after
// Shutdown are discarded rather than delivered.
func (l *Loop) Shutdown() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.poolWG.Wait()
}

func minDuration(a, b time.Duration) time.Duration {
	if a <= 0 {
		return b
	}
	if a < b {
		return a
	}
	return b
}
