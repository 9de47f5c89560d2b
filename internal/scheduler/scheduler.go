// Package scheduler provides the discrete-event loop that drives a simulation.
//
// Callbacks are ordered by simulated time; callbacks scheduled for the same
// instant run in the order they were scheduled. A callback runs to
// completion before the next one is dequeued, so components driven by a
// single Scheduler never need locks.
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"time"

	"grimm.is/leasenet/internal/clock"
	"grimm.is/leasenet/internal/logging"
)

// Handle identifies a scheduled callback. The zero Handle is never issued.
type Handle uint64

// Timers is the subset of the scheduler that protocol components depend on.
type Timers interface {
	clock.Clock
	At(t time.Time, name string, fn func()) Handle
	After(d time.Duration, name string, fn func()) Handle
	Cancel(h Handle) bool
}

// Scheduler is a single-threaded discrete-event scheduler.
type Scheduler struct {
	now       time.Time
	seq       uint64
	queue     eventQueue
	pending   map[Handle]*event
	processed uint64
	logger    *slog.Logger
}

var _ Timers = (*Scheduler)(nil)

type event struct {
	at     time.Time
	seq    uint64
	handle Handle
	name   string
	fn     func()
	index  int
}

// New creates a scheduler whose clock starts at start.
func New(start time.Time, logger *logging.Logger) *Scheduler {
	var l *slog.Logger
	if logger == nil {
		l = slog.Default()
	} else {
		l = logger.Logger
	}

	return &Scheduler{
		now:     start,
		pending: make(map[Handle]*event),
		logger:  l.With("component", "scheduler"),
	}
}

// Now returns the current simulated time.
func (s *Scheduler) Now() time.Time {
	return s.now
}

// Since returns the simulated time elapsed since t.
func (s *Scheduler) Since(t time.Time) time.Duration {
	return s.now.Sub(t)
}

// Until returns the simulated time remaining until t.
func (s *Scheduler) Until(t time.Time) time.Duration {
	return t.Sub(s.now)
}

// At schedules fn at absolute simulated time t. Times in the past are
// clamped to now; the callback still runs after anything already queued
// for now.
func (s *Scheduler) At(t time.Time, name string, fn func()) Handle {
	if t.Before(s.now) {
		s.logger.Debug("clamping past event", "event", name, "requested", clock.Offset(t), "sim_time", clock.Offset(s.now))
		t = s.now
	}

	s.seq++
	ev := &event{
		at:     t,
		seq:    s.seq,
		handle: Handle(s.seq),
		name:   name,
		fn:     fn,
	}
	heap.Push(&s.queue, ev)
	s.pending[ev.handle] = ev
	return ev.handle
}

// After schedules fn d after the current simulated time.
func (s *Scheduler) After(d time.Duration, name string, fn func()) Handle {
	return s.At(s.now.Add(d), name, fn)
}

// Cancel removes a pending callback. It reports whether the callback was
// still pending; cancelling a fired or unknown handle is a no-op.
func (s *Scheduler) Cancel(h Handle) bool {
	ev, ok := s.pending[h]
	if !ok {
		return false
	}
	heap.Remove(&s.queue, ev.index)
	delete(s.pending, h)
	return true
}

// Active reports whether h is still waiting to fire.
func (s *Scheduler) Active(h Handle) bool {
	_, ok := s.pending[h]
	return ok
}

// Pending returns the number of queued callbacks.
func (s *Scheduler) Pending() int {
	return len(s.pending)
}

// Processed returns the number of callbacks executed so far.
func (s *Scheduler) Processed() uint64 {
	return s.processed
}

// Next returns the time of the earliest pending callback.
func (s *Scheduler) Next() (time.Time, bool) {
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].at, true
}

// Step runs the earliest pending callback. It returns false when the
// queue is empty.
func (s *Scheduler) Step() bool {
	if len(s.queue) == 0 {
		return false
	}
	ev := heap.Pop(&s.queue).(*event)
	delete(s.pending, ev.handle)

	s.now = ev.at
	s.processed++
	ev.fn()
	return true
}

// Run executes callbacks up to and including until, then leaves the clock
// at until. It returns the number of callbacks executed. Cancellation of
// ctx is checked between callbacks.
func (s *Scheduler) Run(ctx context.Context, until time.Time) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		next, ok := s.Next()
		if !ok || next.After(until) {
			break
		}
		s.Step()
		n++
	}
	if s.now.Before(until) {
		s.now = until
	}
	return n, nil
}

// RunFor runs the simulation for d of simulated time from now.
func (s *Scheduler) RunFor(ctx context.Context, d time.Duration) (int, error) {
	return s.Run(ctx, s.now.Add(d))
}

// eventQueue is a min-heap ordered by (at, seq).
type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	ev := x.(*event)
	ev.index = len(*q)
	*q = append(*q, ev)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*q = old[:n-1]
	return ev
}
