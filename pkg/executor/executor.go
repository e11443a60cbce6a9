// Package executor implements the single-threaded cooperative scheduler
// that drives the transport core. It owns no I/O of its own: the embedder
// calls SpinOnce in a hot loop (or after a short sleep), and every
// time-triggered piece of the core — TX drain/RX pump ticks, heartbeat
// publishers, retry timers — is just a callback armed on it.
//
// The schedule is a container/heap min-heap ordered by (scheduled time,
// registration order).
package executor

import (
	"container/heap"
	"time"

	"github.com/OpenCyphal-Garage/libuavcan/pkg/alloc"
	"github.com/OpenCyphal-Garage/libuavcan/pkg/cyphal"
)

// TimePoint is a monotonic clock reading in microseconds.
type TimePoint = cyphal.Time

// Func is a scheduled callback; it receives the time at which it fired.
type Func func(now TimePoint)

// ID identifies a registered callback.
type ID uint64

// callbackAccountingBytes is the fixed accounting unit charged against the
// general allocator category per registered callback, standing in for the
// source's small-function inline-storage bound: Go closures don't have a
// fixed inline capacity, so there is no real spillover threshold to model,
// but registration can still legitimately run out of budget under a tight
// MemoryResourcesSpec, which this charge makes observable.
const callbackAccountingBytes = 64

type entry struct {
	id         ID
	fn         Func
	autoRemove bool
	regSeq     uint64
	armed      bool
	at         TimePoint
	armSeq     uint64
}

type heapItem struct {
	at     TimePoint
	regSeq uint64
	armSeq uint64
	id     ID
}

type scheduleHeap []heapItem

func (h scheduleHeap) Len() int { return len(h) }
func (h scheduleHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].regSeq < h[j].regSeq
}
func (h scheduleHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scheduleHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *scheduleHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Executor is the cooperative scheduler. Not safe for concurrent use: per
// the core's concurrency model, it and everything it drives live on one
// thread.
type Executor struct {
	res       *alloc.Resources
	callbacks map[ID]*entry
	pq        scheduleHeap
	nextID    ID
	nextSeq   uint64
	nowFn     func() TimePoint
	startedAt time.Time
}

// New builds an Executor. res may be nil to opt out of the registration
// accounting described above. The clock is a monotonic clock zeroed at
// construction time until SetClock replaces it.
func New(res *alloc.Resources) *Executor {
	e := &Executor{res: res, callbacks: make(map[ID]*entry), startedAt: time.Now()}
	e.nowFn = e.defaultNow
	return e
}

func (e *Executor) defaultNow() TimePoint {
	return cyphal.Time(time.Since(e.startedAt).Microseconds())
}

// SetClock overrides the time source, for deterministic tests.
func (e *Executor) SetClock(fn func() TimePoint) { e.nowFn = fn }

// Now returns the executor's current monotonic clock reading.
func (e *Executor) Now() TimePoint { return e.nowFn() }

// Register installs fn and returns a move-only-in-spirit Handle whose
// Cancel (or Close) removes it. It fails only if the configured allocator
// resources reject the registration's accounting charge.
func (e *Executor) Register(fn Func, autoRemove bool) (*Handle, error) {
	if e.res != nil {
		if err := e.res.Charge(alloc.CategoryGeneral, callbackAccountingBytes); err != nil {
			return nil, err
		}
	}
	e.nextID++
	e.nextSeq++
	id := e.nextID
	e.callbacks[id] = &entry{id: id, fn: fn, autoRemove: autoRemove, regSeq: e.nextSeq}
	return &Handle{e: e, id: id, live: true}, nil
}

// ScheduleAt (re)arms id to fire no earlier than t. A prior arming is
// replaced (last-write-wins); the stale heap entry is discarded lazily
// when popped, by comparing its capture of armSeq against the live entry.
func (e *Executor) ScheduleAt(id ID, t TimePoint) bool {
	ent, ok := e.callbacks[id]
	if !ok {
		return false
	}
	ent.armed = true
	ent.at = t
	ent.armSeq++
	heap.Push(&e.pq, heapItem{at: t, regSeq: ent.regSeq, armSeq: ent.armSeq, id: id})
	return true
}

// Cancel removes id regardless of arming state.
func (e *Executor) Cancel(id ID) bool {
	ent, ok := e.callbacks[id]
	if !ok {
		return false
	}
	delete(e.callbacks, id)
	if e.res != nil {
		e.res.Release(alloc.CategoryGeneral, callbackAccountingBytes)
	}
	_ = ent
	return true
}

// SpinOnce advances time and runs every callback whose scheduled time is
// <= now, exactly once per arming, in non-decreasing scheduled-time order
// with ties broken by registration order. Callbacks are free to call back
// into the executor, including rescheduling themselves or others; because
// the due set is collected before any callback runs, a self-reschedule to
// a time <= now is only picked up by the *next* SpinOnce, never this one.
func (e *Executor) SpinOnce() TimePoint {
	now := e.nowFn()

	var due []ID
	for e.pq.Len() > 0 && e.pq[0].at <= now {
		item := heap.Pop(&e.pq).(heapItem)
		ent, ok := e.callbacks[item.id]
		if !ok || !ent.armed || ent.armSeq != item.armSeq {
			continue // stale: canceled, or superseded by a later (re)arming
		}
		ent.armed = false
		due = append(due, item.id)
	}

	for _, id := range due {
		ent, ok := e.callbacks[id]
		if !ok {
			continue
		}
		fn := ent.fn
		autoRemove := ent.autoRemove
		fn(now)
		if autoRemove {
			e.Cancel(id)
		}
	}
	return now
}

// Handle is returned by Register. Cancel (or Close) removes the callback;
// a canceled Handle is inert on further use, mirroring the source's
// move-only handle whose destruction cancels the callback.
type Handle struct {
	e    *Executor
	id   ID
	live bool
}

// ID returns the handle's callback id, for ScheduleAt/Cancel callers that
// prefer to go through the Executor directly.
func (h *Handle) ID() ID { return h.id }

// ScheduleAt (re)arms the callback. No-op (returns false) once canceled.
func (h *Handle) ScheduleAt(t TimePoint) bool {
	if !h.live {
		return false
	}
	return h.e.ScheduleAt(h.id, t)
}

// Cancel removes the callback. Safe to call more than once.
func (h *Handle) Cancel() bool {
	if !h.live {
		return false
	}
	h.live = false
	return h.e.Cancel(h.id)
}

// Close implements io.Closer by canceling the callback.
func (h *Handle) Close() error {
	h.Cancel()
	return nil
}
