package dispatcher

import (
	"container/heap"
	"errors"
	"time"
)

var errHangup = errors.New("dispatcher: connection closed")

type timerEntry struct {
	at        time.Time
	cb        func()
	cancelled bool
	index     int
}

// timerHeap is a min-heap by fire time, used for AddTimer. Timers exist
// only for the explicit AddTimer API; no timeout is ever attached to a
// read or write op.
type timerHeap []*timerEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TimerID cancels a scheduled AddTimer callback.
type TimerID struct {
	entry *timerEntry
}

// AddTimer schedules cb to run on the dispatcher's own goroutine after
// delay elapses.
func (d *Dispatcher) AddTimer(delay time.Duration, cb func()) TimerID {
	e := &timerEntry{at: time.Now().Add(delay), cb: cb}
	d.Submit(func() { heap.Push(&d.timers, e) })
	return TimerID{entry: e}
}

// Cancel marks a pending timer so it will not fire; a no-op if it already
// has.
func (id TimerID) Cancel() {
	if id.entry != nil {
		id.entry.cancelled = true
	}
}

func (d *Dispatcher) fireTimers() {
	now := time.Now()
	for d.timers.Len() > 0 {
		next := d.timers[0]
		if next.at.After(now) {
			return
		}
		heap.Pop(&d.timers)
		if !next.cancelled && next.cb != nil {
			next.cb()
		}
	}
}
