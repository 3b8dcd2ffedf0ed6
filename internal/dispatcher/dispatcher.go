package dispatcher

import (
	"container/heap"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	dflowerrors "github.com/dreamware/dflow/internal/errors"
)

// readOp is a pending AsyncRead: read exactly want bytes into buf, then
// invoke cb once, with either the completed buffer or the first error.
type readOp struct {
	want int
	buf  []byte
	got  int
	cb   func([]byte, error)
}

// writeOp is a pending AsyncWrite: write every byte of buf, then invoke cb
// once.
type writeOp struct {
	buf  []byte
	sent int
	cb   func(error)
}

type connState struct {
	reads      []readOp
	writes     []writeOp
	readReg    bool
	writeReg   bool
	registered bool // fd is known to the poller (possibly with no interest bits)
	cancelled  bool
}

// Dispatcher is the single per-host, non-blocking I/O thread:
// AddRead/AddWrite register raw read/write interest on an fd, AsyncRead/
// AsyncWrite layer "read/write exactly N bytes" semantics with a per-
// connection FIFO queue on top, AddTimer schedules a one-shot callback, and
// a self-pipe lets other goroutines submit work without the poller
// blocking past its next wakeup.
type Dispatcher struct {
	poller poller

	mu    sync.Mutex
	conns map[int]*connState

	timers timerHeap

	submit       chan func()
	selfPipeR    int
	selfPipeW    int
	stop         chan struct{}
	stopped      chan struct{}
	stopOnce     sync.Once
	fatalErr     error
	onFatalError func(error)
}

// New creates a Dispatcher and starts its event loop goroutine.
func New() (*Dispatcher, error) {
	p, err := newPoller()
	if err != nil {
		return nil, dflowerrors.IoFailure(dflowerrors.Context{}, err)
	}
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		_ = p.close()
		return nil, dflowerrors.IoFailure(dflowerrors.Context{}, err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		return nil, dflowerrors.IoFailure(dflowerrors.Context{}, err)
	}

	d := &Dispatcher{
		poller:    p,
		conns:     make(map[int]*connState),
		submit:    make(chan func(), 256),
		selfPipeR: fds[0],
		selfPipeW: fds[1],
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	heap.Init(&d.timers)
	if err := d.poller.registerFD(d.selfPipeR, EventRead); err != nil {
		return nil, dflowerrors.IoFailure(dflowerrors.Context{}, err)
	}
	go d.run()
	return d, nil
}

// OnFatalError registers a callback invoked from the dispatcher's own
// goroutine the first time a peer-connection I/O error occurs. I/O errors
// on a peer connection are fatal: the dispatcher surfaces them and the
// engine aborts the job.
func (d *Dispatcher) OnFatalError(f func(error)) {
	d.mu.Lock()
	d.onFatalError = f
	d.mu.Unlock()
}

// wake writes one byte to the self-pipe so the poller's blocking wait
// returns promptly to process a cross-goroutine submission.
func (d *Dispatcher) wake() {
	_, _ = unix.Write(d.selfPipeW, []byte{0})
}

// Submit runs f on the dispatcher's own goroutine, waking it if it is
// currently blocked in the poller.
func (d *Dispatcher) Submit(f func()) {
	d.submit <- f
	d.wake()
}

// AddRead registers low-level interest in read events on fd. It takes no
// callback; readiness is served to queued AsyncRead requests.
func (d *Dispatcher) AddRead(fd int) error {
	return d.addInterest(fd, EventRead)
}

// AddWrite registers low-level interest in write events on fd. It takes no
// callback; readiness is served to queued AsyncWrite requests.
func (d *Dispatcher) AddWrite(fd int) error {
	return d.addInterest(fd, EventWrite)
}

// addInterest records ev interest on fd and syncs the poller: a first-time
// fd is registered, a known fd is modified. The distinction matters because
// an fd whose interest bits have all been dropped is still registered with
// the poller, and registering it a second time is an error.
func (d *Dispatcher) addInterest(fd int, ev IOEvents) error {
	d.mu.Lock()
	cs := d.connState(fd)
	if ev&EventRead != 0 {
		cs.readReg = true
	}
	if ev&EventWrite != 0 {
		cs.writeReg = true
	}
	want := d.wantForLocked(cs)
	wasRegistered := cs.registered
	cs.registered = true
	d.mu.Unlock()
	if wasRegistered {
		return d.poller.modifyFD(fd, want)
	}
	return d.poller.registerFD(fd, want)
}

func (d *Dispatcher) connState(fd int) *connState {
	cs, ok := d.conns[fd]
	if !ok {
		cs = &connState{}
		d.conns[fd] = cs
	}
	return cs
}

// AsyncRead reads exactly nBytes from fd and invokes cb once with the
// assembled buffer, or with a non-nil error. A read requested while a
// previous read on the same fd is still pending is queued and served after
// it.
func (d *Dispatcher) AsyncRead(fd int, nBytes int, cb func([]byte, error)) {
	d.mu.Lock()
	cs := d.connState(fd)
	op := readOp{want: nBytes, buf: make([]byte, 0, nBytes), cb: cb}
	cs.reads = append(cs.reads, op)
	needSync := !cs.readReg
	d.mu.Unlock()
	if needSync {
		_ = d.addInterest(fd, EventRead)
	}
}

// AsyncWrite writes every byte of buf to fd and invokes cb once with the
// first error encountered, or nil on success. Writes are serialized per
// connection by an in-order queue.
func (d *Dispatcher) AsyncWrite(fd int, buf []byte, cb func(error)) {
	d.mu.Lock()
	cs := d.connState(fd)
	cs.writes = append(cs.writes, writeOp{buf: buf, cb: cb})
	needSync := !cs.writeReg
	d.mu.Unlock()
	if needSync {
		_ = d.addInterest(fd, EventWrite)
	}
}

// Cancel drops all pending and future I/O on fd: queued operations'
// callbacks are invoked with a usage error, and fd is unregistered from the
// poller.
func (d *Dispatcher) Cancel(fd int) {
	d.mu.Lock()
	cs, ok := d.conns[fd]
	if !ok {
		d.mu.Unlock()
		return
	}
	cs.cancelled = true
	reads := cs.reads
	writes := cs.writes
	cs.reads = nil
	cs.writes = nil
	delete(d.conns, fd)
	d.mu.Unlock()

	_ = d.poller.unregisterFD(fd)
	cancelErr := dflowerrors.UsageError(dflowerrors.Context{}, "dispatcher: connection cancelled")
	for _, r := range reads {
		if r.cb != nil {
			r.cb(nil, cancelErr)
		}
	}
	for _, w := range writes {
		if w.cb != nil {
			w.cb(cancelErr)
		}
	}
}

// Close stops the event loop, draining the write queue before the loop
// goroutine exits.
func (d *Dispatcher) Close() error {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wake()
	<-d.stopped
	_ = unix.Close(d.selfPipeR)
	_ = unix.Close(d.selfPipeW)
	return d.poller.close()
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	drain := false
	for {
		timeoutMs := -1
		if d.timers.Len() > 0 {
			next := d.timers[0].at
			until := time.Until(next)
			if until <= 0 {
				timeoutMs = 0
			} else {
				timeoutMs = int(until / time.Millisecond)
				if timeoutMs == 0 {
					timeoutMs = 1
				}
			}
		}

		select {
		case <-d.stop:
			if !drain && !d.hasPendingWrites() {
				return
			}
			drain = true
		default:
		}

		events, err := d.poller.wait(timeoutMs)
		if err != nil {
			d.reportFatal(err)
			return
		}
		d.fireTimers()
		for _, ev := range events {
			if ev.fd == d.selfPipeR {
				d.drainSelfPipe()
				d.drainSubmissions()
				continue
			}
			d.handleReady(ev)
		}
		if drain && !d.hasPendingWrites() {
			return
		}
	}
}

func (d *Dispatcher) hasPendingWrites() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cs := range d.conns {
		if len(cs.writes) > 0 {
			return true
		}
	}
	return false
}

func (d *Dispatcher) drainSelfPipe() {
	var buf [64]byte
	for {
		n, err := unix.Read(d.selfPipeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (d *Dispatcher) drainSubmissions() {
	for {
		select {
		case f := <-d.submit:
			f()
		default:
			return
		}
	}
}

func (d *Dispatcher) reportFatal(err error) {
	d.mu.Lock()
	if d.fatalErr == nil {
		d.fatalErr = err
	}
	cb := d.onFatalError
	d.mu.Unlock()
	if cb != nil {
		cb(dflowerrors.IoFailure(dflowerrors.Context{}, err))
	}
}

func (d *Dispatcher) handleReady(ev event) {
	if ev.events&(EventError|EventHangup) != 0 {
		d.failConn(ev.fd, dflowerrors.IoFailure(dflowerrors.Context{}, errHangup))
		return
	}
	if ev.events&EventRead != 0 {
		d.serviceReads(ev.fd)
	}
	if ev.events&EventWrite != 0 {
		d.serviceWrites(ev.fd)
	}
}

func (d *Dispatcher) serviceReads(fd int) {
	for {
		d.mu.Lock()
		cs, ok := d.conns[fd]
		if !ok || len(cs.reads) == 0 {
			if ok {
				cs.readReg = false
				_ = d.poller.modifyFD(fd, d.wantForLocked(cs))
			}
			d.mu.Unlock()
			return
		}
		op := cs.reads[0]
		d.mu.Unlock()

		tmp := make([]byte, op.want-op.got)
		n, err := unix.Read(fd, tmp)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			d.failConn(fd, dflowerrors.IoFailure(dflowerrors.Context{}, err))
			return
		}
		if n == 0 {
			d.failConn(fd, dflowerrors.IoFailure(dflowerrors.Context{}, errHangup))
			return
		}
		op.buf = append(op.buf, tmp[:n]...)
		op.got += n

		d.mu.Lock()
		cs.reads[0] = op
		if op.got >= op.want {
			cs.reads = cs.reads[1:]
			d.mu.Unlock()
			op.cb(op.buf, nil)
			continue
		}
		d.mu.Unlock()
		return
	}
}

func (d *Dispatcher) serviceWrites(fd int) {
	for {
		d.mu.Lock()
		cs, ok := d.conns[fd]
		if !ok || len(cs.writes) == 0 {
			if ok {
				cs.writeReg = false
				_ = d.poller.modifyFD(fd, d.wantForLocked(cs))
			}
			d.mu.Unlock()
			return
		}
		op := cs.writes[0]
		d.mu.Unlock()

		n, err := unix.Write(fd, op.buf[op.sent:])
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			d.failConn(fd, dflowerrors.IoFailure(dflowerrors.Context{}, err))
			return
		}
		op.sent += n

		d.mu.Lock()
		cs.writes[0] = op
		if op.sent >= len(op.buf) {
			cs.writes = cs.writes[1:]
			d.mu.Unlock()
			op.cb(nil)
			continue
		}
		d.mu.Unlock()
		return
	}
}

func (d *Dispatcher) wantForLocked(cs *connState) IOEvents {
	var w IOEvents
	if cs.readReg {
		w |= EventRead
	}
	if cs.writeReg {
		w |= EventWrite
	}
	return w
}

func (d *Dispatcher) failConn(fd int, err error) {
	d.mu.Lock()
	cs, ok := d.conns[fd]
	if ok {
		delete(d.conns, fd)
	}
	d.mu.Unlock()
	_ = d.poller.unregisterFD(fd)
	d.reportFatal(err)
	if !ok {
		return
	}
	for _, r := range cs.reads {
		if r.cb != nil {
			r.cb(nil, err)
		}
	}
	for _, w := range cs.writes {
		if w.cb != nil {
			w.cb(err)
		}
	}
}
