//go:build darwin

package dispatcher

import (
	"sync"

	"golang.org/x/sys/unix"
)

// kqueuePoller is the Darwin/BSD poller: same registration/dispatch shape
// as epollPoller, built on kqueue's change-list/event-list pair instead of
// epoll_ctl/epoll_wait.
type kqueuePoller struct {
	kq int

	mu       sync.Mutex
	interest map[int]IOEvents
	buf      [256]unix.Kevent_t
}

func newPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{kq: kq, interest: make(map[int]IOEvents)}, nil
}

func (p *kqueuePoller) apply(fd int, old, next IOEvents) error {
	var changes []unix.Kevent_t
	if old&EventRead != 0 && next&EventRead == 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_DELETE))
	}
	if next&EventRead != 0 && old&EventRead == 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_ADD))
	}
	if old&EventWrite != 0 && next&EventWrite == 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE))
	}
	if next&EventWrite != 0 && old&EventWrite == 0 {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_ADD))
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func kevent(fd int, filter int16, flags uint16) unix.Kevent_t {
	return unix.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags}
}

func (p *kqueuePoller) registerFD(fd int, events IOEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.apply(fd, 0, events); err != nil {
		return err
	}
	p.interest[fd] = events
	return nil
}

func (p *kqueuePoller) modifyFD(fd int, events IOEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.interest[fd]
	if err := p.apply(fd, old, events); err != nil {
		return err
	}
	p.interest[fd] = events
	return nil
}

func (p *kqueuePoller) unregisterFD(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.interest[fd]
	delete(p.interest, fd)
	return p.apply(fd, old, 0)
}

func (p *kqueuePoller) wait(timeoutMs int) ([]event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.buf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]event, 0, n)
	for i := 0; i < n; i++ {
		kv := p.buf[i]
		var ev IOEvents
		switch kv.Filter {
		case unix.EVFILT_READ:
			ev = EventRead
		case unix.EVFILT_WRITE:
			ev = EventWrite
		}
		if kv.Flags&unix.EV_EOF != 0 {
			ev |= EventHangup
		}
		if kv.Flags&unix.EV_ERROR != 0 {
			ev |= EventError
		}
		out = append(out, event{fd: int(kv.Ident), events: ev})
	}
	return out, nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}
