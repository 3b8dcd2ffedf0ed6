//go:build !linux && !darwin && unix

package dispatcher

import (
	"sync"

	"golang.org/x/sys/unix"
)

// selectPoller is the portable fallback for unix platforms without a
// dedicated epoll/kqueue implementation here (e.g. FreeBSD, Solaris): the
// same registerFD/wait contract, implemented with select(2). O(maxFD) per
// wait, adequate for a single host's H-1 peer connections.
type selectPoller struct {
	mu       sync.Mutex
	interest map[int]IOEvents
}

func newPoller() (poller, error) {
	return &selectPoller{interest: make(map[int]IOEvents)}, nil
}

func (p *selectPoller) registerFD(fd int, events IOEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interest[fd] = events
	return nil
}

func (p *selectPoller) modifyFD(fd int, events IOEvents) error {
	return p.registerFD(fd, events)
}

func (p *selectPoller) unregisterFD(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.interest, fd)
	return nil
}

// fdSetBit and fdIsSet manipulate an unix.FdSet's bit array directly: the
// type exposes only its raw Bits field, no Set/IsSet helpers.
func fdSetBit(set *unix.FdSet, fd int) {
	word := fd / 64
	bit := uint(fd % 64)
	set.Bits[word] |= 1 << bit
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	word := fd / 64
	bit := uint(fd % 64)
	return set.Bits[word]&(1<<bit) != 0
}

func (p *selectPoller) wait(timeoutMs int) ([]event, error) {
	p.mu.Lock()
	var rfds, wfds unix.FdSet
	maxFD := 0
	for fd, ev := range p.interest {
		if ev&EventRead != 0 {
			fdSetBit(&rfds, fd)
		}
		if ev&EventWrite != 0 {
			fdSetBit(&wfds, fd)
		}
		if fd > maxFD {
			maxFD = fd
		}
	}
	p.mu.Unlock()

	var tv *unix.Timeval
	if timeoutMs >= 0 {
		t := unix.NsecToTimeval(int64(timeoutMs) * 1e6)
		tv = &t
	}
	n, err := unix.Select(maxFD+1, &rfds, &wfds, nil, tv)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event
	for fd, ev := range p.interest {
		var ready IOEvents
		if ev&EventRead != 0 && fdIsSet(&rfds, fd) {
			ready |= EventRead
		}
		if ev&EventWrite != 0 && fdIsSet(&wfds, fd) {
			ready |= EventWrite
		}
		if ready != 0 {
			out = append(out, event{fd: fd, events: ready})
		}
	}
	return out, nil
}

func (p *selectPoller) close() error {
	return nil
}
