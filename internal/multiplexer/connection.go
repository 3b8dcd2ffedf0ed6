package multiplexer

import (
	"net"
	"sync"
	"syscall"

	dflowerrors "github.com/dreamware/dflow/internal/errors"
)

// conn tracks one peer-host TCP connection: its fd for the Dispatcher, and
// the raw net.Conn kept alive so the fd stays valid and Close works.
type conn struct {
	nc net.Conn
	fd int

	// sendMu serializes the two-part header+payload AsyncWrite sequence: a
	// goroutine must hold it for the full header-then-payload submission
	// before another goroutine's pair can interleave, since the Dispatcher
	// only guarantees per-AsyncWrite-call ordering, not ordering across two
	// separate calls issued by different callers. seq is the per-connection
	// sequence number stamped into each outgoing header, guarded by sendMu.
	sendMu sync.Mutex
	seq    uint32

	// closeMu guards the final-close coalescing counters for this peer.
	closeMu      sync.Mutex
	closedLocal  map[closeKey]bool // (streamID, localSender) already sent individually
	pendingFinal map[uint64]*finalCloseState
}

type closeKey struct {
	id     uint64
	sender int
}

// finalCloseState accumulates which local senders have closed a stream
// toward this peer, so the Multiplexer can coalesce into one AllWorkers
// header once every local worker bound for this peer has closed.
type finalCloseState struct {
	kind      byte
	senders   map[int]bool
	wantTotal int
}

// fdOf extracts the raw file descriptor backing a *net.TCPConn so the
// Dispatcher can poll it directly, bypassing net.Conn's blocking Read/Write.
func fdOf(nc net.Conn) int {
	sc, ok := nc.(syscall.Conn)
	if !ok {
		return -1
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	var fd int
	_ = rc.Control(func(f uintptr) { fd = int(f) })
	return fd
}

func connErr(peer string, err error) error {
	return dflowerrors.IoFailure(dflowerrors.Context{Peer: peer}, err)
}
