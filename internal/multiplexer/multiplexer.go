package multiplexer

import (
	"net"
	"sync"

	"github.com/dreamware/dflow/internal/blockpool"
	"github.com/dreamware/dflow/internal/dispatcher"
	dflowerrors "github.com/dreamware/dflow/internal/errors"
	"github.com/dreamware/dflow/internal/stream"
)

func kindToMagic(k stream.Kind) Magic {
	if k == stream.Cat {
		return MagicCat
	}
	return MagicMix
}

func magicToKind(m Magic) stream.Kind {
	if m == MagicCat {
		return stream.Cat
	}
	return stream.Mix
}

// Multiplexer owns this host's peer connections and implements
// stream.Transport over them, handing decoded incoming Blocks to its
// Repository.
//
// Each host runs exactly one Multiplexer, which:
//   - Holds one TCP connection per peer host (H-1 total)
//   - Frames every outgoing Block behind a StreamBlockHeader
//   - Decodes incoming headers and routes payloads to the right Stream
//   - Coalesces redundant per-worker close packets into one final close
//
// Connection setup:
// Each host pair connects in one fixed direction: the lower-ranked host
// dials (DialAll) and the higher-ranked host accepts (Listen), so no pair
// ever races to open two connections.
//
// Concurrency model:
//   - Stream creation and lookup go through the Repository's host-global mutex
//   - conns and ln are guarded by mu; each conn serializes its two-part
//     header+payload sends with its own sendMu
//   - All frame I/O is performed by the Dispatcher's single poller thread;
//     only the rank handshake at connect time uses the net.Conn directly
//   - One readLoop goroutine per peer connection decodes incoming frames
//
// Example usage:
//
//	mux := New(topo, disp, pool)
//	if err := mux.Listen(selfAddr); err != nil {
//	    return err
//	}
//	if err := mux.DialAll(); err != nil {
//	    return err
//	}
//	defer mux.Close()
type Multiplexer struct {
	topo HostTopology
	disp *dispatcher.Dispatcher
	pool *blockpool.BlockPool
	repo *Repository

	mu    sync.Mutex
	ln    net.Listener
	conns map[uint32]*conn // peer host rank -> connection
}

// New creates a Multiplexer for the given topology, scheduling all its I/O
// on disp and allocating incoming payload buffers from pool.
func New(topo HostTopology, disp *dispatcher.Dispatcher, pool *blockpool.BlockPool) *Multiplexer {
	m := &Multiplexer{
		topo:  topo,
		disp:  disp,
		pool:  pool,
		conns: make(map[uint32]*conn),
	}
	m.repo = newRepository(topo, m)
	return m
}

// Repository returns the Multiplexer's Stream registry.
func (m *Multiplexer) Repository() *Repository { return m.repo }

// Listen accepts connections from lower-ranked peers on addr. Each pair
// connects in one fixed direction (lower rank dials, higher rank accepts),
// avoiding a connection race.
func (m *Multiplexer) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return connErr(addr, err)
	}
	m.mu.Lock()
	m.ln = ln
	m.mu.Unlock()
	go m.acceptLoop(ln)
	return nil
}

func (m *Multiplexer) acceptLoop(ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		// The peer announces its rank as the first 4 bytes so we can key
		// the connection map without a separate handshake message type.
		var rankBuf [4]byte
		if _, err := readFull(nc, rankBuf[:]); err != nil {
			_ = nc.Close()
			continue
		}
		rank := beUint32(rankBuf[:])
		m.addConn(rank, nc)
	}
}

// DialAll connects to every peer host of higher rank than this one,
// announcing this host's own rank so the acceptor can key its connection
// map.
func (m *Multiplexer) DialAll() error {
	for h := uint32(0); h < uint32(m.topo.NumHosts()); h++ {
		if h <= m.topo.Rank() {
			continue
		}
		nc, err := net.Dial("tcp", m.topo.AddrOf(h))
		if err != nil {
			return connErr(m.topo.AddrOf(h), err)
		}
		var rankBuf [4]byte
		putBeUint32(rankBuf[:], m.topo.Rank())
		if _, err := nc.Write(rankBuf[:]); err != nil {
			_ = nc.Close()
			return connErr(m.topo.AddrOf(h), err)
		}
		m.addConn(h, nc)
	}
	return nil
}

func (m *Multiplexer) addConn(peer uint32, nc net.Conn) {
	c := &conn{
		nc:           nc,
		fd:           fdOf(nc),
		closedLocal:  make(map[closeKey]bool),
		pendingFinal: make(map[uint64]*finalCloseState),
	}
	m.mu.Lock()
	m.conns[peer] = c
	m.mu.Unlock()
	go m.readLoop(peer, c)
}

// Close tears down the Multiplexer's network resources.
//
// Behavior:
//   - Closes the listening socket, stopping the accept loop
//   - Cancels each peer connection's pending I/O with the Dispatcher, then
//     closes the connection
//   - Idempotent: a second Close is a no-op
//
// Thread-safety:
//   - Safe for concurrent calls
//   - Must run before the Dispatcher's own Close: the Cancel step is what
//     keeps serviceReads/serviceWrites from racing a closing fd
//
// Returns:
//   - The first error encountered closing the socket or a connection
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	ln := m.ln
	m.ln = nil
	conns := m.conns
	m.conns = make(map[uint32]*conn)
	m.mu.Unlock()

	var firstErr error
	if ln != nil {
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, c := range conns {
		m.disp.Cancel(c.fd)
		if err := c.nc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Multiplexer) connFor(hostRank uint32) (*conn, error) {
	m.mu.Lock()
	c, ok := m.conns[hostRank]
	m.mu.Unlock()
	if !ok {
		return nil, dflowerrors.IoFailure(dflowerrors.Context{Peer: m.topo.AddrOf(hostRank)}, errNoConn)
	}
	return c, nil
}

// SendBlock implements stream.Transport: it frames b behind a
// StreamBlockHeader and writes both atomically to receiver's host.
// Callers are required to hold b's ByteBlock pinned for the duration of
// this call; SendBlock copies the payload bytes out before returning so the
// caller may unpin immediately afterward.
func (m *Multiplexer) SendBlock(id stream.ID, kind stream.Kind, sender, receiver int, b blockpool.Block) error {
	peer := m.topo.HostOf(receiver)
	c, err := m.connFor(peer)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), b.Bytes()...)
	h := StreamBlockHeader{
		Magic:               kindToMagic(kind),
		StreamID:            uint64(id),
		SenderHost:          m.topo.Rank(),
		SenderLocalWorker:   uint32(m.topo.LocalWorkerIndex(sender)),
		ReceiverLocalWorker: uint32(m.topo.LocalWorkerIndex(receiver)),
		PayloadSize:         uint32(len(payload)),
		FirstItem:           uint32(b.FirstItem),
		NItems:              uint32(b.NumItems),
	}
	return m.writeFramed(c, peer, h, payload)
}

// SendClose implements stream.Transport's close half, coalescing final
// closes: once every local worker that could possibly send toward
// receiver's host has individually closed, further per-worker close packets
// would be redundant, so the close that exhausts the local worker set sends
// a single AllWorkers-tagged header instead.
func (m *Multiplexer) SendClose(id stream.ID, kind stream.Kind, sender, receiver int) error {
	peer := m.topo.HostOf(receiver)
	c, err := m.connFor(peer)
	if err != nil {
		return err
	}

	c.closeMu.Lock()
	key := closeKey{id: uint64(id), sender: sender}
	if c.closedLocal[key] {
		c.closeMu.Unlock()
		return nil
	}
	c.closedLocal[key] = true

	local := m.topo.WorkersOnHost(m.topo.Rank())
	st, ok := c.pendingFinal[uint64(id)]
	if !ok {
		st = &finalCloseState{kind: byte(kindToMagic(kind)), senders: make(map[int]bool), wantTotal: len(local)}
		c.pendingFinal[uint64(id)] = st
	}
	st.senders[sender] = true
	coalesce := len(st.senders) >= st.wantTotal
	if coalesce {
		delete(c.pendingFinal, uint64(id))
	}
	c.closeMu.Unlock()

	if !coalesce {
		h := StreamBlockHeader{
			Magic:               kindToMagic(kind),
			StreamID:            uint64(id),
			SenderHost:          m.topo.Rank(),
			SenderLocalWorker:   uint32(m.topo.LocalWorkerIndex(sender)),
			ReceiverLocalWorker: uint32(m.topo.LocalWorkerIndex(receiver)),
			PayloadSize:         0,
		}
		return m.writeFramed(c, peer, h, nil)
	}

	h := StreamBlockHeader{
		Magic:               kindToMagic(kind),
		StreamID:            uint64(id),
		SenderHost:          m.topo.Rank(),
		SenderLocalWorker:   AllWorkers,
		ReceiverLocalWorker: AllWorkers,
		PayloadSize:         0,
	}
	return m.writeFramed(c, peer, h, nil)
}

// writeFramed serializes header and payload onto c's connection as one
// atomic two-part write, blocking the caller until both are flushed (or an
// error occurs).
func (m *Multiplexer) writeFramed(c *conn, peer uint32, h StreamBlockHeader, payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	h.Seq = c.seq
	c.seq++

	done := make(chan error, 1)
	m.disp.AsyncWrite(c.fd, h.Encode(), func(err error) {
		if err != nil || len(payload) == 0 {
			done <- err
			return
		}
		m.disp.AsyncWrite(c.fd, payload, func(err error) { done <- err })
	})
	if err := <-done; err != nil {
		return connErr(m.topo.AddrOf(peer), err)
	}
	return nil
}

// readLoop decodes StreamBlockHeaders from peer's connection and dispatches
// each arriving Block (or close) into the Repository. It runs on its own
// goroutine per connection rather than through the Dispatcher's callback
// chain directly, since each step's continuation depends on the previous
// step's decoded length. AsyncRead's callback style composes awkwardly for
// a "read header, then read a header-determined number of payload bytes,
// then loop" protocol, while a blocking loop over synchronous reads to the
// dispatcher via a completion channel reads naturally and still keeps the
// underlying fd registered with, and serviced by, the Dispatcher's single
// poller thread.
func (m *Multiplexer) readLoop(peer uint32, c *conn) {
	for {
		hdrBuf, err := m.asyncReadSync(c.fd, HeaderSize)
		if err != nil {
			return
		}
		h, err := DecodeHeader(hdrBuf)
		if err != nil {
			return
		}
		if h.IsClose() {
			m.dispatchClose(h)
			continue
		}
		payload, err := m.asyncReadSync(c.fd, int(h.PayloadSize))
		if err != nil {
			return
		}
		if err := m.dispatchBlock(h, payload); err != nil {
			return
		}
	}
}

func (m *Multiplexer) asyncReadSync(fd int, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	done := make(chan struct {
		buf []byte
		err error
	}, 1)
	m.disp.AsyncRead(fd, n, func(buf []byte, err error) {
		done <- struct {
			buf []byte
			err error
		}{buf, err}
	})
	r := <-done
	return r.buf, r.err
}

func (m *Multiplexer) dispatchBlock(h StreamBlockHeader, payload []byte) error {
	bb, err := m.pool.AllocateByteBlock(len(payload), int(h.ReceiverLocalWorker))
	if err != nil {
		return err
	}
	copy(bb.Bytes(), payload)
	// Drop the allocation pin once the bytes are in place: the consuming
	// reader takes its own pin before touching them, and an unpinned block
	// survives eviction via the swap file.
	m.pool.Unpin(bb, int(h.ReceiverLocalWorker))
	b := blockpool.Block{
		ByteBlock: bb,
		Begin:     0,
		End:       int64(len(payload)),
		FirstItem: int64(h.FirstItem),
		NumItems:  int64(h.NItems),
	}
	sender := m.globalWorker(h.SenderHost, int(h.SenderLocalWorker))
	receiver := m.globalWorker(m.topo.Rank(), int(h.ReceiverLocalWorker))
	kind := magicToKind(h.Magic)
	return m.repo.DeliverBlock(stream.ID(h.StreamID), kind, sender, receiver, b)
}

func (m *Multiplexer) dispatchClose(h StreamBlockHeader) {
	kind := magicToKind(h.Magic)
	id := stream.ID(h.StreamID)
	if h.SenderLocalWorker == AllWorkers {
		senders := m.topo.WorkersOnHost(h.SenderHost)
		m.repo.deliverFinalClose(id, kind, senders)
		return
	}
	sender := m.globalWorker(h.SenderHost, int(h.SenderLocalWorker))
	receiver := m.globalWorker(m.topo.Rank(), int(h.ReceiverLocalWorker))
	_ = m.repo.DeliverClose(id, kind, sender, receiver)
}

func (m *Multiplexer) globalWorker(host uint32, local int) int {
	return int(host)*m.topo.WorkersPerHost() + local
}

func readFull(nc net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := nc.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBeUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
