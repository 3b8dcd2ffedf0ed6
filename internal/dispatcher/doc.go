// Package dispatcher implements the single-threaded, non-blocking I/O event
// loop each host runs one of: a select-style poller (epoll on Linux, kqueue
// on Darwin, select as a portable fallback elsewhere) plus a self-pipe for
// out-of-band wakeups from other threads.
//
// Pending reads and writes are queued per connection and serviced in FIFO
// order as the poller reports readiness; one-shot timers run on the same
// thread between poll rounds.
package dispatcher
