// Package multiplexer implements the per-host shuffle transport: one
// instance per host, owning H-1 TCP connections to peer hosts inside a
// single Dispatcher, framing every Block with a StreamBlockHeader and
// routing it to the right Stream via a Repository.
//
// The wire protocol is header-then-payload, the stream registry is keyed by
// stream ID, and a "final close" optimization collapses the identical close
// packets from one host's workers into a single packet.
package multiplexer
