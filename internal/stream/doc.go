// Package stream implements the shuffle primitive: a Cat or Mix Stream,
// addressed by a cluster-wide ID, through which every worker exchanges
// Blocks with every other worker.
//
// A Stream value here is a single worker's local handle onto a logical,
// cluster-wide stream: one is constructed per (ID, owning worker) pair.
// Delivery to a local sibling worker goes straight into that sibling's
// Stream via a Local deliverer; delivery to a worker on another host goes
// through a Transport, which the multiplexer package implements over the
// network. Stream itself knows nothing about TCP or the dispatcher; it
// only knows how to queue, order, and account for Blocks.
package stream
