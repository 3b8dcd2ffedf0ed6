// Package hashtable implements the in-memory, partitioned reduction tables
// every reduce-style operator accumulates into before shuffling: a probing
// variant (contiguous slots, linear probing), a bucket variant (chained
// fixed-capacity item arrays), and a reduce-by-index specialization, plus
// the reduce pre-phase glue that wires a table's partition emitter to a
// Stream's writers, producing the shuffle side of a reduce operator.
//
// Every table is owned by exactly one worker goroutine and is not safe for
// concurrent use. Keys hash to a (partition, slot) pair; when one partition
// overflows its fill limit, only that partition is spilled through the
// emitter, letting the others keep accumulating.
package hashtable
