// Package file implements File, the append-only-while-writing, then
// immutable, ordered sequence of Blocks that intermediate stage results
// live in between a producer's BlockWriter and a consumer's BlockReader.
//
// A File tracks two running sums alongside its Block slice, cumulative byte
// size and cumulative item count, so that PositionOf, used by
// stream.Scatter, can binary-search to the Block containing a given item
// index without scanning.
//
// Writers append; readers either keep (non-consuming) or consume (pop) the
// front. Files are append-only during the writing phase and immutable
// thereafter, so concurrent readers see a stable prefix. A single mutex
// protects the Block slice and prefix sums. Keep readers never mutate the
// File, and by contract only one Consume reader exists per File at a time.
package file
