// Package blockio implements the typed Writer/Reader pair that moves
// records into and out of Blocks, plus the serialization capability user
// record types must supply.
//
// Writer owns one in-flight Block at a time, sealing it and handing it to a
// Sink whenever appending an item would cross the current block's capacity;
// MarkItem records first_item/nitems per block, including the
// record-larger-than-a-block case, where a continuation block carries
// first_item >= end to signal that no record starts there. Reader is the
// inverse, presenting an append-only byte stream across Block boundaries to
// a Codec's Decode method.
//
// The engine does not prescribe the bytewise encoding of user record
// types; Codec is the adapter trait, with provided implementations for
// fixed-size primitives and an open extension point for user types. This
// package supplies the Codec implementations the engine itself needs (hash
// table keys, item counts in tests); real user record types bring their
// own Codec.
package blockio
