// Package errors defines the fatal error taxonomy shared by every dflow
// subsystem, per the error handling design: every failure the engine raises
// is one of a small set of kinds, and is fatal to the job.
//
// The package is a thin, dflow-specific layer over github.com/grailbio/base/errors,
// which already provides kind-tagged, chainable errors (errors.E, errors.Is,
// errors.Match, errors.Recover).
// grailbio's Kind enum is closed and generic (Fatal, Net, Unavailable,
// NotExist, Precondition, Integrity, ...); dflow tags each error with both
// the closest grailbio Kind (for errors.Is interoperability) and a dflow
// Kind string (for precise, job-entry-point-visible diagnostics).
package errors

import (
	"fmt"

	baseerrors "github.com/grailbio/base/errors"
)

// Kind identifies which of the five error categories produced a given
// error.
type Kind string

const (
	// IO covers network and swap-file I/O failures.
	IO Kind = "io"
	// Protocol covers magic-byte or type-hash mismatches.
	Protocol Kind = "protocol"
	// OOM covers allocation failures with nothing left to evict.
	OOM Kind = "oom"
	// Usage covers invalid DAG usage, e.g. rerunning a Disposed node.
	Usage Kind = "usage"
	// Serialization covers short reads and truncated records.
	Serialization Kind = "serialization"
)

// baseKind maps a dflow Kind onto the nearest grailbio/base/errors.Kind so
// that callers can still use errors.Is with the generic kinds if they only
// have a grailbio-aware error handler (e.g. shared retry/backoff logic).
func (k Kind) baseKind() baseerrors.Kind {
	switch k {
	case IO:
		return baseerrors.Net
	case Protocol:
		return baseerrors.Integrity
	case OOM:
		return baseerrors.OOM
	case Usage:
		return baseerrors.Precondition
	case Serialization:
		return baseerrors.Integrity
	default:
		return baseerrors.Fatal
	}
}

// Context carries the job-entry-point-visible diagnostics attached where
// meaningful: the stream ID, stage label, and the offending peer.
type Context struct {
	StreamID string
	Stage    string
	Peer     string
}

// New builds a kind-tagged error. Every dflow error is fatal to the job by
// propagation policy; fatality is not encoded in the error value, since
// errors.E keeps only the last Kind argument and stacking Fatal on top
// would erase the specific kind. extra is logged-through context (wrapped
// errors, formatted detail) passed straight to errors.E.
func New(kind Kind, ctx Context, extra ...any) error {
	args := []any{kind.baseKind(), fmt.Sprintf("dflow: %s", kind)}
	if ctx.StreamID != "" {
		args = append(args, fmt.Sprintf("stream=%s", ctx.StreamID))
	}
	if ctx.Stage != "" {
		args = append(args, fmt.Sprintf("stage=%s", ctx.Stage))
	}
	if ctx.Peer != "" {
		args = append(args, fmt.Sprintf("peer=%s", ctx.Peer))
	}
	args = append(args, extra...)
	return baseerrors.E(args...)
}

// Is reports whether err carries the grailbio Kind that the given dflow Kind
// maps to. Protocol and Serialization both map to the same grailbio Kind,
// so Is does not tell those two apart.
func Is(kind Kind, err error) bool {
	return baseerrors.Is(kind.baseKind(), err)
}

// IoFailure, ProtocolMismatch, OutOfMemory, UsageError, and SerializationError
// are convenience constructors for the five error kinds.
func IoFailure(ctx Context, cause error) error {
	return New(IO, ctx, cause)
}

func ProtocolMismatch(ctx Context, detail string) error {
	return New(Protocol, ctx, detail)
}

func OutOfMemory(ctx Context, requested, cap int64) error {
	return New(OOM, ctx, fmt.Sprintf("requested %d bytes, cap %d bytes", requested, cap))
}

func UsageError(ctx Context, detail string) error {
	return New(Usage, ctx, detail)
}

func SerializationError(ctx Context, cause error) error {
	return New(Serialization, ctx, cause)
}
