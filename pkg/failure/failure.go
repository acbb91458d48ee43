// Package failure defines Disco's error taxonomy: every error a node or
// client surfaces is one of six kinds, each with its own propagation policy.
package failure

import (
    "errors"
    "fmt"
)

// Kind classifies an error for propagation and exit-code purposes.
type Kind int

const (
    // Transient errors are retried with backoff by the component that owns
    // the operation: network timeouts, provider throttling, SSH connect
    // refused, a temporarily unreachable quorum.
    Transient Kind = iota
    // Consensus errors (NotLeader, HigherTerm, LogMismatch, Compacted) are
    // handled internally by the consensus engine or surfaced at the service
    // boundary as a ForwardToLeader hint.
    Consensus
    // Durable errors are fatal: fsync failure, log corruption, snapshot
    // write failure. The process exits with code 2.
    Durable
    // Auth errors refuse the connection: TLS verification failure, unknown
    // client certificate. Never retried.
    Auth
    // Script errors are user-code exceptions. They end the script task;
    // the daemon keeps running.
    Script
    // Usage errors are a bad CLI flag or malformed config. The process
    // exits with code 3 before the log is opened.
    Usage
)

func (k Kind) String() string {
    switch k {
    case Transient:
        return "Transient"
    case Consensus:
        return "Consensus"
    case Durable:
        return "Durable"
    case Auth:
        return "Auth"
    case Script:
        return "Script"
    case Usage:
        return "Usage"
    default:
        return "Unknown"
    }
}

// ExitCode returns the process exit code a top-level error of this kind
// maps to, per the discod CLI contract. Kinds with no dedicated exit code
// return 1 (generic fatal initialization error).
func (k Kind) ExitCode() int {
    switch k {
    case Durable:
        return 2
    case Usage:
        return 3
    default:
        return 1
    }
}

// Error wraps an underlying cause with a Kind and, for Consensus errors, an
// optional leader hint.
type Error struct {
    Kind      Kind
    Hint      string // leader address hint, populated only for NotLeader
    Retriable bool
    Cause     error
}

func (e *Error) Error() string {
    if e.Cause == nil {
        return e.Kind.String()
    }
    return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New wraps cause as a failure of the given kind.
func New(kind Kind, cause error) *Error {
    return &Error{Kind: kind, Cause: cause, Retriable: kind == Transient}
}

// Newf wraps a formatted error as a failure of the given kind.
func Newf(kind Kind, format string, args ...any) *Error {
    return New(kind, fmt.Errorf(format, args...))
}

// NotLeader builds a Consensus error carrying a hint at the current leader,
// the shape every write-path RPC handler returns to trigger ForwardToLeader.
func NotLeader(hint string) *Error {
    return &Error{Kind: Consensus, Hint: hint, Cause: ErrNotLeader}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error; otherwise it reports Transient, the safe default for an
// unclassified error crossing a retry boundary.
func KindOf(err error) Kind {
    var fe *Error
    if errors.As(err, &fe) {
        return fe.Kind
    }
    return Transient
}

// Is reports whether err is (or wraps) a failure of the given kind.
func Is(err error, kind Kind) bool {
    var fe *Error
    return errors.As(err, &fe) && fe.Kind == kind
}

var (
    ErrNotLeader    = errors.New("disco: not leader")
    ErrHigherTerm   = errors.New("disco: higher term observed")
    ErrLogMismatch  = errors.New("disco: log mismatch")
    ErrCompacted    = errors.New("disco: requested index is compacted")
    ErrNoQuorum     = errors.New("disco: no quorum")
    ErrUnreachable  = errors.New("disco: unreachable")
    ErrUnauthorized = errors.New("disco: unauthorized certificate")
)
