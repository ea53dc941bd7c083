package vmpool

import "github.com/pkg/errors"

// Kind classifies a vmpool error so callers can dispatch on it without
// parsing messages. The wrapped cause (if any) is still reachable through
// errors.Unwrap / errors.Cause.
type Kind int

const (
	// KindNone is the zero value; never returned from a public call.
	KindNone Kind = iota

	// KindConfigInvalid covers bad page size, bad RAM budget, bad swap
	// file size, or too many swap files.
	KindConfigInvalid

	// KindExhausted means no frame could be obtained even after eviction
	// was attempted against every close-list shard.
	KindExhausted

	// KindUseAfterFree means the Ctrl had already been freed.
	KindUseAfterFree

	// KindOpenLimitExceeded means ref_count saturated at MaxRefCount.
	KindOpenLimitExceeded

	// KindIOError means a submit failure or timeout reached a
	// user-visible operation (as opposed to an eviction attempt, which
	// swallows I/O failure and retries a different victim).
	KindIOError

	// KindInternal marks an invariant violation. Ctrl-lifecycle invariant
	// breaks (close on a zero ref-count, for instance) panic directly
	// instead of returning this Kind; see panicInternal in lifecycle.go.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "ConfigInvalid"
	case KindExhausted:
		return "Exhausted"
	case KindUseAfterFree:
		return "UseAfterFree"
	case KindOpenLimitExceeded:
		return "OpenLimitExceeded"
	case KindIOError:
		return "IoError"
	case KindInternal:
		return "Internal"
	default:
		return "None"
	}
}

// Error is the concrete error type NewPool, Alloc, Open and AddSwapFile
// report. AddSwapFile can return it wrapped with extra context when a
// slot page cannot be allocated or opened; Destroy returns the wrapped
// collaborator error without an Error around it. Error implements Unwrap
// so the original collaborator error (arena, file, I/O engine) survives
// underneath the classified Kind.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(k Kind, cause error) *Error {
	return &Error{Kind: k, Cause: cause}
}

func wrapErr(k Kind, cause error, msg string) *Error {
	return &Error{Kind: k, Cause: errors.Wrap(cause, msg)}
}

// Is lets callers write errors.Is(err, vmpool.ErrExhausted) and similar.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel errors for errors.Is matching against a particular Kind.
var (
	ErrConfigInvalid     = &Error{Kind: KindConfigInvalid}
	ErrExhausted         = &Error{Kind: KindExhausted}
	ErrUseAfterFree      = &Error{Kind: KindUseAfterFree}
	ErrOpenLimitExceeded = &Error{Kind: KindOpenLimitExceeded}
	ErrIOError           = &Error{Kind: KindIOError}
	ErrInternal          = &Error{Kind: KindInternal}
)
