package event

import (
	"errors"
	"fmt"
)

// RejectKind classifies why a submitted event was refused. Rejections are
// always local to the single submitted event; they never corrupt the log.
type RejectKind string

const (
	// RejectInvalidPayload means the event is structurally malformed.
	// Client bug; never retried automatically.
	RejectInvalidPayload RejectKind = "invalid-payload"

	// RejectDanglingReference means the event refers to a nonexistent
	// task/comment/event, or to an event on a different task.
	RejectDanglingReference RejectKind = "dangling-reference"

	// RejectPermissionDenied means the author lacks the capability the
	// event variant requires.
	RejectPermissionDenied RejectKind = "permission-denied"

	// RejectCycleDetected means adding the dependency edge would close a
	// cycle among currently-active edges.
	RejectCycleDetected RejectKind = "cycle-detected"

	// RejectStaleSubmission means the event's causal preconditions no
	// longer hold at commit time; the client may retry with an updated
	// event.
	RejectStaleSubmission RejectKind = "stale-submission"
)

// Error is a typed event rejection. Use KindOf to recover the kind from a
// wrapped error chain.
type Error struct {
	Kind   RejectKind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Reject builds a typed rejection with a formatted detail message.
func Reject(kind RejectKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the rejection kind from err, if it is (or wraps) an event
// rejection.
func KindOf(err error) (RejectKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err is a rejection of the given kind.
func IsKind(err error, kind RejectKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
