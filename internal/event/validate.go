package event

import (
	"strings"
	"time"
)

// maxTextLen bounds titles and comment bodies.
const maxTextLen = 10000

// Resolver answers the referential questions validation needs. The sync
// coordinator backs it with committed state; clients back it with their local
// projection.
type Resolver interface {
	// TaskExists reports whether a task is known.
	TaskExists(task TaskID) bool

	// EventInfo returns the task and timestamp of a committed event, or
	// ok=false if the event is unknown.
	EventInfo(id EventID) (task TaskID, at time.Time, ok bool)
}

// Validate checks an event structurally and referentially: payload shape,
// identifier well-formedness, and that referenced ids exist on the same task
// with an earlier (timestamp, id) position.
//
// Validation deliberately does not check authorization (the auth package's
// job) nor business invariants like dependency cycle-freedom (checked by the
// projection at commit time).
func Validate(ev Event, refs Resolver) error {
	if err := checkUUID("event", string(ev.ID)); err != nil {
		return Reject(RejectInvalidPayload, "%v", err)
	}
	if err := checkUUID("author", string(ev.Author)); err != nil {
		return Reject(RejectInvalidPayload, "%v", err)
	}
	if err := checkUUID("task", string(ev.Task)); err != nil {
		return Reject(RejectInvalidPayload, "%v", err)
	}
	if err := checkTime(ev.At); err != nil {
		return err
	}
	if ev.Payload == nil {
		return Reject(RejectInvalidPayload, "event %s has no payload", ev.ID)
	}
	if !refs.TaskExists(ev.Task) {
		return Reject(RejectDanglingReference, "task %s does not exist", ev.Task)
	}

	switch p := ev.Payload.(type) {
	case SetTitle:
		return checkText(p.Title)
	case SetDone, SetArchived, SetOrder:
		return nil
	case SetBlockedUntil:
		if p.Until != nil {
			return checkTime(*p.Until)
		}
		return nil
	case SetScheduledFor:
		if p.For != nil {
			return checkTime(*p.For)
		}
		return nil
	case AddTag:
		if err := checkUUID("tag", string(p.Tag)); err != nil {
			return Reject(RejectInvalidPayload, "%v", err)
		}
		return nil
	case RemoveTag:
		if err := checkUUID("tag", string(p.Tag)); err != nil {
			return Reject(RejectInvalidPayload, "%v", err)
		}
		return nil
	case AddComment:
		if err := checkText(p.Text); err != nil {
			return err
		}
		if p.Parent != nil {
			return checkSameTaskRef(ev, *p.Parent, refs)
		}
		return nil
	case EditComment:
		if err := checkText(p.Text); err != nil {
			return err
		}
		return checkSameTaskRef(ev, p.Comment, refs)
	case SetEventRead:
		return checkSameTaskRef(ev, p.Event, refs)
	case AddDependency:
		return checkDepTarget(ev, p.DependsOn, refs)
	case RemoveDependency:
		return checkDepTarget(ev, p.DependsOn, refs)
	default:
		return Reject(RejectInvalidPayload, "unknown payload variant %T", ev.Payload)
	}
}

// checkSameTaskRef verifies the referenced event exists, belongs to the same
// task as ev, and precedes ev in time. A reference that would precede its
// referent cannot be folded deterministically, so the client must reissue the
// event with a fresh timestamp.
func checkSameTaskRef(ev Event, ref EventID, refs Resolver) error {
	if err := checkUUID("referenced event", string(ref)); err != nil {
		return Reject(RejectInvalidPayload, "%v", err)
	}
	task, at, ok := refs.EventInfo(ref)
	if !ok {
		return Reject(RejectDanglingReference, "event %s does not exist", ref)
	}
	if task != ev.Task {
		return Reject(RejectDanglingReference,
			"event %s belongs to task %s, not %s", ref, task, ev.Task)
	}
	if !at.Before(ev.At) {
		return Reject(RejectStaleSubmission,
			"event %s is not older than the submitted event; resubmit with a fresh timestamp", ref)
	}
	return nil
}

func checkDepTarget(ev Event, other TaskID, refs Resolver) error {
	if err := checkUUID("task", string(other)); err != nil {
		return Reject(RejectInvalidPayload, "%v", err)
	}
	if other == ev.Task {
		return Reject(RejectInvalidPayload, "task %s cannot depend on itself", ev.Task)
	}
	if !refs.TaskExists(other) {
		return Reject(RejectDanglingReference, "task %s does not exist", other)
	}
	return nil
}

func checkText(s string) error {
	if strings.ContainsRune(s, 0) {
		return Reject(RejectInvalidPayload, "null byte in string %q", s)
	}
	if len(s) > maxTextLen {
		return Reject(RejectInvalidPayload, "text exceeds %d bytes", maxTextLen)
	}
	return nil
}

func checkTime(t time.Time) error {
	if t.IsZero() {
		return Reject(RejectInvalidPayload, "timestamp is required")
	}
	if y := t.Year(); y < 1 || y > 9999 {
		return Reject(RejectInvalidPayload, "timestamp year %d out of range", y)
	}
	return nil
}
