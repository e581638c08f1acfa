// Package event defines the closed set of event variants that make up the
// append-only task log, along with their JSON envelope encoding and the
// structural/referential validator.
//
// Events are immutable once committed. Every derived attribute of a task is
// a pure function of its event history ordered by (timestamp, event id); the
// projection of that history lives in the project package.
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// EventID identifies a single event. IDs are UUID strings so that
// lexicographic comparison is a stable tie-break for events sharing a
// timestamp.
type EventID string

// TaskID identifies a task.
type TaskID string

// TagID identifies a tag.
type TagID string

// UserID identifies a user.
type UserID string

// SearchID identifies a saved search, used by SetOrder events to attach a
// manual ordering priority to a task within that search.
type SearchID string

// NewEventID returns a fresh random event id.
func NewEventID() EventID {
	return EventID(uuid.NewString())
}

// NewTaskID returns a fresh random task id.
func NewTaskID() TaskID {
	return TaskID(uuid.NewString())
}

// NewTagID returns a fresh random tag id.
func NewTagID() TagID {
	return TagID(uuid.NewString())
}

// NewUserID returns a fresh random user id.
func NewUserID() UserID {
	return UserID(uuid.NewString())
}

// NewSearchID returns a fresh random saved-search id.
func NewSearchID() SearchID {
	return SearchID(uuid.NewString())
}

func checkUUID(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s id is required", kind)
	}
	if _, err := uuid.Parse(s); err != nil {
		return fmt.Errorf("%s id %q is not a valid uuid: %w", kind, s, err)
	}
	return nil
}
