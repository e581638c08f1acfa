package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Event is one immutable entry of a task's append-only log.
type Event struct {
	ID      EventID
	Author  UserID
	At      time.Time
	Task    TaskID
	Payload Payload
}

// New builds an event authored now with a fresh id.
func New(author UserID, task TaskID, p Payload) Event {
	return Event{
		ID:      NewEventID(),
		Author:  author,
		At:      time.Now().UTC(),
		Task:    task,
		Payload: p,
	}
}

// Before reports whether e sorts before o in the deterministic
// (timestamp, event id) total order. Identical timestamps are tie-broken by
// lexicographic event id.
func (e Event) Before(o Event) bool {
	if !e.At.Equal(o.At) {
		return e.At.Before(o.At)
	}
	return e.ID < o.ID
}

type eventJSON struct {
	ID      EventID         `json:"id"`
	Author  UserID          `json:"author"`
	At      time.Time       `json:"at"`
	Task    TaskID          `json:"task"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the event with its payload envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %s has no payload", e.ID)
	}
	payload, err := MarshalPayload(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload of event %s: %w", e.ID, err)
	}
	return json.Marshal(eventJSON{
		ID:      e.ID,
		Author:  e.Author,
		At:      e.At,
		Task:    e.Task,
		Payload: payload,
	})
}

// UnmarshalJSON decodes an event and its payload envelope.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Reject(RejectInvalidPayload, "malformed event: %v", err)
	}
	payload, err := UnmarshalPayload(raw.Payload)
	if err != nil {
		return err
	}
	*e = Event{
		ID:      raw.ID,
		Author:  raw.Author,
		At:      raw.At,
		Task:    raw.Task,
		Payload: payload,
	}
	return nil
}

// Sort orders events in place by the deterministic (timestamp, id) order.
func Sort(events []Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].Before(events[j]) })
}
