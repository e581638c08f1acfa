package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates payload variants on the wire.
type Kind string

const (
	KindSetTitle         Kind = "set_title"
	KindSetDone          Kind = "set_done"
	KindSetArchived      Kind = "set_archived"
	KindSetBlockedUntil  Kind = "set_blocked_until"
	KindSetScheduledFor  Kind = "set_scheduled_for"
	KindAddTag           Kind = "add_tag"
	KindRemoveTag        Kind = "remove_tag"
	KindAddComment       Kind = "add_comment"
	KindEditComment      Kind = "edit_comment"
	KindSetEventRead     Kind = "set_event_read"
	KindAddDependency    Kind = "add_dependency"
	KindRemoveDependency Kind = "remove_dependency"
	KindSetOrder         Kind = "set_order"
)

// Payload is the closed union of event payload variants. Each variant carries
// only the fields meaningful to it; there is no shared record with
// mutually-exclusive optional fields.
type Payload interface {
	// Kind returns the wire discriminant for this variant.
	Kind() Kind
}

// SetTitle replaces the task's current title.
type SetTitle struct {
	Title string `json:"title"`
}

// SetDone sets or clears the task's done flag.
type SetDone struct {
	Done bool `json:"done"`
}

// SetArchived sets or clears the task's archived flag.
type SetArchived struct {
	Archived bool `json:"archived"`
}

// SetBlockedUntil sets (or clears, when Until is nil) the date before which
// the task is considered blocked.
type SetBlockedUntil struct {
	Until *time.Time `json:"until,omitempty"`
}

// SetScheduledFor sets (or clears, when For is nil) the date the task is
// scheduled to be worked on.
type SetScheduledFor struct {
	For *time.Time `json:"for,omitempty"`
}

// AddTag puts the task into a tag's list with a per-tag priority and backlog
// flag. Re-adding a tag already on the task only updates priority/backlog.
type AddTag struct {
	Tag      TagID `json:"tag"`
	Priority int64 `json:"priority"`
	Backlog  bool  `json:"backlog"`
}

// RemoveTag takes the task out of a tag's list.
type RemoveTag struct {
	Tag TagID `json:"tag"`
}

// AddComment appends a comment to the task's thread. Parent, when set, must
// reference the AddComment event of another comment on the same task.
type AddComment struct {
	Text   string   `json:"text"`
	Parent *EventID `json:"parent,omitempty"`
}

// EditComment replaces the text of an existing comment. Comment references
// the AddComment event that created it.
type EditComment struct {
	Comment EventID `json:"comment"`
	Text    string  `json:"text"`
}

// SetEventRead marks a comment read or unread for the event's author. Event
// references the AddComment event of the comment on the same task.
type SetEventRead struct {
	Event EventID `json:"event"`
	Read  bool    `json:"read"`
}

// AddDependency records that the target task depends on (is blocked by)
// another task. The resulting active edge set must stay acyclic.
type AddDependency struct {
	DependsOn TaskID `json:"depends_on"`
}

// RemoveDependency removes a dependency edge previously added.
type RemoveDependency struct {
	DependsOn TaskID `json:"depends_on"`
}

// SetOrder records the task's manual-ordering priority within a saved search.
type SetOrder struct {
	Search   SearchID `json:"search"`
	Priority int64    `json:"priority"`
}

func (SetTitle) Kind() Kind         { return KindSetTitle }
func (SetDone) Kind() Kind          { return KindSetDone }
func (SetArchived) Kind() Kind      { return KindSetArchived }
func (SetBlockedUntil) Kind() Kind  { return KindSetBlockedUntil }
func (SetScheduledFor) Kind() Kind  { return KindSetScheduledFor }
func (AddTag) Kind() Kind           { return KindAddTag }
func (RemoveTag) Kind() Kind        { return KindRemoveTag }
func (AddComment) Kind() Kind       { return KindAddComment }
func (EditComment) Kind() Kind      { return KindEditComment }
func (SetEventRead) Kind() Kind     { return KindSetEventRead }
func (AddDependency) Kind() Kind    { return KindAddDependency }
func (RemoveDependency) Kind() Kind { return KindRemoveDependency }
func (SetOrder) Kind() Kind         { return KindSetOrder }

// MarshalPayload encodes a payload as a JSON object carrying its "type"
// discriminant alongside the variant's own fields.
func MarshalPayload(p Payload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.Kind(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to re-read %s payload: %w", p.Kind(), err)
	}
	typ, _ := json.Marshal(p.Kind())
	fields["type"] = typ

	return json.Marshal(fields)
}

// UnmarshalPayload decodes a JSON payload envelope into the matching variant.
// Unknown or missing discriminants are an InvalidPayload rejection.
func UnmarshalPayload(data []byte) (Payload, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, Reject(RejectInvalidPayload, "payload is not a json object: %v", err)
	}

	decode := func(v Payload) (Payload, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, Reject(RejectInvalidPayload, "malformed %s payload: %v", probe.Type, err)
		}
		return v, nil
	}

	switch probe.Type {
	case KindSetTitle:
		p, err := decode(&SetTitle{})
		return deref(p), err
	case KindSetDone:
		p, err := decode(&SetDone{})
		return deref(p), err
	case KindSetArchived:
		p, err := decode(&SetArchived{})
		return deref(p), err
	case KindSetBlockedUntil:
		p, err := decode(&SetBlockedUntil{})
		return deref(p), err
	case KindSetScheduledFor:
		p, err := decode(&SetScheduledFor{})
		return deref(p), err
	case KindAddTag:
		p, err := decode(&AddTag{})
		return deref(p), err
	case KindRemoveTag:
		p, err := decode(&RemoveTag{})
		return deref(p), err
	case KindAddComment:
		p, err := decode(&AddComment{})
		return deref(p), err
	case KindEditComment:
		p, err := decode(&EditComment{})
		return deref(p), err
	case KindSetEventRead:
		p, err := decode(&SetEventRead{})
		return deref(p), err
	case KindAddDependency:
		p, err := decode(&AddDependency{})
		return deref(p), err
	case KindRemoveDependency:
		p, err := decode(&RemoveDependency{})
		return deref(p), err
	case KindSetOrder:
		p, err := decode(&SetOrder{})
		return deref(p), err
	default:
		return nil, Reject(RejectInvalidPayload, "unknown payload type %q", probe.Type)
	}
}

// deref unwraps the pointer handed to json.Unmarshal so callers always see
// payloads as values.
func deref(p Payload) Payload {
	if p == nil {
		return nil
	}
	switch v := p.(type) {
	case *SetTitle:
		return *v
	case *SetDone:
		return *v
	case *SetArchived:
		return *v
	case *SetBlockedUntil:
		return *v
	case *SetScheduledFor:
		return *v
	case *AddTag:
		return *v
	case *RemoveTag:
		return *v
	case *AddComment:
		return *v
	case *EditComment:
		return *v
	case *SetEventRead:
		return *v
	case *AddDependency:
		return *v
	case *RemoveDependency:
		return *v
	case *SetOrder:
		return *v
	default:
		return p
	}
}
