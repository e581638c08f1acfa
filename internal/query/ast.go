// Package query compiles search strings into predicate trees and evaluates
// them against projected tasks.
//
// A compiled predicate is a pure function of one task's state: evaluation has
// no side effects, so the same tree can run server-side over a snapshot or
// client-side over the local projection. Trees serialize to JSON so saved
// searches survive round-trips through storage and the wire.
package query

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ekleog/risuto/internal/event"
)

// Pred is one node of a compiled predicate tree.
type Pred interface {
	kind() string
}

// All matches when every child matches. An empty All matches everything.
type All struct {
	Preds []Pred
}

// Any matches when at least one child matches.
type Any struct {
	Preds []Pred
}

// Not inverts its child.
type Not struct {
	Pred Pred
}

// Archived compares the task's archived flag.
type Archived struct {
	Is bool `json:"is"`
}

// Done compares the task's done flag.
type Done struct {
	Is bool `json:"is"`
}

// Untagged matches tasks with no tags (Is=true) or at least one (Is=false).
type Untagged struct {
	Is bool `json:"is"`
}

// Today matches tasks scheduled for or blocked until the current day.
type Today struct {
	Is bool `json:"is"`
}

// Tag matches tasks currently carrying the tag. The name is kept for
// re-serialization; the id is what evaluation uses.
type Tag struct {
	Name string      `json:"name"`
	ID   event.TagID `json:"id"`
}

// ScheduledAfter matches tasks scheduled at or after the resolved bound.
// Tasks with no scheduled date never match a date comparison.
type ScheduledAfter struct {
	When DateRef `json:"when"`
}

// ScheduledBefore matches tasks scheduled at or before the resolved bound.
type ScheduledBefore struct {
	When DateRef `json:"when"`
}

// BlockedAfter matches tasks blocked until at or after the resolved bound.
type BlockedAfter struct {
	When DateRef `json:"when"`
}

// BlockedBefore matches tasks blocked until at or before the resolved bound.
type BlockedBefore struct {
	When DateRef `json:"when"`
}

// Phrase is a free-text leaf, delegated to the document index.
type Phrase struct {
	Text string `json:"text"`
}

func (All) kind() string             { return "all" }
func (Any) kind() string             { return "any" }
func (Not) kind() string             { return "not" }
func (Archived) kind() string        { return "archived" }
func (Done) kind() string            { return "done" }
func (Untagged) kind() string        { return "untagged" }
func (Today) kind() string           { return "today" }
func (Tag) kind() string             { return "tag" }
func (ScheduledAfter) kind() string  { return "scheduled_after" }
func (ScheduledBefore) kind() string { return "scheduled_before" }
func (BlockedAfter) kind() string    { return "blocked_after" }
func (BlockedBefore) kind() string   { return "blocked_before" }
func (Phrase) kind() string          { return "phrase" }

// DateRef names a day boundary, either absolute (Date set, YYYY-MM-DD) or
// relative to the evaluation day (Date empty). Days shifts the day either
// way; comparison rewriting uses it to reach "start of the next day".
type DateRef struct {
	Date string `json:"date,omitempty"`
	Days int    `json:"days,omitempty"`
}

// Resolve returns the midnight starting the referenced day in loc.
func (d DateRef) Resolve(now time.Time, loc *time.Location) (time.Time, error) {
	var year int
	var month time.Month
	var day int
	if d.Date == "" {
		year, month, day = now.In(loc).Date()
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", d.Date, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad date %q: %w", d.Date, err)
		}
		year, month, day = parsed.Date()
	}
	return time.Date(year, month, day+d.Days, 0, 0, 0, 0, loc), nil
}

func (d DateRef) plusDays(n int) DateRef {
	d.Days += n
	return d
}

type predEnvelope struct {
	Type  string            `json:"type"`
	Preds []json.RawMessage `json:"preds,omitempty"`
	Pred  json.RawMessage   `json:"pred,omitempty"`
}

// Marshal serializes a predicate tree with a type discriminator per node.
func Marshal(p Pred) ([]byte, error) {
	switch p := p.(type) {
	case All:
		return marshalChildren("all", p.Preds)
	case Any:
		return marshalChildren("any", p.Preds)
	case Not:
		child, err := Marshal(p.Pred)
		if err != nil {
			return nil, err
		}
		return json.Marshal(predEnvelope{Type: "not", Pred: child})
	default:
		blob, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		var fields map[string]any
		if err := json.Unmarshal(blob, &fields); err != nil {
			return nil, err
		}
		fields["type"] = p.kind()
		return json.Marshal(fields)
	}
}

func marshalChildren(typ string, preds []Pred) ([]byte, error) {
	children := make([]json.RawMessage, 0, len(preds))
	for _, child := range preds {
		blob, err := Marshal(child)
		if err != nil {
			return nil, err
		}
		children = append(children, blob)
	}
	return json.Marshal(predEnvelope{Type: typ, Preds: children})
}

// Unmarshal rebuilds a predicate tree from its serialized form.
func Unmarshal(data []byte) (Pred, error) {
	var env predEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode predicate: %w", err)
	}
	switch env.Type {
	case "all", "any":
		preds := make([]Pred, 0, len(env.Preds))
		for _, raw := range env.Preds {
			child, err := Unmarshal(raw)
			if err != nil {
				return nil, err
			}
			preds = append(preds, child)
		}
		if env.Type == "all" {
			return All{Preds: preds}, nil
		}
		return Any{Preds: preds}, nil
	case "not":
		child, err := Unmarshal(env.Pred)
		if err != nil {
			return nil, err
		}
		return Not{Pred: child}, nil
	case "archived":
		return decodeLeaf[Archived](data)
	case "done":
		return decodeLeaf[Done](data)
	case "untagged":
		return decodeLeaf[Untagged](data)
	case "today":
		return decodeLeaf[Today](data)
	case "tag":
		return decodeLeaf[Tag](data)
	case "scheduled_after":
		return decodeLeaf[ScheduledAfter](data)
	case "scheduled_before":
		return decodeLeaf[ScheduledBefore](data)
	case "blocked_after":
		return decodeLeaf[BlockedAfter](data)
	case "blocked_before":
		return decodeLeaf[BlockedBefore](data)
	case "phrase":
		return decodeLeaf[Phrase](data)
	default:
		return nil, fmt.Errorf("decode predicate: unknown type %q", env.Type)
	}
}

func decodeLeaf[T Pred](data []byte) (Pred, error) {
	var leaf T
	if err := json.Unmarshal(data, &leaf); err != nil {
		return nil, fmt.Errorf("decode %s predicate: %w", leaf.kind(), err)
	}
	return leaf, nil
}
