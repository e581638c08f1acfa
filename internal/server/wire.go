package server

import (
	"github.com/Ekleog/risuto/internal/event"
	"github.com/Ekleog/risuto/internal/store"
)

// FrameType discriminates the messages exchanged over a sync connection.
type FrameType string

const (
	// FrameSubmit carries one client event to the server.
	FrameSubmit FrameType = "submit"
	// FrameCommitted announces one durably committed event with its
	// canonical position. Catch-up replies and live fan-out both use it.
	FrameCommitted FrameType = "committed"
	// FrameRejected reports why a submitted event was not committed.
	FrameRejected FrameType = "rejected"
	// FrameCaughtUp marks the end of the catch-up backlog; frames after it
	// are live.
	FrameCaughtUp FrameType = "caught_up"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Frame is one sync protocol message.
type Frame struct {
	Type FrameType `json:"type"`

	// Submit and Committed frames carry the event itself.
	Event *event.Event `json:"event,omitempty"`
	// Committed and CaughtUp frames carry a canonical position.
	Position int64 `json:"position,omitempty"`

	// Rejected frames identify the failed event and the reason.
	EventID event.EventID    `json:"event_id,omitempty"`
	Reason  event.RejectKind `json:"reason,omitempty"`
	Detail  string           `json:"detail,omitempty"`
}

func committedFrame(entry store.Committed) Frame {
	ev := entry.Event
	return Frame{Type: FrameCommitted, Event: &ev, Position: entry.Position}
}

func rejectedFrame(id event.EventID, err error) Frame {
	f := Frame{Type: FrameRejected, EventID: id, Detail: err.Error()}
	if kind, ok := event.KindOf(err); ok {
		f.Reason = kind
	}
	return f
}
