package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// fakeResolver backs Validate with an in-memory picture of committed state.
type fakeResolver struct {
	tasks  map[TaskID]bool
	events map[EventID]struct {
		task TaskID
		at   time.Time
	}
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		tasks: make(map[TaskID]bool),
		events: make(map[EventID]struct {
			task TaskID
			at   time.Time
		}),
	}
}

func (r *fakeResolver) addTask(t TaskID) { r.tasks[t] = true }

func (r *fakeResolver) addEvent(id EventID, task TaskID, at time.Time) {
	r.events[id] = struct {
		task TaskID
		at   time.Time
	}{task, at}
}

func (r *fakeResolver) TaskExists(t TaskID) bool { return r.tasks[t] }

func (r *fakeResolver) EventInfo(id EventID) (TaskID, time.Time, bool) {
	e, ok := r.events[id]
	return e.task, e.at, ok
}

func TestPayloadEnvelopeRoundTrip(t *testing.T) {
	until := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	parent := NewEventID()

	payloads := []Payload{
		SetTitle{Title: "buy milk"},
		SetDone{Done: true},
		SetArchived{Archived: false},
		SetBlockedUntil{Until: &until},
		SetBlockedUntil{},
		SetScheduledFor{For: &until},
		AddTag{Tag: NewTagID(), Priority: 40, Backlog: true},
		RemoveTag{Tag: NewTagID()},
		AddComment{Text: "hi", Parent: &parent},
		AddComment{Text: "top-level"},
		EditComment{Comment: parent, Text: "edited"},
		SetEventRead{Event: parent, Read: true},
		AddDependency{DependsOn: NewTaskID()},
		RemoveDependency{DependsOn: NewTaskID()},
		SetOrder{Search: NewSearchID(), Priority: -3},
	}

	for _, p := range payloads {
		data, err := MarshalPayload(p)
		if err != nil {
			t.Fatalf("marshal %s: %v", p.Kind(), err)
		}
		got, err := UnmarshalPayload(data)
		if err != nil {
			t.Fatalf("unmarshal %s: %v", p.Kind(), err)
		}
		a, _ := json.Marshal(p)
		b, _ := json.Marshal(got)
		if string(a) != string(b) {
			t.Errorf("%s round-trip mismatch: sent %s, got %s", p.Kind(), a, b)
		}
		if got.Kind() != p.Kind() {
			t.Errorf("kind changed across round-trip: %s != %s", got.Kind(), p.Kind())
		}
	}
}

func TestUnmarshalPayloadUnknownType(t *testing.T) {
	_, err := UnmarshalPayload([]byte(`{"type":"explode_task"}`))
	if !IsKind(err, RejectInvalidPayload) {
		t.Fatalf("expected invalid-payload rejection, got %v", err)
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	ev := New(NewUserID(), NewTaskID(), SetTitle{Title: "hello"})

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if got.ID != ev.ID || got.Author != ev.Author || got.Task != ev.Task {
		t.Errorf("event identity changed across round-trip: %+v vs %+v", got, ev)
	}
	if title, ok := got.Payload.(SetTitle); !ok || title.Title != "hello" {
		t.Errorf("payload changed across round-trip: %+v", got.Payload)
	}
}

func TestValidate(t *testing.T) {
	now := time.Now().UTC()
	author := NewUserID()
	task := NewTaskID()
	other := NewTaskID()
	comment := NewEventID()
	otherComment := NewEventID()
	futureComment := NewEventID()

	refs := newFakeResolver()
	refs.addTask(task)
	refs.addTask(other)
	refs.addEvent(comment, task, now.Add(-time.Hour))
	refs.addEvent(otherComment, other, now.Add(-time.Hour))
	refs.addEvent(futureComment, task, now.Add(time.Hour))

	mk := func(taskID TaskID, p Payload) Event {
		return Event{ID: NewEventID(), Author: author, At: now, Task: taskID, Payload: p}
	}

	tests := []struct {
		name     string
		ev       Event
		wantKind RejectKind // empty means valid
	}{
		{
			name: "valid title",
			ev:   mk(task, SetTitle{Title: "ok"}),
		},
		{
			name:     "null byte in title",
			ev:       mk(task, SetTitle{Title: "a\x00b"}),
			wantKind: RejectInvalidPayload,
		},
		{
			name:     "oversized comment",
			ev:       mk(task, AddComment{Text: strings.Repeat("x", maxTextLen+1)}),
			wantKind: RejectInvalidPayload,
		},
		{
			name:     "unknown task",
			ev:       mk(NewTaskID(), SetDone{Done: true}),
			wantKind: RejectDanglingReference,
		},
		{
			name: "edit existing comment",
			ev:   mk(task, EditComment{Comment: comment, Text: "fix"}),
		},
		{
			name:     "edit unknown comment",
			ev:       mk(task, EditComment{Comment: NewEventID(), Text: "fix"}),
			wantKind: RejectDanglingReference,
		},
		{
			name:     "edit comment from another task",
			ev:       mk(task, EditComment{Comment: otherComment, Text: "fix"}),
			wantKind: RejectDanglingReference,
		},
		{
			name:     "reference newer than event",
			ev:       mk(task, SetEventRead{Event: futureComment, Read: true}),
			wantKind: RejectStaleSubmission,
		},
		{
			name: "valid dependency",
			ev:   mk(task, AddDependency{DependsOn: other}),
		},
		{
			name:     "self dependency",
			ev:       mk(task, AddDependency{DependsOn: task}),
			wantKind: RejectInvalidPayload,
		},
		{
			name:     "dependency on unknown task",
			ev:       mk(task, AddDependency{DependsOn: NewTaskID()}),
			wantKind: RejectDanglingReference,
		},
		{
			name:     "missing payload",
			ev:       Event{ID: NewEventID(), Author: author, At: now, Task: task},
			wantKind: RejectInvalidPayload,
		},
		{
			name:     "zero timestamp",
			ev:       Event{ID: NewEventID(), Author: author, Task: task, Payload: SetDone{}},
			wantKind: RejectInvalidPayload,
		},
		{
			name:     "malformed event id",
			ev:       Event{ID: "not-a-uuid", Author: author, At: now, Task: task, Payload: SetDone{}},
			wantKind: RejectInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.ev, refs)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			if !IsKind(err, tt.wantKind) {
				t.Fatalf("expected %s, got %v", tt.wantKind, err)
			}
		})
	}
}

func TestEventOrdering(t *testing.T) {
	t1 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	a := Event{ID: "aaaaaaaa-0000-0000-0000-000000000000", At: t1}
	b := Event{ID: "bbbbbbbb-0000-0000-0000-000000000000", At: t1}
	c := Event{ID: "00000000-0000-0000-0000-000000000000", At: t2}

	if !a.Before(b) {
		t.Error("same timestamp must tie-break by event id")
	}
	if !b.Before(c) {
		t.Error("earlier timestamp must win regardless of id")
	}

	events := []Event{c, b, a}
	Sort(events)
	if events[0].ID != a.ID || events[1].ID != b.ID || events[2].ID != c.ID {
		t.Errorf("sort order wrong: %v", events)
	}
}
