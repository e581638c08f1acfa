// Package project folds committed events into current task state.
//
// Application is incremental: each event updates the affected task in O(1)
// (amortized) without replaying history. Convergence is guaranteed by
// last-write-wins semantics per field, with ties broken by event id, so the
// fold reaches the same state regardless of application order. Replaying the
// full log through the same fold yields an identical projection.
package project

import (
	"strings"
	"time"

	"github.com/Ekleog/risuto/internal/event"
)

// stamp orders two writes to the same field: later timestamp wins, and on
// equal timestamps the larger event id wins.
type stamp struct {
	at time.Time
	id event.EventID
}

func stampOf(ev event.Event) stamp {
	return stamp{at: ev.At, id: ev.ID}
}

func (s stamp) before(o stamp) bool {
	if !s.at.Equal(o.at) {
		return s.at.Before(o.at)
	}
	return s.id < o.id
}

// TagEntry is the per-task state of one attached tag.
type TagEntry struct {
	Priority int64 `json:"priority"`
	Backlog  bool  `json:"backlog"`
}

type tagMark struct {
	stamp  stamp
	active bool
	entry  TagEntry
}

type depMark struct {
	stamp  stamp
	active bool
}

// TaskState is the projected state of a single task. The exported fields are
// what callers (queries, snapshots, ordering) observe; the unexported stamps
// carry the bookkeeping that makes event application commutative.
type TaskState struct {
	ID           event.TaskID `json:"id"`
	Owner        event.UserID `json:"owner"`
	CreatedAt    time.Time    `json:"created_at"`
	InitialTitle string       `json:"initial_title"`

	Title        string                    `json:"title"`
	Done         bool                      `json:"done"`
	Archived     bool                      `json:"archived"`
	BlockedUntil *time.Time                `json:"blocked_until,omitempty"`
	ScheduledFor *time.Time                `json:"scheduled_for,omitempty"`
	Tags         map[event.TagID]TagEntry  `json:"tags"`
	Comments     []*Comment                `json:"comments,omitempty"`
	Orders       map[event.SearchID]int64  `json:"orders,omitempty"`
	DependsOn    map[event.TaskID]struct{} `json:"depends_on,omitempty"`
	LastEventAt  time.Time                 `json:"last_event_at"`

	titleStamp     stamp
	doneStamp      stamp
	archivedStamp  stamp
	blockedStamp   stamp
	scheduledStamp stamp
	tagStamps      map[event.TagID]tagMark
	orderStamps    map[event.SearchID]stamp
	depStamps      map[event.TaskID]depMark

	// byComment indexes every comment in the tree by its creation event id.
	byComment map[event.EventID]*Comment
	// Events referencing a comment that has not been applied yet are
	// stashed here, keyed by the missing comment id, and drained when the
	// AddComment arrives. This keeps application order-independent even
	// though the validator ensures references are causally older.
	pendingEdits    map[event.EventID][]event.Event
	pendingReads    map[event.EventID][]event.Event
	pendingChildren map[event.EventID][]*Comment

	applied map[event.EventID]struct{}
}

// NewTaskState creates the projected state of a freshly created task.
func NewTaskState(id event.TaskID, owner event.UserID, createdAt time.Time, title string) *TaskState {
	return &TaskState{
		ID:           id,
		Owner:        owner,
		CreatedAt:    createdAt,
		InitialTitle: title,
		Title:        title,
		LastEventAt:  createdAt,
		Tags:         make(map[event.TagID]TagEntry),
		Orders:       make(map[event.SearchID]int64),
		DependsOn:    make(map[event.TaskID]struct{}),

		tagStamps:       make(map[event.TagID]tagMark),
		orderStamps:     make(map[event.SearchID]stamp),
		depStamps:       make(map[event.TaskID]depMark),
		byComment:       make(map[event.EventID]*Comment),
		pendingEdits:    make(map[event.EventID][]event.Event),
		pendingReads:    make(map[event.EventID][]event.Event),
		pendingChildren: make(map[event.EventID][]*Comment),
		applied:         make(map[event.EventID]struct{}),
	}
}

// TaskOwner implements auth.TaskView.
func (t *TaskState) TaskOwner() event.UserID { return t.Owner }

// CurrentTags implements auth.TaskView.
func (t *TaskState) CurrentTags() []event.TagID {
	tags := make([]event.TagID, 0, len(t.Tags))
	for tag := range t.Tags {
		tags = append(tags, tag)
	}
	return tags
}

// HasTag reports whether the tag is currently attached.
func (t *TaskState) HasTag(tag event.TagID) bool {
	_, ok := t.Tags[tag]
	return ok
}

// FirstComment returns the id of the oldest top-level comment, which doubles
// as the task description.
func (t *TaskState) FirstComment() (event.EventID, bool) {
	if len(t.Comments) == 0 {
		return "", false
	}
	return t.Comments[0].ID, true
}

// CommentByID looks a comment up by its creation event id.
func (t *TaskState) CommentByID(id event.EventID) (*Comment, bool) {
	c, ok := t.byComment[id]
	return c, ok
}

// Seen reports whether the event has already been applied to this task.
func (t *TaskState) Seen(id event.EventID) bool {
	_, ok := t.applied[id]
	return ok
}

// Apply folds one committed event into the task state. Re-applying an event
// already seen is a no-op, so redelivery is safe.
func (t *TaskState) Apply(ev event.Event) {
	if t.Seen(ev.ID) {
		return
	}
	t.applied[ev.ID] = struct{}{}
	if ev.At.After(t.LastEventAt) {
		t.LastEventAt = ev.At
	}

	s := stampOf(ev)
	switch p := ev.Payload.(type) {
	case event.SetTitle:
		if t.titleStamp.before(s) {
			t.Title = p.Title
			t.titleStamp = s
		}
	case event.SetDone:
		if t.doneStamp.before(s) {
			t.Done = p.Done
			t.doneStamp = s
		}
	case event.SetArchived:
		if t.archivedStamp.before(s) {
			t.Archived = p.Archived
			t.archivedStamp = s
		}
	case event.SetBlockedUntil:
		if t.blockedStamp.before(s) {
			t.BlockedUntil = p.Until
			t.blockedStamp = s
		}
	case event.SetScheduledFor:
		if t.scheduledStamp.before(s) {
			t.ScheduledFor = p.For
			t.scheduledStamp = s
		}
	case event.AddTag:
		t.markTag(p.Tag, tagMark{stamp: s, active: true, entry: TagEntry{Priority: p.Priority, Backlog: p.Backlog}})
	case event.RemoveTag:
		t.markTag(p.Tag, tagMark{stamp: s, active: false})
	case event.SetOrder:
		if prev, ok := t.orderStamps[p.Search]; !ok || prev.before(s) {
			t.Orders[p.Search] = p.Priority
			t.orderStamps[p.Search] = s
		}
	case event.AddDependency:
		t.markDep(p.DependsOn, depMark{stamp: s, active: true})
	case event.RemoveDependency:
		t.markDep(p.DependsOn, depMark{stamp: s, active: false})
	case event.AddComment:
		t.addComment(ev, p)
	case event.EditComment:
		if c, ok := t.byComment[p.Comment]; ok {
			c.edit(ev, p.Text)
		} else {
			t.pendingEdits[p.Comment] = append(t.pendingEdits[p.Comment], ev)
		}
	case event.SetEventRead:
		if c, ok := t.byComment[p.Event]; ok {
			c.setRead(ev, p.Read)
		} else {
			// The target may be a non-comment event; the stash is
			// simply never drained in that case.
			t.pendingReads[p.Event] = append(t.pendingReads[p.Event], ev)
		}
	}
}

func (t *TaskState) markTag(tag event.TagID, mark tagMark) {
	if prev, ok := t.tagStamps[tag]; ok && !prev.stamp.before(mark.stamp) {
		return
	}
	t.tagStamps[tag] = mark
	if mark.active {
		t.Tags[tag] = mark.entry
	} else {
		delete(t.Tags, tag)
	}
}

func (t *TaskState) markDep(on event.TaskID, mark depMark) {
	if prev, ok := t.depStamps[on]; ok && !prev.stamp.before(mark.stamp) {
		return
	}
	t.depStamps[on] = mark
	if mark.active {
		t.DependsOn[on] = struct{}{}
	} else {
		delete(t.DependsOn, on)
	}
}

func (t *TaskState) addComment(ev event.Event, p event.AddComment) {
	c := newComment(ev, p.Text)
	t.byComment[ev.ID] = c

	// Drain stashed events that referenced this comment before it existed.
	for _, edit := range t.pendingEdits[ev.ID] {
		c.edit(edit, edit.Payload.(event.EditComment).Text)
	}
	delete(t.pendingEdits, ev.ID)
	for _, read := range t.pendingReads[ev.ID] {
		c.setRead(read, read.Payload.(event.SetEventRead).Read)
	}
	delete(t.pendingReads, ev.ID)
	for _, child := range t.pendingChildren[ev.ID] {
		c.Children = insertComment(c.Children, child)
	}
	delete(t.pendingChildren, ev.ID)

	if p.Parent == nil {
		t.Comments = insertComment(t.Comments, c)
		return
	}
	if parent, ok := t.byComment[*p.Parent]; ok {
		parent.Children = insertComment(parent.Children, c)
	} else {
		t.pendingChildren[*p.Parent] = append(t.pendingChildren[*p.Parent], c)
	}
}

// FullText concatenates the title and every comment text, lowercased, for
// phrase matching.
func (t *TaskState) FullText() string {
	var b strings.Builder
	b.WriteString(t.Title)
	walkComments(t.Comments, func(c *Comment) {
		b.WriteByte('\n')
		b.WriteString(c.Text)
	})
	return strings.ToLower(b.String())
}
