package project

import (
	"fmt"
	"sort"
	"time"

	"github.com/Ekleog/risuto/internal/event"
)

// TaskMeta is the immutable creation record of a task.
type TaskMeta struct {
	ID        event.TaskID `json:"id"`
	Owner     event.UserID `json:"owner"`
	CreatedAt time.Time    `json:"created_at"`
	Title     string       `json:"title"`
}

type eventInfo struct {
	task event.TaskID
	at   time.Time
}

// Projection is the in-memory fold of the committed log: every task's current
// state plus the cross-task dependency graph. It is not safe for concurrent
// use; the sync coordinator serializes access under its commit lock.
type Projection struct {
	tasks  map[event.TaskID]*TaskState
	events map[event.EventID]eventInfo
	graph  *Graph
}

// NewProjection returns an empty projection.
func NewProjection() *Projection {
	return &Projection{
		tasks:  make(map[event.TaskID]*TaskState),
		events: make(map[event.EventID]eventInfo),
		graph:  NewGraph(),
	}
}

// AddTask registers a task's creation record. Re-adding a known task is a
// no-op so snapshots can be folded over an existing projection.
func (p *Projection) AddTask(meta TaskMeta) *TaskState {
	if t, ok := p.tasks[meta.ID]; ok {
		return t
	}
	t := NewTaskState(meta.ID, meta.Owner, meta.CreatedAt, meta.Title)
	p.tasks[meta.ID] = t
	return t
}

// Task returns the projected state of one task.
func (p *Projection) Task(id event.TaskID) (*TaskState, bool) {
	t, ok := p.tasks[id]
	return t, ok
}

// Tasks returns every projected task, sorted by id for deterministic output.
func (p *Projection) Tasks() []*TaskState {
	out := make([]*TaskState, 0, len(p.tasks))
	for _, t := range p.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Graph exposes the active dependency edge set.
func (p *Projection) Graph() *Graph {
	return p.graph
}

// TaskExists implements event.Resolver.
func (p *Projection) TaskExists(id event.TaskID) bool {
	_, ok := p.tasks[id]
	return ok
}

// EventInfo implements event.Resolver.
func (p *Projection) EventInfo(id event.EventID) (event.TaskID, time.Time, bool) {
	info, ok := p.events[id]
	return info.task, info.at, ok
}

// Apply folds one committed event into the projection. The target task must
// be known; events for unknown tasks are rejected at commit time, so hitting
// one here means the log and the task table disagree.
func (p *Projection) Apply(ev event.Event) error {
	t, ok := p.tasks[ev.Task]
	if !ok {
		return fmt.Errorf("apply event %s: unknown task %s", ev.ID, ev.Task)
	}
	if t.Seen(ev.ID) {
		return nil
	}

	t.Apply(ev)
	p.events[ev.ID] = eventInfo{task: ev.Task, at: ev.At}

	// Keep the edge set in sync with the task's post-fold dependency view,
	// so edge flips respect the same last-write-wins decision.
	switch dep := ev.Payload.(type) {
	case event.AddDependency:
		p.syncEdge(dep.DependsOn, ev.Task)
	case event.RemoveDependency:
		p.syncEdge(dep.DependsOn, ev.Task)
	}
	return nil
}

func (p *Projection) syncEdge(blocker, blocked event.TaskID) {
	t := p.tasks[blocked]
	if _, active := t.DependsOn[blocker]; active {
		p.graph.Add(blocker, blocked)
	} else {
		p.graph.Remove(blocker, blocked)
	}
}

// Replay builds a projection from scratch: creation records first, then the
// whole log in canonical (timestamp, id) order. Because application is
// commutative the result matches any incrementally built projection over the
// same committed set.
func Replay(metas []TaskMeta, events []event.Event) (*Projection, error) {
	p := NewProjection()
	for _, meta := range metas {
		p.AddTask(meta)
	}
	ordered := make([]event.Event, len(events))
	copy(ordered, events)
	event.Sort(ordered)
	for _, ev := range ordered {
		if err := p.Apply(ev); err != nil {
			return nil, err
		}
	}
	return p, nil
}
