// Package client maintains a local replica of the projection, fed by the
// server's committed stream, with optimistic application of local events that
// have not been acknowledged yet.
//
// Rollback is rebuild: when the server rejects a pending event (or the user
// drops one), the replica is reprojected from the committed history plus the
// surviving pending events. Because the fold is the same code the server
// runs, an undisturbed replica converges to the server's state exactly.
package client

import (
	"fmt"
	"sync"

	"github.com/Ekleog/risuto/internal/event"
	"github.com/Ekleog/risuto/internal/project"
	"github.com/Ekleog/risuto/internal/store"
)

// Client is the local replica. Safe for concurrent use.
type Client struct {
	mu sync.Mutex

	metas     map[event.TaskID]project.TaskMeta
	committed []event.Event
	byID      map[event.EventID]int64
	lastPos   int64

	// pending holds locally submitted events awaiting acknowledgment, in
	// submission order.
	pending []event.Event

	proj *project.Projection
}

// New returns an empty replica.
func New() *Client {
	return &Client{
		metas: make(map[event.TaskID]project.TaskMeta),
		byID:  make(map[event.EventID]int64),
		proj:  project.NewProjection(),
	}
}

// AddTask registers a task creation record, typically from a snapshot.
func (c *Client) AddTask(meta project.TaskMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metas[meta.ID] = meta
	c.proj.AddTask(meta)
}

// SubmitLocal applies an event optimistically and queues it for the server.
// The effect shows in the local projection immediately.
func (c *Client) SubmitLocal(ev event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.metas[ev.Task]; !ok {
		return event.Reject(event.RejectDanglingReference, "unknown task %s", ev.Task)
	}
	c.pending = append(c.pending, ev)
	return c.proj.Apply(ev)
}

// Pending returns the queued events awaiting acknowledgment, oldest first.
func (c *Client) Pending() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Event, len(c.pending))
	copy(out, c.pending)
	return out
}

// LastPosition returns the highest committed position applied so far; it is
// what a reconnect passes as the resume point.
func (c *Client) LastPosition() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPos
}

// ApplyCommitted folds one committed event into the replica. Redelivered
// events only advance the position. Acknowledgment of a pending local event
// removes it from the queue; its effects are already in the projection.
func (c *Client) ApplyCommitted(entry store.Committed) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.Position > c.lastPos {
		c.lastPos = entry.Position
	}
	if _, ok := c.byID[entry.Event.ID]; ok {
		return nil
	}
	c.committed = append(c.committed, entry.Event)
	c.byID[entry.Event.ID] = entry.Position
	c.dropPendingLocked(entry.Event.ID)
	return c.proj.Apply(entry.Event)
}

// Drop cancels a pending event that the server has not acknowledged, rolling
// its optimistic effects back. Dropping an id already committed (or never
// queued) returns an error; committed events are permanent.
func (c *Client) Drop(id event.EventID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[id]; ok {
		return fmt.Errorf("event %s is already committed", id)
	}
	if !c.dropPendingLocked(id) {
		return fmt.Errorf("event %s is not pending", id)
	}
	return c.rebuildLocked()
}

// Reject handles a server rejection of a pending event: the event is removed
// and its optimistic effects rolled back.
func (c *Client) Reject(id event.EventID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dropPendingLocked(id) {
		// The rejection may concern an event we already dropped.
		return nil
	}
	return c.rebuildLocked()
}

func (c *Client) dropPendingLocked(id event.EventID) bool {
	for i, ev := range c.pending {
		if ev.ID == id {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

// rebuildLocked reprojects from committed history plus surviving pending
// events.
func (c *Client) rebuildLocked() error {
	metas := make([]project.TaskMeta, 0, len(c.metas))
	for _, meta := range c.metas {
		metas = append(metas, meta)
	}
	events := make([]event.Event, 0, len(c.committed)+len(c.pending))
	events = append(events, c.committed...)
	events = append(events, c.pending...)

	proj, err := project.Replay(metas, events)
	if err != nil {
		return fmt.Errorf("rebuild replica: %w", err)
	}
	c.proj = proj
	return nil
}

// Task returns the locally projected state of one task.
func (c *Client) Task(id event.TaskID) (*project.TaskState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proj.Task(id)
}

// Tasks returns every locally projected task, sorted by id.
func (c *Client) Tasks() []*project.TaskState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proj.Tasks()
}
