package client

import (
	"testing"
	"time"

	"github.com/Ekleog/risuto/internal/event"
	"github.com/Ekleog/risuto/internal/project"
	"github.com/Ekleog/risuto/internal/store"
)

func newReplica(t *testing.T) (*Client, project.TaskMeta) {
	t.Helper()
	c := New()
	meta := project.TaskMeta{
		ID:        event.NewTaskID(),
		Owner:     "alice",
		CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Title:     "initial",
	}
	c.AddTask(meta)
	return c, meta
}

func TestOptimisticThenAcknowledged(t *testing.T) {
	c, meta := newReplica(t)

	ev := event.New("alice", meta.ID, event.SetTitle{Title: "optimistic"})
	if err := c.SubmitLocal(ev); err != nil {
		t.Fatalf("SubmitLocal: %v", err)
	}

	task, _ := c.Task(meta.ID)
	if task.Title != "optimistic" {
		t.Fatal("optimistic effect not visible")
	}
	if len(c.Pending()) != 1 {
		t.Fatalf("pending = %d, want 1", len(c.Pending()))
	}

	// The server acknowledges: queue drains, state unchanged.
	if err := c.ApplyCommitted(store.Committed{Position: 1, Event: ev}); err != nil {
		t.Fatalf("ApplyCommitted: %v", err)
	}
	if len(c.Pending()) != 0 {
		t.Error("acknowledged event still pending")
	}
	task, _ = c.Task(meta.ID)
	if task.Title != "optimistic" {
		t.Error("state changed on acknowledgment")
	}
	if c.LastPosition() != 1 {
		t.Errorf("LastPosition = %d, want 1", c.LastPosition())
	}
}

func TestRejectionRollsBack(t *testing.T) {
	c, meta := newReplica(t)

	committed := event.New("alice", meta.ID, event.SetTitle{Title: "server title"})
	if err := c.ApplyCommitted(store.Committed{Position: 1, Event: committed}); err != nil {
		t.Fatalf("ApplyCommitted: %v", err)
	}

	rejected := event.New("alice", meta.ID, event.SetTitle{Title: "doomed"})
	if err := c.SubmitLocal(rejected); err != nil {
		t.Fatalf("SubmitLocal: %v", err)
	}
	if task, _ := c.Task(meta.ID); task.Title != "doomed" {
		t.Fatal("optimistic effect missing")
	}

	if err := c.Reject(rejected.ID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	task, _ := c.Task(meta.ID)
	if task.Title != "server title" {
		t.Errorf("rollback left title %q, want %q", task.Title, "server title")
	}
	if len(c.Pending()) != 0 {
		t.Error("rejected event still pending")
	}

	// Rejections for unknown ids are quietly ignored.
	if err := c.Reject("gone"); err != nil {
		t.Errorf("Reject(unknown) = %v", err)
	}
}

func TestRollbackKeepsOtherPending(t *testing.T) {
	c, meta := newReplica(t)

	doomed := event.New("alice", meta.ID, event.SetDone{Done: true})
	kept := event.New("alice", meta.ID, event.SetTitle{Title: "kept"})
	if err := c.SubmitLocal(doomed); err != nil {
		t.Fatal(err)
	}
	if err := c.SubmitLocal(kept); err != nil {
		t.Fatal(err)
	}

	if err := c.Reject(doomed.ID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	task, _ := c.Task(meta.ID)
	if task.Done {
		t.Error("rejected effect survived rollback")
	}
	if task.Title != "kept" {
		t.Error("surviving pending event lost its effect")
	}
	if pending := c.Pending(); len(pending) != 1 || pending[0].ID != kept.ID {
		t.Errorf("pending = %+v", pending)
	}
}

func TestDrop(t *testing.T) {
	c, meta := newReplica(t)

	ev := event.New("alice", meta.ID, event.SetDone{Done: true})
	if err := c.SubmitLocal(ev); err != nil {
		t.Fatal(err)
	}
	if err := c.Drop(ev.ID); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if task, _ := c.Task(meta.ID); task.Done {
		t.Error("dropped effect survived")
	}

	// Once committed, an event can no longer be dropped.
	permanent := event.New("alice", meta.ID, event.SetDone{Done: true})
	if err := c.ApplyCommitted(store.Committed{Position: 1, Event: permanent}); err != nil {
		t.Fatal(err)
	}
	if err := c.Drop(permanent.ID); err == nil {
		t.Error("Drop of a committed event succeeded")
	}
}

func TestRedeliveryIsNoOp(t *testing.T) {
	c, meta := newReplica(t)

	on := event.New("alice", meta.ID, event.SetDone{Done: true})
	off := event.New("alice", meta.ID, event.SetDone{Done: false})
	if err := c.ApplyCommitted(store.Committed{Position: 1, Event: on}); err != nil {
		t.Fatal(err)
	}
	if err := c.ApplyCommitted(store.Committed{Position: 2, Event: off}); err != nil {
		t.Fatal(err)
	}

	// At-least-once delivery: the duplicate must not resurrect old state.
	if err := c.ApplyCommitted(store.Committed{Position: 1, Event: on}); err != nil {
		t.Fatal(err)
	}
	task, _ := c.Task(meta.ID)
	if task.Done {
		t.Error("redelivered event changed state")
	}
	if c.LastPosition() != 2 {
		t.Errorf("LastPosition = %d, want 2", c.LastPosition())
	}
}

func TestSubmitLocalUnknownTask(t *testing.T) {
	c := New()
	ev := event.New("alice", event.NewTaskID(), event.SetDone{Done: true})
	if err := c.SubmitLocal(ev); !event.IsKind(err, event.RejectDanglingReference) {
		t.Errorf("SubmitLocal = %v, want dangling-reference rejection", err)
	}
}
