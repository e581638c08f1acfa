// Package server hosts the sync coordinator and its WebSocket transport.
//
// Every submission runs the same pipeline: structural validation, permission
// resolution against committed state as of the commit moment, dependency
// cycle check, canonical ordering, durable append, then broadcast. A single
// mutex serializes the whole pipeline, which makes commit ordering
// linearizable across the log.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Ekleog/risuto/internal/auth"
	"github.com/Ekleog/risuto/internal/event"
	"github.com/Ekleog/risuto/internal/project"
	"github.com/Ekleog/risuto/internal/query"
	"github.com/Ekleog/risuto/internal/store"
)

// Coordinator owns the committed log and the server-side projection.
type Coordinator struct {
	mu sync.Mutex

	st     *store.Store
	proj   *project.Projection
	grants *auth.Grants

	users     map[event.UserID]store.User
	tagsByID  map[event.TagID]store.Tag
	tagByName map[string]event.TagID

	// loc decides where days start for date searches. Defaults to the
	// process's local zone.
	loc *time.Location

	logger *log.Logger
}

// SetTimezone changes the zone used for date searches.
func (c *Coordinator) SetTimezone(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("bad timezone %q: %w", name, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loc = loc
	return nil
}

// NewCoordinator loads the reference tables from the store and replays the
// full log into a fresh projection.
func NewCoordinator(ctx context.Context, st *store.Store, logger *log.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = log.Default()
	}
	c := &Coordinator{
		st:        st,
		grants:    auth.NewGrants(),
		users:     make(map[event.UserID]store.User),
		tagsByID:  make(map[event.TagID]store.Tag),
		tagByName: make(map[string]event.TagID),
		logger:    logger,
	}

	users, err := st.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		c.users[u.ID] = u
	}
	tags, err := st.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		c.tagsByID[t.ID] = t
		c.tagByName[t.Name] = t.ID
	}
	grants, err := st.ListGrants(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		c.grants.Add(g)
	}

	metas, err := st.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	committed, err := st.EventsAfter(ctx, 0)
	if err != nil {
		return nil, err
	}
	events := make([]event.Event, 0, len(committed))
	for _, entry := range committed {
		events = append(events, entry.Event)
	}
	c.proj, err = project.Replay(metas, events)
	if err != nil {
		return nil, fmt.Errorf("replay log: %w", err)
	}

	c.logger.Printf("[coordinator] loaded %d users, %d tags, %d tasks, %d events",
		len(users), len(tags), len(metas), len(committed))
	return c, nil
}

func (c *Coordinator) tagOwner(tag event.TagID) (event.UserID, bool) {
	t, ok := c.tagsByID[tag]
	return t.Owner, ok
}

// Submit runs one event through the commit pipeline. On success it returns
// the committed entry and the users authorized to observe it; on failure the
// returned error carries a rejection kind. A resubmission of an id already in
// the log returns the original position without re-running the pipeline.
func (c *Coordinator) Submit(ctx context.Context, ev event.Event) (store.Committed, []event.UserID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Retried submissions commit exactly once.
	if task, ok := c.proj.Task(ev.Task); ok && task.Seen(ev.ID) {
		return c.resubmitLocked(ctx, ev)
	}

	// All checks run against committed state at this moment, not the state
	// the client composed the event against.
	if err := event.Validate(ev, c.proj); err != nil {
		return store.Committed{}, nil, err
	}
	task, ok := c.proj.Task(ev.Task)
	if !ok {
		return store.Committed{}, nil, event.Reject(event.RejectDanglingReference, "unknown task %s", ev.Task)
	}

	if !auth.CanRead(ev.Author, task, c.tagOwner, c.grants) {
		return store.Committed{}, nil, event.Reject(event.RejectPermissionDenied,
			"user %s cannot access task %s", ev.Author, ev.Task)
	}
	need := auth.Required(ev.Payload, task.HasTag, func(id event.EventID) bool {
		first, ok := task.FirstComment()
		return ok && first == id
	})
	caps := auth.Capabilities(ev.Author, task, c.tagOwner, c.grants)
	if !caps.Has(need) {
		return store.Committed{}, nil, event.Reject(event.RejectPermissionDenied,
			"user %s lacks %s on task %s", ev.Author, need, ev.Task)
	}

	if dep, ok := ev.Payload.(event.AddDependency); ok {
		if path, cycles := c.proj.Graph().WouldCycle(dep.DependsOn, ev.Task); cycles {
			return store.Committed{}, nil, event.Reject(event.RejectCycleDetected,
				"dependency on %s closes a cycle through %v", dep.DependsOn, path)
		}
	}

	pos, created, err := c.st.AppendEvent(ctx, ev)
	if err != nil {
		return store.Committed{}, nil, fmt.Errorf("append: %w", err)
	}
	if !created {
		// The id was already in the log under a task the projection had not
		// associated it with. Treat it as a retry of the stored event.
		return c.resubmitLocked(ctx, ev)
	}
	if err := c.proj.Apply(ev); err != nil {
		return store.Committed{}, nil, fmt.Errorf("apply: %w", err)
	}

	entry := store.Committed{Position: pos, Event: ev}
	// Visibility is computed after the fold so a tag attached by this very
	// event already admits its readers.
	return entry, c.readersOfLocked(ev.Task), nil
}

// resubmitLocked handles a submission whose id is already committed. The log
// is authoritative: the stored event is what gets acknowledged and broadcast,
// never the resubmitted copy, so a retry carrying a doctored payload cannot
// alter history. The retrier must be the original author and must still be
// able to read the task. Callers hold c.mu.
func (c *Coordinator) resubmitLocked(ctx context.Context, ev event.Event) (store.Committed, []event.UserID, error) {
	entry, err := c.st.EventByID(ctx, ev.ID)
	if err != nil {
		return store.Committed{}, nil, fmt.Errorf("load committed event: %w", err)
	}
	if entry.Event.Author != ev.Author {
		return store.Committed{}, nil, event.Reject(event.RejectPermissionDenied,
			"event %s was committed by another author", ev.ID)
	}
	task, ok := c.proj.Task(entry.Event.Task)
	if !ok || !auth.CanRead(ev.Author, task, c.tagOwner, c.grants) {
		return store.Committed{}, nil, event.Reject(event.RejectPermissionDenied,
			"user %s cannot access task %s", ev.Author, entry.Event.Task)
	}
	return entry, c.readersOfLocked(entry.Event.Task), nil
}

// readersOfLocked returns every user currently allowed to observe the task,
// sorted for determinism. Callers hold c.mu.
func (c *Coordinator) readersOfLocked(id event.TaskID) []event.UserID {
	task, ok := c.proj.Task(id)
	if !ok {
		return nil
	}
	var readers []event.UserID
	for userID := range c.users {
		if auth.CanRead(userID, task, c.tagOwner, c.grants) {
			readers = append(readers, userID)
		}
	}
	sort.Slice(readers, func(i, j int) bool { return readers[i] < readers[j] })
	return readers
}

// CanRead reports whether the user may currently observe the task.
func (c *Coordinator) CanRead(user event.UserID, id event.TaskID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.proj.Task(id)
	if !ok {
		return false
	}
	return auth.CanRead(user, task, c.tagOwner, c.grants)
}

// EventsSince returns the committed events after the given position that the
// user is authorized to read, in canonical order. Authorization follows each
// task's current state, so a user granted access mid-log receives the task's
// whole history on catch-up.
func (c *Coordinator) EventsSince(ctx context.Context, user event.UserID, since int64) ([]store.Committed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.st.EventsAfter(ctx, since)
	if err != nil {
		return nil, err
	}
	visible := make([]store.Committed, 0, len(all))
	for _, entry := range all {
		task, ok := c.proj.Task(entry.Event.Task)
		if !ok {
			continue
		}
		if auth.CanRead(user, task, c.tagOwner, c.grants) {
			visible = append(visible, entry)
		}
	}
	return visible, nil
}

// Snapshot is the full projected state visible to one user.
type Snapshot struct {
	Position int64                `json:"position"`
	Tasks    []*project.TaskState `json:"tasks"`
	Tags     []store.Tag          `json:"tags"`
	TakenAt  time.Time            `json:"taken_at"`
}

// SnapshotFor captures every task and tag the user may observe, along with
// the log position the snapshot reflects.
func (c *Coordinator) SnapshotFor(ctx context.Context, user event.UserID) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, err := c.st.LastPosition(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Position: pos, TakenAt: time.Now().UTC()}
	for _, task := range c.proj.Tasks() {
		if auth.CanRead(user, task, c.tagOwner, c.grants) {
			snap.Tasks = append(snap.Tasks, task)
		}
	}
	for _, tag := range c.tagsByID {
		if tag.Owner == user {
			snap.Tags = append(snap.Tags, tag)
			continue
		}
		if _, ok := c.grants.For(tag.ID, user); ok {
			snap.Tags = append(snap.Tags, tag)
		}
	}
	sort.Slice(snap.Tags, func(i, j int) bool { return snap.Tags[i].Name < snap.Tags[j].Name })
	return snap, nil
}

// CreateUser registers an account in the store and the in-memory tables.
func (c *Coordinator) CreateUser(ctx context.Context, name string) (store.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := store.User{ID: event.NewUserID(), Name: name}
	if err := c.st.CreateUser(ctx, u); err != nil {
		return store.User{}, err
	}
	c.users[u.ID] = u
	return u, nil
}

// UserByName resolves an account name.
func (c *Coordinator) UserByName(ctx context.Context, name string) (store.User, error) {
	return c.st.UserByName(ctx, name)
}

// CreateTag registers a tag owned by the user.
func (c *Coordinator) CreateTag(ctx context.Context, owner event.UserID, name string) (store.Tag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := store.Tag{ID: event.NewTagID(), Owner: owner, Name: name}
	if err := c.st.CreateTag(ctx, t); err != nil {
		return store.Tag{}, err
	}
	c.tagsByID[t.ID] = t
	c.tagByName[t.Name] = t.ID
	return t, nil
}

// Grant adds a permission row and widens the in-memory grant set.
func (c *Coordinator) Grant(ctx context.Context, g auth.Grant) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.st.SetGrant(ctx, g); err != nil {
		return err
	}
	c.grants.Add(g)
	return nil
}

// CreateTask persists a task creation record and registers it with the
// projection.
func (c *Coordinator) CreateTask(ctx context.Context, owner event.UserID, title string) (project.TaskMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta := project.TaskMeta{
		ID:        event.NewTaskID(),
		Owner:     owner,
		CreatedAt: time.Now().UTC(),
		Title:     title,
	}
	if err := c.st.CreateTask(ctx, meta); err != nil {
		return project.TaskMeta{}, err
	}
	c.proj.AddTask(meta)
	return meta, nil
}

// SaveSearch compiles and persists a saved search for the user. The search
// string is validated by compiling it; the stored form is the serialized
// predicate tree, so saved searches survive grammar changes.
func (c *Coordinator) SaveSearch(ctx context.Context, owner event.UserID, name, search string, order project.Order) (store.Search, error) {
	pred, err := query.Compile(search, c.TagLookup())
	if err != nil {
		return store.Search{}, event.Reject(event.RejectInvalidPayload, "bad query: %v", err)
	}
	tree, err := query.Marshal(pred)
	if err != nil {
		return store.Search{}, err
	}
	spec, err := json.Marshal(order)
	if err != nil {
		return store.Search{}, err
	}

	row := store.Search{
		ID:        event.NewSearchID(),
		Owner:     owner,
		Name:      name,
		Predicate: string(tree),
		Order:     string(spec),
	}
	if err := c.st.SaveSearch(ctx, row); err != nil {
		return store.Search{}, err
	}
	return row, nil
}

// SavedSearches lists the user's saved searches.
func (c *Coordinator) SavedSearches(ctx context.Context, owner event.UserID) ([]store.Search, error) {
	return c.st.SearchesFor(ctx, owner)
}

// TagLookup resolves tag names for the query compiler.
func (c *Coordinator) TagLookup() query.TagLookup {
	return func(name string) (event.TagID, bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		id, ok := c.tagByName[name]
		return id, ok
	}
}

// Search compiles the search string and returns the visible matching tasks,
// sorted by the given order.
func (c *Coordinator) Search(ctx context.Context, user event.UserID, search string, order project.Order, loc *time.Location) ([]*project.TaskState, error) {
	pred, err := query.Compile(search, c.TagLookup())
	if err != nil {
		return nil, event.Reject(event.RejectInvalidPayload, "bad query: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if loc == nil {
		loc = c.loc
	}
	if loc == nil {
		loc = time.Local
	}

	now := time.Now()
	var matched []*project.TaskState
	for _, task := range c.proj.Tasks() {
		if !auth.CanRead(user, task, c.tagOwner, c.grants) {
			continue
		}
		ok, err := query.Eval(pred, task, query.SimpleIndex{}, now, loc)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, task)
		}
	}
	order.Sort(matched)
	return matched, nil
}
