package project

import (
	"math"
	"sort"
	"time"

	"github.com/Ekleog/risuto/internal/event"
)

// OrderKind selects how a task list is sorted for display.
type OrderKind string

const (
	// OrderCustom sorts by the per-search manual priorities of one saved
	// search. Tasks without a stored priority float to the top.
	OrderCustom OrderKind = "custom"
	// OrderTag sorts by one tag's per-task priority, bucketed into
	// active, done, backlog, then tasks not carrying the tag at all.
	OrderTag          OrderKind = "tag"
	OrderCreationDate OrderKind = "creation_date"
	OrderLastEvent    OrderKind = "last_event"
	OrderScheduledFor OrderKind = "scheduled_for"
	OrderBlockedUntil OrderKind = "blocked_until"
)

// Order is a complete sort specification.
type Order struct {
	Kind   OrderKind      `json:"kind"`
	Desc   bool           `json:"desc,omitempty"`
	Search event.SearchID `json:"search,omitempty"`
	Tag    event.TagID    `json:"tag,omitempty"`
}

// Sort orders tasks in place. All modes fall back to creation date and then
// task id, so the result is deterministic.
func (o Order) Sort(tasks []*TaskState) {
	switch o.Kind {
	case OrderCustom:
		sort.SliceStable(tasks, func(i, j int) bool {
			a, b := tasks[i], tasks[j]
			if a.Done != b.Done {
				return !a.Done
			}
			ap, bp := orderPriority(a, o.Search), orderPriority(b, o.Search)
			if ap != bp {
				return ap < bp
			}
			return laterThenID(a, b)
		})
	case OrderTag:
		sort.SliceStable(tasks, func(i, j int) bool {
			a, b := tasks[i], tasks[j]
			ac, ap := tagKey(a, o.Tag)
			bc, bp := tagKey(b, o.Tag)
			if ac != bc {
				return ac < bc
			}
			if ap != bp {
				return ap < bp
			}
			return laterThenID(a, b)
		})
	case OrderLastEvent:
		o.sortByTime(tasks, func(t *TaskState) (time.Time, bool) { return t.LastEventAt, true })
	case OrderScheduledFor:
		o.sortByTime(tasks, func(t *TaskState) (time.Time, bool) { return deref(t.ScheduledFor) })
	case OrderBlockedUntil:
		o.sortByTime(tasks, func(t *TaskState) (time.Time, bool) { return deref(t.BlockedUntil) })
	default: // OrderCreationDate
		o.sortByTime(tasks, func(t *TaskState) (time.Time, bool) { return t.CreatedAt, true })
	}
}

func orderPriority(t *TaskState, search event.SearchID) int64 {
	if prio, ok := t.Orders[search]; ok {
		return prio
	}
	return math.MinInt64
}

// tagKey buckets a task for tag ordering: active work first, then done, then
// backlog, then tasks not in the tag at all.
func tagKey(t *TaskState, tag event.TagID) (category int, priority int64) {
	entry, ok := t.Tags[tag]
	if !ok {
		return 3, 0
	}
	switch {
	case entry.Backlog:
		return 2, entry.Priority
	case t.Done:
		return 1, entry.Priority
	default:
		return 0, entry.Priority
	}
}

// laterThenID is the shared tie-break: newer creation first, then task id.
func laterThenID(a, b *TaskState) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (o Order) sortByTime(tasks []*TaskState, key func(*TaskState) (time.Time, bool)) {
	sort.SliceStable(tasks, func(i, j int) bool {
		at, aok := key(tasks[i])
		bt, bok := key(tasks[j])
		var less bool
		switch {
		case aok != bok:
			// Unset sorts before any set time.
			less = !aok
		case !at.Equal(bt):
			less = at.Before(bt)
		default:
			return tasks[i].ID < tasks[j].ID
		}
		if o.Desc {
			return !less
		}
		return less
	})
}

func deref(t *time.Time) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	return *t, true
}
