package query

import (
	"fmt"
	"time"

	"github.com/Ekleog/risuto/internal/project"
)

// TextIndex answers the free-text leaves of a predicate. Implementations may
// be a real document index or the in-memory fallback below.
type TextIndex interface {
	MatchPhrase(task *project.TaskState, phrase string) bool
}

// Eval runs a predicate tree against one projected task. now anchors the
// relative date references and loc decides where days start.
func Eval(p Pred, task *project.TaskState, idx TextIndex, now time.Time, loc *time.Location) (bool, error) {
	switch p := p.(type) {
	case All:
		for _, child := range p.Preds {
			ok, err := Eval(child, task, idx, now, loc)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Any:
		for _, child := range p.Preds {
			ok, err := Eval(child, task, idx, now, loc)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	case Not:
		ok, err := Eval(p.Pred, task, idx, now, loc)
		return !ok, err
	case Archived:
		return task.Archived == p.Is, nil
	case Done:
		return task.Done == p.Is, nil
	case Untagged:
		return (len(task.Tags) == 0) == p.Is, nil
	case Today:
		return matchesToday(task, now, loc) == p.Is, nil
	case Tag:
		return task.HasTag(p.ID), nil
	case ScheduledAfter:
		return dateCmp(task.ScheduledFor, p.When, now, loc, false)
	case ScheduledBefore:
		return dateCmp(task.ScheduledFor, p.When, now, loc, true)
	case BlockedAfter:
		return dateCmp(task.BlockedUntil, p.When, now, loc, false)
	case BlockedBefore:
		return dateCmp(task.BlockedUntil, p.When, now, loc, true)
	case Phrase:
		return idx.MatchPhrase(task, p.Text), nil
	default:
		return false, fmt.Errorf("eval: unknown predicate %T", p)
	}
}

// dateCmp compares a task date against a resolved day boundary, inclusively
// on both sides. A task with the field unset never matches.
func dateCmp(t *time.Time, when DateRef, now time.Time, loc *time.Location, before bool) (bool, error) {
	if t == nil {
		return false, nil
	}
	bound, err := when.Resolve(now, loc)
	if err != nil {
		return false, err
	}
	if before {
		return !t.After(bound), nil
	}
	return !t.Before(bound), nil
}

// matchesToday reports whether the task is scheduled for or blocked until
// some point during the current day.
func matchesToday(task *project.TaskState, now time.Time, loc *time.Location) bool {
	start, _ := DateRef{}.Resolve(now, loc)
	end := start.AddDate(0, 0, 1)
	within := func(t *time.Time) bool {
		return t != nil && !t.Before(start) && t.Before(end)
	}
	return within(task.ScheduledFor) || within(task.BlockedUntil)
}
