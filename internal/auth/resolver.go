package auth

import (
	"github.com/Ekleog/risuto/internal/event"
)

// TaskView is the slice of projected task state the resolver needs: who owns
// the task and which tags are currently on it.
type TaskView interface {
	TaskOwner() event.UserID
	CurrentTags() []event.TagID
}

// TagOwnerFunc resolves a tag to its owner. ok=false means the tag is
// unknown.
type TagOwnerFunc func(tag event.TagID) (owner event.UserID, ok bool)

// Capabilities computes the flags user currently holds on the task.
//
// The task owner holds every flag. Otherwise the result is the OR-combination
// over every tag currently on the task of the explicit (tag, user) grant row
// plus the implicit all-flags grant of the tag's owner.
func Capabilities(user event.UserID, task TaskView, tagOwner TagOwnerFunc, grants *Grants) Caps {
	if task.TaskOwner() == user {
		return All()
	}

	caps := None()
	for _, tag := range task.CurrentTags() {
		if owner, ok := tagOwner(tag); ok && owner == user {
			caps = caps.Or(All())
			continue
		}
		if explicit, ok := grants.For(tag, user); ok {
			caps = caps.Or(explicit)
		}
	}
	return caps
}

// CanRead reports whether user may observe the task at all: task ownership,
// ownership of any current tag, or any explicit grant row on a current tag
// (even an all-false one marks the user as a collaborator).
func CanRead(user event.UserID, task TaskView, tagOwner TagOwnerFunc, grants *Grants) bool {
	if task.TaskOwner() == user {
		return true
	}
	for _, tag := range task.CurrentTags() {
		if owner, ok := tagOwner(tag); ok && owner == user {
			return true
		}
		if _, ok := grants.For(tag, user); ok {
			return true
		}
	}
	return false
}

// Required returns the capability flag an event variant demands.
//
// hasTag reports whether a tag is currently on the target task, and
// isFirstComment whether a comment id is the task's oldest top-level comment.
// Both are evaluated against committed state at commit time.
//
// Attaching a tag not yet on the task requires relabel rights, not merely
// triage or comment rights; re-adding a tag already present only changes
// priority/backlog and so needs triage. Editing the task's first comment is
// an edit of the task description and requires edit rights; editing any other
// comment requires comment rights.
func Required(p event.Payload, hasTag func(event.TagID) bool, isFirstComment func(event.EventID) bool) Flag {
	switch p := p.(type) {
	case event.SetTitle:
		return FlagEdit
	case event.SetDone, event.SetBlockedUntil, event.SetScheduledFor:
		return FlagTriage
	case event.SetArchived:
		return FlagArchive
	case event.AddTag:
		if hasTag(p.Tag) {
			return FlagTriage
		}
		return FlagRelabelToAny
	case event.RemoveTag:
		return FlagRelabelToAny
	case event.AddComment:
		return FlagComment
	case event.EditComment:
		if isFirstComment(p.Comment) {
			return FlagEdit
		}
		return FlagComment
	case event.SetEventRead, event.SetOrder, event.AddDependency, event.RemoveDependency:
		return FlagNone
	default:
		// Unknown variants never pass validation; requiring every flag
		// keeps this fail-closed anyway.
		return FlagRelabelToAny
	}
}
