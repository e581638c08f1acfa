package project

import (
	"sort"
	"time"

	"github.com/Ekleog/risuto/internal/event"
)

// Comment is one node of a task's projected comment tree. Its identity is the
// id of the AddComment event that created it; its text is the text of the
// latest AddComment/EditComment event sharing that identity.
type Comment struct {
	ID        event.EventID         `json:"id"`
	Author    event.UserID          `json:"author"`
	CreatedAt time.Time             `json:"created_at"`
	Text      string                `json:"text"`
	ReadBy    map[event.UserID]bool `json:"read_by"`
	Children  []*Comment            `json:"children,omitempty"`

	// editStamp is the (timestamp, id) of the event that set Text.
	editStamp stamp
	// editor authored the event that set Text; an edit marks the comment
	// read for its editor and unread for everyone else.
	editor event.UserID
	// readStamps holds, per user, the latest SetEventRead decision.
	readStamps map[event.UserID]readMark
}

type readMark struct {
	stamp stamp
	read  bool
}

func newComment(ev event.Event, text string) *Comment {
	c := &Comment{
		ID:         ev.ID,
		Author:     ev.Author,
		CreatedAt:  ev.At,
		Text:       text,
		editStamp:  stampOf(ev),
		editor:     ev.Author,
		readStamps: make(map[event.UserID]readMark),
	}
	c.refreshReadBy()
	return c
}

// edit applies an EditComment decision if it is newer than the current text.
func (c *Comment) edit(ev event.Event, text string) {
	s := stampOf(ev)
	if !c.editStamp.before(s) {
		return
	}
	c.Text = text
	c.editStamp = s
	c.editor = ev.Author
	c.refreshReadBy()
}

// setRead applies a SetEventRead decision if it is the newest one for that
// user.
func (c *Comment) setRead(ev event.Event, read bool) {
	s := stampOf(ev)
	prev, ok := c.readStamps[ev.Author]
	if ok && !prev.stamp.before(s) {
		return
	}
	c.readStamps[ev.Author] = readMark{stamp: s, read: read}
	c.refreshReadBy()
}

// refreshReadBy recomputes the visible read set: the latest edit resets the
// set to just the editor, except for users whose read decision postdates the
// edit.
func (c *Comment) refreshReadBy() {
	readBy := map[event.UserID]bool{c.editor: true}
	for user, mark := range c.readStamps {
		if c.editStamp.before(mark.stamp) {
			if mark.read {
				readBy[user] = true
			} else {
				delete(readBy, user)
			}
		}
	}
	c.ReadBy = readBy
}

// insertComment places c into siblings, keeping (CreatedAt, ID) order.
func insertComment(siblings []*Comment, c *Comment) []*Comment {
	i := sort.Search(len(siblings), func(i int) bool {
		s := siblings[i]
		if !s.CreatedAt.Equal(c.CreatedAt) {
			return s.CreatedAt.After(c.CreatedAt)
		}
		return s.ID > c.ID
	})
	siblings = append(siblings, nil)
	copy(siblings[i+1:], siblings[i:])
	siblings[i] = c
	return siblings
}

// walkComments visits the comment forest depth-first in display order.
func walkComments(comments []*Comment, visit func(*Comment)) {
	for _, c := range comments {
		visit(c)
		walkComments(c.Children, visit)
	}
}
