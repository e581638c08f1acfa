package auth

import (
	"sync"

	"github.com/Ekleog/risuto/internal/event"
)

// Grant is one explicit (tag, user) permission row. Absence of a row means no
// explicit grant; tag owners hold all flags implicitly.
type Grant struct {
	Tag  event.TagID  `json:"tag"`
	User event.UserID `json:"user"`
	Caps Caps         `json:"caps"`
}

// Grants is an in-memory set of grant rows, safe for concurrent readers.
// Multiple grants for the same (tag, user) pair combine by OR.
type Grants struct {
	mu    sync.RWMutex
	byTag map[event.TagID]map[event.UserID]Caps
}

// NewGrants returns an empty grant set.
func NewGrants() *Grants {
	return &Grants{byTag: make(map[event.TagID]map[event.UserID]Caps)}
}

// Add merges a grant row into the set.
func (g *Grants) Add(grant Grant) {
	g.mu.Lock()
	defer g.mu.Unlock()

	users := g.byTag[grant.Tag]
	if users == nil {
		users = make(map[event.UserID]Caps)
		g.byTag[grant.Tag] = users
	}
	users[grant.User] = users[grant.User].Or(grant.Caps)
}

// For returns the explicit capability set of a (tag, user) pair, and whether
// an explicit row exists.
func (g *Grants) For(tag event.TagID, user event.UserID) (Caps, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	users, ok := g.byTag[tag]
	if !ok {
		return Caps{}, false
	}
	caps, ok := users[user]
	return caps, ok
}

// UsersWithGrants returns every user with an explicit row on the tag.
func (g *Grants) UsersWithGrants(tag event.TagID) []event.UserID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	users := g.byTag[tag]
	out := make([]event.UserID, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	return out
}
