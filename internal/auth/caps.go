// Package auth resolves which capabilities a user holds on a task, derived
// from task ownership, tag ownership, and explicit per-tag grants.
//
// The resolver is a pure function over an in-memory set of grant records; no
// relational engine is involved. Grants only ever widen capabilities: the
// per-flag combination rule is boolean OR.
package auth

// Flag names a single capability required by an event variant.
type Flag int

const (
	// FlagNone requires only read access (ownership or any grant).
	FlagNone Flag = iota
	FlagEdit
	FlagTriage
	FlagRelabelToAny
	FlagComment
	FlagArchive
)

func (f Flag) String() string {
	switch f {
	case FlagNone:
		return "read"
	case FlagEdit:
		return "can_edit"
	case FlagTriage:
		return "can_triage"
	case FlagRelabelToAny:
		return "can_relabel_to_any"
	case FlagComment:
		return "can_comment"
	case FlagArchive:
		return "can_archive"
	default:
		return "unknown"
	}
}

// Caps is the set of capability flags granted on a task or tag.
type Caps struct {
	Edit         bool `json:"can_edit"`
	Triage       bool `json:"can_triage"`
	RelabelToAny bool `json:"can_relabel_to_any"`
	Comment      bool `json:"can_comment"`
	Archive      bool `json:"can_archive"`
}

// All returns every flag set; this is the implicit grant of owners.
func All() Caps {
	return Caps{Edit: true, Triage: true, RelabelToAny: true, Comment: true, Archive: true}
}

// None returns the empty capability set.
func None() Caps {
	return Caps{}
}

// Or combines two capability sets flag-wise.
func (c Caps) Or(o Caps) Caps {
	return Caps{
		Edit:         c.Edit || o.Edit,
		Triage:       c.Triage || o.Triage,
		RelabelToAny: c.RelabelToAny || o.RelabelToAny,
		Comment:      c.Comment || o.Comment,
		Archive:      c.Archive || o.Archive,
	}
}

// Has reports whether the capability set satisfies the given flag. FlagNone
// is satisfied by any capability set, including the empty one; callers must
// separately establish read access.
func (c Caps) Has(f Flag) bool {
	switch f {
	case FlagNone:
		return true
	case FlagEdit:
		return c.Edit
	case FlagTriage:
		return c.Triage
	case FlagRelabelToAny:
		return c.RelabelToAny
	case FlagComment:
		return c.Comment
	case FlagArchive:
		return c.Archive
	default:
		return false
	}
}

// Any reports whether at least one flag is set.
func (c Caps) Any() bool {
	return c.Edit || c.Triage || c.RelabelToAny || c.Comment || c.Archive
}
