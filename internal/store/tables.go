package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Ekleog/risuto/internal/auth"
	"github.com/Ekleog/risuto/internal/event"
	"github.com/Ekleog/risuto/internal/project"
)

// User is one account row.
type User struct {
	ID   event.UserID `json:"id"`
	Name string       `json:"name"`
}

// Tag is one tag row. The owner implicitly holds every capability on tasks
// carrying the tag.
type Tag struct {
	ID       event.TagID  `json:"id"`
	Owner    event.UserID `json:"owner"`
	Name     string       `json:"name"`
	Archived bool         `json:"archived"`
}

// Search is one saved search row. Predicate holds the serialized predicate
// tree and Order the serialized sort specification.
type Search struct {
	ID        event.SearchID `json:"id"`
	Owner     event.UserID   `json:"owner"`
	Name      string         `json:"name"`
	Predicate string         `json:"predicate"`
	Order     string         `json:"order"`
}

// CreateUser inserts a user row.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (id, name) VALUES (?, ?)`, string(u.ID), u.Name)
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", u.Name, err)
	}
	return nil
}

// UserByName looks a user up by name. Returns ErrNotFound when absent.
func (s *Store) UserByName(ctx context.Context, name string) (User, error) {
	var u User
	var id string
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, name FROM users WHERE name = ?`, name).Scan(&id, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to look up user %q: %w", name, err)
	}
	u.ID = event.UserID(id)
	return u, nil
}

// ListUsers returns every user, ordered by name.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id, name FROM users ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var id string
		if err := rows.Scan(&id, &u.Name); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.ID = event.UserID(id)
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateTag inserts a tag row.
func (s *Store) CreateTag(ctx context.Context, t Tag) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO tags (id, owner_id, name, archived) VALUES (?, ?, ?, ?)`,
		string(t.ID), string(t.Owner), t.Name, t.Archived)
	if err != nil {
		return fmt.Errorf("failed to create tag %s: %w", t.Name, err)
	}
	return nil
}

// ListTags returns every tag, ordered by name.
func (s *Store) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, owner_id, name, archived FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		var id, owner string
		if err := rows.Scan(&id, &owner, &t.Name, &t.Archived); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		t.ID = event.TagID(id)
		t.Owner = event.UserID(owner)
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// SetGrant upserts one (tag, user) permission row. Flags only widen: an
// existing row keeps any capability already granted.
func (s *Store) SetGrant(ctx context.Context, g auth.Grant) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO perms (tag_id, user_id, can_edit, can_triage, can_relabel_to_any, can_comment, can_archive)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tag_id, user_id) DO UPDATE SET
			can_edit = MAX(can_edit, excluded.can_edit),
			can_triage = MAX(can_triage, excluded.can_triage),
			can_relabel_to_any = MAX(can_relabel_to_any, excluded.can_relabel_to_any),
			can_comment = MAX(can_comment, excluded.can_comment),
			can_archive = MAX(can_archive, excluded.can_archive)`,
		string(g.Tag), string(g.User),
		g.Caps.Edit, g.Caps.Triage, g.Caps.RelabelToAny, g.Caps.Comment, g.Caps.Archive)
	if err != nil {
		return fmt.Errorf("failed to set grant: %w", err)
	}
	return nil
}

// ListGrants returns every permission row.
func (s *Store) ListGrants(ctx context.Context) ([]auth.Grant, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT tag_id, user_id, can_edit, can_triage, can_relabel_to_any, can_comment, can_archive
		FROM perms`)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var grants []auth.Grant
	for rows.Next() {
		var g auth.Grant
		var tag, user string
		if err := rows.Scan(&tag, &user,
			&g.Caps.Edit, &g.Caps.Triage, &g.Caps.RelabelToAny, &g.Caps.Comment, &g.Caps.Archive); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		g.Tag = event.TagID(tag)
		g.User = event.UserID(user)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// CreateTask inserts a task creation record.
func (s *Store) CreateTask(ctx context.Context, meta project.TaskMeta) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO tasks (id, owner_id, created_at, initial_title) VALUES (?, ?, ?, ?)`,
		string(meta.ID), string(meta.Owner),
		meta.CreatedAt.UTC().Format(time.RFC3339Nano), meta.Title)
	if err != nil {
		return fmt.Errorf("failed to create task %s: %w", meta.ID, err)
	}
	return nil
}

// ListTasks returns every task creation record.
func (s *Store) ListTasks(ctx context.Context) ([]project.TaskMeta, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, owner_id, created_at, initial_title FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var metas []project.TaskMeta
	for rows.Next() {
		var meta project.TaskMeta
		var id, owner, createdAt string
		if err := rows.Scan(&id, &owner, &createdAt, &meta.Title); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse task creation time: %w", err)
		}
		meta.ID = event.TaskID(id)
		meta.Owner = event.UserID(owner)
		meta.CreatedAt = ts
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// SaveSearch upserts a saved search.
func (s *Store) SaveSearch(ctx context.Context, search Search) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO searches (id, owner_id, name, predicate, task_order)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			predicate = excluded.predicate,
			task_order = excluded.task_order`,
		string(search.ID), string(search.Owner), search.Name, search.Predicate, search.Order)
	if err != nil {
		return fmt.Errorf("failed to save search %s: %w", search.Name, err)
	}
	return nil
}

// SearchesFor returns every saved search owned by the user, ordered by name.
func (s *Store) SearchesFor(ctx context.Context, owner event.UserID) ([]Search, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, owner_id, name, predicate, task_order
		FROM searches WHERE owner_id = ? ORDER BY name`, string(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to list searches: %w", err)
	}
	defer rows.Close()

	var searches []Search
	for rows.Next() {
		var search Search
		var id, ownerID string
		if err := rows.Scan(&id, &ownerID, &search.Name, &search.Predicate, &search.Order); err != nil {
			return nil, fmt.Errorf("failed to scan search: %w", err)
		}
		search.ID = event.SearchID(id)
		search.Owner = event.UserID(ownerID)
		searches = append(searches, search)
	}
	return searches, rows.Err()
}
