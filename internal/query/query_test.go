package query

import (
	"reflect"
	"testing"
	"time"

	"github.com/Ekleog/risuto/internal/event"
	"github.com/Ekleog/risuto/internal/project"
)

var knownTags = map[string]event.TagID{
	"work": "tag-work",
	"home": "tag-home",
}

func lookup(name string) (event.TagID, bool) {
	id, ok := knownTags[name]
	return id, ok
}

func compile(t *testing.T, search string) Pred {
	t.Helper()
	pred, err := Compile(search, lookup)
	if err != nil {
		t.Fatalf("Compile(%q): %v", search, err)
	}
	return pred
}

func TestCompilePrimaries(t *testing.T) {
	tests := []struct {
		search string
		want   Pred
	}{
		{"archived:true", Archived{Is: true}},
		{"archived:false", Archived{Is: false}},
		{"done:true", Done{Is: true}},
		{"untagged:false", Untagged{Is: false}},
		{"today:true", Today{Is: true}},
		{"tag:work", Tag{Name: "work", ID: "tag-work"}},
		// Unknown tags degrade to text search.
		{"tag:ghost", Phrase{Text: "tag:ghost"}},
		// Words that merely look like keys stay words.
		{"archived", Phrase{Text: "archived"}},
		{"tag", Phrase{Text: "tag"}},
		{"done:maybe", Phrase{Text: "done:maybe"}},
		{"test", Phrase{Text: "test"}},
	}
	for _, tt := range tests {
		if got := compile(t, tt.search); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Compile(%q) = %#v, want %#v", tt.search, got, tt.want)
		}
	}
}

func TestCompilePhrases(t *testing.T) {
	tests := []struct {
		search string
		want   string
	}{
		{`"test"`, "test"},
		{`"foo bar"`, "foo bar"},
		{`"(foo bar OR archived:false)"`, "(foo bar OR archived:false)"},
		{`"foo\" bar"`, `foo" bar`},
		{`"foo\\ bar"`, `foo\ bar`},
		{`"foo\\\" bar"`, `foo\" bar`},
	}
	for _, tt := range tests {
		if got := compile(t, tt.search); !reflect.DeepEqual(got, Phrase{Text: tt.want}) {
			t.Errorf("Compile(%q) = %#v, want phrase %q", tt.search, got, tt.want)
		}
	}
}

func TestCompileInfixes(t *testing.T) {
	foo, bar, baz := Phrase{Text: "foo"}, Phrase{Text: "bar"}, Phrase{Text: "baz"}
	tests := []struct {
		search string
		want   Pred
	}{
		{"foo bar", All{Preds: []Pred{foo, bar}}},
		{"foo bar baz", All{Preds: []Pred{foo, bar, baz}}},
		{"foo AND archived:false", All{Preds: []Pred{foo, Archived{}}}},
		{"foo or archived:false", Any{Preds: []Pred{foo, Archived{}}}},
		// Equal precedence, left to right.
		{"foo bar or baz", Any{Preds: []Pred{All{Preds: []Pred{foo, bar}}, baz}}},
		{"foo or bar baz", All{Preds: []Pred{Any{Preds: []Pred{foo, bar}}, baz}}},
		{"(foo bar) or baz", Any{Preds: []Pred{All{Preds: []Pred{foo, bar}}, baz}}},
		{"-done:true", Not{Pred: Done{Is: true}}},
		{"not done:true", Not{Pred: Done{Is: true}}},
		{"foo -bar", All{Preds: []Pred{foo, Not{Pred: bar}}}},
	}
	for _, tt := range tests {
		if got := compile(t, tt.search); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Compile(%q) = %#v, want %#v", tt.search, got, tt.want)
		}
	}
}

func TestCompileDates(t *testing.T) {
	tests := []struct {
		search string
		want   Pred
	}{
		{"scheduled>=2024-03-05", ScheduledAfter{When: DateRef{Date: "2024-03-05"}}},
		{"scheduled>2024-03-05", ScheduledAfter{When: DateRef{Date: "2024-03-05", Days: 1}}},
		{"scheduled<2024-03-05", ScheduledBefore{When: DateRef{Date: "2024-03-05"}}},
		{"scheduled<=today", ScheduledBefore{When: DateRef{Days: 1}}},
		{"blocked>=today-2", BlockedAfter{When: DateRef{Days: -2}}},
		{"blocked>today+1", BlockedAfter{When: DateRef{Days: 2}}},
		{"scheduled:2024-03-05", All{Preds: []Pred{
			ScheduledAfter{When: DateRef{Date: "2024-03-05"}},
			ScheduledBefore{When: DateRef{Date: "2024-03-05", Days: 1}},
		}}},
		// A malformed date is just text.
		{"scheduled>soon", Phrase{Text: "scheduled>soon"}},
	}
	for _, tt := range tests {
		if got := compile(t, tt.search); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Compile(%q) = %#v, want %#v", tt.search, got, tt.want)
		}
	}
}

func TestCompileErrors(t *testing.T) {
	for _, search := range []string{"", `"unterminated`, "(foo", "foo)", `"bad\`} {
		if _, err := Compile(search, lookup); err == nil {
			t.Errorf("Compile(%q) succeeded, want error", search)
		}
	}
}

func taskWith(t *testing.T, mutate func(*project.TaskState)) *project.TaskState {
	t.Helper()
	task := project.NewTaskState("task", "owner", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "title")
	if mutate != nil {
		mutate(task)
	}
	return task
}

func evalOn(t *testing.T, pred Pred, task *project.TaskState) bool {
	t.Helper()
	now := time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)
	ok, err := Eval(pred, task, SimpleIndex{}, now, time.UTC)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	return ok
}

func TestEvalScenario(t *testing.T) {
	pred := compile(t, `tag:work -done:true "urgent"`)

	match := taskWith(t, func(task *project.TaskState) {
		task.Tags["tag-work"] = project.TagEntry{}
		task.Title = "Something urgent to handle"
	})
	if !evalOn(t, pred, match) {
		t.Error("tagged, undone, urgent task must match")
	}

	for name, mutate := range map[string]func(*project.TaskState){
		"done": func(task *project.TaskState) {
			task.Tags["tag-work"] = project.TagEntry{}
			task.Title = "urgent"
			task.Done = true
		},
		"untagged": func(task *project.TaskState) {
			task.Title = "urgent"
		},
		"wrong text": func(task *project.TaskState) {
			task.Tags["tag-work"] = project.TagEntry{}
			task.Title = "relaxed"
		},
	} {
		if evalOn(t, pred, taskWith(t, mutate)) {
			t.Errorf("%s task must not match", name)
		}
	}
}

func TestEvalDates(t *testing.T) {
	sched := time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)
	task := taskWith(t, func(task *project.TaskState) {
		task.ScheduledFor = &sched
	})
	bare := taskWith(t, nil)

	tests := []struct {
		search string
		task   *project.TaskState
		want   bool
	}{
		{"scheduled:2024-03-05", task, true},
		{"scheduled>=2024-03-05", task, true},
		{"scheduled>2024-03-05", task, false},
		{"scheduled<2024-03-05", task, false},
		{"scheduled<=2024-03-05", task, true},
		{"scheduled:today", task, true},
		{"scheduled>=today+1", task, false},
		// Unset dates never match a comparison.
		{"scheduled:2024-03-05", bare, false},
		{"today:true", task, true},
		{"today:true", bare, false},
		{"today:false", bare, true},
	}
	for _, tt := range tests {
		if got := evalOn(t, compile(t, tt.search), tt.task); got != tt.want {
			t.Errorf("Eval(%q) = %v, want %v", tt.search, got, tt.want)
		}
	}
}

func TestEvalPhraseInComments(t *testing.T) {
	task := taskWith(t, func(task *project.TaskState) {
		task.Title = "quiet title"
	})
	// Comments count as searchable text, token order matters.
	ev := event.Event{ID: "c1", Author: "a", At: time.Now(), Task: "task", Payload: event.AddComment{Text: "the roof is LEAKING badly"}}
	task.Apply(ev)

	if !evalOn(t, compile(t, `"roof is leaking"`), task) {
		t.Error("contiguous phrase in a comment must match")
	}
	if evalOn(t, compile(t, `"leaking roof"`), task) {
		t.Error("out-of-order tokens must not match a phrase")
	}
}

// Serializing a compiled predicate and re-reading it yields a tree that
// evaluates identically.
func TestPredicateRoundTrip(t *testing.T) {
	searches := []string{
		"archived:false done:false",
		`tag:work -done:true "urgent"`,
		"(foo bar) or (baz not untagged:true)",
		"scheduled:today or blocked>=2024-03-05",
		"today:true",
	}
	sched := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	corpus := []*project.TaskState{
		taskWith(t, nil),
		taskWith(t, func(task *project.TaskState) { task.Done = true; task.Title = "urgent foo bar" }),
		taskWith(t, func(task *project.TaskState) {
			task.Tags["tag-work"] = project.TagEntry{}
			task.Title = "urgent baz"
			task.ScheduledFor = &sched
		}),
		taskWith(t, func(task *project.TaskState) { task.Archived = true; task.BlockedUntil = &sched }),
	}

	for _, search := range searches {
		pred := compile(t, search)
		blob, err := Marshal(pred)
		if err != nil {
			t.Fatalf("Marshal(%q): %v", search, err)
		}
		back, err := Unmarshal(blob)
		if err != nil {
			t.Fatalf("Unmarshal(%q): %v", search, err)
		}
		if !reflect.DeepEqual(back, pred) {
			t.Errorf("%q: round-trip changed the tree:\n got %#v\nwant %#v", search, back, pred)
		}
		for i, task := range corpus {
			if evalOn(t, back, task) != evalOn(t, pred, task) {
				t.Errorf("%q: round-tripped tree diverges on corpus task %d", search, i)
			}
		}
	}
}
