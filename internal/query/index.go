package query

import (
	"strings"
	"unicode"

	"github.com/Ekleog/risuto/internal/project"
)

// SimpleIndex is an index-free TextIndex: it tokenizes the task on the fly
// and matches a phrase when its token sequence appears contiguously in the
// title or in any single comment.
type SimpleIndex struct{}

// MatchPhrase implements TextIndex. A phrase with no tokens (punctuation
// only) matches everything.
func (SimpleIndex) MatchPhrase(task *project.TaskState, phrase string) bool {
	want := tokenize(phrase)
	if len(want) == 0 {
		return true
	}
	if containsSeq(tokenize(task.Title), want) {
		return true
	}
	found := false
	for _, c := range task.Comments {
		walkComment(c, &found, want)
	}
	return found
}

func walkComment(c *project.Comment, found *bool, want []string) {
	if *found {
		return
	}
	if containsSeq(tokenize(c.Text), want) {
		*found = true
		return
	}
	for _, child := range c.Children {
		walkComment(child, found, want)
	}
}

// tokenize splits text into lowercased alphanumeric runs.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func containsSeq(haystack, needle []string) bool {
	if len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j, w := range needle {
			if haystack[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
