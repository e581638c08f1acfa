package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/Ekleog/risuto/internal/event"
)

// TagLookup resolves a tag name to its id. A term naming an unknown tag
// degrades to a free-text phrase so typos still return something useful.
type TagLookup func(name string) (event.TagID, bool)

// Compile parses a search string into a predicate tree.
//
// Grammar: a search is a sequence of terms joined by implicit AND or an
// explicit "or"/"and", all at equal precedence and left-associative, with "-"
// or "not" prefix negation and parentheses for grouping. Terms are
// archived:/done:/untagged:/today: booleans, tag:<name>, scheduled and
// blocked date comparisons (: > >= < <=, against YYYY-MM-DD or today+-N),
// quoted phrases, and bare words.
func Compile(search string, tags TagLookup) (Pred, error) {
	toks, err := lex(search)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, tags: tags}
	pred, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("parse %q: unexpected %q", search, tok.text)
	}
	return pred, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokLParen
	tokRParen
	tokNot
	tokAnd
	tokOr
	tokWord
	tokPhrase
)

type token struct {
	kind tokKind
	text string
}

func lex(input string) ([]token, error) {
	var toks []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		switch c := runes[i]; {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case c == '"':
			text, next, err := lexPhrase(runes, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokPhrase, text: text})
			i = next
		case c == '-' && i+1 < len(runes) && !boundary(runes[i+1]):
			toks = append(toks, token{kind: tokNot, text: "-"})
			i++
		default:
			start := i
			for i < len(runes) && !boundary(runes[i]) {
				i++
			}
			word := string(runes[start:i])
			switch strings.ToLower(word) {
			case "and":
				toks = append(toks, token{kind: tokAnd, text: word})
			case "or":
				toks = append(toks, token{kind: tokOr, text: word})
			case "not":
				toks = append(toks, token{kind: tokNot, text: word})
			default:
				toks = append(toks, token{kind: tokWord, text: word})
			}
		}
	}
	return toks, nil
}

func boundary(c rune) bool {
	return unicode.IsSpace(c) || c == '(' || c == ')' || c == '"'
}

// lexPhrase reads a double-quoted phrase starting at runes[start], honoring
// backslash escapes, and returns the unescaped text plus the index after the
// closing quote.
func lexPhrase(runes []rune, start int) (string, int, error) {
	var b strings.Builder
	i := start + 1
	for i < len(runes) {
		switch c := runes[i]; c {
		case '\\':
			if i+1 >= len(runes) {
				return "", 0, fmt.Errorf("trailing backslash in phrase")
			}
			b.WriteRune(runes[i+1])
			i += 2
		case '"':
			return b.String(), i + 1, nil
		default:
			b.WriteRune(c)
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated phrase")
}

type parser struct {
	toks []token
	pos  int
	tags TagLookup
}

func (p *parser) peek() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *parser) parseExpr() (Pred, error) {
	node, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokOr:
			p.next()
			rhs, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			node = joinAny(node, rhs)
		case tokAnd:
			p.next()
			rhs, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			node = joinAll(node, rhs)
		case tokEOF, tokRParen:
			return node, nil
		default:
			// Adjacent terms AND together.
			rhs, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			node = joinAll(node, rhs)
		}
	}
}

func (p *parser) parseUnary() (Pred, error) {
	negations := 0
	for p.peek().kind == tokNot {
		p.next()
		negations++
	}
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for ; negations > 0; negations-- {
		node = Not{Pred: node}
	}
	return node, nil
}

func (p *parser) parsePrimary() (Pred, error) {
	switch tok := p.next(); tok.kind {
	case tokLParen:
		node, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return node, nil
	case tokPhrase:
		return Phrase{Text: tok.text}, nil
	case tokWord:
		return p.classify(tok.text), nil
	case tokEOF:
		return nil, fmt.Errorf("empty query")
	default:
		return nil, fmt.Errorf("unexpected %q", tok.text)
	}
}

// classify turns a bare word into a structured term where it matches one of
// the key forms, and a phrase otherwise. Malformed key forms degrade to
// phrases rather than erroring, matching what a user most plausibly meant.
func (p *parser) classify(word string) Pred {
	lower := strings.ToLower(word)
	switch {
	case strings.HasPrefix(lower, "archived:"):
		if is, ok := parseBool(word[len("archived:"):]); ok {
			return Archived{Is: is}
		}
	case strings.HasPrefix(lower, "done:"):
		if is, ok := parseBool(word[len("done:"):]); ok {
			return Done{Is: is}
		}
	case strings.HasPrefix(lower, "untagged:"):
		if is, ok := parseBool(word[len("untagged:"):]); ok {
			return Untagged{Is: is}
		}
	case strings.HasPrefix(lower, "today:"):
		if is, ok := parseBool(word[len("today:"):]); ok {
			return Today{Is: is}
		}
	case strings.HasPrefix(lower, "tag:"):
		name := word[len("tag:"):]
		if id, ok := p.tags(name); ok {
			return Tag{Name: name, ID: id}
		}
	case strings.HasPrefix(lower, "scheduled"):
		if pred, ok := parseDateCmp(word[len("scheduled"):], scheduledField); ok {
			return pred
		}
	case strings.HasPrefix(lower, "blocked"):
		if pred, ok := parseDateCmp(word[len("blocked"):], blockedField); ok {
			return pred
		}
	}
	return Phrase{Text: word}
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

type dateField int

const (
	scheduledField dateField = iota
	blockedField
)

func (f dateField) after(when DateRef) Pred {
	if f == scheduledField {
		return ScheduledAfter{When: when}
	}
	return BlockedAfter{When: when}
}

func (f dateField) before(when DateRef) Pred {
	if f == scheduledField {
		return ScheduledBefore{When: when}
	}
	return BlockedBefore{When: when}
}

// parseDateCmp reads "<cmp><date>" where cmp is one of : > >= < <=. The
// bounds are day-granular: ">" excludes the named day by starting at the next
// midnight, "<=" includes it by ending there, and ":" spans exactly the day.
func parseDateCmp(rest string, field dateField) (Pred, bool) {
	var cmp string
	for _, candidate := range []string{">=", "<=", ">", "<", ":"} {
		if strings.HasPrefix(rest, candidate) {
			cmp = candidate
			break
		}
	}
	if cmp == "" {
		return nil, false
	}
	when, ok := parseDateRef(rest[len(cmp):])
	if !ok {
		return nil, false
	}
	switch cmp {
	case ">":
		return field.after(when.plusDays(1)), true
	case ">=":
		return field.after(when), true
	case "<":
		return field.before(when), true
	case "<=":
		return field.before(when.plusDays(1)), true
	default: // ":"
		return All{Preds: []Pred{field.after(when), field.before(when.plusDays(1))}}, true
	}
}

func parseDateRef(s string) (DateRef, bool) {
	lower := strings.ToLower(s)
	if lower == "today" {
		return DateRef{}, true
	}
	if strings.HasPrefix(lower, "today+") || strings.HasPrefix(lower, "today-") {
		n, err := strconv.Atoi(lower[len("today+"):])
		if err != nil {
			return DateRef{}, false
		}
		if lower[len("today")] == '-' {
			n = -n
		}
		return DateRef{Days: n}, true
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return DateRef{}, false
	}
	return DateRef{Date: s}, true
}

func joinAll(lhs, rhs Pred) Pred {
	if all, ok := lhs.(All); ok {
		all.Preds = append(all.Preds, rhs)
		return all
	}
	return All{Preds: []Pred{lhs, rhs}}
}

func joinAny(lhs, rhs Pred) Pred {
	if any, ok := lhs.(Any); ok {
		any.Preds = append(any.Preds, rhs)
		return any
	}
	return Any{Preds: []Pred{lhs, rhs}}
}
