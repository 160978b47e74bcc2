// Package lexicon builds the per-conversation entity lexicon: the set of
// known entity names (characters, places, items) in normalized form, the
// subset that are characters, and a map back to display form.
//
// The tokenizer uses the lexicon's trie so that multi-character names are
// emitted as single terms, and the query builder uses [Lexicon.Match] to
// find focus entities in recent messages.
package lexicon

import (
	"hash/fnv"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/haivivi/memrecall/pkg/graph"
	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/trie"
)

// MinNameLen is the minimum rune length of a name. Single-rune names
// would match almost any CJK text.
const MinNameLen = 2

// Normalize folds a name or text for matching: NFKC (full-width to
// half-width, compatibility forms), lower case, trimmed, inner whitespace
// collapsed to one space.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// Source is everything a lexicon is built from.
type Source struct {
	UserName      string
	CharacterName string
	Entities      []graph.Entity
	Facts         []graph.Fact
	Events        []memory.Event
}

// Lexicon is an immutable entity name set. A nil *Lexicon is empty.
type Lexicon struct {
	display    map[string]string // normalized → display
	characters map[string]bool
	trie       *trie.Trie[string] // normalized surface form → canonical
}

// Build assembles a lexicon from src. Characters are the user and
// character names, entities of kind character, and event participants.
// Aliases resolve to their entity's canonical name.
func Build(src Source) *Lexicon {
	l := &Lexicon{
		display:    make(map[string]string),
		characters: make(map[string]bool),
		trie:       trie.New[string](),
	}
	l.add(src.UserName, true)
	l.add(src.CharacterName, true)
	for _, e := range src.Entities {
		canon := l.add(e.Name, e.Kind == graph.KindCharacter)
		if canon == "" {
			continue
		}
		for _, a := range e.Aliases {
			if n := Normalize(a); utf8.RuneCountInString(n) >= MinNameLen {
				if _, exists := l.trie.Get(n); !exists {
					l.trie.Insert(n, canon)
				}
			}
		}
	}
	for _, ev := range src.Events {
		for _, p := range ev.Participants {
			l.add(p, true)
		}
	}
	for _, f := range src.Facts {
		l.add(f.Subject, false)
	}
	return l
}

// add registers name and returns its normalized form, or "" if rejected.
// A name seen as a character once stays a character.
func (l *Lexicon) add(name string, character bool) string {
	n := Normalize(name)
	if utf8.RuneCountInString(n) < MinNameLen {
		return ""
	}
	if _, ok := l.display[n]; !ok {
		l.display[n] = strings.TrimSpace(name)
	}
	l.trie.Insert(n, n)
	if character {
		l.characters[n] = true
	}
	return n
}

// Len returns the number of canonical entities.
func (l *Lexicon) Len() int {
	if l == nil {
		return 0
	}
	return len(l.display)
}

// Contains reports whether the normalized name is a known entity.
func (l *Lexicon) Contains(normalized string) bool {
	if l == nil {
		return false
	}
	_, ok := l.display[normalized]
	return ok
}

// IsCharacter reports whether the normalized name is a known character.
func (l *Lexicon) IsCharacter(normalized string) bool {
	return l != nil && l.characters[normalized]
}

// Display returns the display form of a normalized name, or the input
// itself when unknown.
func (l *Lexicon) Display(normalized string) string {
	if l != nil {
		if d, ok := l.display[normalized]; ok {
			return d
		}
	}
	return normalized
}

// Entities returns all canonical normalized names, sorted.
func (l *Lexicon) Entities() []string {
	if l == nil {
		return nil
	}
	out := make([]string, 0, len(l.display))
	for n := range l.display {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Characters returns the normalized character names, sorted.
func (l *Lexicon) Characters() []string {
	if l == nil {
		return nil
	}
	out := make([]string, 0, len(l.characters))
	for n := range l.characters {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Signature identifies the lexicon's contents. Two lexicons with the same
// names, aliases and character flags have the same signature.
func (l *Lexicon) Signature() string {
	if l.Len() == 0 {
		return "empty"
	}
	h := fnv.New64a()
	for _, n := range l.Entities() {
		h.Write([]byte(n))
		if l.characters[n] {
			h.Write([]byte{1})
		}
		h.Write([]byte{0})
	}
	h.Write([]byte(strconv.Itoa(l.trie.Len())))
	return strconv.FormatUint(h.Sum64(), 16)
}

// LongestMatch reports the longest name starting at text[start] that
// respects word boundaries. text must already be normalized.
func (l *Lexicon) LongestMatch(text []rune, start int) (n int, canonical string, ok bool) {
	if l == nil || l.trie.Len() == 0 {
		return 0, "", false
	}
	n, canonical, ok = l.trie.LongestMatch(text, start)
	if !ok || !boundaryOK(text, start, start+n) {
		return 0, "", false
	}
	return n, canonical, true
}

// Match finds the canonical names of all entities mentioned in text, in
// order of first appearance, without duplicates.
func (l *Lexicon) Match(text string) []string {
	if l.Len() == 0 {
		return nil
	}
	runes := []rune(Normalize(text))
	var out []string
	seen := make(map[string]bool)
	for i := 0; i < len(runes); {
		n, canon, ok := l.LongestMatch(runes, i)
		if !ok {
			i++
			continue
		}
		if !seen[canon] {
			seen[canon] = true
			out = append(out, canon)
		}
		i += n
	}
	return out
}

// boundaryOK rejects Latin matches glued to surrounding letters, so "al"
// does not match inside "also". CJK names need no boundary.
func boundaryOK(text []rune, start, end int) bool {
	if isWordRune(text[start]) && start > 0 && isWordRune(text[start-1]) {
		return false
	}
	if isWordRune(text[end-1]) && end < len(text) && isWordRune(text[end]) {
		return false
	}
	return true
}

func isWordRune(r rune) bool {
	if r < utf8.RuneSelf {
		return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
	}
	return unicode.In(r, unicode.Latin, unicode.Greek, unicode.Cyrillic)
}
