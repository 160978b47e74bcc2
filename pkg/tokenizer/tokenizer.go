// Package tokenizer turns raw text into lexical terms for indexing and
// querying.
//
// Text is normalized with [lexicon.Normalize] and scanned for known entity
// names first; a matched name is emitted whole as one term (aliases map to
// the canonical name). The remaining spans are segmented with UAX#29 word
// boundaries:
//
//   - Latin / other alphabetic words: lower-cased, at least two runes,
//     stopwords dropped.
//   - Numbers: kept when at least two characters long.
//   - CJK ideograph and kana runs: overlapping bigrams, stopword bigrams
//     dropped. Single isolated ideographs are dropped.
//
// Output keeps duplicates so callers can count term frequency.
package tokenizer

import (
	"unicode/utf8"

	"github.com/blevesearch/segment"

	"github.com/haivivi/memrecall/pkg/lexicon"
)

// Tokenizer splits text into terms, protecting names from a lexicon.
// A Tokenizer is immutable and safe for concurrent use.
type Tokenizer struct {
	lex *lexicon.Lexicon
}

// New creates a tokenizer. lex may be nil.
func New(lex *lexicon.Lexicon) *Tokenizer {
	return &Tokenizer{lex: lex}
}

// Lexicon returns the lexicon the tokenizer protects.
func (t *Tokenizer) Lexicon() *lexicon.Lexicon { return t.lex }

// Tokenize returns the terms of text in order of appearance, with
// duplicates.
func (t *Tokenizer) Tokenize(text string) []string {
	runes := []rune(lexicon.Normalize(text))
	if len(runes) == 0 {
		return nil
	}
	var out []string
	gapStart := 0
	for i := 0; i < len(runes); {
		n, canon, ok := t.lex.LongestMatch(runes, i)
		if !ok {
			i++
			continue
		}
		out = appendSegments(out, string(runes[gapStart:i]))
		out = append(out, canon)
		i += n
		gapStart = i
	}
	return appendSegments(out, string(runes[gapStart:]))
}

// appendSegments segments a span that contains no entity names.
func appendSegments(out []string, span string) []string {
	if span == "" {
		return out
	}
	var cjk []rune
	flush := func() {
		out = appendBigrams(out, cjk)
		cjk = cjk[:0]
	}

	seg := segment.NewWordSegmenterDirect([]byte(span))
	for seg.Segment() {
		tok := seg.Bytes()
		switch seg.Type() {
		case segment.Ideo, segment.Kana:
			for len(tok) > 0 {
				r, size := utf8.DecodeRune(tok)
				cjk = append(cjk, r)
				tok = tok[size:]
			}
		case segment.Letter:
			flush()
			w := string(tok)
			if utf8.RuneCountInString(w) >= 2 && !IsStopword(w) {
				out = append(out, w)
			}
		case segment.Number:
			flush()
			if len(tok) >= 2 {
				out = append(out, string(tok))
			}
		default:
			flush()
		}
	}
	flush()
	// Segmentation errors only come from the underlying reader, which is
	// an in-memory buffer here; whatever was produced is kept.
	return out
}

func appendBigrams(out []string, run []rune) []string {
	for i := 0; i+1 < len(run); i++ {
		bg := string(run[i : i+2])
		if !IsStopword(bg) {
			out = append(out, bg)
		}
	}
	return out
}

// Unique returns terms without duplicates, keeping first-appearance order.
func Unique(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// TermFreq counts occurrences of each term.
func TermFreq(terms []string) map[string]int {
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	return tf
}
