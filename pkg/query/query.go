// Package query builds the recall query bundle from the most recent
// messages of a conversation, without calling any model.
//
// A bundle holds one weighted segment per message in the window (context
// oldest→newest, then the focus message), the lexical terms to search, the
// entities and characters mentioned, and the plain-text query for the
// reranker. After the first dense pass, [Builder.Refine] adds a hints
// segment built from the best hits.
package query

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/haivivi/memrecall/pkg/lexicon"
	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/tokenizer"
)

// SpeakerSep joins the speaker and the content of a segment.
const SpeakerSep = "："

// Segment is one weighted query text.
type Segment struct {
	Text       string  `json:"text"`
	BaseWeight float64 `json:"base_weight"`

	// CharCount is the rune length of the content without the speaker
	// prefix.
	CharCount int  `json:"char_count"`
	Focus     bool `json:"focus,omitempty"`
}

// Bundle is the query of one recall call.
type Bundle struct {
	// Segments are ordered context (oldest first) then focus.
	Segments []Segment `json:"segments"`

	// Hints is set by Refine.
	Hints *Segment `json:"hints,omitempty"`

	RerankQuery     string   `json:"rerank_query"`
	LexicalTerms    []string `json:"lexical_terms"`
	FocusTerms      []string `json:"focus_terms"`
	FocusCharacters []string `json:"focus_characters"`

	Lexicon *lexicon.Lexicon `json:"-"`
}

// Empty reports whether the bundle has nothing to embed.
func (b *Bundle) Empty() bool {
	return b == nil || len(b.Segments) == 0
}

// AllSegments returns the segments to embed, hints last when present.
func (b *Bundle) AllSegments() []Segment {
	out := slices.Clone(b.Segments)
	if b.Hints != nil {
		out = append(out, *b.Hints)
	}
	return out
}

// FocusIndex returns the index of the focus segment in AllSegments.
func (b *Bundle) FocusIndex() int {
	for i, s := range b.Segments {
		if s.Focus {
			return i
		}
	}
	return len(b.Segments) - 1
}

// Options are the builder's static parameters.
type Options struct {
	Window        int
	WindowPending int

	FocusWeight float64

	// ContextWeights are indexed by recency: [0] is the message right
	// before the focus. Older messages reuse the last value.
	ContextWeights []float64
	HintsWeight    float64

	MaxLexicalTerms int
	MaxHintTerms    int
	HintAnchors     int
	HintEvents      int
}

// DefaultOptions returns the standard parameters.
func DefaultOptions() Options {
	return Options{
		Window:          3,
		WindowPending:   2,
		FocusWeight:     0.55,
		ContextWeights:  []float64{0.30, 0.20, 0.15},
		HintsWeight:     0.25,
		MaxLexicalTerms: 10,
		MaxHintTerms:    5,
		HintAnchors:     5,
		HintEvents:      3,
	}
}

// Input is what a bundle is built from.
type Input struct {
	Messages []memory.Message

	// PendingUserMessage is text the user has typed but not sent. When
	// non-empty it becomes the focus.
	PendingUserMessage string

	// ExcludeLastAITurn drops trailing AI messages (regenerate / swipe).
	ExcludeLastAITurn bool

	UserName      string
	CharacterName string
}

// Builder builds bundles for one recall call.
type Builder struct {
	opts Options
	tk   *tokenizer.Tokenizer
	idf  func(term string) float64
}

// NewBuilder creates a builder. idf may be nil, in which case every term
// weighs 1 and terms rank by frequency alone.
func NewBuilder(opts Options, tk *tokenizer.Tokenizer, idf func(string) float64) *Builder {
	if tk == nil {
		tk = tokenizer.New(nil)
	}
	return &Builder{opts: opts, tk: tk, idf: idf}
}

type windowMsg struct {
	speaker string
	content string
	focus   bool
}

// Build creates the bundle for in. A window with no usable text yields a
// bundle with no segments.
func (b *Builder) Build(in Input) *Bundle {
	bundle := &Bundle{Lexicon: b.tk.Lexicon()}
	win := b.window(in)
	if len(win) == 0 {
		return bundle
	}

	var focus windowMsg
	var contents []string
	ctxCount := len(win) - 1
	for i, m := range win {
		contents = append(contents, m.content)
		seg := Segment{
			Text:      m.speaker + SpeakerSep + m.content,
			CharCount: utf8.RuneCountInString(m.content),
			Focus:     m.focus,
		}
		if m.focus {
			focus = m
			seg.BaseWeight = b.opts.FocusWeight
		} else {
			seg.BaseWeight = b.contextWeight(ctxCount - 1 - i)
		}
		bundle.Segments = append(bundle.Segments, seg)
	}

	lex := b.tk.Lexicon()
	bundle.FocusTerms = lex.Match(strings.Join(contents, "\n"))
	for _, t := range bundle.FocusTerms {
		if lex.IsCharacter(t) {
			bundle.FocusCharacters = append(bundle.FocusCharacters, t)
		}
	}
	if bundle.FocusTerms == nil {
		bundle.FocusTerms = []string{}
	}
	if bundle.FocusCharacters == nil {
		bundle.FocusCharacters = []string{}
	}

	bundle.LexicalTerms = b.rankTerms(strings.Join(contents, "\n"), bundle.FocusTerms, b.opts.MaxLexicalTerms)

	lines := []string{focus.content}
	for i := len(win) - 2; i >= 0; i-- {
		lines = append(lines, win[i].content)
	}
	bundle.RerankQuery = strings.Join(lines, "\n")
	return bundle
}

func (b *Builder) contextWeight(recency int) float64 {
	ws := b.opts.ContextWeights
	if len(ws) == 0 {
		return 0
	}
	if recency >= len(ws) {
		return ws[len(ws)-1]
	}
	return ws[recency]
}

// window selects the last K messages plus the pending message, cleaned.
// The focus is the pending message if present, else the newest message.
func (b *Builder) window(in Input) []windowMsg {
	msgs := in.Messages
	if in.ExcludeLastAITurn {
		for len(msgs) > 0 && !msgs[len(msgs)-1].IsUser {
			msgs = msgs[:len(msgs)-1]
		}
	}

	pending := CleanText(in.PendingUserMessage)
	k := b.opts.Window
	if pending != "" {
		k = b.opts.WindowPending
	}

	var picked []windowMsg
	for i := len(msgs) - 1; i >= 0 && len(picked) < k; i-- {
		m := msgs[i]
		content := CleanText(m.Content)
		if content == "" {
			continue
		}
		picked = append(picked, windowMsg{speaker: speakerOf(m, in), content: content})
	}
	slices.Reverse(picked)

	if pending != "" {
		picked = append(picked, windowMsg{speaker: userName(in), content: pending, focus: true})
	} else if len(picked) > 0 {
		picked[len(picked)-1].focus = true
	}
	return picked
}

func speakerOf(m memory.Message, in Input) string {
	if name := strings.TrimSpace(m.Name); name != "" {
		return name
	}
	if m.IsUser {
		return userName(in)
	}
	if in.CharacterName != "" {
		return in.CharacterName
	}
	return "Assistant"
}

func userName(in Input) string {
	if in.UserName != "" {
		return in.UserName
	}
	return "User"
}

// rankTerms returns priority terms first, then the text's terms by
// tf × idf descending (first appearance breaks ties), capped at limit.
func (b *Builder) rankTerms(text string, priority []string, limit int) []string {
	out := make([]string, 0, limit)
	seen := make(map[string]bool)
	for _, t := range priority {
		if len(out) >= limit {
			return out
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range b.scoreTerms(text) {
		if len(out) >= limit {
			break
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func (b *Builder) scoreTerms(text string) []string {
	terms := b.tk.Tokenize(text)
	tf := tokenizer.TermFreq(terms)
	uniq := tokenizer.Unique(terms)
	score := make(map[string]float64, len(uniq))
	for _, t := range uniq {
		idf := 1.0
		if b.idf != nil {
			idf = b.idf(t)
		}
		score[t] = float64(tf[t]) * idf
	}
	slices.SortStableFunc(uniq, func(x, y string) int {
		return cmp.Compare(score[y], score[x])
	})
	return uniq
}

// Refine adds a hints segment built from the first-round anchor
// semantics and event texts (best first), and appends up to MaxHintTerms
// new lexical terms drawn from them. RerankQuery is left untouched.
func (b *Builder) Refine(bundle *Bundle, anchors, events []string) {
	if bundle == nil {
		return
	}
	var parts []string
	for i, s := range anchors {
		if i >= b.opts.HintAnchors {
			break
		}
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	for i, s := range events {
		if i >= b.opts.HintEvents {
			break
		}
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return
	}
	text := strings.Join(parts, "\n")
	bundle.Hints = &Segment{
		Text:       text,
		BaseWeight: b.opts.HintsWeight,
		CharCount:  utf8.RuneCountInString(text),
	}

	have := make(map[string]bool, len(bundle.LexicalTerms))
	for _, t := range bundle.LexicalTerms {
		have[t] = true
	}
	added := 0
	for _, t := range b.scoreTerms(text) {
		if added >= b.opts.MaxHintTerms {
			break
		}
		if !have[t] {
			have[t] = true
			bundle.LexicalTerms = append(bundle.LexicalTerms, t)
			added++
		}
	}
}
