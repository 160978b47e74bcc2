// Package lexical maintains the per-conversation inverted index over
// utterance chunks (floor-tagged) and event summaries.
//
// Postings live in an in-memory bleve index whose single "terms" field uses
// the keyword analyzer: documents are indexed with terms already produced
// by the tokenizer, so bleve never re-analyzes text. Document frequencies
// are tracked alongside in a plain map so that IDF follows every
// incremental insert or removal exactly.
//
// Search runs one exact + prefix + fuzzy disjunction per term, normalizes
// each term's scores to [0,1], weights them by IDF and sums per document.
package lexical

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/search/query"
)

var (
	// ErrClosed is returned by operations on a closed index.
	ErrClosed = errors.New("lexical: index closed")

	// ErrInvalidDoc is returned for documents without an id.
	ErrInvalidDoc = errors.New("lexical: invalid document")
)

const termsField = "terms"

// IDF bounds.
const (
	MinIDF = 1.0
	MaxIDF = 4.0
)

// IDF computes clamp(ln((n+1)/(df+1)) + 1, MinIDF, MaxIDF) for a term that
// occurs in df of n documents.
func IDF(n, df int) float64 {
	if df < 0 {
		df = 0
	}
	if n < 0 {
		n = 0
	}
	v := math.Log(float64(n+1)/float64(df+1)) + 1
	return min(max(v, MinIDF), MaxIDF)
}

// Kind is the kind of an indexed document.
type Kind uint8

const (
	KindChunk Kind = iota + 1
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindEvent:
		return "event"
	}
	return "unknown"
}

// Doc is one document to index. Floor is ignored for events. Ref is the
// id of the indexed object (chunk or event id) and defaults to ID.
type Doc struct {
	ID    string
	Ref   string
	Kind  Kind
	Floor int
	Terms []string
}

type docMeta struct {
	kind  Kind
	floor int
	ref   string
	terms []string // unique
}

// Index is an incrementally maintained lexical index. Safe for concurrent
// use.
type Index struct {
	mu     sync.RWMutex
	bi     bleve.Index
	docs   map[string]docMeta
	floors map[int][]string
	df     map[string]int
	closed bool

	// Tag identifies the lexicon the index was built with; callers compare
	// it to decide whether to rebuild. Events are kept current with
	// SyncEvents instead.
	Tag string
}

// NewIndex creates an empty in-memory index.
func NewIndex() (*Index, error) {
	fm := bleve.NewTextFieldMapping()
	fm.Analyzer = keyword.Name
	fm.Store = false
	fm.IncludeTermVectors = false
	fm.IncludeInAll = false

	dm := bleve.NewDocumentMapping()
	dm.AddFieldMappingsAt(termsField, fm)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = dm
	im.DefaultAnalyzer = keyword.Name

	bi, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("lexical: create index: %w", err)
	}
	return &Index{
		bi:     bi,
		docs:   make(map[string]docMeta),
		floors: make(map[int][]string),
		df:     make(map[string]int),
	}, nil
}

// Add indexes docs, replacing documents with the same id. Documents with
// no terms are recorded for document counting but have no postings.
func (x *Index) Add(docs ...Doc) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	return x.addLocked(docs)
}

func (x *Index) addLocked(docs []Doc) error {
	if err := validateDocs(docs); err != nil {
		return err
	}
	b := x.bi.NewBatch()
	for _, d := range docs {
		if err := b.Index(d.ID, map[string]any{termsField: uniqueTerms(d.Terms)}); err != nil {
			return fmt.Errorf("lexical: index %s: %w", d.ID, err)
		}
	}
	if err := x.bi.Batch(b); err != nil {
		return fmt.Errorf("lexical: apply batch: %w", err)
	}

	for _, d := range docs {
		x.forgetLocked(d.ID)

		terms := uniqueTerms(d.Terms)
		floor := d.Floor
		if d.Kind == KindEvent {
			floor = -1
		}
		x.docs[d.ID] = docMeta{kind: d.Kind, floor: floor, ref: refOf(d), terms: terms}
		if floor >= 0 {
			x.floors[floor] = append(x.floors[floor], d.ID)
		}
		for _, t := range terms {
			x.df[t]++
		}
	}
	return nil
}

func validateDocs(docs []Doc) error {
	for _, d := range docs {
		if d.ID == "" || (d.Kind != KindChunk && d.Kind != KindEvent) {
			return fmt.Errorf("%w: id=%q kind=%d", ErrInvalidDoc, d.ID, d.Kind)
		}
	}
	return nil
}

func refOf(d Doc) string {
	if d.Ref == "" {
		return d.ID
	}
	return d.Ref
}

// forgetLocked drops a document from the bookkeeping maps once its bleve
// posting has been overwritten or deleted.
func (x *Index) forgetLocked(id string) {
	meta, ok := x.docs[id]
	if !ok {
		return
	}
	for _, t := range meta.terms {
		if x.df[t]--; x.df[t] <= 0 {
			delete(x.df, t)
		}
	}
	if meta.floor >= 0 {
		ids := slices.DeleteFunc(x.floors[meta.floor], func(s string) bool { return s == id })
		if len(ids) == 0 {
			delete(x.floors, meta.floor)
		} else {
			x.floors[meta.floor] = ids
		}
	}
	delete(x.docs, id)
}

// Remove deletes documents by id. Unknown ids are ignored.
func (x *Index) Remove(ids ...string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	return x.removeLocked(ids)
}

func (x *Index) removeLocked(ids []string) error {
	b := x.bi.NewBatch()
	known := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := x.docs[id]; ok {
			b.Delete(id)
			known = append(known, id)
		}
	}
	if len(known) == 0 {
		return nil
	}
	if err := x.bi.Batch(b); err != nil {
		return fmt.Errorf("lexical: delete batch: %w", err)
	}
	for _, id := range known {
		x.forgetLocked(id)
	}
	return nil
}

// RemoveFloor deletes every chunk document on floor.
func (x *Index) RemoveFloor(floor int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	return x.removeLocked(slices.Clone(x.floors[floor]))
}

// ReplaceFloor swaps the chunk documents of floor for docs in one step.
// Every doc is forced onto floor as a chunk.
func (x *Index) ReplaceFloor(floor int, docs []Doc) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	for i := range docs {
		docs[i].Kind = KindChunk
		docs[i].Floor = floor
	}
	if err := validateDocs(docs); err != nil {
		return err
	}
	if err := x.removeLocked(slices.Clone(x.floors[floor])); err != nil {
		return err
	}
	return x.addLocked(docs)
}

// SyncEvents makes the event documents of the index equal to docs. New
// events are added, events whose terms changed are replaced and events
// missing from docs are removed. Chunk documents are untouched. It reports
// whether anything changed.
func (x *Index) SyncEvents(docs []Doc) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return false, ErrClosed
	}

	want := make(map[string]bool, len(docs))
	var add []Doc
	for _, d := range docs {
		d.Kind = KindEvent
		d.Floor = -1
		want[d.ID] = true
		if meta, ok := x.docs[d.ID]; ok && meta.kind == KindEvent &&
			meta.ref == refOf(d) && slices.Equal(meta.terms, uniqueTerms(d.Terms)) {
			continue
		}
		add = append(add, d)
	}
	if err := validateDocs(add); err != nil {
		return false, err
	}
	var drop []string
	for id, meta := range x.docs {
		if meta.kind == KindEvent && !want[id] {
			drop = append(drop, id)
		}
	}
	if len(add) == 0 && len(drop) == 0 {
		return false, nil
	}
	if err := x.removeLocked(drop); err != nil {
		return false, err
	}
	if err := x.addLocked(add); err != nil {
		return false, err
	}
	return true, nil
}

// EventIDs returns the ids of the indexed event documents, sorted.
func (x *Index) EventIDs() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []string
	for id, meta := range x.docs {
		if meta.kind == KindEvent {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// DocCount returns the number of indexed documents.
func (x *Index) DocCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// DF returns the document frequency of term.
func (x *Index) DF(term string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.df[term]
}

// IDF returns the inverse document frequency of term over the current
// document count.
func (x *Index) IDF(term string) float64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return IDF(len(x.docs), x.df[term])
}

// Floors returns the floors that have chunk documents, ascending.
func (x *Index) Floors() []int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]int, 0, len(x.floors))
	for f := range x.floors {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// TermStat is one row of [Index.TopTerms].
type TermStat struct {
	Term string  `json:"term" yaml:"term"`
	DF   int     `json:"df" yaml:"df"`
	IDF  float64 `json:"idf" yaml:"idf"`
}

// TopTerms returns up to n terms ordered by document frequency
// descending, then term. n <= 0 returns all.
func (x *Index) TopTerms(n int) []TermStat {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]TermStat, 0, len(x.df))
	for t, df := range x.df {
		out = append(out, TermStat{Term: t, DF: df, IDF: IDF(len(x.docs), df)})
	}
	slices.SortFunc(out, func(a, b TermStat) int {
		if a.DF != b.DF {
			return b.DF - a.DF
		}
		if a.Term < b.Term {
			return -1
		}
		if a.Term > b.Term {
			return 1
		}
		return 0
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Close releases the index. Further operations return ErrClosed.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	return x.bi.Close()
}

// termQuery builds the per-term disjunction: exact match at full weight,
// prefix and fuzzy matches discounted. Short terms only match exactly.
func termQuery(term string) query.Query {
	exact := bleve.NewTermQuery(term)
	exact.SetField(termsField)
	exact.SetBoost(1.0)

	n := utf8.RuneCountInString(term)
	if n < 3 {
		return exact
	}
	qs := []query.Query{exact}

	prefix := bleve.NewPrefixQuery(term)
	prefix.SetField(termsField)
	prefix.SetBoost(0.375)
	qs = append(qs, prefix)

	if fz := min(n/5, 2); fz > 0 {
		fuzzy := bleve.NewFuzzyQuery(term)
		fuzzy.SetField(termsField)
		fuzzy.SetFuzziness(fz)
		fuzzy.SetBoost(0.45)
		qs = append(qs, fuzzy)
	}
	return bleve.NewDisjunctionQuery(qs...)
}

func uniqueTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// checkCtx reports a done context before starting a search.
func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("lexical: %w", err)
	}
	return nil
}
