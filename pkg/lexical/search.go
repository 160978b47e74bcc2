package lexical

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/blevesearch/bleve/v2"
)

// DefaultTermLimit caps the postings fetched per term.
const DefaultTermLimit = 500

// Hit is one matching document.
type Hit struct {
	ID    string
	Ref   string
	Kind  Kind
	Floor int // -1 for events
	Score float64

	// Terms are the query terms that matched the document.
	Terms []string
}

// TermHit records where one query term matched.
type TermHit struct {
	Term string
	IDF  float64

	// Floors maps each chunk floor the term hit to the term's best
	// weighted score on that floor.
	Floors map[int]float64
}

// Result is the outcome of a search.
type Result struct {
	Chunks []Hit
	Events []Hit
	Terms  []TermHit
}

// Search looks up every term, aggregates hit_score × idf(term) per
// document and returns chunk and event hits each sorted by score
// descending (ties by id). limit caps postings per term; <= 0 uses
// DefaultTermLimit.
func (x *Index) Search(ctx context.Context, terms []string, limit int) (*Result, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultTermLimit
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, ErrClosed
	}

	res := &Result{}
	n := len(x.docs)
	if n == 0 {
		return res, nil
	}

	agg := make(map[string]*Hit)
	for _, term := range uniqueTerms(terms) {
		req := bleve.NewSearchRequestOptions(termQuery(term), limit, 0, false)
		sr, err := x.bi.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("lexical: search %q: %w", term, err)
		}
		if len(sr.Hits) == 0 {
			continue
		}
		best := sr.Hits[0].Score
		for _, h := range sr.Hits {
			best = max(best, h.Score)
		}
		if best <= 0 {
			continue
		}

		idf := IDF(n, x.df[term])
		th := TermHit{Term: term, IDF: idf, Floors: make(map[int]float64)}
		for _, h := range sr.Hits {
			meta, ok := x.docs[h.ID]
			if !ok {
				continue
			}
			w := h.Score / best * idf
			hit := agg[h.ID]
			if hit == nil {
				hit = &Hit{ID: h.ID, Ref: meta.ref, Kind: meta.kind, Floor: meta.floor}
				agg[h.ID] = hit
			}
			hit.Score += w
			hit.Terms = append(hit.Terms, term)
			if meta.floor >= 0 {
				th.Floors[meta.floor] = max(th.Floors[meta.floor], w)
			}
		}
		res.Terms = append(res.Terms, th)
	}

	for _, h := range agg {
		switch h.Kind {
		case KindChunk:
			res.Chunks = append(res.Chunks, *h)
		case KindEvent:
			res.Events = append(res.Events, *h)
		}
	}
	sortHits(res.Chunks)
	sortHits(res.Events)
	return res, nil
}

func sortHits(hs []Hit) {
	slices.SortFunc(hs, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
