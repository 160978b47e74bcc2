package recall

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/haivivi/memrecall/pkg/lexical"
	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/rerank"
	"github.com/haivivi/memrecall/pkg/tokenizer"
)

// FloorScore is a floor with a score, used for the rankings that feed
// fusion.
type FloorScore struct {
	Floor int
	Score float64
}

// rankFloors sorts by score descending then floor ascending and returns
// the floors.
func rankFloors(fs []FloorScore) []int {
	slices.SortFunc(fs, func(a, b FloorScore) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Floor, b.Floor)
	})
	out := make([]int, len(fs))
	for i, f := range fs {
		out[i] = f.Floor
	}
	return out
}

// denseFloorRanking ranks anchor floors by their best anchor similarity.
func denseFloorRanking(anchors []anchorHit) []int {
	best := make(map[int]float64)
	for _, a := range anchors {
		if cur, ok := best[a.Floor]; !ok || a.Similarity > cur {
			best[a.Floor] = a.Similarity
		}
	}
	fs := make([]FloorScore, 0, len(best))
	for f, s := range best {
		fs = append(fs, FloorScore{Floor: f, Score: s})
	}
	return rankFloors(fs)
}

// lexicalFloors aggregates chunk hits per floor with a log-scaled density
// bonus. Floors whose dense support is below gate are dropped; the count
// of dropped floors is returned.
func lexicalFloors(hits []lexical.Hit, bonus, gate float64, support func(floor int) float64) (ranked []FloorScore, gated int) {
	sum := make(map[int]float64)
	count := make(map[int]int)
	for _, h := range hits {
		if h.Kind != lexical.KindChunk {
			continue
		}
		sum[h.Floor] += h.Score
		count[h.Floor]++
	}
	for f, s := range sum {
		if support(f) < gate {
			gated++
			continue
		}
		ranked = append(ranked, FloorScore{Floor: f, Score: s * (1 + bonus*math.Log2(float64(count[f])))})
	}
	slices.SortFunc(ranked, func(a, b FloorScore) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Floor, b.Floor)
	})
	return ranked, gated
}

// Fused is a floor ranked by weighted reciprocal-rank fusion. Ranks are
// 1-based; zero means absent from that list.
type Fused struct {
	Floor       int
	Score       float64
	DenseRank   int
	LexicalRank int
}

// FuseRRF merges two floor rankings: score = wd/(k+rank_dense) +
// wl/(k+rank_lexical), summed over the lists a floor appears in. The
// output is sorted by score then floor and capped at limit when limit > 0.
func FuseRRF(dense, lexical []int, k, wd, wl float64, limit int) []Fused {
	byFloor := make(map[int]*Fused)
	get := func(f int) *Fused {
		if x, ok := byFloor[f]; ok {
			return x
		}
		x := &Fused{Floor: f}
		byFloor[f] = x
		return x
	}
	for i, f := range dense {
		x := get(f)
		if x.DenseRank == 0 {
			x.DenseRank = i + 1
			x.Score += wd / (k + float64(i+1))
		}
	}
	for i, f := range lexical {
		x := get(f)
		if x.LexicalRank == 0 {
			x.LexicalRank = i + 1
			x.Score += wl / (k + float64(i+1))
		}
	}
	out := make([]Fused, 0, len(byFloor))
	for _, x := range byFloor {
		out = append(out, *x)
	}
	slices.SortFunc(out, func(a, b Fused) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Floor, b.Floor)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// mustKeepFloors picks the floors hit by rare, non-stopword terms. Only
// floors in admitted count. Floors are taken best score first; a floor
// within gap of one already taken belongs to its cluster and is skipped.
func (e *Engine) mustKeepFloors(terms []lexical.TermHit, admitted map[int]bool) []int {
	best := make(map[int]float64)
	for _, th := range terms {
		if th.IDF < e.cfg.GuardMinIDF || tokenizer.IsStopword(th.Term) {
			continue
		}
		for f, s := range th.Floors {
			if !admitted[f] {
				continue
			}
			best[f] = max(best[f], s)
		}
	}
	cands := make([]FloorScore, 0, len(best))
	for f, s := range best {
		cands = append(cands, FloorScore{Floor: f, Score: s})
	}
	var kept []int
	for _, f := range rankFloors(cands) {
		if len(kept) >= e.cfg.GuardMaxFloors {
			break
		}
		clustered := false
		for _, k := range kept {
			if abs(f-k) <= e.cfg.GuardClusterGap {
				clustered = true
				break
			}
		}
		if !clustered {
			kept = append(kept, f)
		}
	}
	slices.Sort(kept)
	return kept
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// selectedFloor is a floor chosen for evidence.
type selectedFloor struct {
	Floor  int
	Score  float64
	Source Source
}

// floorDocument renders a floor for the cross-encoder: its chunks, user
// turn first, or the atom texts when the floor has no chunks.
func floorDocument(chunks []memory.Chunk, atoms []memory.StateAtom) string {
	var user, ai []string
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		if c.IsUser {
			user = append(user, c.Text)
		} else {
			ai = append(ai, c.Text)
		}
	}
	parts := append(user, ai...)
	if len(parts) == 0 {
		for _, a := range atoms {
			if a.Semantic != "" {
				parts = append(parts, a.Semantic)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// rerankFloors orders candidates with the cross-encoder. On failure, or
// without a reranker, it falls back to the fusion order and reports why.
func (e *Engine) rerankFloors(ctx context.Context, q string, cands []Fused, docs map[int]string) (sel []selectedFloor, fallback bool, err error) {
	var floors []int
	var texts []string
	for _, c := range cands {
		if d := docs[c.Floor]; d != "" {
			floors = append(floors, c.Floor)
			texts = append(texts, d)
		}
	}
	fallbackOrder := func() []selectedFloor {
		n := min(len(cands), e.cfg.RerankTopN)
		out := make([]selectedFloor, 0, n)
		for _, c := range cands[:n] {
			out = append(out, selectedFloor{Floor: c.Floor, Source: SourceFusion})
		}
		return out
	}
	if len(texts) == 0 {
		return nil, false, nil
	}
	if e.reranker == nil {
		return fallbackOrder(), true, nil
	}

	req := rerank.Request{
		Query:     q,
		Documents: texts,
		TopN:      e.cfg.RerankTopN,
		MinScore:  e.cfg.RerankMinScore,
	}
	rctx := ctx
	if e.cfg.RerankTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, e.cfg.RerankTimeout)
		defer cancel()
	}
	raw, err := e.reranker.Rerank(rctx, req)
	if err == nil {
		raw, err = rerank.Finalize(raw, len(texts), req)
	}
	if err != nil {
		return fallbackOrder(), true, fmt.Errorf("recall: rerank: %w", err)
	}
	sel = make([]selectedFloor, 0, len(raw))
	for _, r := range raw {
		sel = append(sel, selectedFloor{Floor: floors[r.Index], Score: r.Score, Source: SourceRerank})
	}
	return sel, false, nil
}
