package recall

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/haivivi/memrecall/pkg/embed"
	"github.com/haivivi/memrecall/pkg/lexicon"
	"github.com/haivivi/memrecall/pkg/memory"
	"github.com/haivivi/memrecall/pkg/query"
	"github.com/haivivi/memrecall/pkg/vecmath"
)

// anchorHit is a state vector that cleared the anchor threshold.
type anchorHit struct {
	AtomID     string
	Floor      int
	Similarity float64
}

// denseScan is the result of scoring every state vector against one query
// vector.
type denseScan struct {
	// Anchors are hits at or above the anchor threshold, best first.
	Anchors []anchorHit

	// AtomSim is the similarity of every atom with a usable vector.
	AtomSim map[string]float64

	// FloorMax is the best similarity per floor over all atoms, thresholded
	// or not. It backs the lexical dense gate.
	FloorMax map[int]float64
}

// Floors returns the distinct anchor floors in hit order.
func (s *denseScan) Floors() []int {
	seen := make(map[int]bool, len(s.Anchors))
	var out []int
	for _, a := range s.Anchors {
		if !seen[a.Floor] {
			seen[a.Floor] = true
			out = append(out, a.Floor)
		}
	}
	return out
}

// queryVector embeds segs in one batch and returns their weighted average.
func (e *Engine) queryVector(ctx context.Context, emb embed.Embedder, segs []query.Segment, focus int) ([]float32, error) {
	texts := make([]string, len(segs))
	for i, s := range segs {
		texts[i] = s.Text
	}
	weights := e.cfg.weightOptions().ComputeSegmentWeights(segs, focus)
	vecs, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	qv := vecmath.WeightedAverage(vecs, weights)
	if qv == nil {
		return nil, fmt.Errorf("recall: query vector: %w", embed.ErrEmptyVector)
	}
	return qv, nil
}

// searchAnchors scores every state vector against qv.
func (e *Engine) searchAnchors(qv []float32, svecs []memory.StateVector) *denseScan {
	scan := &denseScan{
		AtomSim:  make(map[string]float64, len(svecs)),
		FloorMax: make(map[int]float64),
	}
	for _, sv := range svecs {
		if len(sv.Vector) != len(qv) {
			continue
		}
		sim := vecmath.Cosine(qv, sv.Vector)
		scan.AtomSim[sv.AtomID] = sim
		if cur, ok := scan.FloorMax[sv.Floor]; !ok || sim > cur {
			scan.FloorMax[sv.Floor] = sim
		}
		if sim >= e.cfg.AnchorMinSimilarity {
			scan.Anchors = append(scan.Anchors, anchorHit{AtomID: sv.AtomID, Floor: sv.Floor, Similarity: sim})
		}
	}
	slices.SortFunc(scan.Anchors, func(a, b anchorHit) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Floor, b.Floor); c != 0 {
			return c
		}
		return cmp.Compare(a.AtomID, b.AtomID)
	})
	return scan
}

// eventSearch is the outcome of one event search.
type eventSearch struct {
	Hits     []EventHit
	Bypassed int
	Filtered int
}

// searchEvents scores the known events against qv, applies the focus
// character filter and picks a diverse subset with MMR.
//
// An event below EventEntityBypass needs a participant among the focus
// characters; the filter is off when the query names no character.
func (e *Engine) searchEvents(qv []float32, lex *lexicon.Lexicon, events map[string]memory.Event, evecs []memory.EventVector, focusChars []string) eventSearch {
	var out eventSearch
	type cand struct {
		event memory.Event
		vec   []float32
		sim   float64
	}
	var cands []cand
	for _, ev := range evecs {
		event, ok := events[ev.EventID]
		if !ok || len(ev.Vector) != len(qv) {
			continue
		}
		sim := vecmath.Cosine(qv, ev.Vector)
		if sim < e.cfg.EventMinSimilarity {
			continue
		}
		if len(focusChars) > 0 && !hasParticipant(lex, event, focusChars) {
			if sim < e.cfg.EventEntityBypass {
				out.Filtered++
				continue
			}
			out.Bypassed++
		}
		cands = append(cands, cand{event: event, vec: ev.Vector, sim: sim})
	}
	slices.SortFunc(cands, func(a, b cand) int {
		if c := cmp.Compare(b.sim, a.sim); c != 0 {
			return c
		}
		return cmp.Compare(a.event.ID, b.event.ID)
	})
	if len(cands) > e.cfg.EventCandidates {
		cands = cands[:e.cfg.EventCandidates]
	}

	rel := make([]float64, len(cands))
	vecs := make([][]float32, len(cands))
	for i, c := range cands {
		rel[i], vecs[i] = c.sim, c.vec
	}
	for _, i := range vecmath.MMR(rel, vecs, e.cfg.EventMMRLambda, e.cfg.EventMaxSelected) {
		out.Hits = append(out.Hits, EventHit{Event: cands[i].event, Similarity: cands[i].sim, Source: SourceDense})
	}
	return out
}

// hasParticipant reports whether a participant of ev, resolved through
// lex aliases, is one of chars.
func hasParticipant(lex *lexicon.Lexicon, ev memory.Event, chars []string) bool {
	for _, p := range ev.Participants {
		if slices.Contains(chars, lexicon.Normalize(p)) {
			return true
		}
		for _, name := range lex.Match(p) {
			if slices.Contains(chars, name) {
				return true
			}
		}
	}
	return false
}
